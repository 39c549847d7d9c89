package ws

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/DoyleJ11/poker-room-backend/internal/hub"
	"github.com/DoyleJ11/poker-room-backend/internal/lobby"
	"github.com/DoyleJ11/poker-room-backend/internal/minigame"
	"github.com/DoyleJ11/poker-room-backend/internal/room"
	"github.com/DoyleJ11/poker-room-backend/internal/store"
	"github.com/DoyleJ11/poker-room-backend/internal/types"
	"github.com/DoyleJ11/poker-room-backend/internal/widget"
)

var ErrUnknownType = errors.New("unknown type")
var ErrMissingField = errors.New("missing field")

type Config struct {
	ReadTimeout    time.Duration // idle time before a silent client is dropped
	WriteTimeout   time.Duration
	OriginPatterns []string
}

func (c Config) withDefaults() Config {
	if c.ReadTimeout <= 0 {
		c.ReadTimeout = 60 * time.Second
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = 3 * time.Second
	}
	return c
}

// Handler upgrades GET /ws?room=&name= to a websocket. The client gets a
// RoomSnapshot on every change to the room and sends commands as JSON.
func Handler(c *room.Controller, h *hub.Hub, cfg Config) http.HandlerFunc {
	cfg = cfg.withDefaults()
	log := c.Logger().Named("ws")

	return func(w http.ResponseWriter, r *http.Request) {
		roomID := r.URL.Query().Get("room")
		rawName := r.URL.Query().Get("name")
		if roomID == "" || rawName == "" {
			http.Error(w, "missing room or name", http.StatusBadRequest)
			return
		}
		name, err := room.NormalizeName(rawName)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if _, err := c.Load(r.Context(), roomID); err != nil {
			if errors.Is(err, room.ErrRoomNotFound) || errors.Is(err, room.ErrInvalidRoomID) {
				http.Error(w, "room not found", http.StatusNotFound)
				return
			}
			http.Error(w, "failed to load room", http.StatusInternalServerError)
			return
		}

		conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
			OriginPatterns: cfg.OriginPatterns,
		})
		if err != nil {
			log.Debug("accept failed", zap.Error(err))
			return
		}
		defer conn.Close(websocket.StatusNormalClosure, "bye")

		ctx, cancel := context.WithCancel(r.Context())
		defer cancel()

		clientID := uuid.NewString()
		log := log.With(zap.String("room", roomID), zap.String("name", name), zap.String("client", clientID))

		presence := make(chan lobby.Presence, 8)
		lb, err := h.Join(ctx, roomID, clientID, name, presence)
		if err != nil {
			log.Warn("join lobby", zap.Error(err))
			conn.Close(websocket.StatusInternalError, "lobby unavailable")
			return
		}
		defer func() { _ = lb.Leave(context.Background(), clientID) }()

		sub, err := c.Store().Subscribe(ctx, room.Path(roomID))
		if err != nil {
			log.Warn("subscribe room", zap.Error(err))
			conn.Close(websocket.StatusInternalError, "store unavailable")
			return
		}
		defer sub.Close()

		binding, err := widget.Bind(ctx, c.Store(), log, roomID, name)
		if err != nil {
			log.Warn("bind mini-game", zap.Error(err))
			conn.Close(websocket.StatusInternalError, "store unavailable")
			return
		}
		defer binding.Close()

		errs := make(chan string, 8)

		// Writer goroutine
		go func() {
			defer cancel()
			for {
				var msg types.ServerMessage
				select {
				case <-ctx.Done():
					return
				case snap, ok := <-sub.C:
					if !ok {
						conn.Close(websocket.StatusTryAgainLater, "too slow")
						return
					}
					rm, err := room.Decode(snap, log)
					if err != nil {
						msg = types.ServerMessage{Type: types.MsgError, Error: err.Error()}
						break
					}
					msg = roomSnapshot(snap, rm)
				case p, ok := <-presence:
					if !ok {
						conn.Close(websocket.StatusGoingAway, "shutting down")
						return
					}
					msg = types.ServerMessage{Type: types.MsgPresence, Version: p.Version, Names: p.Names}
				case e := <-errs:
					msg = types.ServerMessage{Type: types.MsgError, Error: e}
				}

				payload, _ := json.Marshal(msg)
				wctx, wcancel := context.WithTimeout(ctx, cfg.WriteTimeout)
				err := conn.Write(wctx, websocket.MessageText, payload)
				wcancel()
				if err != nil {
					log.Debug("write failed", zap.Error(err))
					return
				}
			}
		}()

		// Reader loop
		for {
			rctx, rcancel := context.WithTimeout(ctx, cfg.ReadTimeout)
			_, data, err := conn.Read(rctx)
			rcancel()
			if err != nil {
				// Treat clean close/going-away as normal:
				switch websocket.CloseStatus(err) {
				case websocket.StatusNormalClosure, websocket.StatusGoingAway:
				default:
					log.Debug("read ended", zap.Error(err))
				}
				return
			}

			var cm types.ClientMessage
			if err := json.Unmarshal(data, &cm); err != nil {
				reportError(errs, "bad json")
				continue
			}
			if err := dispatch(ctx, c, binding, roomID, name, cm); err != nil {
				log.Debug("command rejected", zap.String("type", cm.Type), zap.Error(err))
				reportError(errs, err.Error())
			}
		}
	}
}

func reportError(errs chan<- string, e string) {
	select {
	case errs <- e:
	default:
		// writer is behind; the client will see the next snapshot anyway
	}
}

func roomSnapshot(snap store.Snapshot, rm *room.Room) types.ServerMessage {
	view := rm.View()
	msg := types.ServerMessage{
		Type:            types.MsgRoomSnapshot,
		Version:         snap.Version,
		Room:            &view,
		State:           view.State,
		DisplayStoryURL: view.DisplayStoryURL,
	}
	if view.Game != nil {
		msg.MeterColor = string(view.Game.MeterColor)
	}
	return msg
}

// dispatch runs one client command as name. Room commands go through the
// controller, mini-game commands through the client's binding.
func dispatch(ctx context.Context, c *room.Controller, b *widget.Binding, roomID, name string, m types.ClientMessage) error {
	switch m.Type {
	case types.MsgVote:
		return c.Vote(ctx, roomID, name, m.Value)
	case types.MsgReveal:
		return c.Reveal(ctx, roomID, name)
	case types.MsgReset:
		return c.Reset(ctx, roomID, name)
	case types.MsgToggleMode:
		return c.ToggleMode(ctx, roomID, name)
	case types.MsgSetStoryURL:
		return c.SetStoryURL(ctx, roomID, name, m.URL)
	case types.MsgSetExplanationPhase:
		return c.SetExplanationPhase(ctx, roomID, name, m.On)
	}

	cmd, err := toMiniGameCommand(m)
	if err != nil {
		return err
	}
	return b.Do(ctx, cmd)
}

func toMiniGameCommand(m types.ClientMessage) (minigame.Command, error) {
	switch m.Type {
	case types.MsgSubmitKeyword:
		return minigame.SubmitKeyword{Word: m.Word}, nil
	case types.MsgMarkSquare:
		if m.Index == nil {
			return nil, fmt.Errorf("%w: index", ErrMissingField)
		}
		return minigame.MarkSquare{Index: *m.Index}, nil
	case types.MsgPredict:
		return minigame.Predict{Target: m.Target, Vote: m.Value}, nil
	case types.MsgRevealPredictions:
		return minigame.RevealPredictions{}, nil
	case types.MsgStartPoll:
		return minigame.StartPoll{Question: m.Question, Options: m.Options}, nil
	case types.MsgAnswerPoll:
		return minigame.AnswerPoll{Option: m.Option}, nil
	case types.MsgEndPoll:
		return minigame.EndPoll{}, nil
	case types.MsgReact:
		return minigame.React{Kind: minigame.ReactionKind(m.Reaction)}, nil
	case types.MsgAskQuestion:
		return minigame.AskQuestion{Text: m.Question}, nil
	case types.MsgToggleUpvote:
		return minigame.ToggleUpvote{QuestionID: m.QuestionID}, nil
	case types.MsgToggleChecklist:
		return minigame.ToggleChecklist{Item: minigame.ChecklistItem(m.Item)}, nil
	default:
		return nil, ErrUnknownType
	}
}
