// Package hub owns one lobby per room with connected clients.
package hub

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/DoyleJ11/poker-room-backend/internal/lobby"
	"github.com/DoyleJ11/poker-room-backend/internal/store"
)

var ErrClosed = errors.New("hub closed")

type HubMsg interface{ isHubMsg() }

type GetLobby struct {
	Code  string
	Reply chan *lobby.Lobby
}

type EnsureLobby struct {
	Code  string
	Reply chan *lobby.Lobby
}

// RemoveLobby drops Lobby if it is still the one registered for Code and it
// is still empty.
type RemoveLobby struct {
	Code  string
	Lobby *lobby.Lobby
}

type ShutdownHub struct{}

type countMsg struct{ reply chan int }

func (GetLobby) isHubMsg()    {}
func (EnsureLobby) isHubMsg() {}
func (RemoveLobby) isHubMsg() {}
func (ShutdownHub) isHubMsg() {}
func (countMsg) isHubMsg()    {}

type Hub struct {
	inbox     chan HubMsg
	lobbies   map[string]*lobby.Lobby
	store     store.Store
	log       *zap.Logger
	lobbyOpts []lobby.Option
	ctx       context.Context
	cancel    context.CancelFunc
	done      chan struct{}
}

type Option func(*Hub)

func WithLogger(l *zap.Logger) Option {
	return func(h *Hub) { h.log = l }
}

// WithLobbyOptions is applied to every lobby the hub creates.
func WithLobbyOptions(opts ...lobby.Option) Option {
	return func(h *Hub) { h.lobbyOpts = append(h.lobbyOpts, opts...) }
}

func NewHub(parent context.Context, s store.Store, opts ...Option) *Hub {
	ctx, cancel := context.WithCancel(parent)
	h := &Hub{
		inbox:   make(chan HubMsg, 64),
		lobbies: make(map[string]*lobby.Lobby),
		store:   s,
		log:     zap.NewNop(),
		ctx:     ctx,
		cancel:  cancel,
		done:    make(chan struct{}),
	}
	for _, o := range opts {
		o(h)
	}
	h.log = h.log.Named("hub")
	go h.loop()
	return h
}

func (h *Hub) Inbox() chan<- HubMsg { return h.inbox }

func (h *Hub) loop() {
	defer close(h.done)
	for {
		select {
		case <-h.ctx.Done():
			h.shutdown()
			return

		case m := <-h.inbox:
			switch msg := m.(type) {
			case GetLobby:
				msg.Reply <- h.lobbies[msg.Code] // May be nil

			case EnsureLobby:
				if lb := h.lobbies[msg.Code]; lb != nil {
					msg.Reply <- lb
					break
				}
				lb := h.newLobby(msg.Code)
				h.lobbies[msg.Code] = lb
				msg.Reply <- lb

			case RemoveLobby:
				if h.lobbies[msg.Code] != msg.Lobby {
					break
				}
				if msg.Lobby.CloseIfEmpty() {
					delete(h.lobbies, msg.Code)
					h.log.Debug("lobby removed", zap.String("room", msg.Code))
				}

			case countMsg:
				msg.reply <- len(h.lobbies)

			case ShutdownHub:
				h.shutdown()
				return
			}
		}
	}
}

func (h *Hub) newLobby(code string) *lobby.Lobby {
	opts := append([]lobby.Option{
		lobby.WithLogger(h.log),
		lobby.WithOnEmpty(func(l *lobby.Lobby) {
			select {
			case h.inbox <- RemoveLobby{Code: code, Lobby: l}:
			case <-h.done:
			}
		}),
	}, h.lobbyOpts...)
	h.log.Debug("lobby created", zap.String("room", code))
	return lobby.NewLobby(h.ctx, code, h.store, opts...)
}

func (h *Hub) shutdown() {
	for _, lb := range h.lobbies {
		lb.Close()
	}
	clear(h.lobbies)
	h.cancel()
}

func (h *Hub) send(ctx context.Context, m HubMsg) error {
	select {
	case <-h.done:
		return ErrClosed
	default:
	}
	select {
	case h.inbox <- m:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-h.done:
		return ErrClosed
	}
}

func (h *Hub) ask(ctx context.Context, m HubMsg, reply chan *lobby.Lobby) (*lobby.Lobby, error) {
	if err := h.send(ctx, m); err != nil {
		return nil, err
	}
	select {
	case lb := <-reply:
		return lb, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-h.done:
		return nil, ErrClosed
	}
}

// Ensure returns the room's lobby, starting one if needed.
func (h *Hub) Ensure(ctx context.Context, code string) (*lobby.Lobby, error) {
	reply := make(chan *lobby.Lobby, 1)
	return h.ask(ctx, EnsureLobby{Code: code, Reply: reply}, reply)
}

// Get returns the room's lobby or nil when nobody is connected.
func (h *Hub) Get(ctx context.Context, code string) (*lobby.Lobby, error) {
	reply := make(chan *lobby.Lobby, 1)
	return h.ask(ctx, GetLobby{Code: code, Reply: reply}, reply)
}

// Join registers a client with the room's lobby, retrying when it raced with
// the lobby shutting down after its last client left.
func (h *Hub) Join(ctx context.Context, code, clientID, name string, outbox chan lobby.Presence) (*lobby.Lobby, error) {
	for attempt := 0; attempt < 3; attempt++ {
		lb, err := h.Ensure(ctx, code)
		if err != nil {
			return nil, err
		}
		err = lb.Join(ctx, clientID, name, outbox)
		if errors.Is(err, lobby.ErrClosed) {
			continue
		}
		return lb, err
	}
	return nil, lobby.ErrClosed
}

func (h *Hub) Count(ctx context.Context) (int, error) {
	reply := make(chan int, 1)
	if err := h.send(ctx, countMsg{reply: reply}); err != nil {
		return 0, err
	}
	select {
	case n := <-reply:
		return n, nil
	case <-ctx.Done():
		return 0, ctx.Err()
	case <-h.done:
		return 0, ErrClosed
	}
}

// Shutdown stops every lobby and the hub, and waits for them.
func (h *Hub) Shutdown() {
	select {
	case h.inbox <- ShutdownHub{}:
	case <-h.done:
	}
	<-h.done
}
