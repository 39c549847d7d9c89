// Package lobby tracks who is connected to a room and runs the room's
// attention-meter decay while anyone is.
package lobby

import (
	"context"
	"errors"
	"slices"
	"time"

	"go.uber.org/zap"

	"github.com/DoyleJ11/poker-room-backend/internal/minigame"
	"github.com/DoyleJ11/poker-room-backend/internal/pathtree"
	"github.com/DoyleJ11/poker-room-backend/internal/room"
	"github.com/DoyleJ11/poker-room-backend/internal/store"
)

var ErrClosed = errors.New("lobby closed")

const DefaultDecayInterval = 5 * time.Second

type Msg interface{ isLobbyMsg() }

type Join struct {
	ClientID string
	Name     string
	Outbox   chan Presence // optional; receives presence changes
}

func (Join) isLobbyMsg() {}

type Leave struct{ ClientID string }

func (Leave) isLobbyMsg() {}

type Shutdown struct{}

func (Shutdown) isLobbyMsg() {}

type GetState struct {
	Reply chan View
}

func (GetState) isLobbyMsg() {}

// closeIfEmpty is sent by the hub; the lobby only stops when nobody has
// joined since it reported itself empty.
type closeIfEmpty struct{ reply chan bool }

func (closeIfEmpty) isLobbyMsg() {}

type Presence struct {
	Version int
	Names   []string
}

type View struct {
	RoomID     string
	Version    int
	NumClients int
	Names      []string
	Decays     int
}

type client struct {
	name   string
	outbox chan Presence
}

type Lobby struct {
	inbox    chan Msg
	roomID   string
	store    store.Store
	log      *zap.Logger
	interval time.Duration
	onEmpty  func(*Lobby)
	now      func() time.Time

	version int
	decays  int
	clients map[string]client
	ticker  *time.Ticker

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

type Option func(*Lobby)

func WithDecayInterval(d time.Duration) Option {
	return func(l *Lobby) {
		if d > 0 {
			l.interval = d
		}
	}
}

func WithLogger(log *zap.Logger) Option {
	return func(l *Lobby) { l.log = log }
}

// WithOnEmpty registers f to run, on its own goroutine, each time the last
// client leaves.
func WithOnEmpty(f func(*Lobby)) Option {
	return func(l *Lobby) { l.onEmpty = f }
}

func NewLobby(parent context.Context, roomID string, s store.Store, opts ...Option) *Lobby {
	ctx, cancel := context.WithCancel(parent)

	l := &Lobby{
		inbox:    make(chan Msg, 64), // Small buffer
		roomID:   roomID,
		store:    s,
		log:      zap.NewNop(),
		interval: DefaultDecayInterval,
		now:      time.Now,
		clients:  make(map[string]client),
		ctx:      ctx,
		cancel:   cancel,
		done:     make(chan struct{}),
	}
	for _, o := range opts {
		o(l)
	}
	l.log = l.log.With(zap.String("room", roomID))

	go l.loop()
	return l
}

func (l *Lobby) loop() {
	defer close(l.done)
	for {
		var tick <-chan time.Time
		if l.ticker != nil {
			tick = l.ticker.C
		}

		select {
		case <-l.ctx.Done():
			l.shutdown()
			return

		case <-tick:
			l.decay()

		case m := <-l.inbox:
			switch msg := m.(type) {
			case Join:
				l.clients[msg.ClientID] = client{name: msg.Name, outbox: msg.Outbox}
				if l.ticker == nil {
					l.ticker = time.NewTicker(l.interval)
				}
				l.version++
				l.broadcast()

			case Leave:
				if _, ok := l.clients[msg.ClientID]; !ok {
					break
				}
				delete(l.clients, msg.ClientID)
				l.version++
				l.broadcast()
				l.checkEmpty()

			case GetState:
				// reflect internal state without data races
				msg.Reply <- View{
					RoomID:     l.roomID,
					Version:    l.version,
					NumClients: len(l.clients),
					Names:      l.names(),
					Decays:     l.decays,
				}

			case closeIfEmpty:
				if len(l.clients) > 0 {
					msg.reply <- false
					break
				}
				msg.reply <- true
				l.shutdown()
				return

			case Shutdown:
				l.shutdown()
				return
			}
		}
	}
}

func (l *Lobby) checkEmpty() {
	if len(l.clients) > 0 {
		return
	}
	if l.ticker != nil {
		l.ticker.Stop()
		l.ticker = nil
	}
	if l.onEmpty != nil {
		go l.onEmpty(l)
	}
}

func (l *Lobby) shutdown() {
	if l.ticker != nil {
		l.ticker.Stop()
		l.ticker = nil
	}
	for id, c := range l.clients {
		if c.outbox != nil {
			close(c.outbox) // Tell client no more presence updates
		}
		delete(l.clients, id)
	}
	l.cancel()
}

// names lists connected display names once each, sorted.
func (l *Lobby) names() []string {
	out := make([]string, 0, len(l.clients))
	for _, c := range l.clients {
		out = append(out, c.name)
	}
	slices.Sort(out)
	return slices.Compact(out)
}

func (l *Lobby) broadcast() {
	p := Presence{Version: l.version, Names: l.names()}
	dropped := false
	for id, c := range l.clients {
		if c.outbox == nil {
			continue
		}
		select {
		case c.outbox <- p:
			//ok
		default:
			// Client is slow/full - drop them.
			l.log.Warn("dropping slow presence client", zap.String("client", id))
			close(c.outbox)
			delete(l.clients, id)
			dropped = true
		}
	}
	if dropped {
		l.checkEmpty()
	}
}

// decay lowers the attention meter by one step when the room is explaining a
// story with an attention-meter game. One lobby per room means one decay per
// tick however many people are watching.
func (l *Lobby) decay() {
	ctx, cancel := context.WithTimeout(l.ctx, l.interval)
	defer cancel()

	snap, err := l.store.Get(ctx, room.Path(l.roomID))
	if err != nil {
		l.log.Warn("decay: read room", zap.Error(err))
		return
	}
	r, err := room.Decode(snap, l.log)
	if err != nil {
		l.log.Debug("decay: no room", zap.Error(err))
		return
	}
	if !r.ExplanationPhase || r.MiniGame == nil || r.MiniGame.Type() != minigame.AttentionMeter {
		return
	}

	_, writes, err := minigame.Apply(*r.MiniGame, "", minigame.Decay{}, l.now())
	if err != nil {
		l.log.Warn("decay: apply", zap.Error(err))
		return
	}
	for _, w := range writes {
		path := pathtree.Join(room.Path(l.roomID), "miniGame")
		if w.Path != "" {
			path = pathtree.Join(path, w.Path)
		}
		if err := l.store.Update(ctx, path, w.Fields); err != nil {
			l.log.Warn("decay: write", zap.Error(err))
			return
		}
	}
	if len(writes) > 0 {
		l.decays++
	}
}

// Expose the inbox so tests or WS layer can send messages.
func (l *Lobby) Inbox() chan<- Msg { return l.inbox }

func (l *Lobby) RoomID() string { return l.roomID }

func (l *Lobby) send(ctx context.Context, m Msg) error {
	select {
	case <-l.done:
		return ErrClosed
	default:
	}
	select {
	case l.inbox <- m:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-l.done:
		return ErrClosed
	}
}

// Join registers a client. It fails with ErrClosed if the lobby has stopped.
func (l *Lobby) Join(ctx context.Context, clientID, name string, outbox chan Presence) error {
	return l.send(ctx, Join{ClientID: clientID, Name: name, Outbox: outbox})
}

func (l *Lobby) Leave(ctx context.Context, clientID string) error {
	return l.send(ctx, Leave{ClientID: clientID})
}

func (l *Lobby) State(ctx context.Context) (View, error) {
	reply := make(chan View, 1)
	if err := l.send(ctx, GetState{Reply: reply}); err != nil {
		return View{}, err
	}
	select {
	case v := <-reply:
		return v, nil
	case <-ctx.Done():
		return View{}, ctx.Err()
	case <-l.done:
		return View{}, ErrClosed
	}
}

// CloseIfEmpty stops the lobby unless a client has joined. It reports
// whether the lobby is now stopped.
func (l *Lobby) CloseIfEmpty() bool {
	reply := make(chan bool, 1)
	select {
	case l.inbox <- closeIfEmpty{reply: reply}:
	case <-l.done:
		return true
	}
	select {
	case ok := <-reply:
		return ok
	case <-l.done:
		return true
	}
}

// Close stops the lobby and waits for it to exit.
func (l *Lobby) Close() {
	select {
	case l.inbox <- Shutdown{}:
	case <-l.done:
	}
	<-l.done
}

func (l *Lobby) Done() <-chan struct{} { return l.done }
