// Package widget binds one participant's view of a room's mini-game to the
// store. Every push replaces the view; every action is applied locally first
// and then written.
//
// Nothing is transactional. Two people toggling the same checklist item,
// ending the same poll or reacting at once each write from their own view,
// and the last write to reach the store wins. The reaction cap is applied
// per writer, so the stored list can briefly exceed it.
package widget

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/DoyleJ11/poker-room-backend/internal/minigame"
	"github.com/DoyleJ11/poker-room-backend/internal/pathtree"
	"github.com/DoyleJ11/poker-room-backend/internal/room"
	"github.com/DoyleJ11/poker-room-backend/internal/store"
)

var ErrNotReady = errors.New("mini-game not loaded yet")
var ErrNoGame = errors.New("room has no mini-game")
var ErrInactive = errors.New("mini-game is only playable during the explanation phase")

type Binding struct {
	store  store.Store
	log    *zap.Logger
	roomID string
	user   string
	path   string
	now    func() time.Time

	stopped chan struct{}
	quit    chan struct{}
	once    sync.Once

	mu      sync.Mutex
	sub     *store.Subscription
	ready   bool
	view    *minigame.MiniGame
	ensured bool
}

// Bind subscribes user to rooms/{roomID}/miniGame. The binding lives until
// Close or until ctx ends.
func Bind(ctx context.Context, s store.Store, log *zap.Logger, roomID, user string) (*Binding, error) {
	user, err := room.NormalizeName(user)
	if err != nil {
		return nil, err
	}
	if err := pathtree.ValidKey(roomID); err != nil {
		return nil, fmt.Errorf("%w: %q", room.ErrInvalidRoomID, roomID)
	}
	if log == nil {
		log = zap.NewNop()
	}

	b := &Binding{
		store:   s,
		log:     log.With(zap.String("room", roomID), zap.String("user", user)),
		roomID:  roomID,
		user:    user,
		path:    pathtree.Join(room.Path(roomID), "miniGame"),
		now:     time.Now,
		stopped: make(chan struct{}),
		quit:    make(chan struct{}),
	}
	sub, err := s.Subscribe(ctx, b.path)
	if err != nil {
		return nil, err
	}
	b.sub = sub
	go b.run(ctx, sub)
	return b, nil
}

// run follows the subscription. When the store drops it for falling behind,
// run subscribes again; the fresh subscription starts with the current value.
func (b *Binding) run(ctx context.Context, sub *store.Subscription) {
	defer close(b.stopped)
	for {
		b.consume(ctx, sub)
		select {
		case <-b.quit:
			return
		case <-ctx.Done():
			return
		default:
		}

		b.log.Warn("mini-game subscription dropped, resubscribing")
		next, err := b.store.Subscribe(ctx, b.path)
		if err != nil {
			b.log.Debug("resubscribe failed", zap.Error(err))
			return
		}
		b.mu.Lock()
		select {
		case <-b.quit:
			b.mu.Unlock()
			next.Close()
			return
		default:
		}
		b.sub = next
		b.mu.Unlock()
		sub = next
	}
}

func (b *Binding) consume(ctx context.Context, sub *store.Subscription) {
	for snap := range sub.C {
		g, err := minigame.Decode(snap.Value)
		if err != nil {
			b.log.Warn("ignoring malformed mini-game", zap.Error(err))
			g = nil
		}

		b.mu.Lock()
		b.ready = true
		b.view = g
		needCard := g != nil && g.IsActive && g.Type() == minigame.ComplexityBingo && !b.ensured
		if needCard {
			b.ensured = true
		}
		b.mu.Unlock()

		if needCard {
			if err := b.Do(ctx, minigame.EnsureCard{}); err != nil {
				b.log.Warn("could not create bingo card", zap.Error(err))
			}
		}
	}
}

// Do applies cmd to the current view, keeps the result as the new view and
// writes it. A failed write is logged and returned; the view stays as
// applied until the next push corrects it.
func (b *Binding) Do(ctx context.Context, cmd minigame.Command) error {
	b.mu.Lock()
	if !b.ready {
		b.mu.Unlock()
		return ErrNotReady
	}
	if b.view == nil {
		b.mu.Unlock()
		return ErrNoGame
	}
	if !b.view.IsActive {
		b.mu.Unlock()
		return ErrInactive
	}
	next, writes, err := minigame.Apply(*b.view, b.user, cmd, b.now())
	if err != nil {
		b.mu.Unlock()
		return err
	}
	if len(writes) > 0 {
		b.view = &next
	}
	b.mu.Unlock()

	var errs error
	for _, w := range writes {
		errs = multierr.Append(errs, b.commit(ctx, w))
	}
	if errs != nil {
		b.log.Warn("mini-game write failed", zap.String("command", fmt.Sprintf("%T", cmd)), zap.Error(errs))
	}
	return errs
}

func (b *Binding) commit(ctx context.Context, w minigame.Write) error {
	path := b.path
	if w.Path != "" {
		path = pathtree.Join(b.path, w.Path)
	}
	switch w.Op {
	case minigame.OpPush:
		_, err := b.store.Push(ctx, path, w.Value)
		return err
	default:
		return b.store.Update(ctx, path, w.Fields)
	}
}

// View returns the current game, or false before the first push or when the
// room has none. The payload is shared and must not be modified.
func (b *Binding) View() (minigame.MiniGame, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.view == nil {
		return minigame.MiniGame{}, false
	}
	return *b.view, true
}

func (b *Binding) User() string { return b.user }

// Close stops deliveries and waits for the reader to exit. Writes already
// issued still complete.
func (b *Binding) Close() {
	b.once.Do(func() { close(b.quit) })
	b.mu.Lock()
	sub := b.sub
	b.mu.Unlock()
	sub.Close()
	<-b.stopped
}
