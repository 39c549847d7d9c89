package store

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/DoyleJ11/poker-room-backend/internal/pathtree"
)

const keyCharset = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
const keyAttempts = 16

// GenerateKey returns an 8 character key for Push.
func GenerateKey() (string, error) {
	key := make([]byte, 8)
	for i := range key {
		num, err := rand.Int(rand.Reader, big.NewInt(int64(len(keyCharset))))
		if err != nil {
			return "", err
		}
		key[i] = keyCharset[num.Int64()]
	}
	return string(key), nil
}

type msg interface{ isStoreMsg() }

type getMsg struct {
	keys  []string
	path  string
	reply chan Snapshot
}

type writeMsg struct {
	base   []string
	fields map[string]any // merge-update when set is false
	set    bool
	value  any
	reply  chan error
}

type pushMsg struct {
	keys  []string
	value any
	reply chan pushResult
}

type pushResult struct {
	key string
	err error
}

type subscribeMsg struct {
	id    uint64
	keys  []string
	path  string
	out   chan Snapshot
	reply chan struct{}
}

type unsubscribeMsg struct{ id uint64 }

type statsMsg struct{ reply chan Stats }

type shutdownMsg struct{}

func (getMsg) isStoreMsg()         {}
func (writeMsg) isStoreMsg()       {}
func (pushMsg) isStoreMsg()        {}
func (subscribeMsg) isStoreMsg()   {}
func (unsubscribeMsg) isStoreMsg() {}
func (statsMsg) isStoreMsg()       {}
func (shutdownMsg) isStoreMsg()    {}

// Stats is a point-in-time view of the store, mostly for tests.
type Stats struct {
	Version     int
	Subscribers int
}

type subscriber struct {
	keys []string
	path string
	out  chan Snapshot
	last string
}

// Memory is an in-process Store. A single goroutine owns the tree; every
// call is a message to it.
type Memory struct {
	inbox   chan msg
	done    chan struct{}
	ctx     context.Context
	cancel  context.CancelFunc
	nextID  atomic.Uint64
	buffer  int
	keyFunc func() (string, error)
	log     *zap.Logger

	// owned by loop
	root    any
	version int
	subs    map[uint64]*subscriber
}

type Option func(*Memory)

// WithBuffer sets the per-subscription channel size. A subscriber that falls
// this far behind is dropped.
func WithBuffer(n int) Option {
	return func(m *Memory) {
		if n > 0 {
			m.buffer = n
		}
	}
}

func WithKeyFunc(f func() (string, error)) Option {
	return func(m *Memory) { m.keyFunc = f }
}

func WithLogger(l *zap.Logger) Option {
	return func(m *Memory) { m.log = l }
}

func NewMemory(parent context.Context, opts ...Option) *Memory {
	ctx, cancel := context.WithCancel(parent)
	m := &Memory{
		inbox:   make(chan msg, 64),
		done:    make(chan struct{}),
		ctx:     ctx,
		cancel:  cancel,
		buffer:  16,
		keyFunc: GenerateKey,
		log:     zap.NewNop(),
		subs:    make(map[uint64]*subscriber),
	}
	for _, o := range opts {
		o(m)
	}
	m.log = m.log.Named("store")

	go m.loop()
	return m
}

func (m *Memory) loop() {
	defer close(m.done)
	for {
		select {
		case <-m.ctx.Done():
			m.shutdown()
			return

		case in := <-m.inbox:
			switch msg := in.(type) {
			case getMsg:
				msg.reply <- m.snapshot(msg.path, msg.keys)

			case writeMsg:
				msg.reply <- m.write(msg)

			case pushMsg:
				key, err := m.push(msg)
				msg.reply <- pushResult{key: key, err: err}

			case subscribeMsg:
				s := &subscriber{keys: msg.keys, path: msg.path, out: msg.out}
				m.subs[msg.id] = s
				// Register + send current value immediately
				m.deliver(msg.id, s)
				msg.reply <- struct{}{}

			case unsubscribeMsg:
				if s, ok := m.subs[msg.id]; ok {
					close(s.out)
					delete(m.subs, msg.id)
				}

			case statsMsg:
				msg.reply <- Stats{Version: m.version, Subscribers: len(m.subs)}

			case shutdownMsg:
				m.shutdown()
				return
			}
		}
	}
}

func (m *Memory) shutdown() {
	for id, s := range m.subs {
		close(s.out) // no more snapshots
		delete(m.subs, id)
	}
	m.cancel()
}

func (m *Memory) snapshot(path string, keys []string) Snapshot {
	raw, err := json.Marshal(pathtree.Get(m.root, keys))
	if err != nil {
		// Values are normalized on the way in, so this is unreachable in practice.
		m.log.Error("encode snapshot", zap.String("path", path), zap.Error(err))
		raw = null
	}
	return Snapshot{Path: path, Version: m.version, Value: raw}
}

func (m *Memory) write(w writeMsg) error {
	var touched []string
	if w.set {
		m.root = pathtree.Set(m.root, w.base, w.value)
		touched = []string{pathtree.Join(w.base...)}
	} else {
		root, t, err := pathtree.Update(m.root, w.base, w.fields)
		if err != nil {
			return err
		}
		m.root = root
		touched = t
	}
	if len(touched) == 0 {
		return nil
	}
	m.version++
	m.broadcast(touched)
	return nil
}

func (m *Memory) push(p pushMsg) (string, error) {
	for attempt := 0; attempt < keyAttempts; attempt++ {
		key, err := m.keyFunc()
		if err != nil {
			return "", err
		}
		keys := append(append([]string{}, p.keys...), key)
		if pathtree.Get(m.root, keys) != nil {
			m.log.Debug("push key collision, regenerating", zap.String("key", key))
			continue
		}
		m.root = pathtree.Set(m.root, keys, p.value)
		m.version++
		m.broadcast([]string{pathtree.Join(keys...)})
		return key, nil
	}
	return "", ErrKeyExhausted
}

func (m *Memory) broadcast(touched []string) {
	split := make([][]string, 0, len(touched))
	for _, t := range touched {
		keys, _ := pathtree.Split(t)
		split = append(split, keys)
	}
	for id, s := range m.subs {
		for _, keys := range split {
			if pathtree.Related(keys, s.keys) {
				m.deliver(id, s)
				break
			}
		}
	}
}

// deliver pushes the subscriber's current value unless it is unchanged since
// the last delivery. Subscribers that cannot keep up are dropped.
func (m *Memory) deliver(id uint64, s *subscriber) {
	snap := m.snapshot(s.path, s.keys)
	if string(snap.Value) == s.last {
		return
	}
	select {
	case s.out <- snap:
		s.last = string(snap.Value)
	default:
		m.log.Warn("dropping slow subscriber", zap.String("path", s.path), zap.Uint64("id", id))
		close(s.out)
		delete(m.subs, id)
	}
}

// send hands a message to the loop, giving up on ctx or shutdown.
func (m *Memory) send(ctx context.Context, in msg) error {
	select {
	case m.inbox <- in:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-m.done:
		return ErrClosed
	}
}

func recv[T any](ctx context.Context, m *Memory, ch <-chan T) (T, error) {
	var zero T
	select {
	case v := <-ch:
		return v, nil
	case <-ctx.Done():
		return zero, ctx.Err()
	case <-m.done:
		// the loop may have replied right before shutting down
		select {
		case v := <-ch:
			return v, nil
		default:
			return zero, ErrClosed
		}
	}
}

func (m *Memory) Get(ctx context.Context, path string) (Snapshot, error) {
	keys, err := pathtree.Split(path)
	if err != nil {
		return Snapshot{}, err
	}
	reply := make(chan Snapshot, 1)
	if err := m.send(ctx, getMsg{keys: keys, path: pathtree.Join(keys...), reply: reply}); err != nil {
		return Snapshot{}, err
	}
	return recv(ctx, m, reply)
}

func (m *Memory) Set(ctx context.Context, path string, value any) error {
	keys, err := pathtree.Split(path)
	if err != nil {
		return err
	}
	v, err := pathtree.Normalize(value)
	if err != nil {
		return err
	}
	return m.do(ctx, writeMsg{base: keys, set: true, value: v})
}

func (m *Memory) Update(ctx context.Context, path string, fields map[string]any) error {
	keys, err := pathtree.Split(path)
	if err != nil {
		return err
	}
	norm := make(map[string]any, len(fields))
	for k, v := range fields {
		n, err := pathtree.Normalize(v)
		if err != nil {
			return fmt.Errorf("field %q: %w", k, err)
		}
		norm[k] = n
	}
	return m.do(ctx, writeMsg{base: keys, fields: norm})
}

func (m *Memory) do(ctx context.Context, w writeMsg) error {
	w.reply = make(chan error, 1)
	if err := m.send(ctx, w); err != nil {
		return err
	}
	err, rerr := recv(ctx, m, w.reply)
	if rerr != nil {
		return rerr
	}
	return err
}

func (m *Memory) Push(ctx context.Context, path string, value any) (string, error) {
	keys, err := pathtree.Split(path)
	if err != nil {
		return "", err
	}
	v, err := pathtree.Normalize(value)
	if err != nil {
		return "", err
	}
	reply := make(chan pushResult, 1)
	if err := m.send(ctx, pushMsg{keys: keys, value: v, reply: reply}); err != nil {
		return "", err
	}
	res, err := recv(ctx, m, reply)
	if err != nil {
		return "", err
	}
	return res.key, res.err
}

func (m *Memory) Subscribe(ctx context.Context, path string) (*Subscription, error) {
	keys, err := pathtree.Split(path)
	if err != nil {
		return nil, err
	}
	id := m.nextID.Add(1)
	out := make(chan Snapshot, m.buffer)
	reply := make(chan struct{}, 1)
	if err := m.send(ctx, subscribeMsg{id: id, keys: keys, path: pathtree.Join(keys...), out: out, reply: reply}); err != nil {
		return nil, err
	}
	// wait for registration so a subscription handed out is always one the
	// loop will close
	if _, err := recv(ctx, m, reply); err != nil {
		if !errors.Is(err, ErrClosed) {
			go func() {
				select {
				case m.inbox <- unsubscribeMsg{id: id}:
				case <-m.done:
				}
			}()
		}
		return nil, err
	}

	stop := make(chan struct{})
	sub := &Subscription{C: out}
	sub.cancel = func() {
		close(stop)
		select {
		case m.inbox <- unsubscribeMsg{id: id}:
		case <-m.done:
		}
	}
	go func() {
		select {
		case <-ctx.Done():
			sub.Close()
		case <-stop:
		case <-m.done:
		}
	}()
	return sub, nil
}

// Stats reports the store version and the live subscription count.
func (m *Memory) Stats(ctx context.Context) (Stats, error) {
	reply := make(chan Stats, 1)
	if err := m.send(ctx, statsMsg{reply: reply}); err != nil {
		return Stats{}, err
	}
	return recv(ctx, m, reply)
}

// Close stops the loop and closes every subscription channel.
func (m *Memory) Close() error {
	select {
	case m.inbox <- shutdownMsg{}:
	case <-m.done:
		return nil
	}
	<-m.done
	return nil
}

var _ Store = (*Memory)(nil)
