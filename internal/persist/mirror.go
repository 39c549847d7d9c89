package persist

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/DoyleJ11/poker-room-backend/internal/pathtree"
	"github.com/DoyleJ11/poker-room-backend/internal/store"
)

// Mirror copies rooms/* from the store into the repository as they change.
// Writes that fail are logged and picked up by the next change to that room;
// there is no retry loop.
type Mirror struct {
	repo  *Repository
	store store.Store
	log   *zap.Logger

	// last saved JSON per room, owned by Run
	last map[string]string
}

func NewMirror(repo *Repository, s store.Store, log *zap.Logger) *Mirror {
	if log == nil {
		log = zap.NewNop()
	}
	return &Mirror{repo: repo, store: s, log: log.Named("persist"), last: map[string]string{}}
}

// Restore loads every saved room into the store and reports how many made
// it. Call it before Run. Only a failure to read the repository is returned;
// rooms that cannot be restored are logged and skipped.
func (m *Mirror) Restore(ctx context.Context) (int, error) {
	recs, err := m.repo.Load(ctx)
	if err != nil {
		return 0, fmt.Errorf("restore: %w", err)
	}
	var errs error
	n := 0
	for _, rec := range recs {
		if err := pathtree.ValidKey(rec.ID); err != nil {
			errs = multierr.Append(errs, err)
			continue
		}
		v, err := pathtree.Normalize(json.RawMessage(rec.Data))
		if err != nil {
			errs = multierr.Append(errs, err)
			continue
		}
		if err := m.store.Set(ctx, pathtree.Join("rooms", rec.ID), v); err != nil {
			errs = multierr.Append(errs, err)
			continue
		}
		// same encoding the store will push back, so unchanged rooms are
		// not rewritten
		if raw, err := json.Marshal(v); err == nil {
			m.last[rec.ID] = string(raw)
		}
		n++
	}
	if errs != nil {
		m.log.Warn("some rooms could not be restored",
			zap.Int("skipped", len(multierr.Errors(errs))), zap.Error(errs))
	}
	m.log.Info("rooms restored", zap.Int("count", n))
	return n, nil
}

// Run mirrors until ctx ends. If the store drops the subscription for
// falling behind, Run subscribes again and catches up from the full tree.
func (m *Mirror) Run(ctx context.Context) error {
	for {
		sub, err := m.store.Subscribe(ctx, "rooms")
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, store.ErrClosed) {
				return nil
			}
			return err
		}
		for snap := range sub.C {
			_ = m.sync(ctx, snap)
		}
		sub.Close()
		if ctx.Err() != nil {
			return nil
		}
		m.log.Warn("room subscription dropped, resubscribing")
	}
}

func (m *Mirror) sync(ctx context.Context, snap store.Snapshot) error {
	rooms := map[string]json.RawMessage{}
	if err := snap.Decode(&rooms); err != nil {
		m.log.Error("decode rooms", zap.Error(err))
		return err
	}

	var errs error
	for id, raw := range rooms {
		if m.last[id] == string(raw) {
			continue
		}
		if err := m.repo.Save(ctx, id, raw); err != nil {
			errs = multierr.Append(errs, err)
			continue
		}
		m.last[id] = string(raw)
	}
	for id := range m.last {
		if _, ok := rooms[id]; ok {
			continue
		}
		if err := m.repo.Delete(ctx, id); err != nil {
			errs = multierr.Append(errs, err)
			continue
		}
		delete(m.last, id)
	}

	if errs != nil {
		m.log.Warn("persist rooms", zap.Int("failures", len(multierr.Errors(errs))), zap.Error(errs))
	}
	return errs
}
