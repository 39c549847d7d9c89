// Package store is the path-addressed synchronized store every room reads and
// writes through. Consistency is last-write-wins per path; subscribers are
// pushed the latest value of their path after every write that touches it.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
)

var ErrClosed = errors.New("store closed")
var ErrKeyExhausted = errors.New("could not generate a free key")

type Store interface {
	// Get returns the current value at path (null when absent).
	Get(ctx context.Context, path string) (Snapshot, error)
	// Set replaces the value at path. A nil value deletes it.
	Set(ctx context.Context, path string, value any) error
	// Update merges fields into path. Keys may be nested relative paths.
	Update(ctx context.Context, path string, fields map[string]any) error
	// Push stores value under a freshly generated child key of path.
	Push(ctx context.Context, path string, value any) (string, error)
	// Subscribe delivers the current value immediately and again on change.
	Subscribe(ctx context.Context, path string) (*Subscription, error)
}

type Snapshot struct {
	Path    string
	Version int
	Value   json.RawMessage
}

var null = json.RawMessage("null")

func (s Snapshot) Exists() bool {
	return len(s.Value) > 0 && string(s.Value) != "null"
}

// Decode unmarshals the snapshot value into v. A missing value leaves v
// untouched.
func (s Snapshot) Decode(v any) error {
	if !s.Exists() {
		return nil
	}
	return json.Unmarshal(s.Value, v)
}

type Subscription struct {
	C <-chan Snapshot

	once   sync.Once
	cancel func()
}

// Close stops further deliveries. Writes already issued are not affected.
func (s *Subscription) Close() {
	s.once.Do(s.cancel)
}
