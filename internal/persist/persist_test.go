package persist

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/DoyleJ11/poker-room-backend/internal/room"
	"github.com/DoyleJ11/poker-room-backend/internal/store"
)

func openSQLite(t *testing.T) *Repository {
	t.Helper()
	repo, err := Open(DriverSQLite, filepath.Join(t.TempDir(), "rooms.db"), nil)
	require.NoError(t, err)
	require.NotNil(t, repo)
	t.Cleanup(func() { _ = repo.Close() })
	return repo
}

func newStore(t *testing.T) *store.Memory {
	t.Helper()
	m := store.NewMemory(context.Background())
	t.Cleanup(func() { _ = m.Close() })
	return m
}

func TestOpen_Drivers(t *testing.T) {
	repo, err := Open(DriverMemory, "", nil)
	require.NoError(t, err)
	assert.Nil(t, repo)

	_, err = Open("oracle", "x", nil)
	assert.ErrorIs(t, err, ErrUnknownDriver)
}

func TestRepository_SaveLoadDelete(t *testing.T) {
	ctx := context.Background()
	repo := openSQLite(t)

	require.NoError(t, repo.Save(ctx, "R1", []byte(`{"name":"a"}`)))
	require.NoError(t, repo.Save(ctx, "R1", []byte(`{"name":"b"}`)))
	require.NoError(t, repo.Save(ctx, "R2", []byte(`{"name":"c"}`)))

	recs, err := repo.Load(ctx)
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, "R1", recs[0].ID)
	assert.JSONEq(t, `{"name":"b"}`, string(recs[0].Data))

	require.NoError(t, repo.Delete(ctx, "R1"))
	recs, err = repo.Load(ctx)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, "R2", recs[0].ID)
}

func saved(t *testing.T, repo *Repository) map[string]string {
	t.Helper()
	recs, err := repo.Load(context.Background())
	require.NoError(t, err)
	out := map[string]string{}
	for _, r := range recs {
		out[r.ID] = string(r.Data)
	}
	return out
}

func TestMirror_FollowsStore(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	repo := openSQLite(t)
	m := newStore(t)
	mirror := NewMirror(repo, m, nil)

	done := make(chan error, 1)
	go func() { done <- mirror.Run(ctx) }()

	c := room.NewController(m)
	r, err := c.Create(ctx, "Sprint 5", "Alice")
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		data, ok := saved(t, repo)[r.ID]
		return ok && json.Valid([]byte(data)) && len(data) > 0
	}, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, c.Vote(ctx, r.ID, "Alice", "5"))
	require.Eventually(t, func() bool {
		var stored struct {
			Participants map[string]room.Participant `json:"participants"`
		}
		if err := json.Unmarshal([]byte(saved(t, repo)[r.ID]), &stored); err != nil {
			return false
		}
		v := stored.Participants["Alice"].Vote
		return v != nil && *v == "5"
	}, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, m.Set(ctx, room.Path(r.ID), nil))
	require.Eventually(t, func() bool {
		_, ok := saved(t, repo)[r.ID]
		return !ok
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("mirror did not stop")
	}
}

func TestMirror_RestoreSeedsStore(t *testing.T) {
	ctx := context.Background()
	repo := openSQLite(t)
	require.NoError(t, repo.Save(ctx, "R1", []byte(`{"name":"Sprint 5","admin":"Alice","participants":{"Alice":{"voted":true,"vote":"8","isAdmin":true}}}`)))
	require.NoError(t, repo.Save(ctx, "bad.id", []byte(`{}`)))

	m := newStore(t)
	n, err := NewMirror(repo, m, nil).Restore(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	loaded, err := room.NewController(m).Load(ctx, "R1")
	require.NoError(t, err)
	assert.Equal(t, "Sprint 5", loaded.Name)
	assert.Equal(t, "8", *loaded.Participants["Alice"].Vote)
}

func TestMirror_RestoreFailsWhenRepositoryUnreadable(t *testing.T) {
	repo, err := Open(DriverSQLite, filepath.Join(t.TempDir(), "rooms.db"), nil)
	require.NoError(t, err)
	require.NoError(t, repo.Close())

	n, err := NewMirror(repo, newStore(t), nil).Restore(context.Background())
	assert.Error(t, err)
	assert.Zero(t, n)
}

func TestMirror_SyncSkipsUnchangedRooms(t *testing.T) {
	ctx := context.Background()
	repo := openSQLite(t)
	mirror := NewMirror(repo, newStore(t), nil)

	snap := store.Snapshot{Path: "rooms", Value: json.RawMessage(`{"R1":{"name":"a"}}`)}
	require.NoError(t, mirror.sync(ctx, snap))
	before := saved(t, repo)

	// drop the row behind the mirror's back; an identical snapshot must not
	// write it again
	require.NoError(t, repo.Delete(ctx, "R1"))
	require.NoError(t, mirror.sync(ctx, snap))
	assert.Empty(t, saved(t, repo))
	assert.Contains(t, before, "R1")
}
