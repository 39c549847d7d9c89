package widget

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/DoyleJ11/poker-room-backend/internal/minigame"
	"github.com/DoyleJ11/poker-room-backend/internal/room"
	"github.com/DoyleJ11/poker-room-backend/internal/store"
)

const roomID = "ROOM0001"

// setup stores a room whose game is active, as it is during the
// explanation phase.
func setup(t *testing.T, v minigame.Variant) *store.Memory {
	t.Helper()
	return setupGame(t, v, true)
}

func setupGame(t *testing.T, v minigame.Variant, active bool) *store.Memory {
	t.Helper()
	m := store.NewMemory(context.Background())
	t.Cleanup(func() { _ = m.Close() })
	g := minigame.New(roomID, v)
	g.IsActive = active
	require.NoError(t, m.Set(context.Background(), room.Path(roomID), map[string]any{
		"name":             "Sprint 5",
		"explanationPhase": active,
		"miniGame":         g,
	}))
	return m
}

func miniGamePath(sub string) string {
	return room.Path(roomID) + "/miniGame/" + sub
}

func bind(t *testing.T, m store.Store, user string) *Binding {
	t.Helper()
	b, err := Bind(context.Background(), m, nil, roomID, user)
	require.NoError(t, err)
	t.Cleanup(b.Close)
	require.Eventually(t, func() bool {
		_, ok := b.View()
		return ok
	}, time.Second, 5*time.Millisecond)
	return b
}

// eventually waits until the view satisfies check.
func eventually(t *testing.T, b *Binding, check func(minigame.MiniGame) bool) {
	t.Helper()
	require.Eventually(t, func() bool {
		g, ok := b.View()
		return ok && check(g)
	}, time.Second, 5*time.Millisecond)
}

func TestDo_BeforeFirstSnapshot(t *testing.T) {
	b := &Binding{}
	assert.ErrorIs(t, b.Do(context.Background(), minigame.SubmitKeyword{Word: "cache"}), ErrNotReady)
}

func TestDo_NoGame(t *testing.T) {
	m := store.NewMemory(context.Background())
	t.Cleanup(func() { _ = m.Close() })

	b, err := Bind(context.Background(), m, nil, roomID, "Alice")
	require.NoError(t, err)
	t.Cleanup(b.Close)

	require.Eventually(t, func() bool {
		return b.Do(context.Background(), minigame.SubmitKeyword{Word: "x"}) == ErrNoGame
	}, time.Second, 5*time.Millisecond)
}

func TestBind_Validation(t *testing.T) {
	m := setup(t, minigame.KeywordSpotting)
	_, err := Bind(context.Background(), m, nil, roomID, " ")
	assert.ErrorIs(t, err, room.ErrEmptyName)
	_, err = Bind(context.Background(), m, nil, "a.b", "Alice")
	assert.ErrorIs(t, err, room.ErrInvalidRoomID)
}

func TestKeywords_TwoClientsConverge(t *testing.T) {
	m := setup(t, minigame.KeywordSpotting)
	alice := bind(t, m, "Alice")
	bob := bind(t, m, "Bob")
	ctx := context.Background()

	require.NoError(t, alice.Do(ctx, minigame.SubmitKeyword{Word: "cache"}))
	// optimistic: visible before the push comes back
	g, _ := alice.View()
	assert.Equal(t, 1, g.Payload.(*minigame.KeywordGame).Keywords["cache"].Count)

	count := func(g minigame.MiniGame) int {
		return g.Payload.(*minigame.KeywordGame).Keywords["cache"].Count
	}
	eventually(t, bob, func(g minigame.MiniGame) bool { return count(g) == 1 })

	require.NoError(t, alice.Do(ctx, minigame.SubmitKeyword{Word: "cache"}))
	require.NoError(t, bob.Do(ctx, minigame.SubmitKeyword{Word: "cache"}))
	eventually(t, alice, func(g minigame.MiniGame) bool { return count(g) == 2 })

	snap, err := m.Get(ctx, room.Path(roomID)+"/miniGame/keywords/cache")
	require.NoError(t, err)
	assert.JSONEq(t, `{"count":2,"submittedBy":["Alice","Bob"]}`, string(snap.Value))
}

func TestBingo_CardCreatedOnFirstSnapshot(t *testing.T) {
	m := setup(t, minigame.ComplexityBingo)
	b := bind(t, m, "Alice")

	eventually(t, b, func(g minigame.MiniGame) bool {
		_, ok := g.Payload.(*minigame.BingoGame).BingoCards["Alice"]
		return ok
	})

	snap, err := m.Get(context.Background(), room.Path(roomID)+"/miniGame/bingoCards/Alice/card")
	require.NoError(t, err)
	var card []string
	require.NoError(t, snap.Decode(&card))
	assert.Len(t, card, minigame.BingoSquares)
}

func TestDo_InactiveGameRejectsCommands(t *testing.T) {
	m := setupGame(t, minigame.KeywordSpotting, false)
	b := bind(t, m, "Alice")
	ctx := context.Background()

	assert.ErrorIs(t, b.Do(ctx, minigame.SubmitKeyword{Word: "cache"}), ErrInactive)
	snap, err := m.Get(ctx, miniGamePath("keywords"))
	require.NoError(t, err)
	assert.False(t, snap.Exists())

	require.NoError(t, m.Update(ctx, room.Path(roomID), map[string]any{
		"explanationPhase":  true,
		"miniGame/isActive": true,
	}))
	require.Eventually(t, func() bool {
		return b.Do(ctx, minigame.SubmitKeyword{Word: "cache"}) == nil
	}, time.Second, 5*time.Millisecond)
}

func TestBingo_CardWaitsForActiveGame(t *testing.T) {
	m := setupGame(t, minigame.ComplexityBingo, false)
	b := bind(t, m, "Alice")
	ctx := context.Background()

	// give the reader a chance to act on the inactive snapshot
	time.Sleep(50 * time.Millisecond)
	snap, err := m.Get(ctx, miniGamePath("bingoCards"))
	require.NoError(t, err)
	assert.False(t, snap.Exists())

	require.NoError(t, m.Update(ctx, room.Path(roomID)+"/miniGame", map[string]any{"isActive": true}))
	eventually(t, b, func(g minigame.MiniGame) bool {
		_, ok := g.Payload.(*minigame.BingoGame).BingoCards["Alice"]
		return ok
	})
}

// droppingStore remembers the first subscription so a test can end it the
// way the store ends a subscriber that falls behind.
type droppingStore struct {
	*store.Memory
	mu    sync.Mutex
	first *store.Subscription
}

func (d *droppingStore) Subscribe(ctx context.Context, path string) (*store.Subscription, error) {
	sub, err := d.Memory.Subscribe(ctx, path)
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.first == nil {
		d.first = sub
	}
	return sub, err
}

func TestBinding_ResubscribesAfterDrop(t *testing.T) {
	m := setup(t, minigame.KeywordSpotting)
	ds := &droppingStore{Memory: m}
	b := bind(t, ds, "Alice")
	ctx := context.Background()

	ds.mu.Lock()
	first := ds.first
	ds.mu.Unlock()
	first.Close()

	// a change made by someone else after the drop still reaches the view
	require.NoError(t, m.Update(ctx, miniGamePath("keywords/cache"), map[string]any{
		"count":       1,
		"submittedBy": []string{"Bob"},
	}))
	eventually(t, b, func(g minigame.MiniGame) bool {
		return g.Payload.(*minigame.KeywordGame).Keywords["cache"].Count == 1
	})

	stats, err := m.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Subscribers)
}

func TestQuestions_PushAssignsStoreKey(t *testing.T) {
	m := setup(t, minigame.SilentQuestions)
	b := bind(t, m, "Alice")
	ctx := context.Background()

	require.NoError(t, b.Do(ctx, minigame.AskQuestion{Text: "Any designs?"}))

	var id string
	eventually(t, b, func(g minigame.MiniGame) bool {
		for k := range g.Payload.(*minigame.QuestionGame).Questions {
			id = k
		}
		return len(id) == 8
	})

	require.NoError(t, b.Do(ctx, minigame.ToggleUpvote{QuestionID: id}))
	eventually(t, b, func(g minigame.MiniGame) bool {
		return len(g.Payload.(*minigame.QuestionGame).Questions[id].Upvotes) == 1
	})
}

func TestPolls_EndPollMovesToHistory(t *testing.T) {
	m := setup(t, minigame.QuickPolls)
	alice := bind(t, m, "Alice")
	bob := bind(t, m, "Bob")
	ctx := context.Background()

	require.NoError(t, alice.Do(ctx, minigame.StartPoll{Question: "Split it?", Options: []string{"yes", "no"}}))
	require.NoError(t, alice.Do(ctx, minigame.AnswerPoll{Option: "yes"}))

	// bob only ever sees pushed state, so once the answer shows up his view
	// is current
	eventually(t, bob, func(g minigame.MiniGame) bool {
		p := g.Payload.(*minigame.PollGame)
		return p.CurrentPoll != nil && p.CurrentPoll.Responses["Alice"] == "yes"
	})
	require.NoError(t, bob.Do(ctx, minigame.EndPoll{}))

	eventually(t, alice, func(g minigame.MiniGame) bool {
		p := g.Payload.(*minigame.PollGame)
		return p.CurrentPoll == nil && len(p.PollHistory) == 1 && p.PollHistory[0].Responses["Alice"] == "yes"
	})
}

func TestRejectedCommandLeavesViewAlone(t *testing.T) {
	m := setup(t, minigame.StoryChecklist)
	b := bind(t, m, "Alice")

	before, _ := b.View()
	err := b.Do(context.Background(), minigame.SubmitKeyword{Word: "cache"})
	assert.ErrorIs(t, err, minigame.ErrWrongVariant)
	after, _ := b.View()
	assert.Equal(t, before.Payload, after.Payload)
}

func TestDo_WriteFailureIsReturned(t *testing.T) {
	m := setup(t, minigame.StoryChecklist)
	b := bind(t, m, "Alice")
	require.NoError(t, m.Close())

	err := b.Do(context.Background(), minigame.ToggleChecklist{Item: minigame.Dependencies})
	assert.ErrorIs(t, err, store.ErrClosed)

	// the optimistic view is kept
	g, _ := b.View()
	assert.True(t, g.Payload.(*minigame.ChecklistGame).Checklist[minigame.Dependencies])
}
