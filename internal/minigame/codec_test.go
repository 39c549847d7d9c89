package minigame

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecode_Absent(t *testing.T) {
	g, err := Decode([]byte("null"))
	require.NoError(t, err)
	assert.Nil(t, g)

	g, err = Decode(nil)
	require.NoError(t, err)
	assert.Nil(t, g)
}

func TestDecode_UnknownTag(t *testing.T) {
	_, err := Decode([]byte(`{"id":"x","type":"charades"}`))
	assert.ErrorIs(t, err, ErrUnknownVariant)
}

func TestDecode_WrongFieldType(t *testing.T) {
	_, err := Decode([]byte(`{"type":"keyword-spotting","keywords":"oops"}`))
	assert.ErrorIs(t, err, ErrMalformed)
}

func TestDecode_DispatchesOnTagNotShape(t *testing.T) {
	// keyword fields on a checklist game are ignored
	g, err := Decode([]byte(`{"type":"story-checklist","keywords":{"cache":{"count":1}}}`))
	require.NoError(t, err)
	require.Equal(t, StoryChecklist, g.Type())
	assert.Len(t, g.Payload.(*ChecklistGame).Checklist, 5)
}

func TestDecode_DefaultsMissingContainers(t *testing.T) {
	cases := []struct {
		raw   string
		check func(t *testing.T, p Payload)
	}{
		{`{"type":"keyword-spotting"}`, func(t *testing.T, p Payload) {
			assert.NotNil(t, p.(*KeywordGame).Keywords)
		}},
		{`{"type":"complexity-bingo","bingoCards":{"Alice":{"card":["Cache"],"markedSquares":[true]}}}`, func(t *testing.T, p Payload) {
			b := p.(*BingoGame)
			assert.NotNil(t, b.BingoTerms)
			assert.Len(t, b.BingoCards["Alice"].MarkedSquares, BingoSquares)
			assert.True(t, b.BingoCards["Alice"].MarkedSquares[0])
		}},
		{`{"type":"estimation-prediction"}`, func(t *testing.T, p Payload) {
			assert.NotNil(t, p.(*PredictionGame).Predictions)
		}},
		{`{"type":"quick-polls","currentPoll":{"question":"Lunch?","options":["a","b"]}}`, func(t *testing.T, p Payload) {
			polls := p.(*PollGame)
			assert.NotNil(t, polls.PollHistory)
			require.NotNil(t, polls.CurrentPoll)
			assert.NotNil(t, polls.CurrentPoll.Responses)
		}},
		{`{"type":"attention-meter"}`, func(t *testing.T, p Payload) {
			m := p.(*MeterGame)
			assert.Equal(t, MeterStart, m.MeterLevel)
			assert.NotNil(t, m.RecentReactions)
		}},
		{`{"type":"attention-meter","meterLevel":0}`, func(t *testing.T, p Payload) {
			assert.Equal(t, 0, p.(*MeterGame).MeterLevel)
		}},
		{`{"type":"attention-meter","meterLevel":250}`, func(t *testing.T, p Payload) {
			assert.Equal(t, MeterMax, p.(*MeterGame).MeterLevel)
		}},
		{`{"type":"silent-questions","questions":{"K1":{"question":"why?","submittedBy":"Bob"}}}`, func(t *testing.T, p Payload) {
			q := p.(*QuestionGame).Questions["K1"]
			assert.Equal(t, "K1", q.ID)
			assert.NotNil(t, q.Upvotes)
		}},
		{`{"type":"story-checklist","checklist":{"dependencies":true,"bogus":true},"completedBy":{"risksDiscussed":["Alice"],"bogus":["Bob"]}}`, func(t *testing.T, p Payload) {
			c := p.(*ChecklistGame)
			assert.Len(t, c.Checklist, 5)
			assert.True(t, c.Checklist[RisksDiscussed])
			// derived from completedBy, not the stored flag
			assert.False(t, c.Checklist[Dependencies])
			assert.NotContains(t, c.CompletedBy, ChecklistItem("bogus"))
		}},
	}

	for _, tc := range cases {
		t.Run(tc.raw, func(t *testing.T) {
			g, err := Decode([]byte(tc.raw))
			require.NoError(t, err)
			require.NotNil(t, g)
			tc.check(t, g.Payload)
		})
	}
}

func TestDecode_NumericPrediction(t *testing.T) {
	g, err := Decode([]byte(`{"type":"estimation-prediction","predictions":{"Alice":{"Bob":8,"Carol":"XL"}}}`))
	require.NoError(t, err)
	p := g.Payload.(*PredictionGame)
	assert.Equal(t, Estimate("8"), p.Predictions["Alice"]["Bob"])
	assert.Equal(t, Estimate("XL"), p.Predictions["Alice"]["Carol"])
}

func TestMarshal_RoundTripKeepsHeader(t *testing.T) {
	g := New("room9", AttentionMeter)
	g.IsActive = true

	raw, err := json.Marshal(g)
	require.NoError(t, err)

	back, err := Decode(raw)
	require.NoError(t, err)
	assert.Equal(t, g.ID, back.ID)
	assert.Equal(t, g.RoomID, back.RoomID)
	assert.True(t, back.IsActive)
	assert.Equal(t, AttentionMeter, back.Type())
}

func TestMarshal_NoPayload(t *testing.T) {
	_, err := json.Marshal(MiniGame{ID: "x"})
	assert.Error(t, err)
}
