package minigame

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
)

var ErrMalformed = errors.New("malformed mini-game")

// header is the part of the stored shape common to all variants.
type header struct {
	ID          string  `json:"id"`
	Name        string  `json:"name"`
	Description string  `json:"description"`
	IsActive    bool    `json:"isActive"`
	RoomID      string  `json:"roomId"`
	Type        Variant `json:"type"`
}

func newPayload(v Variant) (Payload, error) {
	switch v {
	case KeywordSpotting:
		return &KeywordGame{}, nil
	case ComplexityBingo:
		return &BingoGame{}, nil
	case EstimationPrediction:
		return &PredictionGame{}, nil
	case QuickPolls:
		return &PollGame{}, nil
	case AttentionMeter:
		return &MeterGame{}, nil
	case SilentQuestions:
		return &QuestionGame{}, nil
	case StoryChecklist:
		return &ChecklistGame{}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownVariant, v)
	}
}

// MarshalJSON flattens the header and payload into the stored shape.
func (g MiniGame) MarshalJSON() ([]byte, error) {
	if g.Payload == nil {
		return nil, fmt.Errorf("%w: no payload", ErrUnknownVariant)
	}
	raw, err := json.Marshal(g.Payload)
	if err != nil {
		return nil, err
	}
	fields := map[string]json.RawMessage{}
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, err
	}

	head, err := json.Marshal(header{
		ID:          g.ID,
		Name:        g.Name,
		Description: g.Description,
		IsActive:    g.IsActive,
		RoomID:      g.RoomID,
		Type:        g.Type(),
	})
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(head, &fields); err != nil {
		return nil, err
	}
	return json.Marshal(fields)
}

// UnmarshalJSON dispatches on the "type" tag only, then fills defaults so
// callers never see nil containers.
func (g *MiniGame) UnmarshalJSON(data []byte) error {
	var h header
	if err := json.Unmarshal(data, &h); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	p, err := newPayload(h.Type)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, p); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrMalformed, h.Type, err)
	}
	p.normalize()

	*g = MiniGame{
		ID:          h.ID,
		Name:        h.Name,
		Description: h.Description,
		IsActive:    h.IsActive,
		RoomID:      h.RoomID,
		Payload:     p,
	}
	return nil
}

// Decode reads a stored mini-game. An absent value yields (nil, nil).
func Decode(raw []byte) (*MiniGame, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}
	var g MiniGame
	if err := json.Unmarshal(raw, &g); err != nil {
		return nil, err
	}
	return &g, nil
}

// Estimate is a predicted vote. Older clients stored numbers, so both
// strings and numbers decode.
type Estimate string

func (e *Estimate) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		*e = Estimate(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return err
	}
	*e = Estimate(n.String())
	return nil
}

// A missing meterLevel means the game was never touched: start at 50.
func (m *MeterGame) UnmarshalJSON(data []byte) error {
	var aux struct {
		MeterLevel      *float64   `json:"meterLevel"`
		RecentReactions []Reaction `json:"recentReactions"`
	}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	m.MeterLevel = MeterStart
	if aux.MeterLevel != nil {
		m.MeterLevel = int(math.Round(*aux.MeterLevel))
	}
	m.RecentReactions = aux.RecentReactions
	return nil
}

func (k *KeywordGame) normalize() {
	if k.Keywords == nil {
		k.Keywords = map[string]Keyword{}
	}
	for word, kw := range k.Keywords {
		if kw.SubmittedBy == nil {
			kw.SubmittedBy = []string{}
			k.Keywords[word] = kw
		}
	}
}

func (b *BingoGame) normalize() {
	if b.BingoCards == nil {
		b.BingoCards = map[string]BingoCard{}
	}
	if b.BingoTerms == nil {
		b.BingoTerms = []string{}
	}
	for user, card := range b.BingoCards {
		if card.Card == nil {
			card.Card = []string{}
		}
		marked := make([]bool, BingoSquares)
		copy(marked, card.MarkedSquares)
		card.MarkedSquares = marked
		b.BingoCards[user] = card
	}
}

func (p *PredictionGame) normalize() {
	if p.Predictions == nil {
		p.Predictions = map[string]map[string]Estimate{}
	}
}

func (p *PollGame) normalize() {
	if p.PollHistory == nil {
		p.PollHistory = []Poll{}
	}
	for i := range p.PollHistory {
		p.PollHistory[i].normalize()
	}
	if p.CurrentPoll != nil {
		p.CurrentPoll.normalize()
	}
}

func (p *Poll) normalize() {
	if p.Options == nil {
		p.Options = []string{}
	}
	if p.Responses == nil {
		p.Responses = map[string]string{}
	}
}

func (m *MeterGame) normalize() {
	m.MeterLevel = max(MeterMin, min(MeterMax, m.MeterLevel))
	if m.RecentReactions == nil {
		m.RecentReactions = []Reaction{}
	}
}

func (q *QuestionGame) normalize() {
	if q.Questions == nil {
		q.Questions = map[string]Question{}
	}
	for id, question := range q.Questions {
		question.ID = id
		if question.Upvotes == nil {
			question.Upvotes = []string{}
		}
		q.Questions[id] = question
	}
}

// normalize drops unknown items and derives every item's state from
// completedBy: an item is checked while anyone has marked it.
func (c *ChecklistGame) normalize() {
	completed := make(map[ChecklistItem][]string, len(c.CompletedBy))
	for item, users := range c.CompletedBy {
		if item.Valid() && len(users) > 0 {
			completed[item] = users
		}
	}
	c.CompletedBy = completed
	c.Checklist = deriveChecklist(completed)
}

func deriveChecklist(completed map[ChecklistItem][]string) map[ChecklistItem]bool {
	checklist := make(map[ChecklistItem]bool, len(ChecklistItems))
	for _, item := range ChecklistItems {
		checklist[item] = len(completed[item]) > 0
	}
	return checklist
}
