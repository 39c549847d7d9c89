package minigame

import (
	"errors"
	"fmt"
	"maps"
	"slices"
	"strings"
	"time"

	"github.com/DoyleJ11/poker-room-backend/internal/pathtree"
)

var ErrNoUser = errors.New("no user")
var ErrInvalidKeyword = errors.New("invalid keyword")
var ErrSquareOutOfRange = errors.New("bingo square out of range")
var ErrNoCard = errors.New("no bingo card for user")
var ErrInvalidPoll = errors.New("poll needs a question and at least two options")
var ErrPollActive = errors.New("a poll is already running")
var ErrNoActivePoll = errors.New("no active poll")
var ErrUnknownOption = errors.New("unknown poll option")
var ErrUnknownReaction = errors.New("unknown reaction")
var ErrEmptyQuestion = errors.New("empty question")
var ErrUnknownQuestion = errors.New("unknown question")
var ErrUnknownChecklistItem = errors.New("unknown checklist item")

type Op string

const (
	OpUpdate Op = "update"
	OpPush   Op = "push"
)

// Write is one store call that commits a command. Path is relative to the
// mini-game root; Fields is the merge-update for OpUpdate and Value the new
// child for OpPush.
type Write struct {
	Op     Op
	Path   string
	Fields map[string]any
	Value  any
}

func update(path string, fields map[string]any) Write {
	return Write{Op: OpUpdate, Path: path, Fields: fields}
}

type Command interface{ variant() Variant }

type SubmitKeyword struct{ Word string }
type EnsureCard struct{}
type MarkSquare struct{ Index int }
type Predict struct {
	Target string
	Vote   string
}
type RevealPredictions struct{}
type StartPoll struct {
	Question string
	Options  []string
}
type AnswerPoll struct{ Option string }
type EndPoll struct{}
type React struct{ Kind ReactionKind }
type Decay struct{}
type AskQuestion struct{ Text string }
type ToggleUpvote struct{ QuestionID string }
type ToggleChecklist struct{ Item ChecklistItem }

func (SubmitKeyword) variant() Variant     { return KeywordSpotting }
func (EnsureCard) variant() Variant        { return ComplexityBingo }
func (MarkSquare) variant() Variant        { return ComplexityBingo }
func (Predict) variant() Variant           { return EstimationPrediction }
func (RevealPredictions) variant() Variant { return EstimationPrediction }
func (StartPoll) variant() Variant         { return QuickPolls }
func (AnswerPoll) variant() Variant        { return QuickPolls }
func (EndPoll) variant() Variant           { return QuickPolls }
func (React) variant() Variant             { return AttentionMeter }
func (Decay) variant() Variant             { return AttentionMeter }
func (AskQuestion) variant() Variant       { return SilentQuestions }
func (ToggleUpvote) variant() Variant      { return SilentQuestions }
func (ToggleChecklist) variant() Variant   { return StoryChecklist }

// Apply computes the game after user issues cmd, plus the writes that commit
// it to the store. g is not modified. A command that changes nothing returns
// g and no writes.
func Apply(g MiniGame, user string, cmd Command, now time.Time) (MiniGame, []Write, error) {
	if g.Type() != cmd.variant() {
		return g, nil, fmt.Errorf("%w: %T on %s", ErrWrongVariant, cmd, g.Type())
	}
	if _, ok := cmd.(Decay); !ok {
		if user == "" {
			return g, nil, ErrNoUser
		}
		if err := pathtree.ValidKey(user); err != nil {
			return g, nil, err
		}
	}

	var (
		next   Payload
		writes []Write
		err    error
	)
	switch c := cmd.(type) {
	case SubmitKeyword:
		next, writes, err = submitKeyword(g.Payload.(*KeywordGame), user, c)
	case EnsureCard:
		next, writes, err = ensureCard(g.Payload.(*BingoGame), user)
	case MarkSquare:
		next, writes, err = markSquare(g.Payload.(*BingoGame), user, c)
	case Predict:
		next, writes, err = predict(g.Payload.(*PredictionGame), user, c)
	case RevealPredictions:
		p := *g.Payload.(*PredictionGame)
		if !p.Revealed {
			p.Revealed = true
			next, writes = &p, []Write{update("", map[string]any{"revealed": true})}
		}
	case StartPoll:
		next, writes, err = startPoll(g.Payload.(*PollGame), c)
	case AnswerPoll:
		next, writes, err = answerPoll(g.Payload.(*PollGame), user, c)
	case EndPoll:
		next, writes, err = endPoll(g.Payload.(*PollGame))
	case React:
		next, writes, err = react(g.Payload.(*MeterGame), user, c, now)
	case Decay:
		m := *g.Payload.(*MeterGame)
		if level := UpdateAttentionMeter(m.MeterLevel, MeterDecay); level != m.MeterLevel {
			m.MeterLevel = level
			next, writes = &m, []Write{update("", map[string]any{"meterLevel": level})}
		}
	case AskQuestion:
		next, writes, err = askQuestion(g.Payload.(*QuestionGame), user, c, now)
	case ToggleUpvote:
		next, writes, err = toggleUpvote(g.Payload.(*QuestionGame), user, c)
	case ToggleChecklist:
		next, writes, err = toggleChecklist(g.Payload.(*ChecklistGame), user, c)
	default:
		return g, nil, fmt.Errorf("%w: %T", ErrWrongVariant, cmd)
	}
	if err != nil || next == nil {
		return g, nil, err
	}

	out := g
	out.Payload = next
	return out, writes, nil
}

func toggle(list []string, user string) []string {
	if i := slices.Index(list, user); i >= 0 {
		return slices.Delete(slices.Clone(list), i, i+1)
	}
	return append(slices.Clone(list), user)
}

func submitKeyword(k *KeywordGame, user string, c SubmitKeyword) (Payload, []Write, error) {
	word := strings.ToLower(strings.TrimSpace(c.Word))
	if word == "" {
		return nil, nil, nil
	}
	if err := pathtree.ValidKey(word); err != nil {
		return nil, nil, fmt.Errorf("%w: %q", ErrInvalidKeyword, c.Word)
	}

	cur := k.Keywords[word]
	if slices.Contains(cur.SubmittedBy, user) {
		return nil, nil, nil
	}
	kw := Keyword{
		Count:       cur.Count + 1,
		SubmittedBy: append(slices.Clone(cur.SubmittedBy), user),
	}
	next := &KeywordGame{Keywords: maps.Clone(k.Keywords)}
	if next.Keywords == nil {
		next.Keywords = map[string]Keyword{}
	}
	next.Keywords[word] = kw

	return next, []Write{update(pathtree.Join("keywords", word), map[string]any{
		"count":       kw.Count,
		"submittedBy": kw.SubmittedBy,
	})}, nil
}

func cardFields(card BingoCard) map[string]any {
	return map[string]any{
		"card":          card.Card,
		"markedSquares": card.MarkedSquares,
		"hasWon":        card.HasWon,
	}
}

func withCard(b *BingoGame, user string, card BingoCard) *BingoGame {
	next := &BingoGame{BingoCards: maps.Clone(b.BingoCards), BingoTerms: b.BingoTerms}
	if next.BingoCards == nil {
		next.BingoCards = map[string]BingoCard{}
	}
	next.BingoCards[user] = card
	return next
}

func ensureCard(b *BingoGame, user string) (Payload, []Write, error) {
	if _, ok := b.BingoCards[user]; ok {
		return nil, nil, nil
	}
	card := BingoCard{
		Card:          GenerateBingoCard(),
		MarkedSquares: make([]bool, BingoSquares),
		HasWon:        false,
	}
	return withCard(b, user, card), []Write{update(pathtree.Join("bingoCards", user), cardFields(card))}, nil
}

func markSquare(b *BingoGame, user string, c MarkSquare) (Payload, []Write, error) {
	if c.Index < 0 || c.Index >= BingoSquares {
		return nil, nil, fmt.Errorf("%w: %d", ErrSquareOutOfRange, c.Index)
	}
	card, ok := b.BingoCards[user]
	if !ok {
		return nil, nil, ErrNoCard
	}
	// a won card is frozen
	if card.HasWon {
		return nil, nil, nil
	}

	marked := make([]bool, BingoSquares)
	copy(marked, card.MarkedSquares)
	marked[c.Index] = !marked[c.Index]

	card.MarkedSquares = marked
	card.HasWon = card.HasWon || CheckBingoWin(marked)

	return withCard(b, user, card), []Write{update(pathtree.Join("bingoCards", user), cardFields(card))}, nil
}

func predict(p *PredictionGame, user string, c Predict) (Payload, []Write, error) {
	if err := pathtree.ValidKey(c.Target); err != nil {
		return nil, nil, err
	}
	mine := maps.Clone(p.Predictions[user])
	if mine == nil {
		mine = map[string]Estimate{}
	}
	mine[c.Target] = Estimate(c.Vote)

	next := &PredictionGame{Predictions: maps.Clone(p.Predictions), Revealed: p.Revealed}
	if next.Predictions == nil {
		next.Predictions = map[string]map[string]Estimate{}
	}
	next.Predictions[user] = mine

	fields := make(map[string]any, len(mine))
	for target, vote := range mine {
		fields[target] = string(vote)
	}
	return next, []Write{update(pathtree.Join("predictions", user), fields)}, nil
}

func startPoll(p *PollGame, c StartPoll) (Payload, []Write, error) {
	question := strings.TrimSpace(c.Question)
	options := make([]string, 0, len(c.Options))
	for _, o := range c.Options {
		if o = strings.TrimSpace(o); o != "" {
			options = append(options, o)
		}
	}
	if question == "" || len(options) < 2 {
		return nil, nil, ErrInvalidPoll
	}
	if p.CurrentPoll != nil {
		return nil, nil, ErrPollActive
	}

	poll := Poll{Question: question, Options: options, Responses: map[string]string{}}
	next := &PollGame{CurrentPoll: &poll, PollHistory: p.PollHistory}
	return next, []Write{update("", map[string]any{"currentPoll": poll})}, nil
}

func answerPoll(p *PollGame, user string, c AnswerPoll) (Payload, []Write, error) {
	if p.CurrentPoll == nil {
		return nil, nil, ErrNoActivePoll
	}
	if !slices.Contains(p.CurrentPoll.Options, c.Option) {
		return nil, nil, fmt.Errorf("%w: %q", ErrUnknownOption, c.Option)
	}

	poll := *p.CurrentPoll
	poll.Responses = maps.Clone(poll.Responses)
	if poll.Responses == nil {
		poll.Responses = map[string]string{}
	}
	poll.Responses[user] = c.Option

	next := &PollGame{CurrentPoll: &poll, PollHistory: p.PollHistory}
	return next, []Write{update("currentPoll/responses", map[string]any{user: c.Option})}, nil
}

// endPoll replaces the whole history array. Two clients ending at once both
// write history+current from their own view; the last write wins.
func endPoll(p *PollGame) (Payload, []Write, error) {
	if p.CurrentPoll == nil {
		return nil, nil, ErrNoActivePoll
	}
	history := append(slices.Clone(p.PollHistory), *p.CurrentPoll)
	next := &PollGame{CurrentPoll: nil, PollHistory: history}
	return next, []Write{update("", map[string]any{
		"pollHistory": history,
		"currentPoll": nil,
	})}, nil
}

// react caps the list at MaxReactions from this client's view only; the
// store itself does not enforce the cap.
func react(m *MeterGame, user string, c React, now time.Time) (Payload, []Write, error) {
	if !c.Kind.Valid() {
		return nil, nil, fmt.Errorf("%w: %q", ErrUnknownReaction, c.Kind)
	}
	reactions := m.RecentReactions
	if len(reactions) > MaxReactions-1 {
		reactions = reactions[len(reactions)-(MaxReactions-1):]
	}
	reactions = append(slices.Clone(reactions), Reaction{UserID: user, Timestamp: now.UnixMilli(), Type: c.Kind})
	level := UpdateAttentionMeter(m.MeterLevel, MeterReaction)

	next := &MeterGame{MeterLevel: level, RecentReactions: reactions}
	return next, []Write{update("", map[string]any{
		"meterLevel":      level,
		"recentReactions": reactions,
	})}, nil
}

func askQuestion(q *QuestionGame, user string, c AskQuestion, now time.Time) (Payload, []Write, error) {
	text := strings.TrimSpace(c.Text)
	if text == "" {
		return nil, nil, ErrEmptyQuestion
	}
	question := Question{
		Question:    text,
		SubmittedBy: user,
		Upvotes:     []string{},
		Timestamp:   now.UnixMilli(),
	}

	// The real key is assigned by the store; the next push replaces this one.
	question.ID = fmt.Sprintf("pending-%d", now.UnixNano())
	next := &QuestionGame{Questions: maps.Clone(q.Questions)}
	if next.Questions == nil {
		next.Questions = map[string]Question{}
	}
	next.Questions[question.ID] = question

	return next, []Write{{Op: OpPush, Path: "questions", Value: question}}, nil
}

func toggleUpvote(q *QuestionGame, user string, c ToggleUpvote) (Payload, []Write, error) {
	question, ok := q.Questions[c.QuestionID]
	if !ok {
		return nil, nil, fmt.Errorf("%w: %q", ErrUnknownQuestion, c.QuestionID)
	}
	question.Upvotes = toggle(question.Upvotes, user)

	next := &QuestionGame{Questions: maps.Clone(q.Questions)}
	next.Questions[c.QuestionID] = question
	return next, []Write{update(pathtree.Join("questions", c.QuestionID), map[string]any{
		"upvotes": question.Upvotes,
	})}, nil
}

// toggleChecklist moves user in or out of the item's completedBy set and
// rewrites the derived checklist. Concurrent toggles on the same item race.
func toggleChecklist(c *ChecklistGame, user string, cmd ToggleChecklist) (Payload, []Write, error) {
	if !cmd.Item.Valid() {
		return nil, nil, fmt.Errorf("%w: %q", ErrUnknownChecklistItem, cmd.Item)
	}

	completed := maps.Clone(c.CompletedBy)
	if completed == nil {
		completed = map[ChecklistItem][]string{}
	}
	users := toggle(completed[cmd.Item], user)
	if len(users) == 0 {
		delete(completed, cmd.Item)
	} else {
		completed[cmd.Item] = users
	}
	next := &ChecklistGame{Checklist: deriveChecklist(completed), CompletedBy: completed}

	return next, []Write{update("", map[string]any{
		"checklist":   next.Checklist,
		"completedBy": next.CompletedBy,
	})}, nil
}
