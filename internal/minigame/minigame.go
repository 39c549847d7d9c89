// Package minigame implements the engagement games that run alongside story
// explanation in a poker room. Everything here is pure: the package computes
// new game states and the store writes that commit them, it never does I/O.
package minigame

import "errors"

var ErrUnknownVariant = errors.New("unknown mini-game variant")
var ErrWrongVariant = errors.New("command does not apply to this mini-game")

type Variant string

const (
	KeywordSpotting      Variant = "keyword-spotting"
	ComplexityBingo      Variant = "complexity-bingo"
	EstimationPrediction Variant = "estimation-prediction"
	QuickPolls           Variant = "quick-polls"
	AttentionMeter       Variant = "attention-meter"
	SilentQuestions      Variant = "silent-questions"
	StoryChecklist       Variant = "story-checklist"
)

var Variants = []Variant{
	KeywordSpotting,
	ComplexityBingo,
	EstimationPrediction,
	QuickPolls,
	AttentionMeter,
	SilentQuestions,
	StoryChecklist,
}

type Info struct {
	Name        string
	Description string
}

var infos = map[Variant]Info{
	KeywordSpotting:      {Name: "Keyword Spotting", Description: "Identify key terms during story explanation"},
	ComplexityBingo:      {Name: "Complexity Bingo", Description: "Mark technical terms as they are mentioned"},
	EstimationPrediction: {Name: "Estimation Prediction", Description: "Predict what others will vote"},
	QuickPolls:           {Name: "Quick Polls", Description: "Answer instant micro-polls during explanation"},
	AttentionMeter:       {Name: "Attention Meter", Description: "Keep the engagement meter high with reactions"},
	SilentQuestions:      {Name: "Silent Questions", Description: "Submit questions without interrupting"},
	StoryChecklist:       {Name: "Story Checklist", Description: "Collaborative story completeness checklist"},
}

func (v Variant) Valid() bool {
	_, ok := infos[v]
	return ok
}

func (v Variant) Info() Info { return infos[v] }

// MiniGame is the tagged union stored at rooms/{id}/miniGame. The common
// fields live here; the variant's state is the Payload, and the tag is
// always Payload.Variant().
type MiniGame struct {
	ID          string
	Name        string
	Description string
	IsActive    bool
	RoomID      string
	Payload     Payload
}

func (g MiniGame) Type() Variant {
	if g.Payload == nil {
		return ""
	}
	return g.Payload.Variant()
}

type Payload interface {
	Variant() Variant
	normalize()
}

// Keyword spotting

type KeywordGame struct {
	Keywords map[string]Keyword `json:"keywords"`
}

type Keyword struct {
	Count       int      `json:"count"`
	SubmittedBy []string `json:"submittedBy"`
}

// Complexity bingo

const BingoSquares = 25

type BingoGame struct {
	BingoCards map[string]BingoCard `json:"bingoCards"`
	BingoTerms []string             `json:"bingoTerms"`
}

type BingoCard struct {
	Card          []string `json:"card"`
	MarkedSquares []bool   `json:"markedSquares"`
	HasWon        bool     `json:"hasWon"`
}

// Estimation prediction

type PredictionGame struct {
	// predictor -> target -> predicted vote
	Predictions map[string]map[string]Estimate `json:"predictions"`
	Revealed    bool                           `json:"revealed"`
}

// Quick polls

type PollGame struct {
	CurrentPoll *Poll  `json:"currentPoll,omitempty"`
	PollHistory []Poll `json:"pollHistory"`
}

type Poll struct {
	Question  string            `json:"question"`
	Options   []string          `json:"options"`
	Responses map[string]string `json:"responses"`
}

// Attention meter

const (
	MeterMin     = 0
	MeterMax     = 100
	MeterStart   = 50
	MaxReactions = 10
)

type MeterGame struct {
	MeterLevel      int        `json:"meterLevel"`
	RecentReactions []Reaction `json:"recentReactions"`
}

type ReactionKind string

const (
	ReactionLike     ReactionKind = "like"
	ReactionQuestion ReactionKind = "question"
	ReactionConfused ReactionKind = "confused"
	ReactionIdea     ReactionKind = "idea"
)

func (k ReactionKind) Valid() bool {
	switch k {
	case ReactionLike, ReactionQuestion, ReactionConfused, ReactionIdea:
		return true
	}
	return false
}

type Reaction struct {
	UserID    string       `json:"userId"`
	Timestamp int64        `json:"timestamp"`
	Type      ReactionKind `json:"type"`
}

// Silent questions

type QuestionGame struct {
	// keyed by the store-generated push key
	Questions map[string]Question `json:"questions"`
}

type Question struct {
	ID          string   `json:"-"`
	Question    string   `json:"question"`
	SubmittedBy string   `json:"submittedBy"`
	Upvotes     []string `json:"upvotes"`
	Timestamp   int64    `json:"timestamp"`
}

// Story checklist

type ChecklistItem string

const (
	AcceptanceCriteria ChecklistItem = "acceptanceCriteria"
	Dependencies       ChecklistItem = "dependencies"
	UIRequirements     ChecklistItem = "uiRequirements"
	TestingApproach    ChecklistItem = "testingApproach"
	RisksDiscussed     ChecklistItem = "risksDiscussed"
)

var ChecklistItems = []ChecklistItem{
	AcceptanceCriteria,
	Dependencies,
	UIRequirements,
	TestingApproach,
	RisksDiscussed,
}

var checklistLabels = map[ChecklistItem]string{
	AcceptanceCriteria: "Clear acceptance criteria",
	Dependencies:       "Dependencies identified",
	UIRequirements:     "UI/UX requirements clear",
	TestingApproach:    "Testing approach defined",
	RisksDiscussed:     "Risks discussed",
}

func (i ChecklistItem) Valid() bool {
	_, ok := checklistLabels[i]
	return ok
}

func (i ChecklistItem) Label() string { return checklistLabels[i] }

type ChecklistGame struct {
	Checklist   map[ChecklistItem]bool     `json:"checklist"`
	CompletedBy map[ChecklistItem][]string `json:"completedBy"`
}

func (*KeywordGame) Variant() Variant    { return KeywordSpotting }
func (*BingoGame) Variant() Variant      { return ComplexityBingo }
func (*PredictionGame) Variant() Variant { return EstimationPrediction }
func (*PollGame) Variant() Variant       { return QuickPolls }
func (*MeterGame) Variant() Variant      { return AttentionMeter }
func (*QuestionGame) Variant() Variant   { return SilentQuestions }
func (*ChecklistGame) Variant() Variant  { return StoryChecklist }
