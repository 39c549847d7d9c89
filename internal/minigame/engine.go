package minigame

import (
	"fmt"
	"math/rand"
	"sync/atomic"
	"time"
)

var BingoTerms = []string{
	"API Call", "Database", "Frontend", "Backend", "Testing", "DevOps",
	"User Story", "Edge Case", "Third Party", "Security", "Performance",
	"Validation", "Error Handling", "Mobile", "Cache", "Migration",
	"Authentication", "Authorization", "Logging", "Monitoring", "Deployment",
	"Integration", "Unit Test", "Bug Fix", "Feature Flag", "Rollback",
}

// rows, columns, then both diagonals of the row-major 5x5 grid
var bingoLines = func() [][5]int {
	lines := make([][5]int, 0, 12)
	for r := 0; r < 5; r++ {
		lines = append(lines, [5]int{r * 5, r*5 + 1, r*5 + 2, r*5 + 3, r*5 + 4})
	}
	for c := 0; c < 5; c++ {
		lines = append(lines, [5]int{c, 5 + c, 10 + c, 15 + c, 20 + c})
	}
	lines = append(lines, [5]int{0, 6, 12, 18, 24}, [5]int{4, 8, 12, 16, 20})
	return lines
}()

var idSeq atomic.Uint64

func PickVariant() Variant {
	return Variants[rand.Intn(len(Variants))]
}

// New builds the initial state of a game. v must be one of Variants;
// anything else is a programming error and panics.
func New(roomID string, v Variant) MiniGame {
	info, ok := infos[v]
	if !ok {
		panic(fmt.Sprintf("minigame.New: %v %q", ErrUnknownVariant, v))
	}

	g := MiniGame{
		ID:          fmt.Sprintf("%s-%s-%d-%d", roomID, v, time.Now().UnixMilli(), idSeq.Add(1)),
		Name:        info.Name,
		Description: info.Description,
		IsActive:    false,
		RoomID:      roomID,
	}

	switch v {
	case KeywordSpotting:
		g.Payload = &KeywordGame{Keywords: map[string]Keyword{}}
	case ComplexityBingo:
		g.Payload = &BingoGame{BingoCards: map[string]BingoCard{}, BingoTerms: GenerateBingoCard()}
	case EstimationPrediction:
		g.Payload = &PredictionGame{Predictions: map[string]map[string]Estimate{}, Revealed: false}
	case QuickPolls:
		g.Payload = &PollGame{PollHistory: []Poll{}}
	case AttentionMeter:
		g.Payload = &MeterGame{MeterLevel: MeterStart, RecentReactions: []Reaction{}}
	case SilentQuestions:
		g.Payload = &QuestionGame{Questions: map[string]Question{}}
	case StoryChecklist:
		checklist := make(map[ChecklistItem]bool, len(ChecklistItems))
		for _, item := range ChecklistItems {
			checklist[item] = false
		}
		g.Payload = &ChecklistGame{Checklist: checklist, CompletedBy: map[ChecklistItem][]string{}}
	}
	return g
}

// GenerateBingoCard samples 25 distinct terms from BingoTerms.
func GenerateBingoCard() []string {
	perm := rand.Perm(len(BingoTerms))
	card := make([]string, BingoSquares)
	for i := range card {
		card[i] = BingoTerms[perm[i]]
	}
	return card
}

// CheckBingoWin reports whether any row, column or diagonal is fully marked.
// Missing squares count as unmarked.
func CheckBingoWin(marked []bool) bool {
	for _, line := range bingoLines {
		full := true
		for _, idx := range line {
			if idx >= len(marked) || !marked[idx] {
				full = false
				break
			}
		}
		if full {
			return true
		}
	}
	return false
}

type MeterAction string

const (
	MeterReaction MeterAction = "reaction"
	MeterDecay    MeterAction = "decay"
)

const (
	reactionBoost = 15
	decayStep     = 1
)

func UpdateAttentionMeter(level int, action MeterAction) int {
	if action == MeterReaction {
		return min(MeterMax, level+reactionBoost)
	}
	return max(MeterMin, level-decayStep)
}

type Color string

const (
	Green  Color = "green"
	Yellow Color = "yellow"
	Orange Color = "orange"
	Red    Color = "red"
)

var colorHex = map[Color]string{
	Green:  "#4CAF50",
	Yellow: "#FFC107",
	Orange: "#FF9800",
	Red:    "#F44336",
}

func (c Color) Hex() string { return colorHex[c] }

// MeterColor bands the level; a boundary value belongs to the higher band.
func MeterColor(level int) Color {
	switch {
	case level >= 80:
		return Green
	case level >= 60:
		return Yellow
	case level >= 40:
		return Orange
	default:
		return Red
	}
}
