package minigame

import (
	"sort"
)

type KeywordCount struct {
	Word  string `json:"word"`
	Count int    `json:"count"`
}

// Top returns the n most submitted keywords, ties broken alphabetically.
func (k *KeywordGame) Top(n int) []KeywordCount {
	out := make([]KeywordCount, 0, len(k.Keywords))
	for word, kw := range k.Keywords {
		out = append(out, KeywordCount{Word: word, Count: kw.Count})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Word < out[j].Word
	})
	if n >= 0 && len(out) > n {
		out = out[:n]
	}
	return out
}

// Sorted lists questions by upvotes, oldest first among equals.
func (q *QuestionGame) Sorted() []Question {
	out := make([]Question, 0, len(q.Questions))
	for _, question := range q.Questions {
		out = append(out, question)
	}
	sort.Slice(out, func(i, j int) bool {
		if len(out[i].Upvotes) != len(out[j].Upvotes) {
			return len(out[i].Upvotes) > len(out[j].Upvotes)
		}
		if out[i].Timestamp != out[j].Timestamp {
			return out[i].Timestamp < out[j].Timestamp
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// Completion is the percentage of checklist items anyone has marked.
func (c *ChecklistGame) Completion() float64 {
	done := 0
	for _, item := range ChecklistItems {
		if c.Checklist[item] {
			done++
		}
	}
	return float64(done) / float64(len(ChecklistItems)) * 100
}

// Tally counts responses per option, including options nobody picked.
func (p Poll) Tally() map[string]int {
	out := make(map[string]int, len(p.Options))
	for _, o := range p.Options {
		out[o] = 0
	}
	for _, answer := range p.Responses {
		out[answer]++
	}
	return out
}

// TopKeywordCount is how many keywords the cloud shows.
const TopKeywordCount = 20

type QuestionEntry struct {
	ID          string   `json:"id"`
	Question    string   `json:"question"`
	SubmittedBy string   `json:"submittedBy"`
	Upvotes     []string `json:"upvotes"`
	Timestamp   int64    `json:"timestamp"`
}

type ChecklistEntry struct {
	Item        ChecklistItem `json:"item"`
	Label       string        `json:"label"`
	Done        bool          `json:"done"`
	CompletedBy []string      `json:"completedBy"`
}

// Summary holds the read-only values a client renders for a game. Only the
// fields of the game's own variant are set.
type Summary struct {
	TopKeywords         []KeywordCount   `json:"topKeywords,omitempty"`
	UniqueKeywords      int              `json:"uniqueKeywords,omitempty"`
	SortedQuestions     []QuestionEntry  `json:"sortedQuestions,omitempty"`
	Checklist           []ChecklistEntry `json:"checklist,omitempty"`
	ChecklistCompletion *float64         `json:"checklistCompletion,omitempty"`
	PollTally           map[string]int   `json:"pollTally,omitempty"`
	PollHistoryTally    []map[string]int `json:"pollHistoryTally,omitempty"`
	MeterColor          Color            `json:"meterColor,omitempty"`
	MeterColorHex       string           `json:"meterColorHex,omitempty"`
}

// Summarize derives the Summary of g. It returns nil for no game.
func Summarize(g *MiniGame) *Summary {
	if g == nil || g.Payload == nil {
		return nil
	}
	s := &Summary{}
	switch p := g.Payload.(type) {
	case *KeywordGame:
		s.TopKeywords = p.Top(TopKeywordCount)
		s.UniqueKeywords = len(p.Keywords)
	case *QuestionGame:
		for _, q := range p.Sorted() {
			s.SortedQuestions = append(s.SortedQuestions, QuestionEntry{
				ID:          q.ID,
				Question:    q.Question,
				SubmittedBy: q.SubmittedBy,
				Upvotes:     q.Upvotes,
				Timestamp:   q.Timestamp,
			})
		}
	case *ChecklistGame:
		for _, item := range ChecklistItems {
			s.Checklist = append(s.Checklist, ChecklistEntry{
				Item:        item,
				Label:       item.Label(),
				Done:        p.Checklist[item],
				CompletedBy: p.CompletedBy[item],
			})
		}
		pct := p.Completion()
		s.ChecklistCompletion = &pct
	case *PollGame:
		if p.CurrentPoll != nil {
			s.PollTally = p.CurrentPoll.Tally()
		}
		for _, past := range p.PollHistory {
			s.PollHistoryTally = append(s.PollHistoryTally, past.Tally())
		}
	case *MeterGame:
		s.MeterColor = MeterColor(p.MeterLevel)
		s.MeterColorHex = s.MeterColor.Hex()
	}
	return s
}
