// Package types holds the websocket wire messages.
package types

import "github.com/DoyleJ11/poker-room-backend/internal/room"

// Client → server message types.
const (
	MsgVote                = "Vote"
	MsgReveal              = "Reveal"
	MsgReset               = "Reset"
	MsgToggleMode          = "ToggleMode"
	MsgSetStoryURL         = "SetStoryURL"
	MsgSetExplanationPhase = "SetExplanationPhase"

	MsgSubmitKeyword     = "SubmitKeyword"
	MsgMarkSquare        = "MarkSquare"
	MsgPredict           = "Predict"
	MsgRevealPredictions = "RevealPredictions"
	MsgStartPoll         = "StartPoll"
	MsgAnswerPoll        = "AnswerPoll"
	MsgEndPoll           = "EndPoll"
	MsgReact             = "React"
	MsgAskQuestion       = "AskQuestion"
	MsgToggleUpvote      = "ToggleUpvote"
	MsgToggleChecklist   = "ToggleChecklist"
)

// Server → client message types.
const (
	MsgRoomSnapshot = "RoomSnapshot"
	MsgPresence     = "Presence"
	MsgError        = "Error"
)

// Client -> Server payloads
//
// Vote:                value
// SetStoryURL:         url
// SetExplanationPhase: on
// SubmitKeyword:       word
// MarkSquare:          index
// Predict:             target, value
// StartPoll:           question, options
// AnswerPoll:          option
// React:               reaction
// AskQuestion:         question
// ToggleUpvote:        question_id
// ToggleChecklist:     item
//
// Server -> Client
//
// RoomSnapshot: version, room (with derived tally, names, allVoted and game summary),
//               state, displayStoryURL, meterColor (attention meter only)
// Presence:     version, names
// Error:        error
type ClientMessage struct {
	Type       string   `json:"type"`
	Value      string   `json:"value,omitempty"`
	URL        string   `json:"url,omitempty"`
	On         bool     `json:"on,omitempty"`
	Word       string   `json:"word,omitempty"`
	Index      *int     `json:"index,omitempty"`
	Target     string   `json:"target,omitempty"`
	Question   string   `json:"question,omitempty"`
	Options    []string `json:"options,omitempty"`
	Option     string   `json:"option,omitempty"`
	Reaction   string   `json:"reaction,omitempty"`
	QuestionID string   `json:"question_id,omitempty"`
	Item       string   `json:"item,omitempty"`
}

type ServerMessage struct {
	Type            string     `json:"type"` // "RoomSnapshot" | "Presence" | "Error"
	Version         int        `json:"version,omitempty"`
	Room            *room.View `json:"room,omitempty"`
	State           room.State `json:"state,omitempty"`
	DisplayStoryURL string     `json:"displayStoryURL,omitempty"`
	MeterColor      string     `json:"meterColor,omitempty"`
	Names           []string   `json:"names,omitempty"`
	Error           string     `json:"error,omitempty"`
}
