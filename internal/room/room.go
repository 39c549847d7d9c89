// Package room holds the planning-poker room model and the controller that
// drives it through the store.
package room

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/text/unicode/norm"

	"github.com/DoyleJ11/poker-room-backend/internal/minigame"
	"github.com/DoyleJ11/poker-room-backend/internal/pathtree"
	"github.com/DoyleJ11/poker-room-backend/internal/store"
)

var ErrRoomNotFound = errors.New("room not found")
var ErrInvalidRoomID = errors.New("invalid room id")
var ErrEmptyName = errors.New("name is required")
var ErrInvalidName = errors.New("name cannot be used as a key")
var ErrEmptyRoomName = errors.New("room name is required")
var ErrNotAdmin = errors.New("only the room admin can do that")

type Mode string

const (
	ModeNormal Mode = "normal"
	ModeTShirt Mode = "tshirt"
)

var normalOptions = []string{"1", "2", "3", "5", "8", "13", "20", "40", "100"}
var tshirtOptions = []string{"XS", "S", "M", "L", "XL", "XXL"}

// Options lists the cards shown for the mode. Votes are not checked against
// them.
func (m Mode) Options() []string {
	if m == ModeTShirt {
		return tshirtOptions
	}
	return normalOptions
}

func (m Mode) Toggle() Mode {
	if m == ModeTShirt {
		return ModeNormal
	}
	return ModeTShirt
}

type State string

const (
	Voting   State = "voting"
	Revealed State = "revealed"
)

type Participant struct {
	Voted   bool    `json:"voted"`
	Vote    *string `json:"vote"`
	IsAdmin bool    `json:"isAdmin"`
}

type Room struct {
	ID               string                 `json:"id"`
	Name             string                 `json:"name"`
	Admin            string                 `json:"admin"`
	Mode             Mode                   `json:"mode"`
	Reveal           bool                   `json:"reveal"`
	StoryURL         string                 `json:"storyURL"`
	Participants     map[string]Participant `json:"participants"`
	MiniGame         *minigame.MiniGame     `json:"miniGame,omitempty"`
	ExplanationPhase bool                   `json:"explanationPhase"`
}

// Decode turns a snapshot of rooms/{id} into a Room. Each field is read on
// its own: a field of the wrong type is logged and left at its zero value, a
// participant entry that cannot be read becomes a participant who has not
// voted, an unknown mode reads as normal and a malformed mini-game is
// dropped. Only a missing room is an error.
func Decode(s store.Snapshot, log *zap.Logger) (*Room, error) {
	if !s.Exists() {
		return nil, ErrRoomNotFound
	}
	if log == nil {
		log = zap.NewNop()
	}

	id := s.Path
	if i := strings.LastIndexByte(id, '/'); i >= 0 {
		id = id[i+1:]
	}
	log = log.With(zap.String("room", id))

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(s.Value, &fields); err != nil {
		log.Warn("room is not an object, reading it as empty", zap.Error(err))
	}
	d := decoder{fields: fields, log: log}

	r := &Room{
		ID:               id,
		Name:             decodeField[string](d, "name"),
		Admin:            decodeField[string](d, "admin"),
		Mode:             decodeField[Mode](d, "mode"),
		Reveal:           decodeField[bool](d, "reveal"),
		StoryURL:         decodeField[string](d, "storyURL"),
		ExplanationPhase: decodeField[bool](d, "explanationPhase"),
		Participants:     map[string]Participant{},
	}
	if r.Mode != ModeTShirt {
		r.Mode = ModeNormal
	}

	for name, raw := range decodeField[map[string]json.RawMessage](d, "participants") {
		var p Participant
		if err := json.Unmarshal(raw, &p); err != nil {
			log.Warn("resetting unreadable participant", zap.String("name", name), zap.Error(err))
			p = Participant{}
		}
		r.Participants[name] = p
	}

	if raw, ok := fields["miniGame"]; ok {
		g, err := minigame.Decode(raw)
		if err != nil {
			log.Warn("ignoring malformed mini-game", zap.Error(err))
		} else {
			r.MiniGame = g
		}
	}
	return r, nil
}

type decoder struct {
	fields map[string]json.RawMessage
	log    *zap.Logger
}

func decodeField[T any](d decoder, key string) T {
	var v T
	raw, ok := d.fields[key]
	if !ok {
		return v
	}
	if err := json.Unmarshal(raw, &v); err != nil {
		d.log.Warn("ignoring unreadable room field", zap.String("field", key), zap.Error(err))
		var zero T
		return zero
	}
	return v
}

func (r *Room) State() State {
	if r.Reveal {
		return Revealed
	}
	return Voting
}

// Tally counts the votes cast so far.
func (r *Room) Tally() map[string]int {
	out := map[string]int{}
	for _, p := range r.Participants {
		if p.Voted && p.Vote != nil {
			out[*p.Vote]++
		}
	}
	return out
}

func (r *Room) AllVoted() bool {
	if len(r.Participants) == 0 {
		return false
	}
	for _, p := range r.Participants {
		if !p.Voted {
			return false
		}
	}
	return true
}

// Names returns participant names in sorted order.
func (r *Room) Names() []string {
	out := make([]string, 0, len(r.Participants))
	for n := range r.Participants {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

// View is the room as clients render it: the stored fields plus the values
// derived from them. The tally is only filled in once votes are revealed.
type View struct {
	*Room
	State           State             `json:"state"`
	DisplayStoryURL string            `json:"displayStoryURL"`
	Options         []string          `json:"options"`
	Names           []string          `json:"names"`
	AllVoted        bool              `json:"allVoted"`
	Tally           map[string]int    `json:"tally,omitempty"`
	Game            *minigame.Summary `json:"game,omitempty"`
}

func (r *Room) View() View {
	v := View{
		Room:            r,
		State:           r.State(),
		DisplayStoryURL: r.DisplayStoryURL(),
		Options:         r.Mode.Options(),
		Names:           r.Names(),
		AllVoted:        r.AllVoted(),
		Game:            minigame.Summarize(r.MiniGame),
	}
	if r.Reveal {
		v.Tally = r.Tally()
	}
	return v
}

func (r *Room) DisplayStoryURL() string { return DisplayURL(r.StoryURL) }

// DisplayURL adds an http:// scheme to links typed without one.
func DisplayURL(raw string) string {
	if raw == "" || strings.HasPrefix(raw, "http://") || strings.HasPrefix(raw, "https://") {
		return raw
	}
	return "http://" + raw
}

// NormalizeName trims and NFC-normalizes a display name so the same name
// typed on different keyboards maps to one participant.
func NormalizeName(name string) (string, error) {
	name = norm.NFC.String(strings.TrimSpace(name))
	if name == "" {
		return "", ErrEmptyName
	}
	if err := pathtree.ValidKey(name); err != nil {
		return "", fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	return name, nil
}

func Path(roomID string) string { return pathtree.Join("rooms", roomID) }
