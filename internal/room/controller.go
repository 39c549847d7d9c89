package room

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"go.uber.org/zap"

	"github.com/DoyleJ11/poker-room-backend/internal/minigame"
	"github.com/DoyleJ11/poker-room-backend/internal/pathtree"
	"github.com/DoyleJ11/poker-room-backend/internal/store"
)

// Controller runs room operations as plain store writes. Nothing here is
// transactional: concurrent callers race per path and the last write wins.
type Controller struct {
	store        store.Store
	log          *zap.Logger
	publicURL    string
	enforceAdmin bool
}

type Option func(*Controller)

func WithLogger(l *zap.Logger) Option {
	return func(c *Controller) { c.log = l }
}

func WithPublicURL(u string) Option {
	return func(c *Controller) { c.publicURL = strings.TrimRight(u, "/") }
}

// WithEnforceAdmin makes reveal, reset, mode, story and phase changes check
// the actor's isAdmin flag.
func WithEnforceAdmin(on bool) Option {
	return func(c *Controller) { c.enforceAdmin = on }
}

func NewController(s store.Store, opts ...Option) *Controller {
	c := &Controller{store: s, log: zap.NewNop(), publicURL: "http://localhost:8080"}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Controller) Store() store.Store { return c.store }

func (c *Controller) Logger() *zap.Logger { return c.log }

func validID(roomID string) error {
	if err := pathtree.ValidKey(roomID); err != nil {
		return fmt.Errorf("%w: %q", ErrInvalidRoomID, roomID)
	}
	return nil
}

// Create stores a new room with admin as its only participant and a randomly
// chosen mini-game.
func (c *Controller) Create(ctx context.Context, roomName, admin string) (*Room, error) {
	roomName = strings.TrimSpace(roomName)
	if roomName == "" {
		return nil, ErrEmptyRoomName
	}
	admin, err := NormalizeName(admin)
	if err != nil {
		return nil, err
	}

	r := &Room{
		Name:         roomName,
		Admin:        admin,
		Mode:         ModeNormal,
		Participants: map[string]Participant{admin: {IsAdmin: true}},
	}
	id, err := c.store.Push(ctx, "rooms", map[string]any{
		"name":             r.Name,
		"admin":            r.Admin,
		"mode":             r.Mode,
		"reveal":           false,
		"storyURL":         "",
		"explanationPhase": false,
		"participants":     r.Participants,
	})
	if err != nil {
		c.log.Error("create room", zap.Error(err))
		return nil, fmt.Errorf("create room: %w", err)
	}
	r.ID = id

	g := minigame.New(id, minigame.PickVariant())
	if err := c.store.Set(ctx, pathtree.Join(Path(id), "miniGame"), g); err != nil {
		c.log.Error("create mini-game", zap.String("room", id), zap.Error(err))
		return r, fmt.Errorf("create mini-game: %w", err)
	}
	r.MiniGame = &g

	c.log.Info("room created",
		zap.String("room", id),
		zap.String("admin", admin),
		zap.String("miniGame", string(g.Type())))
	return r, nil
}

// Load reads and decodes the current room.
func (c *Controller) Load(ctx context.Context, roomID string) (*Room, error) {
	if err := validID(roomID); err != nil {
		return nil, err
	}
	snap, err := c.store.Get(ctx, Path(roomID))
	if err != nil {
		return nil, err
	}
	return Decode(snap, c.log)
}

// Join adds name to the room, or marks an existing participant as not voted.
// Two people using the same name share one record.
func (c *Controller) Join(ctx context.Context, roomID, name string) (string, error) {
	name, err := NormalizeName(name)
	if err != nil {
		return "", err
	}
	if _, err := c.Load(ctx, roomID); err != nil {
		return "", err
	}
	if err := c.write(ctx, roomID, pathtree.Join("participants", name), map[string]any{"voted": false}); err != nil {
		return "", err
	}
	c.log.Info("participant joined", zap.String("room", roomID), zap.String("name", name))
	return name, nil
}

// Vote records value for name. Neither the name nor the value is checked
// against the room.
func (c *Controller) Vote(ctx context.Context, roomID, name, value string) error {
	name, err := NormalizeName(name)
	if err != nil {
		return err
	}
	if _, err := c.Load(ctx, roomID); err != nil {
		return err
	}
	return c.write(ctx, roomID, pathtree.Join("participants", name), map[string]any{
		"voted": true,
		"vote":  value,
	})
}

func (c *Controller) Reveal(ctx context.Context, roomID, actor string) error {
	if _, err := c.authorize(ctx, roomID, actor); err != nil {
		return err
	}
	return c.write(ctx, roomID, "", map[string]any{"reveal": true})
}

// Reset clears every participant's vote and hides the results in one
// multi-path update. Someone joining while this runs may keep a vote.
func (c *Controller) Reset(ctx context.Context, roomID, actor string) error {
	r, err := c.authorize(ctx, roomID, actor)
	if err != nil {
		return err
	}
	fields := map[string]any{"reveal": false}
	for name := range r.Participants {
		fields[pathtree.Join("participants", name, "voted")] = false
		fields[pathtree.Join("participants", name, "vote")] = nil
	}
	return c.write(ctx, roomID, "", fields)
}

// ToggleMode switches the card scale and hides results. Votes are kept, so
// they may name cards from the other scale until the next reset.
func (c *Controller) ToggleMode(ctx context.Context, roomID, actor string) error {
	r, err := c.authorize(ctx, roomID, actor)
	if err != nil {
		return err
	}
	return c.write(ctx, roomID, "", map[string]any{
		"mode":   r.Mode.Toggle(),
		"reveal": false,
	})
}

// SetStoryURL stores u as typed. See DisplayURL.
func (c *Controller) SetStoryURL(ctx context.Context, roomID, actor, u string) error {
	if _, err := c.authorize(ctx, roomID, actor); err != nil {
		return err
	}
	return c.write(ctx, roomID, "", map[string]any{"storyURL": u})
}

// SetExplanationPhase turns the mini-game on while the story is explained.
func (c *Controller) SetExplanationPhase(ctx context.Context, roomID, actor string, on bool) error {
	r, err := c.authorize(ctx, roomID, actor)
	if err != nil {
		return err
	}
	fields := map[string]any{"explanationPhase": on}
	if r.MiniGame != nil {
		fields["miniGame/isActive"] = on
	}
	return c.write(ctx, roomID, "", fields)
}

func (c *Controller) InviteURL(roomID string) string {
	return c.publicURL + "/join-room/" + url.PathEscape(roomID)
}

func (c *Controller) RoomURL(roomID, user string) string {
	return c.publicURL + "/poker-room/" + url.PathEscape(roomID) + "?user=" + url.QueryEscape(user)
}

// authorize loads the room and, when admin checks are on, requires actor to
// be flagged as admin in it.
func (c *Controller) authorize(ctx context.Context, roomID, actor string) (*Room, error) {
	r, err := c.Load(ctx, roomID)
	if err != nil {
		return nil, err
	}
	if !c.enforceAdmin {
		return r, nil
	}
	name, err := NormalizeName(actor)
	if err != nil {
		return nil, ErrNotAdmin
	}
	if p, ok := r.Participants[name]; !ok || !p.IsAdmin {
		return nil, ErrNotAdmin
	}
	return r, nil
}

// write merges fields under rooms/{id}/{sub}. Failures are logged and not
// retried.
func (c *Controller) write(ctx context.Context, roomID, sub string, fields map[string]any) error {
	path := Path(roomID)
	if sub != "" {
		path = pathtree.Join(path, sub)
	}
	if err := c.store.Update(ctx, path, fields); err != nil {
		c.log.Warn("room write failed", zap.String("room", roomID), zap.String("path", path), zap.Error(err))
		return fmt.Errorf("update %s: %w", path, err)
	}
	return nil
}
