package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/DoyleJ11/poker-room-backend/internal/hub"
	"github.com/DoyleJ11/poker-room-backend/internal/room"
	"github.com/DoyleJ11/poker-room-backend/internal/store"
	"github.com/DoyleJ11/poker-room-backend/internal/ws"
)

func newServer(t *testing.T, opts ...room.Option) (http.Handler, *hub.Hub) {
	t.Helper()
	m := store.NewMemory(context.Background(), store.WithKeyFunc(func() (string, error) { return "ROOM0001", nil }))
	t.Cleanup(func() { _ = m.Close() })
	h := hub.NewHub(context.Background(), m)
	t.Cleanup(h.Shutdown)
	c := room.NewController(m, append([]room.Option{room.WithPublicURL("https://poker.test")}, opts...)...)
	return SetupRoutes(c, h, ws.Config{}), h
}

func do(t *testing.T, handler http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func TestCreateRoom(t *testing.T) {
	handler, _ := newServer(t)

	rec := do(t, handler, http.MethodPost, "/rooms", `{"name":"Sprint 5","admin":"Alice"}`)
	require.Equal(t, http.StatusCreated, rec.Code)

	var got roomEntry
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, roomEntry{
		RoomID:    "ROOM0001",
		User:      "Alice",
		InviteURL: "https://poker.test/join-room/ROOM0001",
		RoomURL:   "https://poker.test/poker-room/ROOM0001?user=Alice",
	}, got)

	cookie := rec.Result().Cookies()
	require.Len(t, cookie, 1)
	assert.Equal(t, lastRoomCookie, cookie[0].Name)
	assert.Equal(t, "ROOM0001", cookie[0].Value)
}

func TestCreateRoom_BadInput(t *testing.T) {
	handler, _ := newServer(t)

	cases := []struct {
		name string
		body string
	}{
		{"bad json", `{`},
		{"no room name", `{"name":"","admin":"Alice"}`},
		{"no admin", `{"name":"Sprint 5"}`},
		{"admin with slash", `{"name":"Sprint 5","admin":"a/b"}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := do(t, handler, http.MethodPost, "/rooms", tc.body)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
		})
	}
}

func TestJoinAndGetRoom(t *testing.T) {
	handler, _ := newServer(t)
	require.Equal(t, http.StatusCreated, do(t, handler, http.MethodPost, "/rooms", `{"name":"Sprint 5","admin":"Alice"}`).Code)

	rec := do(t, handler, http.MethodPost, "/rooms/ROOM0001/participants", `{"name":"Bob"}`)
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Contains(t, rec.Body.String(), `"user":"Bob"`)

	rec = do(t, handler, http.MethodPost, "/rooms/NOPE/participants", `{"name":"Bob"}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = do(t, handler, http.MethodGet, "/rooms/ROOM0001", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var view struct {
		ID           string                      `json:"id"`
		Name         string                      `json:"name"`
		State        string                      `json:"state"`
		Options      []string                    `json:"options"`
		Participants map[string]room.Participant `json:"participants"`
		Names        []string                    `json:"names"`
		AllVoted     bool                        `json:"allVoted"`
		Tally        map[string]int              `json:"tally"`
		Game         json.RawMessage             `json:"game"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &view))
	assert.Equal(t, "ROOM0001", view.ID)
	assert.Equal(t, "Sprint 5", view.Name)
	assert.Equal(t, "voting", view.State)
	assert.Contains(t, view.Options, "13")
	assert.True(t, view.Participants["Alice"].IsAdmin)
	assert.Contains(t, view.Participants, "Bob")
	assert.Equal(t, []string{"Alice", "Bob"}, view.Names)
	assert.False(t, view.AllVoted)
	assert.Nil(t, view.Tally)
	assert.NotEmpty(t, view.Game)

	assert.Equal(t, http.StatusNotFound, do(t, handler, http.MethodGet, "/rooms/NOPE", "").Code)
}

func TestInvite(t *testing.T) {
	handler, _ := newServer(t)
	require.Equal(t, http.StatusCreated, do(t, handler, http.MethodPost, "/rooms", `{"name":"Sprint 5","admin":"Alice"}`).Code)

	rec := do(t, handler, http.MethodGet, "/rooms/ROOM0001/invite", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"url":"https://poker.test/join-room/ROOM0001"}`, rec.Body.String())

	rec = do(t, handler, http.MethodGet, "/rooms/ROOM0001/invite.png", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "image/png", rec.Header().Get("Content-Type"))
	assert.True(t, bytes.HasPrefix(rec.Body.Bytes(), []byte("\x89PNG")))

	assert.Equal(t, http.StatusNotFound, do(t, handler, http.MethodGet, "/rooms/NOPE/invite.png", "").Code)
}

func TestPresence(t *testing.T) {
	handler, h := newServer(t)
	require.Equal(t, http.StatusCreated, do(t, handler, http.MethodPost, "/rooms", `{"name":"Sprint 5","admin":"Alice"}`).Code)

	rec := do(t, handler, http.MethodGet, "/rooms/ROOM0001/presence", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"names":[],"clients":0}`, rec.Body.String())

	_, err := h.Join(context.Background(), "ROOM0001", "c1", "Alice", nil)
	require.NoError(t, err)

	rec = do(t, handler, http.MethodGet, "/rooms/ROOM0001/presence", "")
	assert.JSONEq(t, `{"names":["Alice"],"clients":1}`, rec.Body.String())
}

func TestLastRoom(t *testing.T) {
	handler, _ := newServer(t)

	assert.Equal(t, http.StatusNotFound, do(t, handler, http.MethodGet, "/last-room", "").Code)

	req := httptest.NewRequest(http.MethodGet, "/last-room", nil)
	req.AddCookie(&http.Cookie{Name: lastRoomCookie, Value: "ROOM0001"})
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"roomId":"ROOM0001"}`, rec.Body.String())
}

func TestHealthz(t *testing.T) {
	handler, _ := newServer(t)
	rec := do(t, handler, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, strings.TrimSpace(rec.Body.String()))
}

func TestWriteError_NotAdmin(t *testing.T) {
	rec := httptest.NewRecorder()
	writeError(rec, nil, room.ErrNotAdmin)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}
