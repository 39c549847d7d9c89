package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/skip2/go-qrcode"
	"go.uber.org/zap"

	"github.com/DoyleJ11/poker-room-backend/internal/hub"
	"github.com/DoyleJ11/poker-room-backend/internal/room"
)

const lastRoomCookie = "last_room"
const qrSize = 320

type createRoomRequest struct {
	Name  string `json:"name"`
	Admin string `json:"admin"`
}

type joinRequest struct {
	Name string `json:"name"`
}

type roomEntry struct {
	RoomID    string `json:"roomId"`
	User      string `json:"user"`
	InviteURL string `json:"inviteUrl"`
	RoomURL   string `json:"roomUrl"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError maps room errors onto status codes.
func writeError(w http.ResponseWriter, log *zap.Logger, err error) {
	switch {
	case errors.Is(err, room.ErrRoomNotFound), errors.Is(err, room.ErrInvalidRoomID):
		http.Error(w, "room not found", http.StatusNotFound)
	case errors.Is(err, room.ErrEmptyName), errors.Is(err, room.ErrInvalidName), errors.Is(err, room.ErrEmptyRoomName):
		http.Error(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, room.ErrNotAdmin):
		http.Error(w, err.Error(), http.StatusForbidden)
	default:
		log.Error("request failed", zap.Error(err))
		http.Error(w, "internal error", http.StatusInternalServerError)
	}
}

func rememberRoom(w http.ResponseWriter, roomID string) {
	http.SetCookie(w, &http.Cookie{
		Name:     lastRoomCookie,
		Value:    roomID,
		Path:     "/",
		MaxAge:   int((30 * 24 * time.Hour).Seconds()),
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
}

func CreateRoom(c *room.Controller) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req createRoomRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "bad json", http.StatusBadRequest)
			return
		}
		rm, err := c.Create(r.Context(), req.Name, req.Admin)
		if err != nil {
			writeError(w, c.Logger(), err)
			return
		}

		rememberRoom(w, rm.ID)
		writeJSON(w, http.StatusCreated, roomEntry{
			RoomID:    rm.ID,
			User:      rm.Admin,
			InviteURL: c.InviteURL(rm.ID),
			RoomURL:   c.RoomURL(rm.ID, rm.Admin),
		})
	}
}

func JoinRoom(c *room.Controller) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		roomID := chi.URLParam(r, "roomID")
		var req joinRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "bad json", http.StatusBadRequest)
			return
		}
		name, err := c.Join(r.Context(), roomID, req.Name)
		if err != nil {
			writeError(w, c.Logger(), err)
			return
		}

		rememberRoom(w, roomID)
		writeJSON(w, http.StatusCreated, roomEntry{
			RoomID:    roomID,
			User:      name,
			InviteURL: c.InviteURL(roomID),
			RoomURL:   c.RoomURL(roomID, name),
		})
	}
}

func GetRoom(c *room.Controller) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rm, err := c.Load(r.Context(), chi.URLParam(r, "roomID"))
		if err != nil {
			writeError(w, c.Logger(), err)
			return
		}
		writeJSON(w, http.StatusOK, rm.View())
	}
}

func Invite(c *room.Controller) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		roomID := chi.URLParam(r, "roomID")
		if _, err := c.Load(r.Context(), roomID); err != nil {
			writeError(w, c.Logger(), err)
			return
		}
		writeJSON(w, http.StatusOK, struct {
			URL string `json:"url"`
		}{URL: c.InviteURL(roomID)})
	}
}

// InviteQR renders the invite link as a PNG QR code.
func InviteQR(c *room.Controller) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		roomID := chi.URLParam(r, "roomID")
		if _, err := c.Load(r.Context(), roomID); err != nil {
			writeError(w, c.Logger(), err)
			return
		}
		png, err := qrcode.Encode(c.InviteURL(roomID), qrcode.Medium, qrSize)
		if err != nil {
			http.Error(w, "qr generation failed", http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "image/png")
		_, _ = w.Write(png)
	}
}

// Presence lists who currently has the room open.
func Presence(c *room.Controller, h *hub.Hub) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		roomID := chi.URLParam(r, "roomID")
		if _, err := c.Load(r.Context(), roomID); err != nil {
			writeError(w, c.Logger(), err)
			return
		}

		out := struct {
			Names   []string `json:"names"`
			Clients int      `json:"clients"`
		}{Names: []string{}}

		lb, err := h.Get(r.Context(), roomID)
		if err != nil {
			writeError(w, c.Logger(), err)
			return
		}
		if lb != nil {
			if view, err := lb.State(r.Context()); err == nil {
				out.Names = view.Names
				out.Clients = view.NumClients
			}
		}
		writeJSON(w, http.StatusOK, out)
	}
}

// LastRoom returns the room this browser last created or joined.
func LastRoom(w http.ResponseWriter, r *http.Request) {
	ck, err := r.Cookie(lastRoomCookie)
	if err != nil || ck.Value == "" {
		http.Error(w, "no recent room", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, struct {
		RoomID string `json:"roomId"`
	}{RoomID: ck.Value})
}

func Healthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
}
