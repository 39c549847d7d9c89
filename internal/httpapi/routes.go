package httpapi

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/DoyleJ11/poker-room-backend/internal/hub"
	"github.com/DoyleJ11/poker-room-backend/internal/room"
	"github.com/DoyleJ11/poker-room-backend/internal/ws"
)

func SetupRoutes(c *room.Controller, h *hub.Hub, wsCfg ws.Config) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(accessLog(c.Logger().Named("http")))
	r.Use(middleware.Recoverer)

	// Public routes
	r.Post("/rooms", CreateRoom(c))
	r.Route("/rooms/{roomID}", func(r chi.Router) {
		r.Get("/", GetRoom(c))
		r.Post("/participants", JoinRoom(c))
		r.Get("/invite", Invite(c))
		r.Get("/invite.png", InviteQR(c))
		r.Get("/presence", Presence(c, h))
	})
	r.Get("/last-room", LastRoom)
	r.Get("/healthz", Healthz)
	r.Get("/ws", ws.Handler(c, h, wsCfg))
	return r
}

func accessLog(log *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)
			log.Info("request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Int("bytes", ww.BytesWritten()),
				zap.Duration("took", time.Since(start)),
				zap.String("request_id", middleware.GetReqID(r.Context())))
		})
	}
}
