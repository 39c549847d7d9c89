package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/DoyleJ11/poker-room-backend/internal/config"
	"github.com/DoyleJ11/poker-room-backend/internal/httpapi"
	"github.com/DoyleJ11/poker-room-backend/internal/hub"
	"github.com/DoyleJ11/poker-room-backend/internal/lobby"
	"github.com/DoyleJ11/poker-room-backend/internal/logging"
	"github.com/DoyleJ11/poker-room-backend/internal/persist"
	"github.com/DoyleJ11/poker-room-backend/internal/room"
	"github.com/DoyleJ11/poker-room-backend/internal/store"
	"github.com/DoyleJ11/poker-room-backend/internal/ws"
)

const releaseVersion = "0.1.0"

const shutdownTimeout = 5 * time.Second

func main() {
	log.SetFlags(0)
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Printf("reading .env: %v", err)
	}
	cobra.CheckErr(config.NewCommand(releaseVersion, serve).Execute())
}

func serve(parent context.Context, cfg *config.Config) error {
	logger, err := logging.New(cfg.Verbose, cfg.LogJSON)
	if err != nil {
		return fmt.Errorf("logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	s := store.NewMemory(ctx, store.WithBuffer(cfg.SubscriptionBuffer), store.WithLogger(logger))
	defer func() { _ = s.Close() }()

	repo, err := persist.Open(cfg.DatabaseDriver, cfg.DatabaseDSN, logger)
	if err != nil {
		return err
	}

	c := room.NewController(s,
		room.WithLogger(logger),
		room.WithPublicURL(cfg.PublicURL),
		room.WithEnforceAdmin(cfg.EnforceAdmin))
	h := hub.NewHub(ctx, s,
		hub.WithLogger(logger),
		hub.WithLobbyOptions(lobby.WithDecayInterval(cfg.DecayInterval)))
	defer h.Shutdown()

	srv := &http.Server{
		Addr: cfg.Addr(),
		Handler: httpapi.SetupRoutes(c, h, ws.Config{
			ReadTimeout:    cfg.ReadTimeout,
			WriteTimeout:   cfg.WriteTimeout,
			OriginPatterns: cfg.AllowedOrigins,
		}),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	if repo != nil {
		defer func() { _ = repo.Close() }()
		mirror := persist.NewMirror(repo, s, logger)
		// rooms that fail to decode are logged and skipped; an unreadable
		// database stops startup
		if _, err := mirror.Restore(ctx); err != nil {
			return err
		}
		g.Go(func() error { return mirror.Run(gctx) })
	}

	g.Go(func() error {
		logger.Info("listening", zap.String("addr", srv.Addr), zap.String("public_url", cfg.PublicURL))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}
