package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Tyrowin/gochat-relay/internal/metrics"
	"github.com/Tyrowin/gochat-relay/internal/room"
	"github.com/Tyrowin/gochat-relay/internal/server"
	"github.com/Tyrowin/gochat-relay/internal/store"
)

const shutdownTimeout = 10 * time.Second

func main() {
	if err := server.LoadDotEnv(); err != nil {
		log.Printf("loading .env: %v", err)
	}

	cfg := server.NewConfigFromEnv()
	logger := server.NewLogger(os.Stdout, *cfg)
	slog.SetDefault(logger)

	if err := run(cfg, logger); err != nil {
		logger.Error("relay exited", "err", err)
		os.Exit(1)
	}
}

func run(cfg *server.Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	st, err := store.Open(ctx, cfg.StoreOptions())
	if err != nil {
		return fmt.Errorf("open %s store: %w", cfg.Store.Backend, err)
	}
	defer func() {
		if err := st.Close(); err != nil {
			logger.Error("close store", "err", err)
		}
	}()

	m := metrics.New()
	coordinator := room.New(st, cfg.RoomOptions(logger, m)...)
	if err := coordinator.Start(ctx); err != nil {
		logger.Warn("history not loaded, starting with an empty log", "err", err)
	}

	srv := server.NewServer(cfg, server.Deps{
		Room:    coordinator,
		Store:   st,
		Metrics: m,
		Logger:  logger,
	})
	httpServer := server.CreateServer(cfg.Port, srv.Routes())

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- server.StartServer(httpServer, logger)
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-serveErr:
		if !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server stopped", "err", err)
		}
	}

	if err := server.ShutdownServer(httpServer, shutdownTimeout, logger); err != nil {
		logger.Error("http shutdown", "err", err)
	}
	if err := srv.Shutdown(shutdownTimeout); err != nil {
		logger.Error("room shutdown", "err", err)
	}
	logger.Info("shutdown complete")
	return nil
}
