// Package server is the relay's gateway: it accepts WebSocket upgrades and
// hands each live connection to the room coordinator.
package server

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/Tyrowin/gochat-relay/internal/metrics"
	"github.com/Tyrowin/gochat-relay/internal/room"
	"github.com/Tyrowin/gochat-relay/internal/store"
)

// Deps are the collaborators a Server is built from.
type Deps struct {
	Room    *room.Coordinator
	Store   store.Store
	Metrics *metrics.Metrics
	Logger  *slog.Logger
}

// Server holds the state shared by the HTTP handlers.
type Server struct {
	cfg      Config
	room     *room.Coordinator
	store    store.Store
	metrics  *metrics.Metrics
	log      *slog.Logger
	origins  originPolicy
	upgrader websocket.Upgrader

	// ctx outlives individual requests; client pumps run under it.
	ctx context.Context
	wg  sync.WaitGroup
}

// NewServer builds a Server from cfg and deps.
func NewServer(cfg *Config, deps Deps) *Server {
	c := defaultConfig()
	if cfg != nil {
		c = *cfg
	}
	c = sanitizeConfig(c)

	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	s := &Server{
		cfg:     c,
		room:    deps.Room,
		store:   deps.Store,
		metrics: deps.Metrics,
		log:     logger,
		origins: newOriginPolicy(c.AllowedOrigins, logger),
		ctx:     context.Background(),
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     s.origins.checkOrigin,
	}
	return s
}

// Room returns the coordinator behind the server.
func (s *Server) Room() *room.Coordinator {
	return s.room
}

// Shutdown closes every client through the coordinator and waits for the
// client goroutines to finish, or returns context.DeadlineExceeded.
func (s *Server) Shutdown(timeout time.Duration) error {
	deadline := time.Now().Add(timeout)

	if err := s.room.Shutdown(timeout); err != nil {
		return err
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.log.Info("client goroutines stopped")
		return nil
	case <-time.After(time.Until(deadline)):
		s.log.Warn("shutdown timeout reached, some client goroutines may still be running")
		return context.DeadlineExceeded
	}
}
