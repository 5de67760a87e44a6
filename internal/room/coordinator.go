package room

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Tyrowin/gochat-relay/internal/metrics"
	"github.com/Tyrowin/gochat-relay/internal/store"
)

// ErrClosed is returned by Register once Shutdown has started.
var ErrClosed = errors.New("room: coordinator is shut down")

const defaultStoreTimeout = 5 * time.Second

// Coordinator owns the live connection set and the history log of the room.
//
// Two locks are involved. ingestMu serializes Ingest and every store access,
// so the persisted log always matches a state that was actually current and
// fan-out order matches history order. mu guards the connection set and the
// cached log and is only held for in-memory work; store I/O and fan-out run
// outside it.
type Coordinator struct {
	store        store.Store
	log          *slog.Logger
	metrics      *metrics.Metrics
	limit        int
	key          string
	echo         bool
	refresh      RefreshPolicy
	storeTimeout time.Duration

	ingestMu sync.Mutex
	loaded   atomic.Bool

	mu      sync.RWMutex
	conns   map[Conn]struct{}
	history []Message
	closing bool
	drained chan struct{}
}

// New returns a coordinator persisting through s. The history is not read
// until Start is called or the room is first used.
func New(s store.Store, opts ...Option) *Coordinator {
	c := &Coordinator{
		store:        s,
		log:          slog.Default(),
		limit:        DefaultHistoryLimit,
		key:          DefaultKey,
		echo:         true,
		refresh:      RefreshOnce,
		storeTimeout: defaultStoreTimeout,
		conns:        make(map[Conn]struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.log = c.log.With("room", Name)
	return c
}

// Start loads the persisted history. A failed load leaves the room usable
// with an empty log; the load is retried on next use.
func (c *Coordinator) Start(ctx context.Context) error {
	c.ingestMu.Lock()
	defer c.ingestMu.Unlock()

	return c.loadLocked(ctx)
}

// Register adds conn to the room and replays the history to it, oldest
// first. The replay happens in the same critical section that makes conn
// visible to Ingest, so no broadcast can overtake it. The replayed snapshot
// is returned. Registering a connection that is already present is a no-op.
func (c *Coordinator) Register(ctx context.Context, conn Conn) ([]Message, error) {
	switch {
	case c.refresh == RefreshOnRegister:
		c.ingestMu.Lock()
		_ = c.loadLocked(ctx)
		c.ingestMu.Unlock()
	case !c.loaded.Load():
		c.ingestMu.Lock()
		if !c.loaded.Load() {
			_ = c.loadLocked(ctx)
		}
		c.ingestMu.Unlock()
	}

	c.mu.Lock()
	if c.closing {
		c.mu.Unlock()
		return nil, ErrClosed
	}

	snapshot := append([]Message(nil), c.history...)
	if _, exists := c.conns[conn]; exists {
		c.mu.Unlock()
		c.log.Debug("connection already registered", "conn", conn.ID())
		return snapshot, nil
	}
	c.conns[conn] = struct{}{}
	count := len(c.conns)
	replayed := c.replayLocked(conn, snapshot)
	c.mu.Unlock()

	if c.metrics != nil {
		c.metrics.ConnectionsActive.Set(float64(count))
	}
	c.log.Info("connection registered", "conn", conn.ID(), "clients", count, "replayed", replayed)
	return snapshot, nil
}

// replayLocked sends snapshot to conn and reports how many were delivered.
// Must be called with c.mu held.
func (c *Coordinator) replayLocked(conn Conn, snapshot []Message) int {
	for i, msg := range snapshot {
		if err := conn.Send(msg); err != nil {
			c.log.Warn("history replay interrupted", "conn", conn.ID(), "sent", i, "total", len(snapshot), "err", err)
			return i
		}
	}
	return len(snapshot)
}

// Ingest appends msg to the history, trims it to the limit, persists the
// result and broadcasts msg to the room. It never fails: a store error is
// logged and delivery proceeds from the in-memory state.
func (c *Coordinator) Ingest(ctx context.Context, source Conn, msg Message) {
	// The store write must not be aborted by the sender going away.
	ctx = context.WithoutCancel(ctx)

	c.ingestMu.Lock()
	defer c.ingestMu.Unlock()

	if !c.loaded.Load() {
		_ = c.loadLocked(ctx)
	}

	c.mu.Lock()
	c.history = appendCapped(c.history, msg, c.limit)
	current := c.history
	targets := c.snapshotLocked()
	c.mu.Unlock()

	if c.metrics != nil {
		c.metrics.MessagesIngested.Inc()
		c.metrics.HistoryLength.Set(float64(len(current)))
	}

	if !c.loaded.Load() {
		// The stored log was never read, so writing ours would replace it.
		if c.metrics != nil {
			c.metrics.PersistFailures.Inc()
		}
		c.log.Warn("history persist skipped, stored log not loaded", "history", len(current))
	} else if err := c.persist(ctx, current); err != nil {
		c.log.Error("history persist failed", "err", err, "history", len(current))
	}

	report := c.broadcast(msg, targets, source)
	c.log.Debug("message broadcast",
		"from", connID(source), "bytes", len(msg), "sent", report.sent, "skipped", report.skipped)
}

// Deregister removes conn from the room. Unknown connections are ignored.
func (c *Coordinator) Deregister(conn Conn) {
	c.mu.Lock()
	if _, ok := c.conns[conn]; !ok {
		c.mu.Unlock()
		return
	}
	delete(c.conns, conn)
	count := len(c.conns)
	if count == 0 && c.drained != nil {
		close(c.drained)
		c.drained = nil
	}
	c.mu.Unlock()

	if c.metrics != nil {
		c.metrics.ConnectionsActive.Set(float64(count))
	}
	c.log.Info("connection deregistered", "conn", conn.ID(), "clients", count)
}

// broadcast delivers msg to every open target. Failed sends and non-open
// connections are skipped; removal is left to the transport's close signal.
func (c *Coordinator) broadcast(msg Message, targets []Conn, source Conn) deliveryReport {
	var report deliveryReport
	for _, conn := range targets {
		if !c.echo && source != nil && conn == source {
			continue
		}
		if conn.State() != StateOpen {
			report.skipped++
			continue
		}
		if err := conn.Send(msg); err != nil {
			c.log.Debug("delivery skipped", "conn", conn.ID(), "err", err)
			report.skipped++
			continue
		}
		report.sent++
	}

	if c.metrics != nil {
		c.metrics.DeliveriesTotal.WithLabelValues(metrics.ResultSent).Add(float64(report.sent))
		c.metrics.DeliveriesTotal.WithLabelValues(metrics.ResultSkipped).Add(float64(report.skipped))
	}
	return report
}

// History returns a copy of the cached log.
func (c *Coordinator) History() []Message {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]Message(nil), c.history...)
}

// Len returns the number of registered connections.
func (c *Coordinator) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.conns)
}

// Shutdown stops accepting registrations, closes every live connection and
// waits for their transports to deregister them. It returns
// context.DeadlineExceeded if that does not happen within timeout.
func (c *Coordinator) Shutdown(timeout time.Duration) error {
	c.log.Info("room shutting down")

	c.mu.Lock()
	c.closing = true
	targets := c.snapshotLocked()
	drained := c.drained
	if drained == nil {
		drained = make(chan struct{})
		if len(c.conns) == 0 {
			close(drained)
		} else {
			c.drained = drained
		}
	}
	c.mu.Unlock()

	for _, conn := range targets {
		if err := conn.Close(); err != nil {
			c.log.Debug("close connection", "conn", conn.ID(), "err", err)
		}
	}

	select {
	case <-drained:
		c.log.Info("room shutdown completed", "closed", len(targets))
		return nil
	case <-time.After(timeout):
		c.log.Warn("room shutdown timed out", "remaining", c.Len())
		return context.DeadlineExceeded
	}
}

// snapshotLocked copies the connection set. Must be called with c.mu held.
func (c *Coordinator) snapshotLocked() []Conn {
	out := make([]Conn, 0, len(c.conns))
	for conn := range c.conns {
		out = append(out, conn)
	}
	return out
}

// loadLocked replaces the cached log with the stored one. On the first
// successful load, messages accepted while the store was unreadable are kept
// after the stored entries. Must be called with c.ingestMu held.
func (c *Coordinator) loadLocked(ctx context.Context) error {
	ctx, cancel := c.storeContext(ctx)
	defer cancel()

	stored, err := loadHistory(ctx, c.store, c.key)
	if err != nil {
		if c.metrics != nil {
			c.metrics.StoreLoadFailures.Inc()
		}
		c.log.Error("history load failed", "key", c.key, "err", err)
		return err
	}

	c.mu.Lock()
	if !c.loaded.Load() {
		stored = append(stored, c.history...)
	}
	stored = capTail(stored, c.limit)
	c.history = stored
	c.mu.Unlock()
	c.loaded.Store(true)

	if c.metrics != nil {
		c.metrics.HistoryLength.Set(float64(len(stored)))
	}
	c.log.Debug("history loaded", "key", c.key, "history", len(stored))
	return nil
}

// persist writes log to the store. Must be called with c.ingestMu held.
func (c *Coordinator) persist(ctx context.Context, log []Message) error {
	ctx, cancel := c.storeContext(ctx)
	defer cancel()

	start := time.Now()
	err := saveHistory(ctx, c.store, c.key, log)
	if c.metrics != nil {
		c.metrics.PersistDuration.Observe(time.Since(start).Seconds())
		if err != nil {
			c.metrics.PersistFailures.Inc()
		}
	}
	return err
}

func (c *Coordinator) storeContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.storeTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, c.storeTimeout)
}

func connID(conn Conn) string {
	if conn == nil {
		return ""
	}
	return conn.ID()
}
