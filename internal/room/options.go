package room

import (
	"log/slog"
	"time"

	"github.com/Tyrowin/gochat-relay/internal/metrics"
)

// Option customizes a Coordinator.
type Option func(*Coordinator)

// WithLogger sets the logger. The default is slog.Default.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Coordinator) {
		if logger != nil {
			c.log = logger
		}
	}
}

// WithMetrics attaches Prometheus collectors.
func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Coordinator) { c.metrics = m }
}

// WithHistoryLimit sets how many messages are retained. Non-positive values
// keep the default.
func WithHistoryLimit(limit int) Option {
	return func(c *Coordinator) {
		if limit > 0 {
			c.limit = limit
		}
	}
}

// WithKey sets the store key the history is persisted under.
func WithKey(key string) Option {
	return func(c *Coordinator) {
		if key != "" {
			c.key = key
		}
	}
}

// WithEcho controls whether a message is delivered back to its sender.
func WithEcho(echo bool) Option {
	return func(c *Coordinator) { c.echo = echo }
}

// WithRefreshPolicy selects when history is read from the store.
func WithRefreshPolicy(p RefreshPolicy) Option {
	return func(c *Coordinator) { c.refresh = p }
}

// WithPersistTimeout bounds each store call. Zero disables the bound.
func WithPersistTimeout(d time.Duration) Option {
	return func(c *Coordinator) {
		if d >= 0 {
			c.storeTimeout = d
		}
	}
}
