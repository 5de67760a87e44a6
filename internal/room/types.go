// Package room implements the coordinator for the relay's single broadcast
// room: it owns the set of live connections and the capped history log, and
// serializes registration, ingestion and removal against each other.
package room

// Name is the well-known identity of the one room the relay serves.
const Name = "global"

// DefaultHistoryLimit is the number of messages retained for late joiners.
const DefaultHistoryLimit = 50

// DefaultKey is the store key under which the history log is persisted.
const DefaultKey = "messages"

// Message is an opaque payload. The coordinator never inspects it.
type Message string

// ConnState is the lifecycle state of a connection as seen by its transport.
type ConnState int32

const (
	StateOpen ConnState = iota
	StateClosing
	StateClosed
)

func (s ConnState) String() string {
	switch s {
	case StateOpen:
		return "open"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Conn is one client's bidirectional channel. Send must not block for long:
// a slow or stalled receiver has to fail or drop rather than hold up the room.
type Conn interface {
	ID() string
	State() ConnState
	Send(msg Message) error
	Close() error
}

// RefreshPolicy controls when the cached history is read from the store.
type RefreshPolicy int

const (
	// RefreshOnce loads the history a single time per coordinator lifetime.
	RefreshOnce RefreshPolicy = iota
	// RefreshOnRegister re-reads the store on every registration. The store
	// is treated as authoritative: cached messages whose save failed are
	// dropped by the reload.
	RefreshOnRegister
)

func (p RefreshPolicy) String() string {
	if p == RefreshOnRegister {
		return "register"
	}
	return "once"
}

// deliveryReport summarizes one broadcast.
type deliveryReport struct {
	sent    int
	skipped int
}
