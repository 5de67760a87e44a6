package server

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/Tyrowin/gochat-relay/internal/metrics"
	"github.com/Tyrowin/gochat-relay/internal/room"
	"github.com/Tyrowin/gochat-relay/internal/store"
)

const testOrigin = "http://localhost:8080"

type testEnv struct {
	srv     *Server
	http    *httptest.Server
	wsURL   string
	store   store.Store
	metrics *metrics.Metrics
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// newTestEnv starts a relay backed by st (a fresh MemoryStore when nil).
// customize may adjust the configuration before the server is built.
func newTestEnv(t *testing.T, st store.Store, customize func(cfg *Config)) *testEnv {
	t.Helper()

	if st == nil {
		st = store.NewMemoryStore()
	}
	cfg := NewConfig()
	if customize != nil {
		customize(cfg)
	}

	logger := quietLogger()
	m := metrics.New()
	coordinator := room.New(st, cfg.RoomOptions(logger, m)...)
	srv := NewServer(cfg, Deps{Room: coordinator, Store: st, Metrics: m, Logger: logger})

	httpServer := httptest.NewServer(srv.Routes())
	t.Cleanup(func() {
		httpServer.Close()
		_ = srv.Shutdown(time.Second)
	})

	return &testEnv{
		srv:     srv,
		http:    httpServer,
		wsURL:   "ws" + strings.TrimPrefix(httpServer.URL, "http") + "/ws",
		store:   st,
		metrics: m,
	}
}

// dial connects a WebSocket client with the default test origin.
func (e *testEnv) dial(t *testing.T) *websocket.Conn {
	t.Helper()
	conn, err := dialWithOrigin(e.wsURL, testOrigin)
	if err != nil {
		t.Fatalf("Failed to connect: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

// dialAndWait connects and waits until the room has registered want clients.
func (e *testEnv) dialAndWait(t *testing.T, want int) *websocket.Conn {
	t.Helper()
	conn := e.dial(t)
	waitForClients(t, e.srv.Room(), want)
	return conn
}

func dialWithOrigin(url, origin string) (*websocket.Conn, error) {
	dialer := websocket.Dialer{HandshakeTimeout: 5 * time.Second}

	header := http.Header{}
	if origin != "" {
		header.Set("Origin", origin)
	}

	conn, resp, err := dialer.Dial(url, header)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	return conn, err
}

func waitForClients(t *testing.T, rm *room.Coordinator, want int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if rm.Len() == want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("Expected %d registered clients, got %d", want, rm.Len())
}

func sendText(t *testing.T, conn *websocket.Conn, text string) {
	t.Helper()
	if err := conn.WriteMessage(websocket.TextMessage, []byte(text)); err != nil {
		t.Fatalf("Failed to send %q: %v", text, err)
	}
}

func readText(t *testing.T, conn *websocket.Conn) string {
	t.Helper()
	if err := conn.SetReadDeadline(time.Now().Add(2 * time.Second)); err != nil {
		t.Fatalf("Failed to set read deadline: %v", err)
	}
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("Failed to read message: %v", err)
	}
	return string(data)
}

// expectMessages reads len(want) messages and compares them in order.
func expectMessages(t *testing.T, conn *websocket.Conn, want ...string) {
	t.Helper()
	for i, w := range want {
		if got := readText(t, conn); got != w {
			t.Fatalf("Message %d: expected %q, got %q", i, w, got)
		}
	}
}

// expectNoMessage fails if anything arrives within timeout. The connection
// cannot be read from afterwards.
func expectNoMessage(t *testing.T, conn *websocket.Conn, timeout time.Duration) {
	t.Helper()
	if err := conn.SetReadDeadline(time.Now().Add(timeout)); err != nil {
		t.Fatalf("Failed to set read deadline: %v", err)
	}
	_, data, err := conn.ReadMessage()
	if err == nil {
		t.Fatalf("Expected no message, got %q", string(data))
	}
}
