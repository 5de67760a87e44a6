package server

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/Tyrowin/gochat-relay/internal/room"
	"github.com/Tyrowin/gochat-relay/internal/store"
)

// TestHealthHandler verifies the liveness probe answers every method.
func TestHealthHandler(t *testing.T) {
	for _, method := range []string{http.MethodGet, http.MethodPost} {
		t.Run(method, func(t *testing.T) {
			req := httptest.NewRequest(method, "/healthz", http.NoBody)
			rr := httptest.NewRecorder()

			HealthHandler(rr, req)

			if rr.Code != http.StatusOK {
				t.Errorf("handler returned wrong status code: got %v want %v", rr.Code, http.StatusOK)
			}
			if rr.Body.String() != "Relay server is running!" {
				t.Errorf("handler returned unexpected body: %q", rr.Body.String())
			}
		})
	}
}

// TestRootHandler verifies the plain informational response and that other
// paths are not swallowed by the catch-all route.
func TestRootHandler(t *testing.T) {
	env := newTestEnv(t, nil, nil)

	resp, err := http.Get(env.http.URL + "/")
	if err != nil {
		t.Fatalf("Failed to make request: %v", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		t.Errorf("Expected status %d, got %d", http.StatusOK, resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "text/plain" {
		t.Errorf("Expected text/plain, got %q", ct)
	}
	if !strings.Contains(string(body), "/ws") || !strings.Contains(string(body), room.Name) {
		t.Errorf("Welcome message should describe the endpoint, got %q", string(body))
	}

	missing, err := http.Get(env.http.URL + "/nope")
	if err != nil {
		t.Fatalf("Failed to make request: %v", err)
	}
	missing.Body.Close()
	if missing.StatusCode != http.StatusNotFound {
		t.Errorf("Expected 404 for unknown path, got %d", missing.StatusCode)
	}
}

// TestWebSocketHandlerRejectsPlainRequests verifies handshake mismatches are
// reported as client errors and never reach the room.
func TestWebSocketHandlerRejectsPlainRequests(t *testing.T) {
	env := newTestEnv(t, nil, nil)

	tests := []struct {
		name       string
		method     string
		header     map[string]string
		wantStatus int
		wantBody   string
	}{
		{
			name:       "GET without upgrade",
			method:     http.MethodGet,
			wantStatus: http.StatusBadRequest,
			wantBody:   expectedUpgrade,
		},
		{
			name:       "upgrade to another protocol",
			method:     http.MethodGet,
			header:     map[string]string{"Connection": "Upgrade", "Upgrade": "h2c"},
			wantStatus: http.StatusBadRequest,
			wantBody:   expectedUpgrade,
		},
		{
			name:       "POST",
			method:     http.MethodPost,
			wantStatus: http.StatusMethodNotAllowed,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, "/ws", http.NoBody)
			for k, v := range tt.header {
				req.Header.Set(k, v)
			}
			rr := httptest.NewRecorder()

			env.srv.WebSocketHandler(rr, req)

			if rr.Code != tt.wantStatus {
				t.Errorf("Expected status %d, got %d", tt.wantStatus, rr.Code)
			}
			if tt.wantBody != "" && rr.Body.String() != tt.wantBody {
				t.Errorf("Expected body %q, got %q", tt.wantBody, rr.Body.String())
			}
			if ct := rr.Header().Get("Content-Type"); ct != "text/plain" {
				t.Errorf("Expected text/plain, got %q", ct)
			}
		})
	}

	if env.srv.Room().Len() != 0 {
		t.Errorf("Rejected requests must not register connections")
	}
	if len(env.srv.Room().History()) != 0 {
		t.Errorf("Rejected requests must not touch history")
	}
}

// TestReadyHandler verifies readiness follows the store's health.
func TestReadyHandler(t *testing.T) {
	st := store.NewMemoryStore()
	env := newTestEnv(t, st, nil)

	rr := httptest.NewRecorder()
	env.srv.ReadyHandler(rr, httptest.NewRequest(http.MethodGet, "/readyz", http.NoBody))
	if rr.Code != http.StatusOK {
		t.Errorf("Expected ready, got %d", rr.Code)
	}

	_ = st.Close()
	rr = httptest.NewRecorder()
	env.srv.ReadyHandler(rr, httptest.NewRequest(http.MethodGet, "/readyz", http.NoBody))
	if rr.Code != http.StatusServiceUnavailable {
		t.Errorf("Expected 503 once the store is closed, got %d", rr.Code)
	}
}

// TestTestPageHandler verifies the browser page is served as HTML.
func TestTestPageHandler(t *testing.T) {
	rr := httptest.NewRecorder()
	TestPageHandler(rr, httptest.NewRequest(http.MethodGet, "/test", http.NoBody))

	if ct := rr.Header().Get("Content-Type"); ct != "text/html" {
		t.Errorf("Expected text/html, got %q", ct)
	}
	if !strings.Contains(rr.Body.String(), "new WebSocket(") {
		t.Errorf("Test page should open a WebSocket")
	}
}

// TestMetricsRoute verifies the Prometheus endpoint is mounted.
func TestMetricsRoute(t *testing.T) {
	env := newTestEnv(t, nil, nil)
	env.metrics.MessagesIngested.Inc()

	resp, err := http.Get(env.http.URL + "/metrics")
	if err != nil {
		t.Fatalf("Failed to make request: %v", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(body), "relay_messages_ingested_total 1") {
		t.Errorf("Expected relay metrics in output")
	}
}

// TestCORSPreflight verifies configured origins receive CORS headers.
func TestCORSPreflight(t *testing.T) {
	env := newTestEnv(t, nil, nil)

	req, _ := http.NewRequest(http.MethodOptions, env.http.URL+"/", http.NoBody)
	req.Header.Set("Origin", testOrigin)
	req.Header.Set("Access-Control-Request-Method", http.MethodGet)

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("Failed to make request: %v", err)
	}
	resp.Body.Close()

	if got := resp.Header.Get("Access-Control-Allow-Origin"); got != testOrigin {
		t.Errorf("Expected allow-origin %q, got %q", testOrigin, got)
	}
}
