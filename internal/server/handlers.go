// Package server exposes HTTP handlers, including WebSocket upgrades, health
// checks, and the built-in test page.
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/Tyrowin/gochat-relay/internal/room"
	"github.com/Tyrowin/gochat-relay/internal/store"
)

const (
	welcomeMessage  = "Welcome to the %s broadcast relay! Connect via a WebSocket to /ws."
	expectedUpgrade = "Expected WebSocket connection"
)

func writeText(w http.ResponseWriter, status int, body string) {
	w.Header().Set("Content-Type", "text/plain")
	w.WriteHeader(status)
	_, _ = fmt.Fprint(w, body)
}

// RootHandler answers plain requests to / with a usage message.
func (s *Server) RootHandler(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	writeText(w, http.StatusOK, fmt.Sprintf(welcomeMessage, room.Name))
}

// WebSocketHandler validates the upgrade request, upgrades it and hands the
// connection to the room. Requests without an upgrade signal get a 400 and
// never touch the room.
func (s *Server) WebSocketHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeText(w, http.StatusMethodNotAllowed, "Method not allowed. WebSocket endpoint only accepts GET requests.")
		return
	}
	if !websocket.IsWebSocketUpgrade(r) {
		writeText(w, http.StatusBadRequest, expectedUpgrade)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// The upgrader has already written the error response.
		s.log.Warn("websocket upgrade failed", "addr", r.RemoteAddr, "err", err)
		return
	}

	client := NewClient(conn, s.room, r.RemoteAddr, s.cfg, s.log)
	if err := client.Serve(s.ctx, &s.wg); err != nil {
		s.log.Info("rejected connection", "addr", r.RemoteAddr, "err", err)
	}
}

// HealthHandler is the liveness probe.
func HealthHandler(w http.ResponseWriter, _ *http.Request) {
	writeText(w, http.StatusOK, "Relay server is running!")
}

// ReadyHandler reports whether the durable log store is reachable.
func (s *Server) ReadyHandler(w http.ResponseWriter, r *http.Request) {
	pinger, ok := s.store.(store.Pinger)
	if !ok {
		writeText(w, http.StatusOK, "ready")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	if err := pinger.Ping(ctx); err != nil {
		s.log.Warn("readiness check failed", "err", err)
		writeText(w, http.StatusServiceUnavailable, "store unavailable")
		return
	}
	writeText(w, http.StatusOK, "ready")
}

// TestPageHandler serves a minimal page for trying the relay from a browser.
func TestPageHandler(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/html")
	_, _ = fmt.Fprint(w, testPage)
}

const testPage = `<!DOCTYPE html>
<html>
<head>
    <title>Relay WebSocket Test</title>
    <style>
        body { font-family: sans-serif; margin: 20px; }
        #log { border: 1px solid #ccc; height: 300px; overflow-y: scroll; padding: 8px; }
    </style>
</head>
<body>
    <h1>Relay WebSocket Test</h1>
    <div id="log"></div>
    <input id="input" type="text" placeholder="Type a message..." size="40">
    <button onclick="send()">Send</button>
    <script>
        const log = document.getElementById('log');
        const input = document.getElementById('input');
        const scheme = location.protocol === 'https:' ? 'wss://' : 'ws://';
        const ws = new WebSocket(scheme + location.host + '/ws');

        function add(text) {
            const line = document.createElement('div');
            line.textContent = text;
            log.appendChild(line);
            log.scrollTop = log.scrollHeight;
        }

        ws.onopen = () => add('-- connected --');
        ws.onclose = () => add('-- disconnected --');
        ws.onmessage = (event) => add(event.data);

        function send() {
            if (input.value && ws.readyState === WebSocket.OPEN) {
                ws.send(input.value);
                input.value = '';
            }
        }

        input.addEventListener('keypress', (e) => { if (e.key === 'Enter') send(); });
    </script>
</body>
</html>`
