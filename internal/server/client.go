// Package server manages individual WebSocket clients, handling read/write
// pumps, rate limiting, and lifecycle control for each connection.
package server

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/Tyrowin/gochat-relay/internal/room"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
)

var (
	errClientClosed   = errors.New("client closed")
	errSendBufferFull = errors.New("client send buffer full")
)

// Client is one WebSocket connection registered with the room. It satisfies
// room.Conn: Send only enqueues, and a dedicated write pump drains the queue
// so a slow peer never blocks the coordinator.
type Client struct {
	id          string
	conn        *websocket.Conn
	send        chan []byte
	room        *room.Coordinator
	addr        string
	log         *slog.Logger
	state       atomic.Int32
	done        chan struct{}
	closeOnce   sync.Once
	rateLimiter *rateLimiter
	rateLimit   RateLimitConfig
}

// NewClient wraps conn for the given room. The client is not registered
// until Serve is called.
func NewClient(conn *websocket.Conn, rm *room.Coordinator, addr string, cfg Config, logger *slog.Logger) *Client {
	if conn != nil {
		conn.SetReadLimit(cfg.MaxMessageSize)
	}
	id := uuid.NewString()
	c := &Client{
		id:          id,
		conn:        conn,
		send:        make(chan []byte, cfg.SendBufferSize),
		room:        rm,
		addr:        addr,
		log:         logger.With("conn", id, "addr", addr),
		done:        make(chan struct{}),
		rateLimiter: newRateLimiter(cfg.RateLimit),
		rateLimit:   cfg.RateLimit,
	}
	c.state.Store(int32(room.StateOpen))
	return c
}

// ID returns the identity assigned at accept time.
func (c *Client) ID() string { return c.id }

// State returns the transport state.
func (c *Client) State() room.ConnState { return room.ConnState(c.state.Load()) }

// GetSendChan returns the client's outbound queue.
func (c *Client) GetSendChan() <-chan []byte {
	return c.send
}

// Send queues msg for the write pump. It fails instead of blocking when the
// queue is full or the client is closing.
func (c *Client) Send(msg room.Message) error {
	if c.State() != room.StateOpen {
		return errClientClosed
	}
	select {
	case <-c.done:
		return errClientClosed
	default:
	}

	select {
	case c.send <- []byte(msg):
		return nil
	default:
		return errSendBufferFull
	}
}

// Close tells the peer the server is going away and tears the connection
// down. The read pump observes the closed socket and deregisters the client.
func (c *Client) Close() error {
	if !c.state.CompareAndSwap(int32(room.StateOpen), int32(room.StateClosing)) {
		return nil
	}
	if c.conn != nil {
		msg := websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down")
		if err := c.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait)); err != nil &&
			!isExpectedCloseError(err) {
			c.log.Debug("write close frame", "err", err)
		}
	}
	return c.shutdown()
}

// shutdown stops both pumps and closes the socket exactly once.
func (c *Client) shutdown() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.done)
		if c.conn != nil {
			err = c.conn.Close()
			if isExpectedCloseError(err) {
				err = nil
			}
		}
	})
	return err
}

// Serve registers the client, which replays history into its queue, then
// runs the pumps until the connection ends.
func (c *Client) Serve(ctx context.Context, wg *sync.WaitGroup) error {
	if _, err := c.room.Register(ctx, c); err != nil {
		c.state.Store(int32(room.StateClosed))
		_ = c.shutdown()
		return err
	}

	wg.Add(2)
	go func() {
		defer wg.Done()
		c.writePump()
	}()
	go func() {
		defer wg.Done()
		c.readPump(ctx)
	}()
	return nil
}

// setupReadConnection configures read deadlines and pong handler for the WebSocket connection
func (c *Client) setupReadConnection() {
	if err := c.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		c.log.Warn("set initial read deadline", "err", err)
	}
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
}

// logReadError reports why the read loop ended, at a level matching how
// surprising the cause is.
func (c *Client) logReadError(err error) {
	switch {
	case errors.Is(err, websocket.ErrReadLimit):
		c.log.Warn("message exceeded maximum size")
	case websocket.IsCloseError(err,
		websocket.CloseNormalClosure,
		websocket.CloseGoingAway,
		websocket.CloseNoStatusReceived):
		c.log.Debug("client disconnected", "err", err)
	case errors.Is(err, io.EOF) || isExpectedCloseError(err):
		c.log.Debug("connection closed", "err", err)
	case websocket.IsUnexpectedCloseError(err, websocket.CloseAbnormalClosure):
		c.log.Warn("unexpected websocket close", "err", err)
	default:
		c.log.Debug("websocket read ended", "err", err)
	}
}

// checkRateLimit verifies if the client has exceeded rate limits
// and returns true if the message should be processed
func (c *Client) checkRateLimit() bool {
	if c.rateLimiter != nil && !c.rateLimiter.allow() {
		c.log.Warn("rate limit exceeded; discarding message",
			"burst", c.rateLimit.Burst, "interval", c.rateLimit.RefillInterval)
		return false
	}
	return true
}

func (c *Client) readPump(ctx context.Context) {
	defer func() {
		c.state.CompareAndSwap(int32(room.StateOpen), int32(room.StateClosing))
		c.room.Deregister(c)
		if err := c.shutdown(); err != nil {
			c.log.Debug("close connection in read pump", "err", err)
		}
		c.state.Store(int32(room.StateClosed))
	}()

	c.setupReadConnection()

	for {
		messageType, payload, err := c.conn.ReadMessage()
		if err != nil {
			c.logReadError(err)
			return
		}
		if code, reason, ok := checkPayload(messageType, payload); !ok {
			c.log.Warn("rejecting frame", "code", code, "reason", reason)
			c.closeWithCode(code, reason)
			return
		}

		if !c.checkRateLimit() {
			continue
		}

		c.room.Ingest(ctx, c, room.Message(payload))
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		if err := c.shutdown(); err != nil {
			c.log.Debug("close connection in write pump", "err", err)
		}
	}()

	for c.processWriteEvent(ticker) {
	}
}

// processWriteEvent waits for the next write event and returns false when the
// pump should stop processing.
func (c *Client) processWriteEvent(ticker *time.Ticker) bool {
	select {
	case message := <-c.send:
		return c.writeTextMessage(message)
	case <-ticker.C:
		return c.handlePing()
	case <-c.done:
		return false
	}
}

// writeTextMessage writes one queued message as its own text frame.
func (c *Client) writeTextMessage(message []byte) bool {
	if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		c.log.Debug("set write deadline", "err", err)
		return false
	}
	if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
		if !isExpectedCloseError(err) {
			c.log.Warn("write message", "err", err)
		}
		return false
	}
	return true
}

// handlePing sends a ping message to keep the connection alive
func (c *Client) handlePing() bool {
	if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		c.log.Debug("set write deadline for ping", "err", err)
		return false
	}
	if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
		if !isExpectedCloseError(err) {
			c.log.Warn("write ping", "err", err)
		}
		return false
	}
	return true
}

// checkPayload accepts only text frames holding valid UTF-8, the only
// payloads that can be relayed as text frames. It returns the close code to
// send otherwise.
func checkPayload(messageType int, payload []byte) (int, string, bool) {
	if messageType != websocket.TextMessage {
		return websocket.CloseUnsupportedData, "only text frames are relayed", false
	}
	if !utf8.Valid(payload) {
		return websocket.CloseInvalidFramePayloadData, "text frame is not valid UTF-8", false
	}
	return 0, "", true
}

// closeWithCode tells the peer why the connection is ending. The read pump
// tears the connection down afterwards.
func (c *Client) closeWithCode(code int, reason string) {
	c.state.CompareAndSwap(int32(room.StateOpen), int32(room.StateClosing))
	msg := websocket.FormatCloseMessage(code, reason)
	if err := c.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait)); err != nil &&
		!isExpectedCloseError(err) {
		c.log.Debug("write close frame", "err", err)
	}
}

// isExpectedCloseError checks if an error is expected during connection closure.
func isExpectedCloseError(err error) bool {
	if err == nil {
		return true
	}
	if errors.Is(err, websocket.ErrCloseSent) {
		return true
	}
	errStr := err.Error()
	return strings.Contains(errStr, "use of closed network connection") ||
		strings.Contains(errStr, "broken pipe")
}
