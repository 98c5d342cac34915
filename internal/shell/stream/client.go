package stream

import (
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10

	// sendBuffer is the number of events queued per client before it is
	// considered too slow and dropped.
	sendBuffer = 64
)

// ErrSlowClient is returned by Send when the client's queue is full.
var ErrSlowClient = errors.New("stream client is not keeping up")

// Client represents a websocket client connection. Send only queues; a
// single writer goroutine owns the connection.
type Client struct {
	conn *websocket.Conn
	log  *slog.Logger
	send chan []byte
	done chan struct{}
	once sync.Once
}

// NewClient constructs a client wrapper and starts its writer.
func NewClient(conn *websocket.Conn, logger *slog.Logger) *Client {
	c := newClient(conn, logger)
	go c.writePump()
	return c
}

func newClient(conn *websocket.Conn, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		conn: conn,
		log:  logger,
		send: make(chan []byte, sendBuffer),
		done: make(chan struct{}),
	}
}

// Send queues a message without blocking.
func (c *Client) Send(payload []byte) error {
	select {
	case <-c.done:
		return websocket.ErrCloseSent
	default:
	}
	select {
	case c.send <- payload:
		return nil
	default:
		return ErrSlowClient
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.Close()
	}()

	for {
		select {
		case <-c.done:
			return
		case payload := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				c.log.Warn("websocket send failed", "error", err)
				return
			}
		case <-ticker.C:
			if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		}
	}
}

// Close terminates the connection. Queued messages are discarded.
func (c *Client) Close() {
	c.once.Do(func() {
		close(c.done)
		_ = c.conn.Close()
	})
}

// =============================================================================
// HTTP Handler
// =============================================================================

// Handler upgrades HTTP requests to workspace event streams.
type Handler struct {
	hub      *Hub
	upgrader websocket.Upgrader
	logger   *slog.Logger
}

// OriginChecker returns an upgrade origin check. Requests without an Origin
// header pass. With no allowed entries only same-origin browsers pass; an
// entry of "*" allows any origin. Entries may be hosts or full origins.
func OriginChecker(allowed []string) func(*http.Request) bool {
	hosts := make(map[string]struct{}, len(allowed))
	anyOrigin := false
	for _, a := range allowed {
		a = strings.ToLower(strings.TrimSpace(a))
		switch {
		case a == "":
		case a == "*":
			anyOrigin = true
		case strings.Contains(a, "://"):
			if u, err := url.Parse(a); err == nil && u.Host != "" {
				hosts[u.Host] = struct{}{}
			}
		default:
			hosts[a] = struct{}{}
		}
	}

	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" || anyOrigin {
			return true
		}
		u, err := url.Parse(origin)
		if err != nil || u.Host == "" {
			return false
		}
		host := strings.ToLower(u.Host)
		if len(hosts) == 0 {
			return host == strings.ToLower(r.Host)
		}
		_, ok := hosts[host]
		return ok
	}
}

// NewHandler creates a handler. A nil checkOrigin allows same-origin
// requests only; authentication happens before the request reaches it.
func NewHandler(hub *Hub, checkOrigin func(*http.Request) bool, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	if checkOrigin == nil {
		checkOrigin = OriginChecker(nil)
	}
	return &Handler{
		hub:      hub,
		upgrader: websocket.Upgrader{CheckOrigin: checkOrigin},
		logger:   logger.With("component", "stream_handler"),
	}
}

// Serve streams the events of workspaceID to the caller until it disconnects.
func (h *Handler) Serve(w http.ResponseWriter, req *http.Request, workspaceID string) {
	conn, err := h.upgrader.Upgrade(w, req, nil)
	if err != nil {
		h.logger.Error("websocket upgrade failed", "error", err)
		return
	}
	client := NewClient(conn, h.logger)
	h.hub.Register(workspaceID, client)
	h.logger.Debug("stream client connected", "workspace_id", workspaceID)

	defer func() {
		h.hub.Unregister(workspaceID, client)
		client.Close()
		h.logger.Debug("stream client disconnected", "workspace_id", workspaceID)
	}()

	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}
