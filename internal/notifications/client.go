package notifications

import (
	"log"
	"sync"
	"time"

	"tracehub/internal/observability"

	"github.com/gofiber/websocket/v2"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = pongWait * 9 / 10
	maxInboundSize = 4096 // subscribe/unsubscribe frames only
	sendBuffer     = 256
)

var (
	// dropNotice tells the peer it missed events and should re-fetch.
	dropNotice = []byte(`{"type":"messages_dropped","reason":"buffer_full"}`)
	// shutdownNotice is the last frame a peer sees when the server stops.
	shutdownNotice = []byte(`{"type":"server_shutdown"}`)
)

// WSHub is what a Client reports back to when its socket goes away.
type WSHub interface {
	UnregisterClient(c *Client)
	Name() string
}

// Client is one discussion socket. The hub queues frames on Send and
// WritePump is the only writer to Conn.
type Client struct {
	Hub  WSHub
	Conn *websocket.Conn // nil for in-process test clients

	Send   chan []byte
	UserID uint

	// IncomingHandler receives every text frame read from the peer.
	IncomingHandler func(*Client, []byte)

	mu     sync.Mutex
	closed bool
}

// NewClient wraps conn for hub.
func NewClient(hub WSHub, conn *websocket.Conn, userID uint) *Client {
	return &Client{
		Hub:    hub,
		Conn:   conn,
		UserID: userID,
		Send:   make(chan []byte, sendBuffer),
	}
}

// ReadPump reads frames until the peer disconnects, then unregisters the
// client and closes its queue so WritePump exits.
func (c *Client) ReadPump() {
	defer func() {
		c.Hub.UnregisterClient(c)
		c.closeQueue(nil)
	}()

	c.Conn.SetReadLimit(maxInboundSize)
	extend := func() { _ = c.Conn.SetReadDeadline(time.Now().Add(pongWait)) }
	extend()
	c.Conn.SetPongHandler(func(string) error {
		extend()
		return nil
	})

	for {
		kind, frame, err := c.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Printf("%s: read from user %d: %v", c.Hub.Name(), c.UserID, err)
			}
			return
		}
		if kind == websocket.TextMessage && c.IncomingHandler != nil {
			c.IncomingHandler(c, frame)
		}
	}
}

// WritePump drains Send to the socket and keeps it alive with pings. It
// closes the connection once Send is closed or a write fails.
func (c *Client) WritePump() {
	ping := time.NewTicker(pingPeriod)
	defer func() {
		ping.Stop()
		_ = c.Conn.Close()
	}()

	write := func(kind int, data []byte) error {
		_ = c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
		return c.Conn.WriteMessage(kind, data)
	}

	for {
		select {
		case frame, ok := <-c.Send:
			if !ok {
				_ = write(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := write(websocket.TextMessage, frame); err != nil {
				return
			}
		case <-ping.C:
			if err := write(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// TrySend queues frame without blocking. When the peer has fallen a full
// buffer behind, the oldest queued frame and this one are dropped and a
// messages_dropped notice is queued instead.
func (c *Client) TrySend(frame []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		observability.WebSocketBackpressureDrops.WithLabelValues(c.Hub.Name(), "closed").Inc()
		return
	}
	select {
	case c.Send <- frame:
		return
	default:
	}

	observability.WebSocketBackpressureDrops.WithLabelValues(c.Hub.Name(), "full").Inc()
	log.Printf("%s: user %d is %d frames behind, dropping", c.Hub.Name(), c.UserID, cap(c.Send))
	select {
	case <-c.Send:
	default:
	}
	select {
	case c.Send <- dropNotice:
	default:
	}
}

// closeQueue queues last, if any, and closes Send. Later sends are dropped.
func (c *Client) closeQueue(last []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	if last != nil {
		select {
		case c.Send <- last:
		default:
		}
	}
	close(c.Send)
}
