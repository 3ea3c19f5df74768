package client

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"sync"
	"time"

	"tracehub/internal/discussion"
	"tracehub/internal/models"

	"github.com/gorilla/websocket"
)

const (
	writeWait = 10 * time.Second

	// The server pings every 54s; a silent minute means the link is gone.
	readWait = 70 * time.Second

	eventBuffer = 64

	eventServerShutdown = "server_shutdown"
)

type frame struct {
	Type   string `json:"type"`
	ItemID uint   `json:"item_id"`
}

// Watch opens the discussion socket and follows itemID. It returns once the
// server has confirmed the subscription.
func (c *Client) Watch(ctx context.Context, itemID uint) (discussion.Watcher, error) {
	s := c.Session()
	if s == nil {
		return nil, models.NewUnauthorizedError("Sign in to follow the discussion")
	}

	wsURL := *c.baseURL
	if wsURL.Scheme == "https" {
		wsURL.Scheme = "wss"
	} else {
		wsURL.Scheme = "ws"
	}
	wsURL.Path += "/api/ws/discussions"

	header := http.Header{}
	header.Set("Authorization", "Bearer "+s.Token)

	conn, resp, err := c.dialer.DialContext(ctx, wsURL.String(), header)
	if err != nil {
		if resp != nil {
			defer func() { _ = resp.Body.Close() }()
			raw, _ := io.ReadAll(resp.Body)
			return nil, decodeError(resp.StatusCode, raw)
		}
		return nil, models.NewUnavailableError(err)
	}

	pending, err := handshake(ctx, conn, itemID)
	if err != nil {
		_ = conn.Close()
		return nil, err
	}

	w := &watcher{
		conn:   conn,
		itemID: itemID,
		events: make(chan models.ItemEvent, eventBuffer),
		done:   make(chan struct{}),
	}
	conn.SetPingHandler(func(data string) error {
		_ = conn.SetReadDeadline(time.Now().Add(readWait))
		err := conn.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(writeWait))
		if errors.Is(err, websocket.ErrCloseSent) {
			return nil
		}
		return err
	})
	_ = conn.SetReadDeadline(time.Now().Add(readWait))
	go w.readLoop(pending)
	return w, nil
}

// handshake subscribes and waits for the confirmation. Events that arrive
// first are returned so the caller can deliver them in order.
func handshake(ctx context.Context, conn *websocket.Conn, itemID uint) ([]models.ItemEvent, error) {
	deadline := time.Now().Add(defaultTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	_ = conn.SetWriteDeadline(deadline)
	if err := conn.WriteJSON(frame{Type: "subscribe", ItemID: itemID}); err != nil {
		return nil, models.NewUnavailableError(err)
	}
	_ = conn.SetWriteDeadline(time.Time{})

	_ = conn.SetReadDeadline(deadline)
	var pending []models.ItemEvent
	for {
		var ev models.ItemEvent
		if err := conn.ReadJSON(&ev); err != nil {
			if ctx.Err() != nil {
				return nil, models.NewUnavailableError(ctx.Err())
			}
			return nil, models.NewUnavailableError(err)
		}
		switch {
		case ev.Type == models.EventSubscribed && ev.ItemID == itemID:
			return pending, nil
		case ev.Type == models.EventError:
			code := ev.Reason
			if code == "" {
				code = models.CodeUnavailable
			}
			return nil, &models.AppError{Code: code, Message: ev.Error}
		case ev.ItemID == itemID || ev.ItemID == 0:
			pending = append(pending, ev)
		}
	}
}

type watcher struct {
	conn   *websocket.Conn
	itemID uint
	events chan models.ItemEvent
	done   chan struct{}
	once   sync.Once
}

func (w *watcher) Events() <-chan models.ItemEvent {
	return w.events
}

// Close ends the stream. The events channel closes without a disconnected event.
func (w *watcher) Close() error {
	w.once.Do(func() {
		close(w.done)
		_ = w.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(writeWait))
		_ = w.conn.Close()
	})
	return nil
}

func (w *watcher) readLoop(pending []models.ItemEvent) {
	defer close(w.events)
	defer func() { _ = w.conn.Close() }()

	for _, ev := range pending {
		if !w.emit(w.normalize(ev)) {
			return
		}
	}

	for {
		_, raw, err := w.conn.ReadMessage()
		if err != nil {
			w.emit(models.ItemEvent{Type: models.EventDisconnected, ItemID: w.itemID, Reason: err.Error()})
			return
		}
		var ev models.ItemEvent
		if err := json.Unmarshal(raw, &ev); err != nil {
			continue
		}
		switch {
		case ev.Type == eventServerShutdown:
			w.emit(models.ItemEvent{Type: models.EventDisconnected, ItemID: w.itemID, Reason: eventServerShutdown})
			return
		case ev.Type == models.EventSubscribed:
			continue
		case ev.ItemID != 0 && ev.ItemID != w.itemID:
			continue
		}
		if !w.emit(w.normalize(ev)) {
			return
		}
	}
}

func (w *watcher) normalize(ev models.ItemEvent) models.ItemEvent {
	if ev.ItemID == 0 {
		ev.ItemID = w.itemID
	}
	return ev
}

// emit hands ev to the reader unless the watcher was closed.
func (w *watcher) emit(ev models.ItemEvent) bool {
	select {
	case <-w.done:
		return false
	default:
	}
	select {
	case w.events <- ev:
		return true
	case <-w.done:
		return false
	}
}
