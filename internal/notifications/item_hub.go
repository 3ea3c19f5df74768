package notifications

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sync"

	"tracehub/internal/models"
	"tracehub/internal/observability"

	"github.com/gofiber/websocket/v2"
)

const (
	maxConnsPerUser   = 8
	maxItemsPerClient = 64
	// deletedMemory bounds how many recent deletions the hub remembers.
	deletedMemory = 1024
)

var (
	// ErrSubscriptionLimit is returned when a socket watches too many items.
	ErrSubscriptionLimit = errors.New("item subscription limit reached")
	// ErrItemDeleted is returned when subscribing to an item whose deletion
	// was already broadcast.
	ErrItemDeleted = errors.New("item was deleted")
)

// ItemHub fans item events out to websocket clients and in-process watchers.
// It is item-centric: every connection chooses which items it follows.
type ItemHub struct {
	mu sync.RWMutex

	// itemID -> clients following it
	items map[uint]map[*Client]struct{}

	// client -> items it follows
	clientItems map[*Client]map[uint]struct{}

	// userID -> open connections
	userConns map[uint]map[*Client]struct{}

	// itemID -> in-process watchers
	watchers map[uint]map[*Watcher]struct{}

	// Items whose item_deleted went out, oldest first in deletedOrder, so a
	// follower arriving just after the broadcast still hears of it.
	deleted      map[uint]struct{}
	deletedOrder []uint
}

// NewItemHub creates an empty hub.
func NewItemHub() *ItemHub {
	return &ItemHub{
		items:       make(map[uint]map[*Client]struct{}),
		clientItems: make(map[*Client]map[uint]struct{}),
		userConns:   make(map[uint]map[*Client]struct{}),
		watchers:    make(map[uint]map[*Watcher]struct{}),
		deleted:     make(map[uint]struct{}),
	}
}

// Name returns a human-readable identifier for this hub.
func (h *ItemHub) Name() string { return "item hub" }

// Register adds a websocket connection for userID. Returns an error if the
// user already has too many open sockets.
func (h *ItemHub) Register(userID uint, conn *websocket.Conn) (*Client, error) {
	client := NewClient(h, conn, userID)
	if err := h.attach(client); err != nil {
		return nil, err
	}
	return client, nil
}

func (h *ItemHub) attach(client *Client) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	conns := h.userConns[client.UserID]
	if conns == nil {
		conns = make(map[*Client]struct{})
		h.userConns[client.UserID] = conns
	}
	if len(conns) >= maxConnsPerUser {
		return fmt.Errorf("user connection limit reached")
	}
	if client.Hub == nil {
		client.Hub = h
	}
	conns[client] = struct{}{}
	h.clientItems[client] = make(map[uint]struct{})
	return nil
}

// UnregisterClient drops the connection and everything it followed.
func (h *ItemHub) UnregisterClient(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	followed, ok := h.clientItems[client]
	if !ok {
		return
	}
	for itemID := range followed {
		h.removeLocked(client, itemID)
	}
	delete(h.clientItems, client)

	if conns, ok := h.userConns[client.UserID]; ok {
		delete(conns, client)
		if len(conns) == 0 {
			delete(h.userConns, client.UserID)
		}
	}
}

// Subscribe makes client receive itemID's events. Subscribing twice is a no-op.
func (h *ItemHub) Subscribe(client *Client, itemID uint) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	followed, ok := h.clientItems[client]
	if !ok {
		return fmt.Errorf("client not registered")
	}
	if _, gone := h.deleted[itemID]; gone {
		return ErrItemDeleted
	}
	if _, already := followed[itemID]; already {
		return nil
	}
	if len(followed) >= maxItemsPerClient {
		return ErrSubscriptionLimit
	}
	followed[itemID] = struct{}{}
	if h.items[itemID] == nil {
		h.items[itemID] = make(map[*Client]struct{})
	}
	h.items[itemID][client] = struct{}{}
	observability.WebSocketItemSubscriptions.Inc()
	return nil
}

// Unsubscribe stops delivery of itemID's events to client.
func (h *ItemHub) Unsubscribe(client *Client, itemID uint) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if followed, ok := h.clientItems[client]; ok {
		if _, ok := followed[itemID]; ok {
			delete(followed, itemID)
			h.removeLocked(client, itemID)
		}
	}
}

func (h *ItemHub) removeLocked(client *Client, itemID uint) {
	if clients, ok := h.items[itemID]; ok {
		if _, ok := clients[client]; ok {
			delete(clients, client)
			observability.WebSocketItemSubscriptions.Dec()
		}
		if len(clients) == 0 {
			delete(h.items, itemID)
		}
	}
}

// Subscribers returns how many sockets and watchers follow itemID.
func (h *ItemHub) Subscribers(itemID uint) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.items[itemID]) + len(h.watchers[itemID])
}

// BroadcastToItem delivers event to everyone following event.ItemID.
// An item_deleted event is sent and its followers released under one write
// lock, so no subscription can slip in between.
func (h *ItemHub) BroadcastToItem(event models.ItemEvent) {
	payload, err := json.Marshal(event)
	if err != nil {
		log.Printf("ItemHub: Failed to marshal event: %v", err)
		return
	}

	deletion := event.Type == models.EventItemDeleted
	if deletion {
		h.mu.Lock()
	} else {
		h.mu.RLock()
	}
	for client := range h.items[event.ItemID] {
		client.TrySend(payload)
	}
	watchers := make([]*Watcher, 0, len(h.watchers[event.ItemID]))
	for w := range h.watchers[event.ItemID] {
		watchers = append(watchers, w)
	}
	if deletion {
		h.rememberDeletedLocked(event.ItemID)
		for client := range h.items[event.ItemID] {
			delete(h.clientItems[client], event.ItemID)
			h.removeLocked(client, event.ItemID)
		}
		h.mu.Unlock()
	} else {
		h.mu.RUnlock()
	}

	// Watchers may detach themselves on overflow, which takes the write lock.
	for _, w := range watchers {
		w.deliver(event)
	}
	observability.RecordWebSocketEvent(event.Type)
}

func (h *ItemHub) rememberDeletedLocked(itemID uint) {
	if _, ok := h.deleted[itemID]; ok {
		return
	}
	h.deleted[itemID] = struct{}{}
	h.deletedOrder = append(h.deletedOrder, itemID)
	if len(h.deletedOrder) > deletedMemory {
		delete(h.deleted, h.deletedOrder[0])
		h.deletedOrder = h.deletedOrder[1:]
	}
}

// Watch registers an in-process follower of itemID. The watcher is closed when
// ctx ends or Close is called.
func (h *ItemHub) Watch(ctx context.Context, itemID uint) (*Watcher, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	w := &Watcher{hub: h, itemID: itemID, ch: make(chan models.ItemEvent, sendBuffer)}

	h.mu.Lock()
	if _, gone := h.deleted[itemID]; gone {
		h.mu.Unlock()
		// Fresh buffer: the event always fits.
		w.ch <- models.ItemEvent{Type: models.EventItemDeleted, ItemID: itemID}
		close(w.ch)
		w.closed = true
		return w, nil
	}
	if h.watchers[itemID] == nil {
		h.watchers[itemID] = make(map[*Watcher]struct{})
	}
	h.watchers[itemID][w] = struct{}{}
	h.mu.Unlock()

	w.stop = context.AfterFunc(ctx, func() { _ = w.Close() })
	return w, nil
}

func (h *ItemHub) detach(w *Watcher) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if ws, ok := h.watchers[w.itemID]; ok {
		delete(ws, w)
		if len(ws) == 0 {
			delete(h.watchers, w.itemID)
		}
	}
}

// StartWiring feeds events published by any instance into this hub.
func (h *ItemHub) StartWiring(ctx context.Context, n *Notifier) error {
	return n.StartDiscussionSubscriber(ctx, func(channel, payload string) {
		itemID, ok := parseItemChannel(channel)
		if !ok {
			log.Printf("ItemHub: Invalid channel format: %s", channel)
			return
		}
		var event models.ItemEvent
		if err := json.Unmarshal([]byte(payload), &event); err != nil {
			log.Printf("ItemHub: Failed to parse event from channel %s: %v", channel, err)
			return
		}
		event.ItemID = itemID
		h.BroadcastToItem(event)
	})
}

// Shutdown closes every socket and watcher.
func (h *ItemHub) Shutdown(_ context.Context) error {
	h.mu.Lock()
	conns := h.userConns
	watchers := h.watchers
	h.items = make(map[uint]map[*Client]struct{})
	h.clientItems = make(map[*Client]map[uint]struct{})
	h.userConns = make(map[uint]map[*Client]struct{})
	h.watchers = make(map[uint]map[*Watcher]struct{})
	h.mu.Unlock()

	for _, clients := range conns {
		for client := range clients {
			client.closeQueue(shutdownNotice)
		}
	}
	for _, ws := range watchers {
		for w := range ws {
			_ = w.Close()
		}
	}
	observability.WebSocketItemSubscriptions.Set(0)
	return nil
}
