package notifications

import (
	"sync"

	"tracehub/internal/models"
)

// Watcher is an in-process subscription to one item's events.
// Its channel is closed when the watcher ends, including when it falls too far
// behind; the owner is expected to reconnect and re-fetch.
type Watcher struct {
	hub    *ItemHub
	itemID uint
	ch     chan models.ItemEvent
	stop   func() bool

	mu     sync.Mutex
	closed bool
}

// Events returns the event stream.
func (w *Watcher) Events() <-chan models.ItemEvent {
	return w.ch
}

// ItemID is the followed item.
func (w *Watcher) ItemID() uint {
	return w.itemID
}

// Close detaches the watcher. It is safe to call more than once.
func (w *Watcher) Close() error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return nil
	}
	w.closed = true
	close(w.ch)
	w.mu.Unlock()

	if w.stop != nil {
		w.stop()
	}
	w.hub.detach(w)
	return nil
}

func (w *Watcher) deliver(event models.ItemEvent) {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return
	}
	select {
	case w.ch <- event:
		w.mu.Unlock()
		return
	default:
	}
	w.mu.Unlock()

	// Overflowed: end the stream rather than silently skip events.
	_ = w.Close()
}
