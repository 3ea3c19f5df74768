package discussion

import (
	"context"
	"log"
	"runtime/debug"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"tracehub/internal/models"
)

// State of a subscription's live stream.
type State int

const (
	StateConnected State = iota
	StateDisconnected
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnected:
		return "connected"
	case StateDisconnected:
		return "disconnected"
	case StateClosed:
		return "closed"
	}
	return "unknown"
}

// Subscription delivers one item's new messages in seq order, each exactly
// once. Handlers run one at a time on the subscription's own goroutine.
//
// Handlers must not call Close on their own subscription; an item_deleted
// event closes the subscription by itself once its handler returns.
type Subscription struct {
	channel *Channel
	itemID  uint
	ctx     context.Context
	cancel  context.CancelFunc
	done    chan struct{}

	mu      sync.Mutex
	watcher Watcher
	state   State

	// Owned by the run goroutine.
	lastSeq uint64
	pending map[uint64]models.Message

	// Guards handlers and their invocation.
	deliverMu sync.Mutex
	onMessage func(models.Message)
	onState   func(State)
	onDeleted func(itemID uint)
	backlog   []models.Message

	deleted atomic.Bool
	closed  atomic.Bool
}

func newSubscription(c *Channel, itemID uint, ctx context.Context, cancel context.CancelFunc, w Watcher) *Subscription {
	return &Subscription{
		channel: c,
		itemID:  itemID,
		ctx:     ctx,
		cancel:  cancel,
		done:    make(chan struct{}),
		watcher: w,
		state:   StateConnected,
		pending: make(map[uint64]models.Message),
	}
}

// ItemID is the followed item.
func (s *Subscription) ItemID() uint { return s.itemID }

// State reports the current stream state.
func (s *Subscription) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Deleted reports whether the item was deleted while subscribed.
func (s *Subscription) Deleted() bool {
	return s.deleted.Load()
}

// Done is closed once the subscription has stopped.
func (s *Subscription) Done() <-chan struct{} { return s.done }

// OnMessage sets the handler for new messages. Messages that arrived before a
// handler was set are replayed to it first.
func (s *Subscription) OnMessage(h func(models.Message)) {
	s.deliverMu.Lock()
	defer s.deliverMu.Unlock()
	s.onMessage = h
	if h == nil || s.closed.Load() {
		return
	}
	backlog := s.backlog
	s.backlog = nil
	for _, m := range backlog {
		s.invoke(func() { h(m) })
	}
}

// OnStateChange sets the handler for stream state transitions.
func (s *Subscription) OnStateChange(h func(State)) {
	s.deliverMu.Lock()
	s.onState = h
	s.deliverMu.Unlock()
}

// OnItemDeleted sets the handler fired when the parent item is deleted.
func (s *Subscription) OnItemDeleted(h func(itemID uint)) {
	s.deliverMu.Lock()
	s.onDeleted = h
	s.deliverMu.Unlock()
}

// Close stops the subscription. It is idempotent and, once it returns, no
// handler of this subscription runs again.
func (s *Subscription) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	s.cancel()

	s.mu.Lock()
	w := s.watcher
	s.watcher = nil
	s.state = StateClosed
	s.mu.Unlock()
	if w != nil {
		_ = w.Close()
	}

	// Wait out a handler that is already running.
	s.deliverMu.Lock()
	s.backlog = nil
	s.deliverMu.Unlock()
	return nil
}

func (s *Subscription) run(w Watcher) {
	defer close(s.done)
	for {
		select {
		case <-s.ctx.Done():
			return
		case ev, ok := <-w.Events():
			if !ok {
				if w = s.reconnect(w); w == nil {
					return
				}
				continue
			}
			switch ev.Type {
			case models.EventMessage:
				if ev.Message != nil {
					s.accept([]models.Message{*ev.Message}, true)
				}
			case models.EventItemDeleted:
				if ev.ItemID == s.itemID {
					s.itemDeleted()
					return
				}
			case models.EventMessagesDropped:
				// Stream is intact but lossy; refill from the store.
				if err := s.catchUp(); err != nil {
					log.Printf("discussion: catch-up for item %d failed: %v", s.itemID, err)
				}
			case models.EventDisconnected:
				if w = s.reconnect(w); w == nil {
					return
				}
			}
		}
	}
}

// accept delivers msgs in seq order, buffering any that arrive ahead of a gap.
func (s *Subscription) accept(msgs []models.Message, fetchOnGap bool) {
	for _, m := range msgs {
		if m.ItemID != s.itemID || m.Seq <= s.lastSeq {
			continue
		}
		s.pending[m.Seq] = m
	}
	for {
		next, ok := s.pending[s.lastSeq+1]
		if !ok {
			break
		}
		delete(s.pending, next.Seq)
		s.lastSeq = next.Seq
		s.deliver(next)
	}
	if len(s.pending) > 0 && fetchOnGap {
		if err := s.catchUp(); err != nil {
			log.Printf("discussion: gap fill for item %d failed: %v", s.itemID, err)
		}
	}
}

func (s *Subscription) catchUp() error {
	msgs, err := s.channel.store.Messages(s.ctx, s.itemID, s.lastSeq)
	if err != nil {
		return err
	}
	sortBySeq(msgs)
	s.accept(msgs, false)
	return nil
}

func (s *Subscription) deliver(m models.Message) {
	s.deliverMu.Lock()
	defer s.deliverMu.Unlock()
	if s.closed.Load() {
		return
	}
	if s.onMessage == nil {
		s.backlog = append(s.backlog, m)
		return
	}
	h := s.onMessage
	s.invoke(func() { h(m) })
}

func (s *Subscription) setState(st State) {
	s.mu.Lock()
	if s.state == st || s.state == StateClosed {
		s.mu.Unlock()
		return
	}
	s.state = st
	s.mu.Unlock()

	s.deliverMu.Lock()
	defer s.deliverMu.Unlock()
	if s.closed.Load() || s.onState == nil {
		return
	}
	h := s.onState
	s.invoke(func() { h(st) })
}

func (s *Subscription) itemDeleted() {
	s.deleted.Store(true)
	s.deliverMu.Lock()
	if !s.closed.Load() {
		if h := s.onDeleted; h != nil {
			s.invoke(func() { h(s.itemID) })
		}
		if h := s.onState; h != nil {
			s.invoke(func() { h(StateClosed) })
		}
	}
	s.deliverMu.Unlock()
	_ = s.Close()
}

// reconnect replaces a broken stream. It returns nil once the subscription is
// closed.
func (s *Subscription) reconnect(old Watcher) Watcher {
	_ = old.Close()
	s.setState(StateDisconnected)

	for attempt := 0; ; attempt++ {
		if attempt > 0 {
			select {
			case <-s.ctx.Done():
				return nil
			case <-time.After(s.channel.backoff(attempt - 1)):
			}
		}
		if s.ctx.Err() != nil {
			return nil
		}

		w, err := s.channel.transport.Watch(s.ctx, s.itemID)
		if err != nil {
			log.Printf("discussion: reconnect to item %d (attempt %d): %v", s.itemID, attempt+1, err)
			continue
		}
		if err := s.catchUp(); err != nil {
			log.Printf("discussion: resync item %d (attempt %d): %v", s.itemID, attempt+1, err)
			_ = w.Close()
			continue
		}

		s.mu.Lock()
		if s.closed.Load() {
			s.mu.Unlock()
			_ = w.Close()
			return nil
		}
		s.watcher = w
		s.mu.Unlock()

		s.setState(StateConnected)
		return w
	}
}

// invoke runs a handler, surviving its panics. deliverMu must be held.
func (s *Subscription) invoke(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("PANIC in discussion handler for item %d: %v\n%s", s.itemID, r, debug.Stack())
		}
	}()
	fn()
}

func sortBySeq(msgs []models.Message) {
	sort.SliceStable(msgs, func(i, j int) bool { return msgs[i].Before(msgs[j]) })
}
