package discussion

import (
	"context"
	"errors"
	"sync"
	"time"

	"tracehub/internal/models"
)

type fakeWatcher struct {
	ch     chan models.ItemEvent
	once   sync.Once
	closed chan struct{}
}

func newFakeWatcher() *fakeWatcher {
	return &fakeWatcher{ch: make(chan models.ItemEvent, 64), closed: make(chan struct{})}
}

func (w *fakeWatcher) Events() <-chan models.ItemEvent { return w.ch }

func (w *fakeWatcher) Close() error {
	w.once.Do(func() { close(w.closed) })
	return nil
}

// push delivers ev unless the watcher was closed.
func (w *fakeWatcher) push(ev models.ItemEvent) {
	select {
	case <-w.closed:
	case w.ch <- ev:
	}
}

// drop simulates the stream breaking.
func (w *fakeWatcher) drop() { close(w.ch) }

type fakeTransport struct {
	mu       sync.Mutex
	watchers []*fakeWatcher
	failures int
	opened   chan *fakeWatcher
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{opened: make(chan *fakeWatcher, 16)}
}

func (t *fakeTransport) Watch(_ context.Context, _ uint) (Watcher, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.failures > 0 {
		t.failures--
		return nil, errors.New("dial tcp: connection refused")
	}
	w := newFakeWatcher()
	t.watchers = append(t.watchers, w)
	t.opened <- w
	return w, nil
}

func (t *fakeTransport) failNext(n int) {
	t.mu.Lock()
	t.failures = n
	t.mu.Unlock()
}

func (t *fakeTransport) next(timeout time.Duration) *fakeWatcher {
	select {
	case w := <-t.opened:
		return w
	case <-time.After(timeout):
		return nil
	}
}

type fakeStore struct {
	mu       sync.Mutex
	messages map[uint][]models.Message
	fetches  int
	posts    int
	err      error
}

func newFakeStore() *fakeStore {
	return &fakeStore{messages: make(map[uint][]models.Message)}
}

// add stores a message with the next seq and returns it, without publishing.
func (s *fakeStore) add(itemID uint, text string) models.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	seq := uint64(len(s.messages[itemID]) + 1)
	m := models.Message{
		ID:        uint(itemID*1000) + uint(seq),
		ItemID:    itemID,
		Seq:       seq,
		AuthorID:  1,
		Text:      text,
		CreatedAt: time.Unix(1700000000+int64(seq), 0),
	}
	s.messages[itemID] = append(s.messages[itemID], m)
	return m
}

func (s *fakeStore) Messages(_ context.Context, itemID uint, afterSeq uint64) ([]models.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fetches++
	if s.err != nil {
		return nil, s.err
	}
	out := []models.Message{}
	for _, m := range s.messages[itemID] {
		if m.Seq > afterSeq {
			out = append(out, m)
		}
	}
	return out, nil
}

func (s *fakeStore) PostMessage(_ context.Context, itemID uint, author models.Identity, text string) (*models.Message, error) {
	s.mu.Lock()
	s.posts++
	err := s.err
	s.mu.Unlock()
	if err != nil {
		return nil, err
	}
	m := s.add(itemID, text)
	m.AuthorID = author.ID
	m.AuthorEmail = author.Email
	return &m, nil
}

type staticIdentity struct{ id *models.Identity }

func (s staticIdentity) Current() *models.Identity { return s.id }

// collector records handler calls for assertions.
type collector struct {
	mu     sync.Mutex
	msgs   []models.Message
	states []State
}

func (c *collector) onMessage(m models.Message) {
	c.mu.Lock()
	c.msgs = append(c.msgs, m)
	c.mu.Unlock()
}

func (c *collector) onState(st State) {
	c.mu.Lock()
	c.states = append(c.states, st)
	c.mu.Unlock()
}

func (c *collector) seqs() []uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]uint64, len(c.msgs))
	for i, m := range c.msgs {
		out[i] = m.Seq
	}
	return out
}

func (c *collector) stateLog() []State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]State(nil), c.states...)
}
