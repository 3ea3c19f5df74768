package discussion

import (
	"sort"
	"sync"

	"tracehub/internal/models"
)

// Thread is the rendered view of a discussion. Applying a message twice, as
// happens when a snapshot overlaps live delivery after a reconnect, leaves a
// single entry.
type Thread struct {
	mu       sync.RWMutex
	seen     map[uint]struct{}
	messages []models.Message
}

// NewThread seeds a thread with a snapshot.
func NewThread(snapshot []models.Message) *Thread {
	t := &Thread{seen: make(map[uint]struct{}, len(snapshot))}
	t.Apply(snapshot...)
	return t
}

// Apply adds messages not yet present and reports how many were new.
func (t *Thread) Apply(msgs ...models.Message) int {
	t.mu.Lock()
	defer t.mu.Unlock()

	added := 0
	for _, m := range msgs {
		if _, ok := t.seen[m.ID]; ok {
			continue
		}
		t.seen[m.ID] = struct{}{}
		i := sort.Search(len(t.messages), func(i int) bool { return m.Before(t.messages[i]) })
		t.messages = append(t.messages, models.Message{})
		copy(t.messages[i+1:], t.messages[i:])
		t.messages[i] = m
		added++
	}
	return added
}

// Messages returns a copy of the thread in order.
func (t *Thread) Messages() []models.Message {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]models.Message, len(t.messages))
	copy(out, t.messages)
	return out
}

// Len is the number of distinct messages.
func (t *Thread) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.messages)
}

// LastSeq is the highest seq shown, or 0.
func (t *Thread) LastSeq() uint64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if len(t.messages) == 0 {
		return 0
	}
	return t.messages[len(t.messages)-1].Seq
}
