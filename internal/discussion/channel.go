// Package discussion is the client side of an item's live discussion: ordered
// subscriptions with reconnect, and the send path.
package discussion

import (
	"context"
	"errors"
	"strings"
	"time"

	"tracehub/internal/models"
)

// Store reads and appends an item's messages.
type Store interface {
	Messages(ctx context.Context, itemID uint, afterSeq uint64) ([]models.Message, error)
	PostMessage(ctx context.Context, itemID uint, author models.Identity, text string) (*models.Message, error)
}

// Watcher is a live stream of one item's events. Its channel closes, or yields
// a disconnected event, when the stream breaks.
type Watcher interface {
	Events() <-chan models.ItemEvent
	Close() error
}

// Transport opens live streams.
type Transport interface {
	Watch(ctx context.Context, itemID uint) (Watcher, error)
}

// TransportFunc adapts a function to Transport.
type TransportFunc func(ctx context.Context, itemID uint) (Watcher, error)

// Watch calls f.
func (f TransportFunc) Watch(ctx context.Context, itemID uint) (Watcher, error) {
	return f(ctx, itemID)
}

// IdentitySource yields the signed-in user, or nil.
type IdentitySource interface {
	Current() *models.Identity
}

const (
	defaultReconnectMin = 250 * time.Millisecond
	defaultReconnectMax = 10 * time.Second
)

// Channel opens subscriptions and sends messages on behalf of the current user.
type Channel struct {
	store     Store
	transport Transport
	identity  IdentitySource

	// Backoff bounds between reconnect attempts.
	ReconnectMin time.Duration
	ReconnectMax time.Duration
}

// NewChannel builds a Channel.
func NewChannel(store Store, transport Transport, identity IdentitySource) *Channel {
	return &Channel{
		store:        store,
		transport:    transport,
		identity:     identity,
		ReconnectMin: defaultReconnectMin,
		ReconnectMax: defaultReconnectMax,
	}
}

// Subscribe starts following itemID. The live stream is opened before the
// snapshot is fetched, so messages posted in between are delivered live rather
// than lost. The snapshot is always fetched fresh.
func (c *Channel) Subscribe(ctx context.Context, itemID uint) (*Subscription, []models.Message, error) {
	// The subscription outlives the call; keep ctx values but not its cancellation.
	subCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))

	w, err := c.transport.Watch(subCtx, itemID)
	if err != nil {
		cancel()
		return nil, nil, unavailable(err)
	}

	snapshot, err := c.store.Messages(ctx, itemID, 0)
	if err != nil {
		_ = w.Close()
		cancel()
		return nil, nil, unavailable(err)
	}
	sortBySeq(snapshot)

	s := newSubscription(c, itemID, subCtx, cancel, w)
	if n := len(snapshot); n > 0 {
		s.lastSeq = snapshot[n-1].Seq
	}
	go s.run(w)
	return s, snapshot, nil
}

// Messages fetches messages after afterSeq.
func (c *Channel) Messages(ctx context.Context, itemID uint, afterSeq uint64) ([]models.Message, error) {
	msgs, err := c.store.Messages(ctx, itemID, afterSeq)
	if err != nil {
		return nil, unavailable(err)
	}
	return msgs, nil
}

// Send posts text as the current user. The message is not returned to any
// subscription directly; it arrives through the live stream like everyone
// else's.
func (c *Channel) Send(ctx context.Context, itemID uint, text string) (*models.Message, error) {
	if strings.TrimSpace(text) == "" {
		return nil, models.NewEmptyMessageError()
	}
	var who *models.Identity
	if c.identity != nil {
		who = c.identity.Current()
	}
	if who == nil {
		return nil, models.NewUnauthorizedError("Sign in to join the discussion")
	}

	msg, err := c.store.PostMessage(ctx, itemID, *who, text)
	if err != nil {
		return nil, unavailable(err)
	}
	return msg, nil
}

func (c *Channel) backoff(attempt int) time.Duration {
	lo, hi := c.ReconnectMin, c.ReconnectMax
	if lo <= 0 {
		lo = defaultReconnectMin
	}
	if hi < lo {
		hi = lo
	}
	d := lo
	for i := 0; i < attempt && d < hi; i++ {
		d *= 2
	}
	return min(d, hi)
}

// unavailable keeps classified errors and marks everything else transient.
func unavailable(err error) error {
	var appErr *models.AppError
	if errors.As(err, &appErr) {
		return err
	}
	return models.NewUnavailableError(err)
}
