// Package notifications carries item discussion events to open sockets,
// across instances through Redis pub/sub when it is configured.
package notifications

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"runtime/debug"
	"strconv"
	"strings"

	"tracehub/internal/models"

	"github.com/redis/go-redis/v9"
)

const itemChannelPrefix = "discussion:item:"

// Notifier publishes item events into Redis so every API instance sees them.
type Notifier struct {
	rdb *redis.Client
}

// NewNotifier returns a Notifier on rdb. A nil rdb disables publishing.
func NewNotifier(rdb *redis.Client) *Notifier {
	return &Notifier{rdb: rdb}
}

// Enabled reports whether events leave the process.
func (n *Notifier) Enabled() bool {
	return n != nil && n.rdb != nil
}

// PublishItemEvent sends the event to the item's channel.
func (n *Notifier) PublishItemEvent(ctx context.Context, event models.ItemEvent) error {
	if !n.Enabled() {
		return nil
	}
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal item event: %w", err)
	}
	return n.rdb.Publish(ctx, ItemChannel(event.ItemID), payload).Err()
}

// StartDiscussionSubscriber pattern-subscribes to every item channel and
// hands each payload to onMessage on a single goroutine until ctx ends. It
// returns once Redis has confirmed the subscription. A panicking handler loses
// only the message it was given.
func (n *Notifier) StartDiscussionSubscriber(ctx context.Context, onMessage func(channel, payload string)) error {
	if !n.Enabled() {
		return nil
	}
	pattern := itemChannelPrefix + "*"
	sub := n.rdb.PSubscribe(ctx, pattern)
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return fmt.Errorf("psubscribe %s: %w", pattern, err)
	}

	go func() {
		defer sub.Close()
		msgs := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, open := <-msgs:
				if !open {
					return
				}
				deliver(msg, onMessage)
			}
		}
	}()
	return nil
}

func deliver(msg *redis.Message, onMessage func(channel, payload string)) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("discussion subscriber: handler panic on %s: %v\n%s", msg.Channel, r, debug.Stack())
		}
	}()
	onMessage(msg.Channel, msg.Payload)
}

// ItemChannel is the Redis channel carrying one item's discussion events.
func ItemChannel(itemID uint) string {
	return itemChannelPrefix + strconv.FormatUint(uint64(itemID), 10)
}

func parseItemChannel(channel string) (uint, bool) {
	rest, ok := strings.CutPrefix(channel, itemChannelPrefix)
	if !ok {
		return 0, false
	}
	id, err := strconv.ParseUint(rest, 10, 32)
	if err != nil {
		return 0, false
	}
	return uint(id), true
}
