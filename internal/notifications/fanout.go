package notifications

import (
	"context"
	"fmt"

	"tracehub/internal/models"
)

// Fanout publishes item events through Redis when it is configured, so other
// instances see them, and straight into the local hub otherwise.
type Fanout struct {
	notifier *Notifier
	hub      *ItemHub
}

// NewFanout wires a publisher for the service layer.
func NewFanout(n *Notifier, hub *ItemHub) *Fanout {
	return &Fanout{notifier: n, hub: hub}
}

// Publish delivers event. When Redis rejects it, local followers still get it
// and the error is returned for logging.
func (f *Fanout) Publish(ctx context.Context, event models.ItemEvent) error {
	if f.notifier.Enabled() {
		err := f.notifier.PublishItemEvent(ctx, event)
		if err == nil {
			return nil
		}
		if f.hub != nil {
			f.hub.BroadcastToItem(event)
		}
		return fmt.Errorf("publish %s for item %d: %w", event.Type, event.ItemID, err)
	}
	if f.hub != nil {
		f.hub.BroadcastToItem(event)
	}
	return nil
}
