package service

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"unicode/utf8"

	"tracehub/internal/middleware"
	"tracehub/internal/models"
	"tracehub/internal/observability"
	"tracehub/internal/repository"
)

// appendStripes is the number of per-item write locks. Items hash onto them.
const appendStripes = 64

// DiscussionService is the write and read path for item discussions.
type DiscussionService struct {
	items    repository.ItemRepository
	messages repository.MessageRepository
	events   EventPublisher
	stripes  [appendStripes]sync.Mutex
}

func NewDiscussionService(
	items repository.ItemRepository,
	messages repository.MessageRepository,
	events EventPublisher,
) *DiscussionService {
	return &DiscussionService{items: items, messages: messages, events: events}
}

// Messages returns the item's messages newer than afterSeq, oldest first.
// History stays readable after the item is deleted.
func (s *DiscussionService) Messages(ctx context.Context, itemID uint, afterSeq uint64) ([]models.Message, error) {
	return s.messages.ListAfter(ctx, itemID, afterSeq)
}

// PostMessage appends text to the item's discussion and publishes the stored
// row once it is committed. Anyone signed in may post.
func (s *DiscussionService) PostMessage(ctx context.Context, itemID uint, author models.Identity, text string) (*models.Message, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, models.NewEmptyMessageError()
	}
	if author.ID == 0 {
		return nil, models.NewUnauthorizedError("Sign in to join the discussion")
	}
	if utf8.RuneCountInString(text) > models.MaxMessageLength {
		return nil, models.NewValidationError(fmt.Sprintf("Message too long (max %d characters)", models.MaxMessageLength))
	}

	ctx = middleware.WithItemID(ctx, itemID)
	span, ctx := observability.StartItemSpan(ctx, "DiscussionService.PostMessage", itemID)
	defer span.End()

	if _, err := s.items.GetByID(ctx, itemID); err != nil {
		span.SetError(err)
		return nil, err
	}

	msg := &models.Message{
		ItemID:      itemID,
		AuthorID:    author.ID,
		AuthorEmail: author.Email,
		Text:        text,
	}
	lock := &s.stripes[itemID%appendStripes]
	lock.Lock()
	err := s.messages.Append(ctx, msg)
	lock.Unlock()
	if err != nil {
		span.SetError(err)
		return nil, err
	}
	observability.MessagesPosted.Inc()

	if s.events != nil {
		event := models.ItemEvent{Type: models.EventMessage, ItemID: itemID, Message: msg}
		if err := s.events.Publish(ctx, event); err != nil {
			// Watchers catch up from Messages on their next reconnect.
			middleware.Logger.WarnContext(ctx, "failed to publish discussion message",
				slog.Uint64("seq", msg.Seq),
				slog.String("error", err.Error()),
			)
		}
	}
	return msg, nil
}
