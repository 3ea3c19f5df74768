package repository

import (
	"context"
	"errors"
	"time"

	"tracehub/internal/models"
	"tracehub/internal/observability"

	"gorm.io/gorm"
)

// appendAttempts bounds retries when another process takes the same seq.
const appendAttempts = 3

// MessageRepository defines persistence operations for discussion messages.
type MessageRepository interface {
	Append(ctx context.Context, msg *models.Message) error
	ListAfter(ctx context.Context, itemID uint, afterSeq uint64) ([]models.Message, error)
}

type messageRepository struct {
	db  *gorm.DB
	now func() time.Time
}

// NewMessageRepository returns a new MessageRepository implementation.
func NewMessageRepository(db *gorm.DB) MessageRepository {
	return &messageRepository{db: db, now: time.Now}
}

// Append assigns the next seq for msg.ItemID and inserts the row. CreatedAt
// never goes backwards within an item, so (created_at, seq) stays a total order
// even when clocks disagree between instances.
func (r *messageRepository) Append(ctx context.Context, msg *models.Message) error {
	defer observability.TrackQuery("append", "messages")()

	var err error
	for attempt := 0; attempt < appendAttempts; attempt++ {
		err = r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			var last models.Message
			lastErr := tx.Where("item_id = ?", msg.ItemID).
				Order("seq DESC").
				Limit(1).
				Take(&last).Error
			if lastErr != nil && !errors.Is(lastErr, gorm.ErrRecordNotFound) {
				return lastErr
			}

			row := *msg
			row.ID = 0
			row.Seq = last.Seq + 1
			row.CreatedAt = r.now().UTC()
			if row.CreatedAt.Before(last.CreatedAt) {
				row.CreatedAt = last.CreatedAt
			}
			if err := tx.Create(&row).Error; err != nil {
				return err
			}
			*msg = row
			return nil
		})
		if err == nil || !isUniqueConstraintError(err) {
			break
		}
	}
	if err != nil {
		if isConnectivityError(err) {
			return models.NewUnavailableError(err)
		}
		return models.NewStorageWriteError(err)
	}
	return nil
}

// ListAfter returns the item's messages with seq > afterSeq in channel order.
func (r *messageRepository) ListAfter(ctx context.Context, itemID uint, afterSeq uint64) ([]models.Message, error) {
	defer observability.TrackQuery("list", "messages")()
	msgs := []models.Message{}
	err := r.db.WithContext(ctx).
		Where("item_id = ? AND seq > ?", itemID, afterSeq).
		Order("created_at ASC").
		Order("seq ASC").
		Find(&msgs).Error
	if err != nil {
		return nil, classifyError(err, "Item", itemID)
	}
	return msgs, nil
}
