package repository

import (
	"context"
	"errors"

	"tracehub/internal/cache"
	"tracehub/internal/models"
	"tracehub/internal/observability"

	"gorm.io/gorm"
)

// ItemRepository defines persistence operations for board items.
type ItemRepository interface {
	List(ctx context.Context) ([]models.Item, error)
	GetByID(ctx context.Context, id uint) (*models.Item, error)
	Create(ctx context.Context, item *models.Item) error
	DeleteOwned(ctx context.Context, id, ownerID uint) error
}

type itemRepository struct {
	db *gorm.DB
}

// NewItemRepository returns a new ItemRepository implementation.
func NewItemRepository(db *gorm.DB) ItemRepository {
	return &itemRepository{db: db}
}

// List returns every live item, newest first.
func (r *itemRepository) List(ctx context.Context) ([]models.Item, error) {
	items := []models.Item{}
	err := cache.Aside(ctx, cache.ItemsListKey, &items, cache.ItemsListTTL, func() error {
		defer observability.TrackQuery("list", "items")()
		return r.db.WithContext(ctx).
			Order("created_at DESC").
			Order("id DESC").
			Find(&items).Error
	})
	if err != nil {
		return nil, classifyError(err, "Item", "list")
	}
	return items, nil
}

func (r *itemRepository) GetByID(ctx context.Context, id uint) (*models.Item, error) {
	defer observability.TrackQuery("get", "items")()
	var item models.Item
	if err := r.db.WithContext(ctx).First(&item, id).Error; err != nil {
		return nil, classifyError(err, "Item", id)
	}
	return &item, nil
}

func (r *itemRepository) Create(ctx context.Context, item *models.Item) error {
	defer observability.TrackQuery("create", "items")()
	if err := r.db.WithContext(ctx).Create(item).Error; err != nil {
		if isConnectivityError(err) {
			return models.NewUnavailableError(err)
		}
		return models.NewStorageWriteError(err)
	}
	// The row is committed either way; a failed invalidation keeps this
	// process off the cached list until one succeeds.
	_ = cache.InvalidateItemsList(ctx)
	return nil
}

// DeleteOwned soft-deletes the item only when ownerID owns it. The owner
// predicate is part of the statement, so a concurrent reader can never win
// a race against the check.
func (r *itemRepository) DeleteOwned(ctx context.Context, id, ownerID uint) error {
	defer observability.TrackQuery("delete", "items")()
	res := r.db.WithContext(ctx).
		Where("id = ? AND owner_id = ?", id, ownerID).
		Delete(&models.Item{})
	if res.Error != nil {
		return classifyError(res.Error, "Item", id)
	}
	if res.RowsAffected == 1 {
		_ = cache.InvalidateItemsList(ctx)
		return nil
	}

	var existing models.Item
	err := r.db.WithContext(ctx).Unscoped().Select("id", "owner_id").First(&existing, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return models.NewNotFoundError("Item", id)
	}
	if err != nil {
		return classifyError(err, "Item", id)
	}
	if existing.OwnerID != ownerID {
		return models.NewUnauthorizedError("only the owner can delete this item")
	}
	// The owner's own row, already gone.
	return models.NewNotFoundError("Item", id)
}
