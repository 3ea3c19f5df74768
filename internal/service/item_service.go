// Package service holds the board's business rules on top of the repositories.
package service

import (
	"context"
	"log/slog"
	"strings"

	"tracehub/internal/config"
	"tracehub/internal/featureflags"
	"tracehub/internal/middleware"
	"tracehub/internal/models"
	"tracehub/internal/observability"
	"tracehub/internal/repository"
	"tracehub/internal/storage"
	"tracehub/internal/validation"
)

// Field limits for item reports.
const (
	maxTitleLen        = 200
	maxDescriptionLen  = 2000
	maxLocationLen     = 200
	maxContactNameLen  = 100
	maxContactPhoneLen = 30
)

// EventPublisher delivers item events to everyone watching the item.
type EventPublisher interface {
	Publish(ctx context.Context, event models.ItemEvent) error
}

type ItemService struct {
	items         repository.ItemRepository
	objects       storage.ObjectStore
	flags         *featureflags.Manager
	events        EventPublisher
	maxImageBytes int64
}

func NewItemService(
	items repository.ItemRepository,
	objects storage.ObjectStore,
	flags *featureflags.Manager,
	events EventPublisher,
	cfg *config.Config,
) *ItemService {
	maxMB := storage.DefaultImageMaxUploadSizeMB
	if cfg != nil && cfg.ImageMaxUploadSizeMB > 0 {
		maxMB = cfg.ImageMaxUploadSizeMB
	}
	return &ItemService{
		items:         items,
		objects:       objects,
		flags:         flags,
		events:        events,
		maxImageBytes: int64(maxMB) * 1024 * 1024,
	}
}

// ListItems returns every live item, newest first. An empty board is an empty slice.
func (s *ItemService) ListItems(ctx context.Context) ([]models.Item, error) {
	span, ctx := observability.NewSpan(ctx, "ItemService.ListItems")
	defer span.End()

	items, err := s.items.List(ctx)
	if err != nil {
		span.SetError(err)
		return nil, err
	}
	return items, nil
}

// GetItem returns a live item.
func (s *ItemService) GetItem(ctx context.Context, itemID uint) (*models.Item, error) {
	return s.items.GetByID(ctx, itemID)
}

// CreateItem validates the report, stores its photo (if any) and then writes
// the row. A failed row write leaves the stored photo behind.
func (s *ItemService) CreateItem(ctx context.Context, in models.NewItem) (*models.Item, error) {
	span, ctx := observability.NewSpan(ctx, "ItemService.CreateItem")
	defer span.End()

	if in.OwnerID == 0 {
		return nil, models.NewUnauthorizedError("Sign in to post an item")
	}
	if err := validateNewItem(in); err != nil {
		return nil, err
	}

	var imageURL string
	if in.Image != nil {
		if !s.flags.EnabledOr(featureflags.ImageUploads, in.OwnerID, true) {
			return nil, models.NewValidationError("Image uploads are currently disabled")
		}
		prepared, err := storage.PrepareImage(in.Image, s.maxImageBytes)
		if err != nil {
			return nil, err
		}
		if s.objects == nil {
			return nil, models.NewStorageWriteError(nil)
		}
		imageURL, err = storage.StoreImage(ctx, s.objects, prepared)
		if err != nil {
			span.SetError(err)
			return nil, models.NewStorageWriteError(err)
		}
	}

	item := &models.Item{
		Type:         strings.ToLower(strings.TrimSpace(in.Type)),
		Title:        strings.TrimSpace(in.Title),
		Description:  strings.TrimSpace(in.Description),
		Location:     strings.TrimSpace(in.Location),
		ImageURL:     imageURL,
		ContactName:  strings.TrimSpace(in.ContactName),
		ContactPhone: strings.TrimSpace(in.ContactPhone),
		OwnerID:      in.OwnerID,
	}
	if err := s.items.Create(ctx, item); err != nil {
		span.SetError(err)
		if imageURL != "" {
			middleware.Logger.WarnContext(ctx, "item write failed; stored image left orphaned",
				slog.String("image_url", imageURL),
				slog.String("error", err.Error()),
			)
		}
		return nil, err
	}

	observability.RecordItemPosted(item.Type)
	return item, nil
}

// DeleteItem removes the item if requestingUserID owns it, then tells its
// discussion watchers.
func (s *ItemService) DeleteItem(ctx context.Context, itemID, requestingUserID uint) error {
	span, ctx := observability.StartItemSpan(ctx, "ItemService.DeleteItem", itemID)
	defer span.End()

	if requestingUserID == 0 {
		return models.NewUnauthorizedError("Sign in to delete an item")
	}
	if err := s.items.DeleteOwned(ctx, itemID, requestingUserID); err != nil {
		span.SetError(err)
		return err
	}
	observability.ItemsDeleted.Inc()

	if s.events != nil {
		event := models.ItemEvent{Type: models.EventItemDeleted, ItemID: itemID}
		if err := s.events.Publish(ctx, event); err != nil {
			middleware.Logger.WarnContext(ctx, "failed to publish item deletion",
				slog.Uint64("item_id", uint64(itemID)),
				slog.String("error", err.Error()),
			)
		}
	}
	return nil
}

func validateNewItem(in models.NewItem) error {
	if !models.IsValidItemType(strings.ToLower(strings.TrimSpace(in.Type))) {
		return models.NewValidationError("Type must be lost or found")
	}
	fields := []struct {
		name  string
		value string
		max   int
	}{
		{"Title", in.Title, maxTitleLen},
		{"Description", in.Description, maxDescriptionLen},
		{"Location", in.Location, maxLocationLen},
		{"Contact name", in.ContactName, maxContactNameLen},
		{"Contact phone", in.ContactPhone, maxContactPhoneLen},
	}
	for _, f := range fields {
		if err := validation.RequireText(f.name, f.value, f.max); err != nil {
			return models.NewValidationError(err.Error())
		}
	}
	return nil
}
