package server

import (
	"io"
	"strings"

	"tracehub/internal/featureflags"
	"tracehub/internal/feed"
	"tracehub/internal/models"

	"github.com/gofiber/fiber/v2"
)

// GetItems handles GET /api/items
// @Summary List items
// @Description Every live lost and found report, newest first
// @Tags items
// @Produce json
// @Param type query string false "lost or found"
// @Success 200 {array} models.Item
// @Failure 503 {object} models.ErrorResponse
// @Router /items [get]
func (s *Server) GetItems(c *fiber.Ctx) error {
	items, err := s.itemService.ListItems(c.UserContext())
	if err != nil {
		return respond(c, err)
	}

	t := strings.ToLower(c.Query("type"))
	if t != "" && t != string(feed.FilterAll) && !models.IsValidItemType(t) {
		return models.RespondWithError(c, fiber.StatusBadRequest,
			models.NewValidationError("Type must be all, lost or found"))
	}
	items = feed.Apply(items, feed.ParseFilter(t))
	return c.JSON(items)
}

// GetItem handles GET /api/items/:id
// @Summary Get item
// @Tags items
// @Produce json
// @Param id path int true "Item ID"
// @Success 200 {object} models.Item
// @Failure 404 {object} models.ErrorResponse
// @Router /items/{id} [get]
func (s *Server) GetItem(c *fiber.Ctx) error {
	id, err := parseID(c, "id")
	if err != nil {
		return nil
	}
	item, err := s.itemService.GetItem(c.UserContext(), id)
	if err != nil {
		return respond(c, err)
	}
	return c.JSON(item)
}

// CreateItem handles POST /api/items
// @Summary Post item
// @Description Report a lost or found item. Send JSON, or multipart form fields plus an optional "image" file.
// @Tags items
// @Security BearerAuth
// @Accept json
// @Accept mpfd
// @Produce json
// @Param image formData file false "Item photo"
// @Success 201 {object} models.Item
// @Failure 400 {object} models.ErrorResponse
// @Failure 500 {object} models.ErrorResponse
// @Router /items [post]
func (s *Server) CreateItem(c *fiber.Ctx) error {
	var in models.NewItem

	if strings.HasPrefix(c.Get(fiber.HeaderContentType), fiber.MIMEMultipartForm) {
		in = models.NewItem{
			Type:         c.FormValue("type"),
			Title:        c.FormValue("title"),
			Description:  c.FormValue("description"),
			Location:     c.FormValue("location"),
			ContactName:  c.FormValue("contact_name"),
			ContactPhone: c.FormValue("contact_phone"),
		}
		upload, err := readImage(c)
		if err != nil {
			return respond(c, err)
		}
		in.Image = upload
	} else if err := c.BodyParser(&in); err != nil {
		return models.RespondWithError(c, fiber.StatusBadRequest,
			models.NewValidationError("Invalid request body"))
	}

	in.OwnerID = currentIdentity(c).ID
	item, err := s.itemService.CreateItem(c.UserContext(), in)
	if err != nil {
		return respond(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(item)
}

// readImage returns the optional "image" part of a multipart form.
func readImage(c *fiber.Ctx) (*models.ImageUpload, error) {
	file, err := c.FormFile("image")
	if err != nil {
		// no file part
		return nil, nil
	}
	src, err := file.Open()
	if err != nil {
		return nil, models.NewValidationError("Failed to read image")
	}
	defer func() { _ = src.Close() }()

	content, err := io.ReadAll(src)
	if err != nil {
		return nil, models.NewValidationError("Failed to read image")
	}
	return &models.ImageUpload{
		Filename:    file.Filename,
		ContentType: file.Header.Get(fiber.HeaderContentType),
		Content:     content,
	}, nil
}

// DeleteItem handles DELETE /api/items/:id
// @Summary Delete item
// @Description Only the item's owner may delete it
// @Tags items
// @Security BearerAuth
// @Param id path int true "Item ID"
// @Success 200 {object} object{message=string}
// @Failure 403 {object} models.ErrorResponse
// @Failure 404 {object} models.ErrorResponse
// @Router /items/{id} [delete]
func (s *Server) DeleteItem(c *fiber.Ctx) error {
	id, err := parseID(c, "id")
	if err != nil {
		return nil
	}
	if err := s.itemService.DeleteItem(c.UserContext(), id, currentIdentity(c).ID); err != nil {
		return respond(c, err)
	}
	return c.JSON(fiber.Map{"message": "Item deleted"})
}

// GetFeatureFlags handles GET /api/feature-flags
// @Summary Feature flags
// @Description Flags as they apply to the caller
// @Tags config
// @Security BearerAuth
// @Produce json
// @Success 200 {object} map[string]bool
// @Router /feature-flags [get]
func (s *Server) GetFeatureFlags(c *fiber.Ctx) error {
	userID := currentIdentity(c).ID
	flags := s.featureFlags.Snapshot(userID)
	// Both default on when unset.
	flags[featureflags.RealtimeDiscussions] = s.featureFlags.EnabledOr(featureflags.RealtimeDiscussions, userID, true)
	flags[featureflags.ImageUploads] = s.featureFlags.EnabledOr(featureflags.ImageUploads, userID, true)
	return c.JSON(flags)
}
