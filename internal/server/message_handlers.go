package server

import (
	"tracehub/internal/models"

	"github.com/gofiber/fiber/v2"
)

// GetMessages handles GET /api/items/:id/messages
// @Summary Discussion history
// @Description Messages in order. Pass after to fetch only newer ones.
// @Tags discussions
// @Produce json
// @Param id path int true "Item ID"
// @Param after query int false "Return messages with seq greater than this"
// @Success 200 {array} models.Message
// @Failure 503 {object} models.ErrorResponse
// @Router /items/{id}/messages [get]
func (s *Server) GetMessages(c *fiber.Ctx) error {
	id, err := parseID(c, "id")
	if err != nil {
		return nil
	}
	after := c.QueryInt("after", 0)
	if after < 0 {
		return models.RespondWithError(c, fiber.StatusBadRequest,
			models.NewValidationError("after must not be negative"))
	}

	msgs, err := s.discussionService.Messages(c.UserContext(), id, uint64(after))
	if err != nil {
		return respond(c, err)
	}
	return c.JSON(msgs)
}

// PostMessage handles POST /api/items/:id/messages
// @Summary Post to a discussion
// @Description Append a message to an item's discussion. Everyone watching receives it.
// @Tags discussions
// @Security BearerAuth
// @Accept json
// @Produce json
// @Param id path int true "Item ID"
// @Param request body object{text=string} true "Message"
// @Success 201 {object} models.Message
// @Failure 400 {object} models.ErrorResponse
// @Failure 404 {object} models.ErrorResponse
// @Router /items/{id}/messages [post]
func (s *Server) PostMessage(c *fiber.Ctx) error {
	id, err := parseID(c, "id")
	if err != nil {
		return nil
	}
	var req struct {
		Text string `json:"text"`
	}
	if err := c.BodyParser(&req); err != nil {
		return models.RespondWithError(c, fiber.StatusBadRequest,
			models.NewValidationError("Invalid request body"))
	}

	author := currentIdentity(c)
	if author.Email == "" {
		user, err := s.authService.User(c.UserContext(), author.ID)
		if err != nil {
			return respond(c, err)
		}
		author.Email = user.Email
	}

	msg, err := s.discussionService.PostMessage(c.UserContext(), id, author, req.Text)
	if err != nil {
		return respond(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(msg)
}
