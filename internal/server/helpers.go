package server

import (
	"errors"
	"strconv"

	"tracehub/internal/middleware"
	"tracehub/internal/models"

	"github.com/gofiber/fiber/v2"
)

// errResponseWritten is returned by helpers that already wrote an HTTP response.
var errResponseWritten = errors.New("response already written")

// parseID parses a positive integer route parameter, writing 400 on failure.
func parseID(c *fiber.Ctx, param string) (uint, error) {
	id, err := strconv.ParseUint(c.Params(param), 10, 32)
	if err != nil || id == 0 {
		_ = models.RespondWithError(c, fiber.StatusBadRequest,
			models.NewValidationError("Invalid ID"))
		return 0, errResponseWritten
	}
	return uint(id), nil
}

// respond writes err with the status its code maps to.
func respond(c *fiber.Ctx, err error) error {
	status := models.StatusFor(err)
	if status >= fiber.StatusInternalServerError {
		middleware.Logger.ErrorContext(c.UserContext(), "request error",
			"path", c.Path(), "error", err)
	}
	return models.RespondWithError(c, status, err)
}

// currentIdentity is the authenticated caller as set by AuthRequired.
func currentIdentity(c *fiber.Ctx) models.Identity {
	id, _ := c.Locals("userID").(uint)
	email, _ := c.Locals("userEmail").(string)
	return models.Identity{ID: id, Email: email}
}
