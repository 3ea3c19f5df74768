package models

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHasCode_Wrapped(t *testing.T) {
	err := fmt.Errorf("list items: %w", NewUnavailableError(errors.New("conn reset")))
	assert.True(t, HasCode(err, CodeUnavailable))
	assert.True(t, IsRetryable(err))
	assert.False(t, HasCode(err, CodeNotFound))
	assert.False(t, HasCode(errors.New("plain"), CodeNotFound))
	assert.False(t, HasCode(nil, ""))
	assert.Equal(t, CodeUnavailable, CodeOf(err))
	assert.Empty(t, CodeOf(errors.New("plain")))
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err    error
		status int
	}{
		{NewValidationError("bad"), fiber.StatusBadRequest},
		{NewEmptyMessageError(), fiber.StatusBadRequest},
		{NewUnauthorizedError("nope"), fiber.StatusForbidden},
		{NewNotFoundError("Item", 3), fiber.StatusNotFound},
		{NewUnavailableError(nil), fiber.StatusServiceUnavailable},
		{NewStorageWriteError(errors.New("disk")), fiber.StatusInternalServerError},
		{errors.New("plain"), fiber.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.err.Error(), func(t *testing.T) {
			assert.Equal(t, tt.status, StatusFor(tt.err))
		})
	}
}

func TestRespondWithError_HidesInternalDetails(t *testing.T) {
	app := fiber.New()
	app.Get("/internal", func(c *fiber.Ctx) error {
		return RespondWithError(c, fiber.StatusInternalServerError, NewInternalError(errors.New("pq: password authentication failed")))
	})
	app.Get("/unavailable", func(c *fiber.Ctx) error {
		return RespondWithError(c, fiber.StatusServiceUnavailable, NewUnavailableError(errors.New("dial tcp: refused")))
	})

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/internal", nil))
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	var out ErrorResponse
	require.NoError(t, json.Unmarshal(body, &out))
	assert.Equal(t, CodeInternal, out.Code)
	assert.Empty(t, out.Details)

	resp, err = app.Test(httptest.NewRequest(http.MethodGet, "/unavailable", nil))
	require.NoError(t, err)
	body, _ = io.ReadAll(resp.Body)
	require.NoError(t, json.Unmarshal(body, &out))
	assert.Equal(t, CodeUnavailable, out.Code)
	assert.Contains(t, out.Details, "refused")
}
