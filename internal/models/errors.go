package models

import (
	"errors"
	"fmt"

	"github.com/gofiber/fiber/v2"
)

// Error codes shared by the API, the service layer and remote clients.
const (
	CodeValidation   = "VALIDATION_ERROR"
	CodeUnauthorized = "UNAUTHORIZED"
	CodeNotFound     = "NOT_FOUND"
	CodeUnavailable  = "UNAVAILABLE"
	CodeEmptyMessage = "EMPTY_MESSAGE"
	CodeStorageWrite = "STORAGE_WRITE_ERROR"
	CodeInternal     = "INTERNAL_ERROR"
)

// ErrorResponse is the JSON body of every failed request.
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Details string `json:"details,omitempty"`
}

// AppError is a failure with a code from the list above. Message is safe to
// show users; Err is the underlying cause, if any.
type AppError struct {
	Code    string
	Message string
	Err     error
}

func (e *AppError) Error() string {
	if e.Err == nil {
		return e.Message
	}
	return e.Message + ": " + e.Err.Error()
}

func (e *AppError) Unwrap() error { return e.Err }

// NewNotFoundError reports that resource id does not exist.
func NewNotFoundError(resource string, id any) *AppError {
	return &AppError{Code: CodeNotFound, Message: fmt.Sprintf("%s with ID %v not found", resource, id)}
}

func NewValidationError(message string) *AppError {
	return &AppError{Code: CodeValidation, Message: message}
}

func NewUnauthorizedError(message string) *AppError {
	return &AppError{Code: CodeUnauthorized, Message: message}
}

// NewUnavailableError marks a transient connectivity failure. Callers may retry.
func NewUnavailableError(err error) *AppError {
	return &AppError{Code: CodeUnavailable, Message: "Service temporarily unavailable", Err: err}
}

func NewEmptyMessageError() *AppError {
	return &AppError{Code: CodeEmptyMessage, Message: "Message text must not be empty"}
}

func NewStorageWriteError(err error) *AppError {
	return &AppError{Code: CodeStorageWrite, Message: "Failed to persist record", Err: err}
}

func NewInternalError(err error) *AppError {
	return &AppError{Code: CodeInternal, Message: "Internal server error", Err: err}
}

// CodeOf returns the code of the AppError wrapped by err, or "".
func CodeOf(err error) string {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return ""
}

// HasCode reports whether err wraps an AppError with the given code.
func HasCode(err error, code string) bool {
	return err != nil && CodeOf(err) == code
}

// IsRetryable reports whether the failure is transient.
func IsRetryable(err error) bool {
	return HasCode(err, CodeUnavailable)
}

var statusByCode = map[string]int{
	CodeValidation:   fiber.StatusBadRequest,
	CodeEmptyMessage: fiber.StatusBadRequest,
	CodeUnauthorized: fiber.StatusForbidden,
	CodeNotFound:     fiber.StatusNotFound,
	CodeUnavailable:  fiber.StatusServiceUnavailable,
}

// StatusFor maps an error to the HTTP status the API answers with. Missing
// credentials are answered 401 by the auth middleware before this applies.
func StatusFor(err error) int {
	if status, ok := statusByCode[CodeOf(err)]; ok {
		return status
	}
	return fiber.StatusInternalServerError
}

// RespondWithError writes err as an ErrorResponse with the given status.
// Causes of internal and storage failures are logged, never returned.
func RespondWithError(c *fiber.Ctx, status int, err error) error {
	var appErr *AppError
	if !errors.As(err, &appErr) {
		return c.Status(status).JSON(ErrorResponse{Error: err.Error()})
	}
	body := ErrorResponse{Error: appErr.Message, Code: appErr.Code}
	if appErr.Err != nil && appErr.Code != CodeInternal && appErr.Code != CodeStorageWrite {
		body.Details = appErr.Err.Error()
	}
	return c.Status(status).JSON(body)
}
