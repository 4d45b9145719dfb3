package api

import (
	"github.com/gofiber/fiber/v2"
	"github.com/ski11z/autoboom/pkg/errors"
)

// Response is the JSON envelope of every endpoint.
type Response struct {
	Success bool       `json:"success"`
	Data    any        `json:"data,omitempty"`
	Error   *ErrorInfo `json:"error,omitempty"`
}

// ErrorInfo describes a failed request.
type ErrorInfo struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Error codes.
const (
	ErrCodeBadRequest    = "BAD_REQUEST"
	ErrCodeNotFound      = "NOT_FOUND"
	ErrCodeConflict      = "CONFLICT"
	ErrCodePrecondition  = "PRECONDITION_FAILED"
	ErrCodeInternalError = "INTERNAL_ERROR"
)

func success(c *fiber.Ctx, data any) error {
	return c.Status(fiber.StatusOK).JSON(Response{Success: true, Data: data})
}

func accepted(c *fiber.Ctx, data any) error {
	return c.Status(fiber.StatusAccepted).JSON(Response{Success: true, Data: data})
}

func errorResponse(c *fiber.Ctx, status int, code, message string) error {
	return c.Status(status).JSON(Response{
		Success: false,
		Error:   &ErrorInfo{Code: code, Message: message},
	})
}

// fromError maps the orchestrator's error classes onto HTTP statuses.
// Precondition messages are passed through verbatim.
func fromError(c *fiber.Ctx, err error) error {
	switch {
	case errors.IsPrecondition(err):
		return errorResponse(c, fiber.StatusUnprocessableEntity, ErrCodePrecondition, err.Error())
	case errors.Is(err, errors.ErrAlreadyRunning):
		return errorResponse(c, fiber.StatusConflict, ErrCodeConflict, err.Error())
	case errors.Is(err, errors.ErrNotActive):
		return errorResponse(c, fiber.StatusConflict, ErrCodeConflict, err.Error())
	case errors.Is(err, errors.ErrNotFound):
		return errorResponse(c, fiber.StatusNotFound, ErrCodeNotFound, err.Error())
	}
	return errorResponse(c, fiber.StatusInternalServerError, ErrCodeInternalError, "Internal server error")
}

// errorHandler renders errors that escape a handler, such as unknown routes.
func errorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	errCode := ErrCodeInternalError
	message := "Internal server error"

	var fe *fiber.Error
	if errors.As(err, &fe) {
		code = fe.Code
		message = fe.Message
		switch code {
		case fiber.StatusBadRequest:
			errCode = ErrCodeBadRequest
		case fiber.StatusNotFound:
			errCode = ErrCodeNotFound
		case fiber.StatusConflict:
			errCode = ErrCodeConflict
		}
	}
	return errorResponse(c, code, errCode, message)
}
