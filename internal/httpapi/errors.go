package httpapi

import (
	"context"
	"errors"
	"net/http"

	"github.com/safar/game-store/internal/auth"
	"github.com/safar/game-store/internal/checkout"
	"github.com/safar/game-store/internal/database"
	"github.com/safar/game-store/internal/logger"
	"github.com/safar/game-store/internal/models"
	"github.com/safar/game-store/internal/store"
)

type Code string

const (
	CodeValidation         Code = "VALIDATION_ERROR"
	CodeUnauthorized       Code = "UNAUTHORIZED"
	CodeForbidden          Code = "FORBIDDEN"
	CodeNotFound           Code = "NOT_FOUND"
	CodeConflict           Code = "CONFLICT"
	CodeStateConflict      Code = "STATE_CONFLICT"
	CodeIdempotency        Code = "IDEMPOTENCY_KEY_REUSED"
	CodeEmptyCart          Code = "EMPTY_CART"
	CodeGameNotFound       Code = "GAME_NOT_FOUND"
	CodeInsufficientStock  Code = "INSUFFICIENT_STOCK"
	CodeStorageUnavailable Code = "STORAGE_UNAVAILABLE"
	CodeInternal           Code = "INTERNAL_ERROR"
)

// apiError is an error that already knows how it should be rendered.
type apiError struct {
	status  int
	code    Code
	message string
	details any
	cause   error
}

func (e *apiError) Error() string {
	if e.cause != nil {
		return e.message + ": " + e.cause.Error()
	}
	return e.message
}

func (e *apiError) Unwrap() error {
	return e.cause
}

func newError(status int, code Code, message string) *apiError {
	return &apiError{status: status, code: code, message: message}
}

func (e *apiError) withDetails(details any) *apiError {
	e.details = details
	return e
}

func (e *apiError) withCause(err error) *apiError {
	e.cause = err
	return e
}

func validationError(message string, details any) *apiError {
	return newError(http.StatusBadRequest, CodeValidation, message).withDetails(details)
}

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

type errorEnvelope struct {
	Error errorBody `json:"error"`
}

// toAPIError maps domain errors onto HTTP status codes and stable error
// codes. Anything unrecognised is a 500 with a generic message.
func toAPIError(err error) *apiError {
	var apiErr *apiError
	if errors.As(err, &apiErr) {
		return apiErr
	}

	switch {
	case errors.Is(err, checkout.ErrEmptyCart):
		return newError(http.StatusBadRequest, CodeEmptyCart, "cart is empty").withCause(err)
	case errors.Is(err, checkout.ErrGameNotFound):
		e := newError(http.StatusNotFound, CodeGameNotFound, "game not found").withCause(err)
		if id, ok := checkout.GameIDOf(err); ok {
			e.details = map[string]any{"game_id": id}
		}
		return e
	case errors.Is(err, checkout.ErrInsufficientStock):
		e := newError(http.StatusConflict, CodeInsufficientStock, "insufficient stock").withCause(err)
		if id, ok := checkout.GameIDOf(err); ok {
			e.details = map[string]any{"game_id": id}
		}
		return e
	case errors.Is(err, checkout.ErrStorageUnavailable):
		return newError(http.StatusServiceUnavailable, CodeStorageUnavailable, "storage temporarily unavailable, retry later").withCause(err)

	case errors.Is(err, auth.ErrInvalidCredentials):
		return newError(http.StatusUnauthorized, CodeUnauthorized, "invalid credentials").withCause(err)
	case errors.Is(err, auth.ErrUnauthorized):
		return newError(http.StatusUnauthorized, CodeUnauthorized, "authentication required").withCause(err)
	case errors.Is(err, auth.ErrRoleNotAllowed):
		return newError(http.StatusForbidden, CodeForbidden, "role not allowed").withCause(err)

	case errors.Is(err, database.ErrUserExists):
		return newError(http.StatusConflict, CodeConflict, "username already exists").withCause(err)
	case errors.Is(err, database.ErrEmailExists):
		return newError(http.StatusConflict, CodeConflict, "email already exists").withCause(err)
	case errors.Is(err, database.ErrUserNotFound):
		return newError(http.StatusNotFound, CodeNotFound, "user not found").withCause(err)
	case errors.Is(err, database.ErrGameNotFound):
		return newError(http.StatusNotFound, CodeGameNotFound, "game not found").withCause(err)
	case errors.Is(err, database.ErrOrderNotFound):
		return newError(http.StatusNotFound, CodeNotFound, "order not found").withCause(err)
	case errors.Is(err, database.ErrCartItemNotFound):
		return newError(http.StatusNotFound, CodeNotFound, "item not found in cart").withCause(err)
	case errors.Is(err, database.ErrCartQuantityLimit):
		return newError(http.StatusConflict, CodeConflict, "cart line quantity limit exceeded").
			withDetails(map[string]any{"max_quantity": models.MaxCartQuantity}).withCause(err)
	case errors.Is(err, database.ErrOptimisticLockFailed):
		return newError(http.StatusConflict, CodeConflict, "inventory was modified concurrently, reload and retry").withCause(err)
	case errors.Is(err, database.ErrInvalidTransition):
		return newError(http.StatusUnprocessableEntity, CodeStateConflict, "order status transition not allowed").withCause(err)
	case errors.Is(err, database.ErrInsufficientStock):
		return newError(http.StatusConflict, CodeInsufficientStock, "insufficient stock").withCause(err)
	case errors.Is(err, store.ErrInvalidCursor):
		return newError(http.StatusBadRequest, CodeValidation, "invalid cursor").withCause(err)

	case database.IsStorageUnavailable(err):
		return newError(http.StatusServiceUnavailable, CodeStorageUnavailable, "storage temporarily unavailable, retry later").withCause(err)
	}

	return newError(http.StatusInternalServerError, CodeInternal, "internal server error").withCause(err)
}

func writeError(ctx context.Context, log *logger.Logger, w http.ResponseWriter, err error) {
	if err == nil {
		err = errors.New("unknown error")
	}
	apiErr := toAPIError(err)

	if log != nil {
		ctx = log.WithFields(ctx, map[string]any{
			"error_code": string(apiErr.code),
			"status":     apiErr.status,
		})
		if apiErr.status >= http.StatusInternalServerError {
			log.Error(ctx, "request.error", err)
		} else {
			log.Debug(log.WithField(ctx, "error", err.Error()), "request.rejected")
		}
	}

	if apiErr.status == http.StatusServiceUnavailable {
		w.Header().Set("Retry-After", "1")
	}

	writeJSON(w, apiErr.status, errorEnvelope{Error: errorBody{
		Code:    string(apiErr.code),
		Message: apiErr.message,
		Details: apiErr.details,
	}})
}
