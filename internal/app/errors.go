package app

import (
	"database/sql"
	"errors"
	"fmt"
	"net/http"

	"kanban/api/internal/auth"
	"kanban/api/internal/authpw"
	"kanban/api/internal/drag"
	"kanban/api/internal/export"
	"kanban/api/internal/media"
	"kanban/api/internal/reorder"
	"kanban/api/internal/store"
)

type DomainError struct {
	Status  int
	Code    string
	Message string
	Details any
}

func (e *DomainError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func domainError(status int, code, message string, details any) *DomainError {
	return &DomainError{
		Status:  status,
		Code:    code,
		Message: message,
		Details: details,
	}
}

func validationError(message string) *DomainError {
	return domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", message, nil)
}

func forbidden() *DomainError {
	return domainError(http.StatusForbidden, "FORBIDDEN", "Forbidden", nil)
}

func notFound(what string) *DomainError {
	return domainError(http.StatusNotFound, "NOT_FOUND", what+" not found", nil)
}

func mapError(err error) (status int, code, message string, details any) {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Status, domainErr.Code, domainErr.Message, domainErr.Details
	}
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return http.StatusNotFound, "NOT_FOUND", "Not found", nil
	case errors.Is(err, auth.ErrInvalidToken), errors.Is(err, auth.ErrExpiredToken):
		return http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil
	case errors.Is(err, store.ErrPositionConflict):
		return http.StatusConflict, "POSITION_CONFLICT", "The board changed, reload and try again", nil
	case errors.Is(err, reorder.ErrNotDense):
		return http.StatusConflict, "POSITIONS_CORRUPT", "Positions need repair", err.Error()
	case errors.Is(err, store.ErrLastOwner):
		return http.StatusConflict, "LAST_OWNER", "A workspace must keep at least one owner", nil
	case errors.Is(err, drag.ErrPayload), errors.Is(err, drag.ErrNoItem):
		return http.StatusBadRequest, "INVALID_DROP", err.Error(), nil
	case errors.Is(err, authpw.ErrInvalidInput):
		return http.StatusBadRequest, "INVALID_INPUT", err.Error(), nil
	case errors.Is(err, authpw.ErrEmailTaken):
		return http.StatusConflict, "EMAIL_EXISTS", "Email already registered", nil
	case errors.Is(err, authpw.ErrInvalidCredentials):
		return http.StatusUnauthorized, "INVALID_CREDENTIALS", "Invalid email or password", nil
	case errors.Is(err, authpw.ErrEmailNotVerified):
		return http.StatusForbidden, "EMAIL_NOT_VERIFIED", "Please verify your email before signing in", nil
	case errors.Is(err, authpw.ErrInvalidToken):
		return http.StatusBadRequest, "INVALID_TOKEN", "Invalid or expired token", nil
	case errors.Is(err, media.ErrTooLarge):
		return http.StatusRequestEntityTooLarge, "IMAGE_TOO_LARGE", err.Error(), nil
	case errors.Is(err, media.ErrUnsupportedType), errors.Is(err, media.ErrEmpty):
		return http.StatusUnsupportedMediaType, "UNSUPPORTED_IMAGE", err.Error(), nil
	case errors.Is(err, export.ErrUnsupportedFormat):
		return http.StatusBadRequest, "UNSUPPORTED_FORMAT", err.Error(), nil
	case errors.Is(err, export.ErrPDFDependencyMissing):
		return http.StatusServiceUnavailable, "PDF_UNAVAILABLE", "PDF export is not available on this server", nil
	}
	return http.StatusInternalServerError, "SERVER_ERROR", "Server error", nil
}
