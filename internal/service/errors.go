package service

import (
	"errors"

	"github.com/vaidashi/marketplace-api/internal/repository"
	apperrors "github.com/vaidashi/marketplace-api/pkg/errors"
)

// storeError converts repository failures into API errors. notFound is the
// message used when the record is missing.
func storeError(err error, notFound string) error {
	var appErr *apperrors.AppError
	switch {
	case errors.As(err, &appErr):
		return err
	case errors.Is(err, repository.ErrNotFound):
		return apperrors.NewNotFoundError(notFound)
	case errors.Is(err, repository.ErrStaleState):
		return apperrors.NewConflictError("The record was modified by another request, please retry")
	default:
		return apperrors.NewInternalError("An unexpected error occurred")
	}
}

// outcome labels a result for metrics
func outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, apperrors.ErrNotFound):
		return "not_found"
	case errors.Is(err, apperrors.ErrForbidden):
		return "forbidden"
	case errors.Is(err, apperrors.ErrInvalidCode):
		return "invalid_code"
	case errors.Is(err, apperrors.ErrNotEligible):
		return "not_eligible"
	case errors.Is(err, apperrors.ErrConflict):
		return "conflict"
	default:
		return "error"
	}
}
