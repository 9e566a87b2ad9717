package application

import (
	"errors"
	"fmt"

	pkgerrors "github.com/atelier-platform/production-engine/pkg/errors"

	"github.com/atelier-platform/production-engine/internal/domain"
)

// ToAppError maps domain failures onto API error codes. Errors that are
// already AppErrors pass through; anything unknown becomes an internal error.
func ToAppError(err error) *pkgerrors.AppError {
	if err == nil {
		return nil
	}
	if appErr, ok := pkgerrors.AsAppError(err); ok {
		return appErr
	}

	var stockErr *domain.InsufficientStockError
	if errors.As(err, &stockErr) {
		return pkgerrors.ErrInsufficientStock(stockErr.Error()).
			WithDetail("materialId", stockErr.MaterialID).
			WithDetail("required", formatQuantity(stockErr.Required)).
			WithDetail("available", formatQuantity(stockErr.Available)).
			WithDetail("shortfall", formatQuantity(stockErr.Shortfall)).
			Wrap(err)
	}

	switch {
	case errors.Is(err, domain.ErrInsufficientStock):
		return pkgerrors.ErrInsufficientStock(err.Error()).Wrap(err)
	case errors.Is(err, domain.ErrNoEligibleWorker), errors.Is(err, domain.ErrWorkerNotQualified):
		return pkgerrors.ErrNoEligibleWorker(err.Error()).Wrap(err)
	case errors.Is(err, domain.ErrInvalidTransition):
		return pkgerrors.ErrInvalidTransition(err.Error()).Wrap(err)
	case errors.Is(err, domain.ErrReservationExpired):
		return pkgerrors.ErrReservationExpired(err.Error()).Wrap(err)
	case errors.Is(err, domain.ErrConcurrentModification):
		return pkgerrors.ErrConcurrentModification(err.Error()).Wrap(err)
	case errors.Is(err, domain.ErrInvariantViolation):
		return pkgerrors.ErrInvariantViolation(err.Error()).Wrap(err)
	case errors.Is(err, domain.ErrReasonRequired), errors.Is(err, domain.ErrInvalidQuantity):
		return pkgerrors.ErrValidation(err.Error()).Wrap(err)
	case errors.Is(err, domain.ErrOrderExists):
		return pkgerrors.ErrConflict(err.Error()).Wrap(err)
	case errors.Is(err, domain.ErrOrderNotFound):
		return pkgerrors.ErrNotFound("order").Wrap(err)
	case errors.Is(err, domain.ErrStageNotFound), errors.Is(err, domain.ErrProgressNotFound):
		return pkgerrors.ErrNotFound("stage").Wrap(err)
	case errors.Is(err, domain.ErrReservationNotFound):
		return pkgerrors.ErrNotFound("reservation").Wrap(err)
	case errors.Is(err, domain.ErrMaterialNotFound):
		return pkgerrors.ErrNotFound("material").Wrap(err)
	case errors.Is(err, domain.ErrProductNotFound):
		return pkgerrors.ErrNotFound("product").Wrap(err)
	case errors.Is(err, domain.ErrWorkerNotFound):
		return pkgerrors.ErrNotFound("worker").Wrap(err)
	}
	return pkgerrors.ErrInternal("").Wrap(err)
}

func formatQuantity(q float64) string {
	return fmt.Sprintf("%.4f", q)
}

// isConcurrentModification is the retry predicate for optimistic write conflicts
func isConcurrentModification(err error) bool {
	return errors.Is(err, domain.ErrConcurrentModification)
}
