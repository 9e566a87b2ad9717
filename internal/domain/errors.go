package domain

import (
	"errors"
	"fmt"
)

// Errors
var (
	ErrInsufficientStock      = errors.New("insufficient stock")
	ErrNoEligibleWorker       = errors.New("no eligible worker")
	ErrInvalidTransition      = errors.New("invalid transition")
	ErrReservationExpired     = errors.New("reservation has expired")
	ErrConcurrentModification = errors.New("concurrent modification")
	ErrInvariantViolation     = errors.New("invariant violation")

	ErrOrderNotFound       = errors.New("order not found")
	ErrStageNotFound       = errors.New("stage not found")
	ErrProgressNotFound    = errors.New("stage progress not found")
	ErrReservationNotFound = errors.New("reservation not found")
	ErrMaterialNotFound    = errors.New("material not found")
	ErrProductNotFound     = errors.New("product not found")
	ErrWorkerNotFound      = errors.New("worker assignment not found")
	ErrOrderExists         = errors.New("order already exists")

	ErrInvalidQuantity    = errors.New("quantity must be positive")
	ErrReasonRequired     = errors.New("reason is required")
	ErrWorkerNotQualified = errors.New("worker is not qualified for stage")
)

// InsufficientStockError names the material that could not be reserved
type InsufficientStockError struct {
	MaterialID string
	Required   float64
	Available  float64
	Shortfall  float64
}

// NewInsufficientStockError computes the shortfall from required and available
func NewInsufficientStockError(materialID string, required, available float64) *InsufficientStockError {
	return &InsufficientStockError{
		MaterialID: materialID,
		Required:   required,
		Available:  available,
		Shortfall:  RoundQuantity(required - available),
	}
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock for material %s: required %.4g, available %.4g, shortfall %.4g",
		e.MaterialID, e.Required, e.Available, e.Shortfall)
}

func (e *InsufficientStockError) Unwrap() error { return ErrInsufficientStock }

// TransitionError records a rejected state change
type TransitionError struct {
	Entity string
	From   string
	To     string
	Reason string
}

func (e *TransitionError) Error() string {
	msg := fmt.Sprintf("%s cannot move from %s to %s", e.Entity, e.From, e.To)
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	return msg
}

func (e *TransitionError) Unwrap() error { return ErrInvalidTransition }

func invalidTransition(entity string, from, to fmt.Stringer, reason string) error {
	return &TransitionError{Entity: entity, From: from.String(), To: to.String(), Reason: reason}
}
