// Package activities implements the Temporal activities of the production engine.
package activities

import (
	"context"
	"errors"
	"time"

	"go.temporal.io/sdk/temporal"

	"github.com/atelier-platform/production-engine/internal/domain"
	"github.com/atelier-platform/production-engine/internal/workflows"
	"github.com/atelier-platform/production-engine/pkg/logging"
	"github.com/atelier-platform/production-engine/pkg/metrics"
)

// ReservationSweeper is the part of the reservation service the sweep drives
type ReservationSweeper interface {
	FindExpired(ctx context.Context, limit int) ([]string, error)
	ReleaseExpired(ctx context.Context, reservationID string) (bool, error)
}

// SweepActivities contains the reservation expiry activities
type SweepActivities struct {
	reservations ReservationSweeper
	metrics      *metrics.Metrics
	logger       *logging.Logger
}

// NewSweepActivities creates the sweep activities
func NewSweepActivities(reservations ReservationSweeper, m *metrics.Metrics, logger *logging.Logger) *SweepActivities {
	return &SweepActivities{
		reservations: reservations,
		metrics:      m,
		logger:       logger.WithComponent("expiry-sweep"),
	}
}

func (a *SweepActivities) observe(ctx context.Context, name string, start time.Time, err error) {
	duration := time.Since(start)
	a.metrics.RecordActivityCompleted(name, err == nil, duration)
	a.logger.ActivityComplete(ctx, name, duration, err == nil)
}

// FindExpiredReservations lists ids of reservations past their expiry
func (a *SweepActivities) FindExpiredReservations(ctx context.Context, input workflows.FindExpiredInput) (ids []string, err error) {
	defer func(start time.Time) { a.observe(ctx, workflows.ActivityFindExpiredReservations, start, err) }(time.Now())

	ids, err = a.reservations.FindExpired(ctx, input.Limit)
	if err != nil {
		return nil, classify(err)
	}
	if len(ids) > 0 {
		a.logger.Info("Found expired reservations", "count", len(ids), "limit", input.Limit)
	}
	return ids, nil
}

// ReleaseExpiredReservation releases one expired reservation. Releasing a
// reservation that is no longer expired is a no-op reported as not released.
func (a *SweepActivities) ReleaseExpiredReservation(ctx context.Context, reservationID string) (result *workflows.ReleaseExpiredResult, err error) {
	defer func(start time.Time) { a.observe(ctx, workflows.ActivityReleaseExpiredReservation, start, err) }(time.Now())

	released, err := a.reservations.ReleaseExpired(ctx, reservationID)
	if err != nil {
		a.logger.WithError(err).Warn("Failed to release expired reservation", "reservationId", reservationID)
		return nil, classify(err)
	}
	return &workflows.ReleaseExpiredResult{ReservationID: reservationID, Released: released}, nil
}

// classify marks errors a retry cannot fix as non-retryable
func classify(err error) error {
	switch {
	case errors.Is(err, domain.ErrReservationNotFound), errors.Is(err, domain.ErrMaterialNotFound):
		return temporal.NewNonRetryableApplicationError(err.Error(), workflows.ErrTypeNotFound, err)
	case errors.Is(err, domain.ErrInvalidTransition):
		return temporal.NewNonRetryableApplicationError(err.Error(), workflows.ErrTypeInvalidTransition, err)
	case errors.Is(err, domain.ErrInvariantViolation):
		return temporal.NewNonRetryableApplicationError(err.Error(), workflows.ErrTypeInvariant, err)
	}
	return err
}
