package application

import (
	"context"
	"fmt"
	"time"

	pkgerrors "github.com/atelier-platform/production-engine/pkg/errors"
	"github.com/atelier-platform/production-engine/pkg/logging"

	"github.com/atelier-platform/production-engine/internal/domain"
)

// PerformanceService rolls worker performance up from the stage progress log
type PerformanceService struct {
	repos   Repositories
	weights domain.PerformanceWeights
	logger  *logging.Logger
	clock   Clock
}

// NewPerformanceService creates a new PerformanceService
func NewPerformanceService(repos Repositories, weights domain.PerformanceWeights, logger *logging.Logger) *PerformanceService {
	return &PerformanceService{
		repos:   repos,
		weights: weights,
		logger:  logger.WithComponent("performance"),
		clock:   utcNow,
	}
}

// WithClock replaces the time source
func (s *PerformanceService) WithClock(clock Clock) *PerformanceService {
	s.clock = clock
	return s
}

func (s *PerformanceService) rollup(ctx context.Context, workerID string, from, to time.Time) (*domain.WorkerPerformance, error) {
	rows, err := s.repos.Progress.FindByWorker(ctx, workerID, from, to)
	if err != nil {
		return nil, fmt.Errorf("failed to load stage progress: %w", err)
	}
	perf := domain.ComputeWorkerPerformance(workerID, from, to, rows, s.weights, s.clock())
	if err := s.repos.Performance.Upsert(ctx, perf); err != nil {
		return nil, fmt.Errorf("failed to save performance: %w", err)
	}
	return perf, nil
}

// WorkerPerformance computes and stores one worker's rollup over [from, to)
func (s *PerformanceService) WorkerPerformance(ctx context.Context, query PerformanceQuery) (*WorkerPerformanceDTO, error) {
	if query.WorkerID == "" {
		return nil, pkgerrors.ErrValidation("worker id is required")
	}
	if !query.To.After(query.From) {
		return nil, pkgerrors.ErrValidation("period end must be after period start")
	}
	perf, err := s.rollup(ctx, query.WorkerID, query.From, query.To)
	if err != nil {
		s.logger.WithError(err).Error("Failed to compute worker performance", "workerId", query.WorkerID)
		return nil, err
	}
	return ToWorkerPerformanceDTO(perf), nil
}

// DayBounds returns the UTC day containing t as [start, end)
func DayBounds(t time.Time) (time.Time, time.Time) {
	t = t.UTC()
	start := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
	return start, start.AddDate(0, 0, 1)
}

// RollupDaily recomputes the rollup of every worker assigned during day.
// Rerunning it replaces the stored rollups.
func (s *PerformanceService) RollupDaily(ctx context.Context, day time.Time) ([]WorkerPerformanceDTO, error) {
	from, to := DayBounds(day)
	workers, err := s.repos.Progress.FindWorkersAssignedBetween(ctx, from, to)
	if err != nil {
		return nil, fmt.Errorf("failed to list workers: %w", err)
	}

	out := make([]WorkerPerformanceDTO, 0, len(workers))
	for _, workerID := range workers {
		perf, err := s.rollup(ctx, workerID, from, to)
		if err != nil {
			s.logger.WithError(err).Error("Failed to roll up worker", "workerId", workerID, "day", from.Format(time.DateOnly))
			return out, err
		}
		out = append(out, *ToWorkerPerformanceDTO(perf))
	}

	s.logger.Info("Rolled up worker performance", "day", from.Format(time.DateOnly), "workers", len(out))
	return out, nil
}

// RefreshEfficiencyRatings writes each worker's rolled-up efficiency over
// [from, to) back to the assignment index as the ranking multiplier. Workers
// without completed tasks keep their rating.
func (s *PerformanceService) RefreshEfficiencyRatings(ctx context.Context, from, to time.Time) (int, error) {
	workers, err := s.repos.Progress.FindWorkersAssignedBetween(ctx, from, to)
	if err != nil {
		return 0, fmt.Errorf("failed to list workers: %w", err)
	}

	updated := 0
	for _, workerID := range workers {
		rows, err := s.repos.Progress.FindByWorker(ctx, workerID, from, to)
		if err != nil {
			return updated, fmt.Errorf("failed to load stage progress: %w", err)
		}
		perf := domain.ComputeWorkerPerformance(workerID, from, to, rows, s.weights, s.clock())
		if perf.TasksCompleted == 0 {
			continue
		}
		if err := s.repos.Assignments.UpdateEfficiencyRating(ctx, workerID, perf.EfficiencyRating()); err != nil {
			return updated, fmt.Errorf("failed to update efficiency rating: %w", err)
		}
		updated++
	}

	s.logger.Info("Refreshed efficiency ratings", "workers", updated)
	return updated, nil
}
