package workflows

import (
	"fmt"
	"time"

	"go.temporal.io/sdk/workflow"
)

// ReservationExpirySweepInput configures one sweep run; zero values take defaults
type ReservationExpirySweepInput struct {
	BatchSize  int `json:"batchSize,omitempty"`
	MaxBatches int `json:"maxBatches,omitempty"`
}

// ReservationExpirySweepResult summarizes one sweep run
type ReservationExpirySweepResult struct {
	StartedAt time.Time `json:"startedAt"`
	Batches   int       `json:"batches"`
	Found     int       `json:"found"`
	Released  int       `json:"released"`
	// Skipped reservations were consumed, pinned or released before the sweep reached them
	Skipped int `json:"skipped"`
	Failed  int `json:"failed"`
}

// FindExpiredInput is the input of FindExpiredReservations
type FindExpiredInput struct {
	Limit int `json:"limit"`
}

// ReleaseExpiredResult is the outcome of ReleaseExpiredReservation
type ReleaseExpiredResult struct {
	ReservationID string `json:"reservationId"`
	Released      bool   `json:"released"`
}

// ReservationExpirySweepWorkflow releases reservations whose expiry has
// passed. It runs on a cron schedule; a reservation that fails to release is
// logged and counted, and the next run picks it up again.
func ReservationExpirySweepWorkflow(ctx workflow.Context, input ReservationExpirySweepInput) (*ReservationExpirySweepResult, error) {
	logger := workflow.GetLogger(ctx)

	batchSize := input.BatchSize
	if batchSize <= 0 {
		batchSize = DefaultSweepBatchSize
	}
	maxBatches := input.MaxBatches
	if maxBatches <= 0 {
		maxBatches = DefaultSweepMaxBatches
	}

	result := &ReservationExpirySweepResult{StartedAt: workflow.Now(ctx)}
	ctx = workflow.WithActivityOptions(ctx, SweepActivityOptions())

	logger.Info("Starting reservation expiry sweep", "batchSize", batchSize, "maxBatches", maxBatches)

	for result.Batches < maxBatches {
		var ids []string
		err := workflow.ExecuteActivity(ctx, ActivityFindExpiredReservations, FindExpiredInput{Limit: batchSize}).Get(ctx, &ids)
		if err != nil {
			logger.Error("Failed to find expired reservations", "error", err)
			return result, fmt.Errorf("failed to find expired reservations: %w", err)
		}
		result.Batches++
		result.Found += len(ids)

		released := 0
		for _, id := range ids {
			var out ReleaseExpiredResult
			if err := workflow.ExecuteActivity(ctx, ActivityReleaseExpiredReservation, id).Get(ctx, &out); err != nil {
				logger.Warn("Failed to release expired reservation", "reservationId", id, "error", err)
				result.Failed++
				continue
			}
			if out.Released {
				released++
			} else {
				result.Skipped++
			}
		}
		result.Released += released

		// a short batch drained the backlog; a batch with no progress would
		// only see the same failing rows again
		if len(ids) < batchSize || released == 0 {
			break
		}
	}

	logger.Info("Reservation expiry sweep completed",
		"batches", result.Batches,
		"found", result.Found,
		"released", result.Released,
		"skipped", result.Skipped,
		"failed", result.Failed,
	)
	return result, nil
}
