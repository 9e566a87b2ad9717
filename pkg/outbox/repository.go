package outbox

import (
	"context"
	"time"
)

// Repository persists outbox events
type Repository interface {
	// SaveAll inserts events; ctx may carry a transaction session
	SaveAll(ctx context.Context, events []*OutboxEvent) error

	// FindUnpublished returns the oldest unpublished events that still have retries left
	FindUnpublished(ctx context.Context, limit int) ([]*OutboxEvent, error)

	MarkPublished(ctx context.Context, eventID string) error

	// IncrementRetry bumps the retry count and records the last error
	IncrementRetry(ctx context.Context, eventID string, errorMsg string) error

	// DeletePublished removes events published before cutoff
	DeletePublished(ctx context.Context, cutoff time.Time) (int64, error)

	FindByAggregateID(ctx context.Context, aggregateID string) ([]*OutboxEvent, error)
}
