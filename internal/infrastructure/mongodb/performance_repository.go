package mongodb

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/atelier-platform/production-engine/internal/domain"
	pkgmongo "github.com/atelier-platform/production-engine/pkg/mongodb"
)

// PerformanceRepository stores rollups keyed by worker and period
type PerformanceRepository struct {
	collection *pkgmongo.InstrumentedCollection
}

// NewPerformanceRepository creates the rollup repository
func NewPerformanceRepository(client *pkgmongo.InstrumentedClient) *PerformanceRepository {
	return &PerformanceRepository{collection: client.Collection(CollectionPerformance)}
}

func (r *PerformanceRepository) indexes() []mongo.IndexModel {
	return []mongo.IndexModel{
		{
			Keys: bson.D{
				{Key: "workerId", Value: 1},
				{Key: "periodStart", Value: 1},
				{Key: "periodEnd", Value: 1},
			},
			Options: options.Index().SetUnique(true).SetName("idx_worker_period_unique"),
		},
	}
}

func periodFilter(workerID string, from, to time.Time) bson.M {
	return bson.M{"workerId": workerID, "periodStart": from, "periodEnd": to}
}

// Upsert replaces the rollup for the worker and period
func (r *PerformanceRepository) Upsert(ctx context.Context, perf *domain.WorkerPerformance) error {
	opts := options.Replace().SetUpsert(true)
	filter := periodFilter(perf.WorkerID, perf.PeriodStart, perf.PeriodEnd)
	if _, err := r.collection.ReplaceOne(ctx, filter, perf, opts); err != nil {
		return fmt.Errorf("failed to upsert worker performance: %w", err)
	}
	return nil
}

// Find loads a stored rollup
func (r *PerformanceRepository) Find(ctx context.Context, workerID string, from, to time.Time) (*domain.WorkerPerformance, error) {
	var perf domain.WorkerPerformance
	if err := r.collection.FindOneInto(ctx, periodFilter(workerID, from, to), &perf); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, fmt.Errorf("%w: no rollup for %s", domain.ErrWorkerNotFound, workerID)
		}
		return nil, fmt.Errorf("failed to find worker performance: %w", err)
	}
	return &perf, nil
}
