package mongodb

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/atelier-platform/production-engine/internal/domain"
	pkgmongo "github.com/atelier-platform/production-engine/pkg/mongodb"
)

// ProgressRepository implements domain.ProgressRepository
type ProgressRepository struct {
	collection *pkgmongo.InstrumentedCollection
}

// NewProgressRepository creates the stage progress repository
func NewProgressRepository(client *pkgmongo.InstrumentedClient) *ProgressRepository {
	return &ProgressRepository{collection: client.Collection(CollectionStageProgress)}
}

func (r *ProgressRepository) indexes() []mongo.IndexModel {
	return []mongo.IndexModel{
		// one row per (order, stage)
		{
			Keys:    bson.D{{Key: "orderId", Value: 1}, {Key: "stageId", Value: 1}},
			Options: options.Index().SetUnique(true).SetName("idx_order_stage_unique"),
		},
		{Keys: bson.D{{Key: "workerId", Value: 1}, {Key: "assignedAt", Value: 1}}},
		{Keys: bson.D{{Key: "workerId", Value: 1}, {Key: "completedAt", Value: 1}}},
	}
}

// CreateAll inserts the rows of a new order
func (r *ProgressRepository) CreateAll(ctx context.Context, rows []*domain.OrderStageProgress) error {
	if len(rows) == 0 {
		return nil
	}
	docs := make([]interface{}, len(rows))
	for i, row := range rows {
		docs[i] = row
	}
	if _, err := r.collection.InsertMany(ctx, docs); err != nil {
		return fmt.Errorf("failed to create stage progress: %w", err)
	}
	return nil
}

// Save replaces a row when its version still matches and bumps it
func (r *ProgressRepository) Save(ctx context.Context, row *domain.OrderStageProgress) error {
	expected := row.Version
	row.Version++

	res, err := r.collection.ReplaceOne(ctx, bson.M{"_id": row.ProgressID, "version": expected}, row)
	if err != nil {
		row.Version = expected
		return fmt.Errorf("failed to save stage progress: %w", err)
	}
	if res.MatchedCount == 0 {
		row.Version = expected
		n, err := r.collection.CountDocuments(ctx, bson.M{"_id": row.ProgressID})
		if err != nil {
			return fmt.Errorf("failed to check stage progress: %w", err)
		}
		if n == 0 {
			return fmt.Errorf("%w: %s", domain.ErrProgressNotFound, row.ProgressID)
		}
		return fmt.Errorf("%w: stage progress %s", domain.ErrConcurrentModification, row.ProgressID)
	}
	return nil
}

// FindByOrder returns an order's rows in pipeline order
func (r *ProgressRepository) FindByOrder(ctx context.Context, orderID string) ([]*domain.OrderStageProgress, error) {
	rows := make([]*domain.OrderStageProgress, 0)
	opts := options.Find().SetSort(bson.D{{Key: "sequence", Value: 1}})
	if err := r.collection.FindAll(ctx, bson.M{"orderId": orderID}, &rows, opts); err != nil {
		return nil, fmt.Errorf("failed to find stage progress: %w", err)
	}
	return rows, nil
}

// FindByWorker returns rows the worker was assigned, completed or handed over
// for rework in [from, to)
func (r *ProgressRepository) FindByWorker(ctx context.Context, workerID string, from, to time.Time) ([]*domain.OrderStageProgress, error) {
	window := bson.M{"$gte": from, "$lt": to}
	filter := bson.M{
		"$or": bson.A{
			bson.M{"workerId": workerID, "assignedAt": window},
			bson.M{"workerId": workerID, "completedAt": window},
			bson.M{"previousWorkerId": workerID, "previousAssignedAt": window},
		},
	}
	rows := make([]*domain.OrderStageProgress, 0)
	if err := r.collection.FindAll(ctx, filter, &rows); err != nil {
		return nil, fmt.Errorf("failed to find worker progress: %w", err)
	}
	return rows, nil
}

// FindWorkersAssignedBetween lists workers with an assignment in [from, to),
// including workers who handed a stage over for rework, sorted
func (r *ProgressRepository) FindWorkersAssignedBetween(ctx context.Context, from, to time.Time) ([]string, error) {
	window := bson.M{"$gte": from, "$lt": to}
	assignedIn := func(field string) bson.M {
		return bson.M{"$and": bson.A{
			bson.M{"$gte": bson.A{field, from}},
			bson.M{"$lt": bson.A{field, to}},
		}}
	}
	pipeline := mongo.Pipeline{
		{{Key: "$match", Value: bson.M{"$or": bson.A{
			bson.M{"assignedAt": window},
			bson.M{"previousAssignedAt": window},
		}}}},
		{{Key: "$project", Value: bson.M{"workers": bson.A{
			bson.M{"$cond": bson.A{assignedIn("$assignedAt"), "$workerId", nil}},
			bson.M{"$cond": bson.A{assignedIn("$previousAssignedAt"), "$previousWorkerId", nil}},
		}}}},
		{{Key: "$unwind", Value: "$workers"}},
		{{Key: "$match", Value: bson.M{"workers": bson.M{"$nin": bson.A{nil, ""}}}}},
		{{Key: "$group", Value: bson.M{"_id": "$workers"}}},
		{{Key: "$sort", Value: bson.M{"_id": 1}}},
	}

	var groups []struct {
		WorkerID string `bson:"_id"`
	}
	if err := r.collection.AggregateAll(ctx, pipeline, &groups); err != nil {
		return nil, fmt.Errorf("failed to list assigned workers: %w", err)
	}

	workers := make([]string, len(groups))
	for i, g := range groups {
		workers[i] = g.WorkerID
	}
	return workers, nil
}
