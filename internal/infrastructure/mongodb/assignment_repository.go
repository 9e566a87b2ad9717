package mongodb

import (
	"context"
	"errors"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/atelier-platform/production-engine/internal/domain"
	pkgmongo "github.com/atelier-platform/production-engine/pkg/mongodb"
)

// AssignmentRepository is the worker/stage qualification index
type AssignmentRepository struct {
	collection *pkgmongo.InstrumentedCollection
}

// NewAssignmentRepository creates the assignment repository
func NewAssignmentRepository(client *pkgmongo.InstrumentedClient) *AssignmentRepository {
	return &AssignmentRepository{collection: client.Collection(CollectionAssignments)}
}

func (r *AssignmentRepository) indexes() []mongo.IndexModel {
	return []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "workerId", Value: 1}, {Key: "stageId", Value: 1}},
			Options: options.Index().SetUnique(true).SetName("idx_worker_stage_unique"),
		},
		{Keys: bson.D{{Key: "stageId", Value: 1}, {Key: "availabilityStatus", Value: 1}}},
	}
}

func assignmentFilter(workerID, stageID string) bson.M {
	return bson.M{"workerId": workerID, "stageId": stageID}
}

// FindByStage lists every worker qualified for a stage, sorted by worker
func (r *AssignmentRepository) FindByStage(ctx context.Context, stageID string) ([]*domain.WorkerStageAssignment, error) {
	out := make([]*domain.WorkerStageAssignment, 0)
	opts := options.Find().SetSort(bson.D{{Key: "workerId", Value: 1}})
	if err := r.collection.FindAll(ctx, bson.M{"stageId": stageID}, &out, opts); err != nil {
		return nil, fmt.Errorf("failed to find assignments by stage: %w", err)
	}
	return out, nil
}

// FindByWorker lists the stages a worker is qualified for
func (r *AssignmentRepository) FindByWorker(ctx context.Context, workerID string) ([]*domain.WorkerStageAssignment, error) {
	out := make([]*domain.WorkerStageAssignment, 0)
	opts := options.Find().SetSort(bson.D{{Key: "stageId", Value: 1}})
	if err := r.collection.FindAll(ctx, bson.M{"workerId": workerID}, &out, opts); err != nil {
		return nil, fmt.Errorf("failed to find assignments by worker: %w", err)
	}
	return out, nil
}

// Find loads one assignment
func (r *AssignmentRepository) Find(ctx context.Context, workerID, stageID string) (*domain.WorkerStageAssignment, error) {
	var a domain.WorkerStageAssignment
	if err := r.collection.FindOneInto(ctx, assignmentFilter(workerID, stageID), &a); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, fmt.Errorf("%w: %s at %s", domain.ErrWorkerNotFound, workerID, stageID)
		}
		return nil, fmt.Errorf("failed to find assignment: %w", err)
	}
	return &a, nil
}

// Save writes an assignment whose version TakeTask or ReleaseTask already
// bumped, so the stored row must be exactly one behind
func (r *AssignmentRepository) Save(ctx context.Context, a *domain.WorkerStageAssignment) error {
	filter := assignmentFilter(a.WorkerID, a.StageID)
	filter["version"] = a.Version - 1

	res, err := r.collection.ReplaceOne(ctx, filter, a)
	if err != nil {
		return fmt.Errorf("failed to save assignment: %w", err)
	}
	if res.MatchedCount == 0 {
		if _, err := r.Find(ctx, a.WorkerID, a.StageID); err != nil {
			return err
		}
		return fmt.Errorf("%w: assignment %s at %s", domain.ErrConcurrentModification, a.WorkerID, a.StageID)
	}
	return nil
}

// Upsert writes an assignment unconditionally
func (r *AssignmentRepository) Upsert(ctx context.Context, a *domain.WorkerStageAssignment) error {
	opts := options.Replace().SetUpsert(true)
	if _, err := r.collection.ReplaceOne(ctx, assignmentFilter(a.WorkerID, a.StageID), a, opts); err != nil {
		return fmt.Errorf("failed to upsert assignment: %w", err)
	}
	return nil
}

// UpdateEfficiencyRating sets the rating on every stage the worker covers
func (r *AssignmentRepository) UpdateEfficiencyRating(ctx context.Context, workerID string, rating float64) error {
	update := bson.M{
		"$set": bson.M{"efficiencyRating": rating},
		"$inc": bson.M{"version": 1},
	}
	if _, err := r.collection.UpdateMany(ctx, bson.M{"workerId": workerID}, update); err != nil {
		return fmt.Errorf("failed to update efficiency rating: %w", err)
	}
	return nil
}
