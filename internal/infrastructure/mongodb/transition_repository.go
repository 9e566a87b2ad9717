package mongodb

import (
	"context"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/atelier-platform/production-engine/internal/domain"
	pkgmongo "github.com/atelier-platform/production-engine/pkg/mongodb"
)

// TransitionRepository is the insert-only transition log
type TransitionRepository struct {
	collection *pkgmongo.InstrumentedCollection
}

// NewTransitionRepository creates the transition log
func NewTransitionRepository(client *pkgmongo.InstrumentedClient) *TransitionRepository {
	return &TransitionRepository{collection: client.Collection(CollectionTransitions)}
}

func (r *TransitionRepository) indexes() []mongo.IndexModel {
	return []mongo.IndexModel{
		{Keys: bson.D{{Key: "orderId", Value: 1}, {Key: "createdAt", Value: 1}}},
	}
}

// Append inserts transitions; there is no update or delete
func (r *TransitionRepository) Append(ctx context.Context, transitions ...*domain.StageTransition) error {
	if len(transitions) == 0 {
		return nil
	}
	docs := make([]interface{}, len(transitions))
	for i, t := range transitions {
		docs[i] = t
	}
	if _, err := r.collection.InsertMany(ctx, docs, options.InsertMany().SetOrdered(true)); err != nil {
		return fmt.Errorf("failed to append transitions: %w", err)
	}
	return nil
}

// FindByOrder returns the order's log in the order it was written
func (r *TransitionRepository) FindByOrder(ctx context.Context, orderID string) ([]*domain.StageTransition, error) {
	transitions := make([]*domain.StageTransition, 0)
	opts := options.Find().SetSort(bson.D{{Key: "createdAt", Value: 1}})
	if err := r.collection.FindAll(ctx, bson.M{"orderId": orderID}, &transitions, opts); err != nil {
		return nil, fmt.Errorf("failed to find transitions: %w", err)
	}
	return transitions, nil
}
