package mongodb

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	pkgmongo "github.com/atelier-platform/production-engine/pkg/mongodb"
	"github.com/atelier-platform/production-engine/pkg/outbox"
)

// CollectionName is the outbox collection
const CollectionName = "outbox_events"

// OutboxRepository implements outbox.Repository for MongoDB
type OutboxRepository struct {
	collection *pkgmongo.InstrumentedCollection
}

// NewOutboxRepository creates the repository; call EnsureIndexes at startup
func NewOutboxRepository(client *pkgmongo.InstrumentedClient) *OutboxRepository {
	return &OutboxRepository{collection: client.Collection(CollectionName)}
}

// SaveAll inserts events; inside a transaction ctx is the session context
func (r *OutboxRepository) SaveAll(ctx context.Context, events []*outbox.OutboxEvent) error {
	if len(events) == 0 {
		return nil
	}
	docs := make([]interface{}, len(events))
	for i, e := range events {
		docs[i] = e
	}
	if _, err := r.collection.InsertMany(ctx, docs); err != nil {
		return fmt.Errorf("failed to save outbox events: %w", err)
	}
	return nil
}

// FindUnpublished returns unpublished events with retries left, oldest first
func (r *OutboxRepository) FindUnpublished(ctx context.Context, limit int) ([]*outbox.OutboxEvent, error) {
	filter := bson.M{
		"publishedAt": bson.M{"$exists": false},
		"$expr":       bson.M{"$lt": bson.A{"$retryCount", "$maxRetries"}},
	}
	opts := options.Find().SetSort(bson.D{{Key: "createdAt", Value: 1}}).SetLimit(int64(limit))

	var events []*outbox.OutboxEvent
	if err := r.collection.FindAll(ctx, filter, &events, opts); err != nil {
		return nil, fmt.Errorf("failed to find unpublished events: %w", err)
	}
	return events, nil
}

// MarkPublished stamps publishedAt
func (r *OutboxRepository) MarkPublished(ctx context.Context, eventID string) error {
	res, err := r.collection.UpdateOne(ctx, bson.M{"_id": eventID}, bson.M{"$set": bson.M{"publishedAt": time.Now().UTC()}})
	if err != nil {
		return fmt.Errorf("failed to mark event as published: %w", err)
	}
	if res.MatchedCount == 0 {
		return fmt.Errorf("outbox event not found: %s", eventID)
	}
	return nil
}

// IncrementRetry bumps retryCount and records the error
func (r *OutboxRepository) IncrementRetry(ctx context.Context, eventID string, errorMsg string) error {
	update := bson.M{
		"$inc": bson.M{"retryCount": 1},
		"$set": bson.M{"lastError": errorMsg},
	}
	res, err := r.collection.UpdateOne(ctx, bson.M{"_id": eventID}, update)
	if err != nil {
		return fmt.Errorf("failed to increment retry count: %w", err)
	}
	if res.MatchedCount == 0 {
		return fmt.Errorf("outbox event not found: %s", eventID)
	}
	return nil
}

// DeletePublished removes events published before cutoff
func (r *OutboxRepository) DeletePublished(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := r.collection.DeleteMany(ctx, bson.M{"publishedAt": bson.M{"$exists": true, "$lt": cutoff}})
	if err != nil {
		return 0, fmt.Errorf("failed to delete published events: %w", err)
	}
	return res.DeletedCount, nil
}

// FindByAggregateID lists an aggregate's events in creation order
func (r *OutboxRepository) FindByAggregateID(ctx context.Context, aggregateID string) ([]*outbox.OutboxEvent, error) {
	var events []*outbox.OutboxEvent
	opts := options.Find().SetSort(bson.D{{Key: "createdAt", Value: 1}})
	if err := r.collection.FindAll(ctx, bson.M{"aggregateId": aggregateID}, &events, opts); err != nil {
		return nil, fmt.Errorf("failed to find events by aggregate: %w", err)
	}
	return events, nil
}

// EnsureIndexes creates the relay and lookup indexes. Published events expire after 7 days.
func (r *OutboxRepository) EnsureIndexes(ctx context.Context) error {
	indexes := []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "publishedAt", Value: 1}, {Key: "createdAt", Value: 1}},
			Options: options.Index().SetName("idx_publishedAt_createdAt"),
		},
		{
			Keys:    bson.D{{Key: "aggregateId", Value: 1}, {Key: "createdAt", Value: 1}},
			Options: options.Index().SetName("idx_aggregateId_createdAt"),
		},
		{
			Keys:    bson.D{{Key: "publishedAt", Value: 1}},
			Options: options.Index().SetName("idx_publishedAt_ttl").SetExpireAfterSeconds(7 * 24 * 3600),
		},
	}
	if _, err := r.collection.Indexes().CreateMany(ctx, indexes); err != nil {
		return fmt.Errorf("failed to create outbox indexes: %w", err)
	}
	return nil
}
