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

// OrderRepository implements domain.OrderRepository
type OrderRepository struct {
	collection *pkgmongo.InstrumentedCollection
}

// NewOrderRepository creates the order repository
func NewOrderRepository(client *pkgmongo.InstrumentedClient) *OrderRepository {
	return &OrderRepository{collection: client.Collection(CollectionOrders)}
}

func (r *OrderRepository) indexes() []mongo.IndexModel {
	return []mongo.IndexModel{
		{Keys: bson.D{{Key: "status", Value: 1}, {Key: "createdAt", Value: -1}}},
		{Keys: bson.D{{Key: "customerId", Value: 1}, {Key: "createdAt", Value: -1}}},
	}
}

// Create inserts a new order at version 0
func (r *OrderRepository) Create(ctx context.Context, order *domain.Order) error {
	if _, err := r.collection.InsertOne(ctx, order); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return fmt.Errorf("%w: %s", domain.ErrOrderExists, order.OrderID)
		}
		return fmt.Errorf("failed to create order: %w", err)
	}
	return nil
}

// Save replaces the order when the stored version still matches and bumps it
func (r *OrderRepository) Save(ctx context.Context, order *domain.Order) error {
	expected := order.Version
	order.Version++

	res, err := r.collection.ReplaceOne(ctx, bson.M{"_id": order.OrderID, "version": expected}, order)
	if err != nil {
		order.Version = expected
		return fmt.Errorf("failed to save order: %w", err)
	}
	if res.MatchedCount == 0 {
		order.Version = expected
		return r.missOrConflict(ctx, order.OrderID)
	}
	return nil
}

func (r *OrderRepository) missOrConflict(ctx context.Context, orderID string) error {
	n, err := r.collection.CountDocuments(ctx, bson.M{"_id": orderID})
	if err != nil {
		return fmt.Errorf("failed to check order: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", domain.ErrOrderNotFound, orderID)
	}
	return fmt.Errorf("%w: order %s", domain.ErrConcurrentModification, orderID)
}

// FindByID loads one order
func (r *OrderRepository) FindByID(ctx context.Context, orderID string) (*domain.Order, error) {
	var order domain.Order
	if err := r.collection.FindOneInto(ctx, bson.M{"_id": orderID}, &order); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, fmt.Errorf("%w: %s", domain.ErrOrderNotFound, orderID)
		}
		return nil, fmt.Errorf("failed to find order: %w", err)
	}
	return &order, nil
}

// List pages through orders, newest first, and returns the total match count
func (r *OrderRepository) List(ctx context.Context, filter domain.OrderFilter, offset, limit int64) ([]*domain.Order, int64, error) {
	query := bson.M{}
	if filter.Status != "" {
		query["status"] = filter.Status
	}
	if filter.CustomerID != "" {
		query["customerId"] = filter.CustomerID
	}

	total, err := r.collection.CountDocuments(ctx, query)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to count orders: %w", err)
	}

	opts := options.Find().
		SetSort(bson.D{{Key: "createdAt", Value: -1}, {Key: "_id", Value: 1}}).
		SetSkip(offset).
		SetLimit(limit)

	orders := make([]*domain.Order, 0)
	if err := r.collection.FindAll(ctx, query, &orders, opts); err != nil {
		return nil, 0, fmt.Errorf("failed to list orders: %w", err)
	}
	return orders, total, nil
}
