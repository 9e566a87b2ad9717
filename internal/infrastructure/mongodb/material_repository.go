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

// quantityPlaces matches domain.RoundQuantity
const quantityPlaces = 4

// MaterialRepository is the inventory ledger. Every movement is one
// conditional update, so a row never shows reserved above on hand even
// between concurrent writers.
type MaterialRepository struct {
	collection *pkgmongo.InstrumentedCollection
}

// NewMaterialRepository creates the material ledger
func NewMaterialRepository(client *pkgmongo.InstrumentedClient) *MaterialRepository {
	return &MaterialRepository{collection: client.Collection(CollectionMaterials)}
}

func (r *MaterialRepository) indexes() []mongo.IndexModel {
	return []mongo.IndexModel{
		{Keys: bson.D{{Key: "name", Value: 1}}},
	}
}

func round(expr interface{}) bson.M {
	return bson.M{"$round": bson.A{expr, quantityPlaces}}
}

func available() bson.M {
	return round(bson.M{"$subtract": bson.A{"$onHand", "$reserved"}})
}

// FindByID loads one material
func (r *MaterialRepository) FindByID(ctx context.Context, materialID string) (*domain.Material, error) {
	var m domain.Material
	if err := r.collection.FindOneInto(ctx, bson.M{"_id": materialID}, &m); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, fmt.Errorf("%w: %s", domain.ErrMaterialNotFound, materialID)
		}
		return nil, fmt.Errorf("failed to find material: %w", err)
	}
	return &m, nil
}

// FindByIDs loads materials by id; missing ids are absent from the map
func (r *MaterialRepository) FindByIDs(ctx context.Context, materialIDs []string) (map[string]*domain.Material, error) {
	var materials []*domain.Material
	if err := r.collection.FindAll(ctx, bson.M{"_id": bson.M{"$in": materialIDs}}, &materials); err != nil {
		return nil, fmt.Errorf("failed to find materials: %w", err)
	}
	out := make(map[string]*domain.Material, len(materials))
	for _, m := range materials {
		out[m.MaterialID] = m
	}
	return out, nil
}

// List returns every material sorted by id
func (r *MaterialRepository) List(ctx context.Context) ([]*domain.Material, error) {
	materials := make([]*domain.Material, 0)
	opts := options.Find().SetSort(bson.D{{Key: "_id", Value: 1}})
	if err := r.collection.FindAll(ctx, bson.M{}, &materials, opts); err != nil {
		return nil, fmt.Errorf("failed to list materials: %w", err)
	}
	return materials, nil
}

// move runs a guarded pipeline update. When the guard fails it reloads the
// row and replays the change in memory to report the domain error.
func (r *MaterialRepository) move(ctx context.Context, materialID string, guard bson.M, set bson.M, replay func(*domain.Material) error) (*domain.Material, error) {
	set["version"] = bson.M{"$add": bson.A{"$version", 1}}
	set["updatedAt"] = time.Now().UTC()

	filter := bson.M{"_id": materialID, "$expr": guard}
	update := mongo.Pipeline{{{Key: "$set", Value: set}}}
	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)

	var updated domain.Material
	err := r.collection.FindOneAndUpdateInto(ctx, filter, update, &updated, opts)
	if err == nil {
		return &updated, nil
	}
	if !errors.Is(err, mongo.ErrNoDocuments) {
		return nil, fmt.Errorf("failed to update material %s: %w", materialID, err)
	}

	current, err := r.FindByID(ctx, materialID)
	if err != nil {
		return nil, err
	}
	if err := replay(current); err != nil {
		return nil, err
	}
	// the guard failed yet the replay passed: another writer moved the row
	return nil, fmt.Errorf("%w: material %s", domain.ErrConcurrentModification, materialID)
}

// Reserve moves quantity from available to reserved
func (r *MaterialRepository) Reserve(ctx context.Context, materialID string, quantity float64) (*domain.Material, error) {
	if quantity <= 0 {
		return nil, domain.ErrInvalidQuantity
	}
	guard := bson.M{"$gte": bson.A{available(), quantity}}
	set := bson.M{"reserved": round(bson.M{"$add": bson.A{"$reserved", quantity}})}
	return r.move(ctx, materialID, guard, set, func(m *domain.Material) error { return m.Reserve(quantity) })
}

// Consume takes actual off on hand and reserved off reserved. The remaining
// on hand must still cover the remaining reservations.
func (r *MaterialRepository) Consume(ctx context.Context, materialID string, reserved, actual float64) (*domain.Material, error) {
	if actual < 0 || reserved <= 0 {
		return nil, domain.ErrInvalidQuantity
	}
	remainingReserved := round(bson.M{"$subtract": bson.A{"$reserved", reserved}})
	remainingOnHand := round(bson.M{"$subtract": bson.A{"$onHand", actual}})

	guard := bson.M{"$and": bson.A{
		bson.M{"$gte": bson.A{remainingReserved, 0}},
		bson.M{"$gte": bson.A{remainingOnHand, remainingReserved}},
	}}
	set := bson.M{"onHand": remainingOnHand, "reserved": remainingReserved}
	return r.move(ctx, materialID, guard, set, func(m *domain.Material) error { return m.Consume(reserved, actual) })
}

// Release returns quantity from reserved to available
func (r *MaterialRepository) Release(ctx context.Context, materialID string, quantity float64) (*domain.Material, error) {
	if quantity <= 0 {
		return nil, domain.ErrInvalidQuantity
	}
	remaining := round(bson.M{"$subtract": bson.A{"$reserved", quantity}})
	guard := bson.M{"$gte": bson.A{remaining, 0}}
	set := bson.M{"reserved": remaining}
	return r.move(ctx, materialID, guard, set, func(m *domain.Material) error { return m.Release(quantity) })
}

// SetReserved overwrites reserved during reconciliation, guarded by version
func (r *MaterialRepository) SetReserved(ctx context.Context, materialID string, reserved float64, expectedVersion int64) error {
	filter := bson.M{
		"_id":     materialID,
		"version": expectedVersion,
		"onHand":  bson.M{"$gte": reserved},
	}
	update := bson.M{
		"$set": bson.M{"reserved": domain.RoundQuantity(reserved), "updatedAt": time.Now().UTC()},
		"$inc": bson.M{"version": 1},
	}
	res, err := r.collection.UpdateOne(ctx, filter, update)
	if err != nil {
		return fmt.Errorf("failed to set reserved: %w", err)
	}
	if res.MatchedCount == 0 {
		current, err := r.FindByID(ctx, materialID)
		if err != nil {
			return err
		}
		if current.Version == expectedVersion {
			return fmt.Errorf("%w: material %s reserved %.4f exceeds on hand %.4f",
				domain.ErrInvariantViolation, materialID, reserved, current.OnHand)
		}
		return fmt.Errorf("%w: material %s", domain.ErrConcurrentModification, materialID)
	}
	return nil
}

// Upsert writes catalog fields and on hand; reserved and version are left
// alone on existing rows
func (r *MaterialRepository) Upsert(ctx context.Context, material *domain.Material) error {
	update := bson.M{
		"$set": bson.M{
			"name":              material.Name,
			"unit":              material.Unit,
			"unitCost":          material.UnitCost,
			"onHand":            domain.RoundQuantity(material.OnHand),
			"lowStockThreshold": material.LowStockThreshold,
			"updatedAt":         time.Now().UTC(),
		},
		"$setOnInsert": bson.M{"reserved": 0.0, "version": int64(0)},
	}
	filter := bson.M{
		"_id": material.MaterialID,
		"$or": bson.A{
			bson.M{"reserved": bson.M{"$exists": false}},
			bson.M{"reserved": bson.M{"$lte": material.OnHand}},
		},
	}
	_, err := r.collection.UpdateOne(ctx, filter, update, options.Update().SetUpsert(true))
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			// the row exists but holds more than the new on hand
			return fmt.Errorf("%w: material %s on hand %.4f is below its reservations",
				domain.ErrInvariantViolation, material.MaterialID, material.OnHand)
		}
		return fmt.Errorf("failed to upsert material: %w", err)
	}
	return nil
}
