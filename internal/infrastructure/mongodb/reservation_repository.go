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

// ReservationRepository implements domain.ReservationRepository
type ReservationRepository struct {
	collection *pkgmongo.InstrumentedCollection
}

// NewReservationRepository creates the reservation repository
func NewReservationRepository(client *pkgmongo.InstrumentedClient) *ReservationRepository {
	return &ReservationRepository{collection: client.Collection(CollectionReservations)}
}

func (r *ReservationRepository) indexes() []mongo.IndexModel {
	return []mongo.IndexModel{
		{Keys: bson.D{{Key: "orderId", Value: 1}, {Key: "materialId", Value: 1}}},
		{Keys: bson.D{{Key: "materialId", Value: 1}, {Key: "status", Value: 1}}},
		// sweep lookup
		{Keys: bson.D{{Key: "status", Value: 1}, {Key: "expiresAt", Value: 1}}},
	}
}

// CreateAll inserts new reservations
func (r *ReservationRepository) CreateAll(ctx context.Context, reservations []*domain.MaterialReservation) error {
	if len(reservations) == 0 {
		return nil
	}
	docs := make([]interface{}, len(reservations))
	for i, res := range reservations {
		docs[i] = res
	}
	if _, err := r.collection.InsertMany(ctx, docs); err != nil {
		return fmt.Errorf("failed to create reservations: %w", err)
	}
	return nil
}

// Save replaces a reservation when its version still matches and bumps it
func (r *ReservationRepository) Save(ctx context.Context, reservation *domain.MaterialReservation) error {
	expected := reservation.Version
	reservation.Version++

	res, err := r.collection.ReplaceOne(ctx, bson.M{"_id": reservation.ReservationID, "version": expected}, reservation)
	if err != nil {
		reservation.Version = expected
		return fmt.Errorf("failed to save reservation: %w", err)
	}
	if res.MatchedCount == 0 {
		reservation.Version = expected
		if _, err := r.FindByID(ctx, reservation.ReservationID); err != nil {
			return err
		}
		return fmt.Errorf("%w: reservation %s", domain.ErrConcurrentModification, reservation.ReservationID)
	}
	return nil
}

// FindByID loads one reservation
func (r *ReservationRepository) FindByID(ctx context.Context, reservationID string) (*domain.MaterialReservation, error) {
	var res domain.MaterialReservation
	if err := r.collection.FindOneInto(ctx, bson.M{"_id": reservationID}, &res); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, fmt.Errorf("%w: %s", domain.ErrReservationNotFound, reservationID)
		}
		return nil, fmt.Errorf("failed to find reservation: %w", err)
	}
	return &res, nil
}

func (r *ReservationRepository) find(ctx context.Context, filter bson.M, opts ...*options.FindOptions) ([]*domain.MaterialReservation, error) {
	if len(opts) == 0 {
		opts = append(opts, options.Find().SetSort(bson.D{{Key: "materialId", Value: 1}, {Key: "_id", Value: 1}}))
	}
	reservations := make([]*domain.MaterialReservation, 0)
	if err := r.collection.FindAll(ctx, filter, &reservations, opts...); err != nil {
		return nil, fmt.Errorf("failed to find reservations: %w", err)
	}
	return reservations, nil
}

// FindByOrder returns an order's reservations sorted by material
func (r *ReservationRepository) FindByOrder(ctx context.Context, orderID string) ([]*domain.MaterialReservation, error) {
	return r.find(ctx, bson.M{"orderId": orderID})
}

// FindActiveByMaterial returns the reservations still holding a material
func (r *ReservationRepository) FindActiveByMaterial(ctx context.Context, materialID string) ([]*domain.MaterialReservation, error) {
	return r.find(ctx, bson.M{"materialId": materialID, "status": domain.ReservationStatusReserved})
}

// FindExpired returns active reservations that expired before the cutoff, oldest first
func (r *ReservationRepository) FindExpired(ctx context.Context, before time.Time, limit int) ([]*domain.MaterialReservation, error) {
	filter := bson.M{
		"status":    domain.ReservationStatusReserved,
		"expiresAt": bson.M{"$lt": before},
	}
	opts := options.Find().SetSort(bson.D{{Key: "expiresAt", Value: 1}})
	if limit > 0 {
		opts.SetLimit(int64(limit))
	}
	return r.find(ctx, filter, opts)
}

// PinByOrder clears the expiry of the order's active reservations
func (r *ReservationRepository) PinByOrder(ctx context.Context, orderID string) (int64, error) {
	filter := bson.M{
		"orderId":   orderID,
		"status":    domain.ReservationStatusReserved,
		"expiresAt": bson.M{"$exists": true},
	}
	update := bson.M{
		"$unset": bson.M{"expiresAt": ""},
		"$inc":   bson.M{"version": 1},
	}
	res, err := r.collection.UpdateMany(ctx, filter, update)
	if err != nil {
		return 0, fmt.Errorf("failed to pin reservations: %w", err)
	}
	return res.ModifiedCount, nil
}
