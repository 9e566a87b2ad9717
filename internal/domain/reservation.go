package domain

import (
	"time"

	"github.com/google/uuid"
)

// ReservationStatus represents the status of a material reservation
type ReservationStatus string

const (
	ReservationStatusReserved ReservationStatus = "reserved"
	ReservationStatusUsed     ReservationStatus = "used"
	ReservationStatusReleased ReservationStatus = "released"
)

func (s ReservationStatus) String() string { return string(s) }

// ReleaseReason records why a reservation was released
type ReleaseReason string

const (
	ReleaseReasonCancelled ReleaseReason = "cancelled"
	ReleaseReasonExpired   ReleaseReason = "expired"
	ReleaseReasonManual    ReleaseReason = "manual"
	// ReleaseReasonCompleted returns stock no stage of a completed order consumed
	ReleaseReasonCompleted ReleaseReason = "completed"
)

// MaterialReservation holds quantity of one material for one stage of one order
type MaterialReservation struct {
	ReservationID    string            `bson:"_id"`
	OrderID          string            `bson:"orderId"`
	MaterialID       string            `bson:"materialId"`
	StageID          string            `bson:"stageId"`
	Quantity         float64           `bson:"quantity"`
	ConsumedQuantity float64           `bson:"consumedQuantity"`
	Variance         float64           `bson:"variance"`
	Status           ReservationStatus `bson:"status"`
	ReleaseReason    ReleaseReason     `bson:"releaseReason,omitempty"`
	// ExpiresAt is cleared once the order is in production
	ExpiresAt  *time.Time `bson:"expiresAt,omitempty"`
	ReservedAt time.Time  `bson:"reservedAt"`
	ConsumedAt *time.Time `bson:"consumedAt,omitempty"`
	ReleasedAt *time.Time `bson:"releasedAt,omitempty"`
	Version    int64      `bson:"version"`

	DomainEvents []DomainEvent `bson:"-"`
}

// NewMaterialReservation creates a reservation expiring after ttl. A zero ttl never expires.
func NewMaterialReservation(orderID string, req MaterialRequirement, ttl time.Duration, at time.Time) *MaterialReservation {
	r := &MaterialReservation{
		ReservationID: uuid.New().String(),
		OrderID:       orderID,
		MaterialID:    req.MaterialID,
		StageID:       req.StageID,
		Quantity:      req.Quantity,
		Status:        ReservationStatusReserved,
		ReservedAt:    at,
		DomainEvents:  make([]DomainEvent, 0),
	}
	event := &MaterialReservedEvent{
		ReservationID: r.ReservationID,
		OrderID:       orderID,
		MaterialID:    req.MaterialID,
		StageID:       req.StageID,
		Quantity:      req.Quantity,
		ReservedAt:    at,
	}
	if ttl > 0 {
		expires := at.Add(ttl)
		r.ExpiresAt = &expires
		event.ExpiresAt = expires
	}
	r.AddDomainEvent(event)
	return r
}

// IsActive reports whether the quantity is still held
func (r *MaterialReservation) IsActive() bool {
	return r.Status == ReservationStatusReserved
}

// IsExpired reports whether an active reservation outlived its expiry
func (r *MaterialReservation) IsExpired(at time.Time) bool {
	return r.IsActive() && r.ExpiresAt != nil && r.ExpiresAt.Before(at)
}

// WasExpired reports whether the janitor released the reservation
func (r *MaterialReservation) WasExpired() bool {
	return r.Status == ReservationStatusReleased && r.ReleaseReason == ReleaseReasonExpired
}

// Pin clears the expiry so the janitor leaves the reservation alone
func (r *MaterialReservation) Pin() {
	r.ExpiresAt = nil
}

// Consume marks the reservation used and records the variance
func (r *MaterialReservation) Consume(actual float64, at time.Time) error {
	if r.WasExpired() {
		return ErrReservationExpired
	}
	if !r.IsActive() {
		return invalidTransition("reservation "+r.ReservationID, r.Status, ReservationStatusUsed, "")
	}
	if actual < 0 {
		return ErrInvalidQuantity
	}
	r.Status = ReservationStatusUsed
	r.ConsumedQuantity = RoundQuantity(actual)
	r.Variance = RoundQuantity(actual - r.Quantity)
	r.ConsumedAt = &at
	r.ExpiresAt = nil
	r.AddDomainEvent(&MaterialConsumedEvent{
		ReservationID: r.ReservationID,
		OrderID:       r.OrderID,
		MaterialID:    r.MaterialID,
		Reserved:      r.Quantity,
		Consumed:      r.ConsumedQuantity,
		Variance:      r.Variance,
		ConsumedAt:    at,
	})
	return nil
}

// Release marks the reservation released. It reports false without error when
// the reservation was already released, so callers must not touch the ledger.
func (r *MaterialReservation) Release(reason ReleaseReason, at time.Time) (bool, error) {
	switch r.Status {
	case ReservationStatusReleased:
		return false, nil
	case ReservationStatusUsed:
		return false, invalidTransition("reservation "+r.ReservationID, r.Status, ReservationStatusReleased, "already consumed")
	}
	r.Status = ReservationStatusReleased
	r.ReleaseReason = reason
	r.ReleasedAt = &at
	r.AddDomainEvent(&MaterialReleasedEvent{
		ReservationID: r.ReservationID,
		OrderID:       r.OrderID,
		MaterialID:    r.MaterialID,
		Quantity:      r.Quantity,
		Reason:        reason,
		ReleasedAt:    at,
	})
	return true, nil
}

// AddDomainEvent adds a domain event
func (r *MaterialReservation) AddDomainEvent(event DomainEvent) {
	r.DomainEvents = append(r.DomainEvents, event)
}

// GetDomainEvents returns all domain events
func (r *MaterialReservation) GetDomainEvents() []DomainEvent {
	return r.DomainEvents
}

// ClearDomainEvents clears all domain events
func (r *MaterialReservation) ClearDomainEvents() {
	r.DomainEvents = make([]DomainEvent, 0)
}
