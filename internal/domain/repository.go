package domain

import (
	"context"
	"time"
)

// OrderFilter narrows order listings
type OrderFilter struct {
	Status     OrderStatus
	CustomerID string
}

// OrderRepository persists orders. Save fails with ErrConcurrentModification
// when the stored version differs from the loaded one.
type OrderRepository interface {
	Create(ctx context.Context, order *Order) error
	Save(ctx context.Context, order *Order) error
	FindByID(ctx context.Context, orderID string) (*Order, error)
	List(ctx context.Context, filter OrderFilter, offset, limit int64) ([]*Order, int64, error)
}

// ProgressRepository persists stage progress rows
type ProgressRepository interface {
	CreateAll(ctx context.Context, rows []*OrderStageProgress) error
	Save(ctx context.Context, row *OrderStageProgress) error
	FindByOrder(ctx context.Context, orderID string) ([]*OrderStageProgress, error)
	FindByWorker(ctx context.Context, workerID string, from, to time.Time) ([]*OrderStageProgress, error)
	FindWorkersAssignedBetween(ctx context.Context, from, to time.Time) ([]string, error)
}

// TransitionRepository is the append-only transition log
type TransitionRepository interface {
	Append(ctx context.Context, transitions ...*StageTransition) error
	FindByOrder(ctx context.Context, orderID string) ([]*StageTransition, error)
}

// MaterialRepository is the inventory ledger. Reserve, Consume and Release
// are atomic per material row and return the updated row.
type MaterialRepository interface {
	FindByID(ctx context.Context, materialID string) (*Material, error)
	FindByIDs(ctx context.Context, materialIDs []string) (map[string]*Material, error)
	List(ctx context.Context) ([]*Material, error)
	Reserve(ctx context.Context, materialID string, quantity float64) (*Material, error)
	Consume(ctx context.Context, materialID string, reserved, actual float64) (*Material, error)
	Release(ctx context.Context, materialID string, quantity float64) (*Material, error)
	SetReserved(ctx context.Context, materialID string, reserved float64, expectedVersion int64) error
	Upsert(ctx context.Context, material *Material) error
}

// ReservationRepository persists material reservations
type ReservationRepository interface {
	CreateAll(ctx context.Context, reservations []*MaterialReservation) error
	Save(ctx context.Context, reservation *MaterialReservation) error
	FindByID(ctx context.Context, reservationID string) (*MaterialReservation, error)
	FindByOrder(ctx context.Context, orderID string) ([]*MaterialReservation, error)
	FindActiveByMaterial(ctx context.Context, materialID string) ([]*MaterialReservation, error)
	FindExpired(ctx context.Context, before time.Time, limit int) ([]*MaterialReservation, error)
	PinByOrder(ctx context.Context, orderID string) (int64, error)
}

// CatalogRepository reads products and bills of materials
type CatalogRepository interface {
	FindProducts(ctx context.Context, productIDs []string) (map[string]*Product, error)
	FindBOM(ctx context.Context, productIDs []string) (map[string][]BOMEntry, error)
	UpsertProduct(ctx context.Context, product *Product) error
	UpsertBOMEntry(ctx context.Context, entry BOMEntry) error
}

// AssignmentRepository is the worker assignment index
type AssignmentRepository interface {
	FindByStage(ctx context.Context, stageID string) ([]*WorkerStageAssignment, error)
	FindByWorker(ctx context.Context, workerID string) ([]*WorkerStageAssignment, error)
	Find(ctx context.Context, workerID, stageID string) (*WorkerStageAssignment, error)
	Save(ctx context.Context, assignment *WorkerStageAssignment) error
	Upsert(ctx context.Context, assignment *WorkerStageAssignment) error
	UpdateEfficiencyRating(ctx context.Context, workerID string, rating float64) error
}

// PerformanceRepository stores rollups keyed by worker and period
type PerformanceRepository interface {
	Upsert(ctx context.Context, perf *WorkerPerformance) error
	Find(ctx context.Context, workerID string, from, to time.Time) (*WorkerPerformance, error)
}

// StageRegistry serves the current pipeline
type StageRegistry interface {
	Pipeline() *Pipeline
}

// UnitOfWork runs fn in one transaction; repositories called with the ctx
// passed to fn take part in it.
type UnitOfWork interface {
	Do(ctx context.Context, fn func(ctx context.Context) error) error
}
