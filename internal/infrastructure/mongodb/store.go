// Package mongodb holds the MongoDB repositories of the production engine.
package mongodb

import (
	"context"
	"fmt"

	"go.mongodb.org/mongo-driver/mongo"

	"github.com/atelier-platform/production-engine/internal/application"
	"github.com/atelier-platform/production-engine/internal/domain"
	pkgmongo "github.com/atelier-platform/production-engine/pkg/mongodb"
	outboxmongo "github.com/atelier-platform/production-engine/pkg/outbox/mongodb"
)

// Collection names
const (
	CollectionOrders        = "orders"
	CollectionStageProgress = "order_stage_progress"
	CollectionTransitions   = "stage_transitions"
	CollectionMaterials     = "materials"
	CollectionReservations  = "material_reservations"
	CollectionProducts      = "products"
	CollectionBOM           = "bill_of_materials"
	CollectionAssignments   = "worker_stage_assignments"
	CollectionPerformance   = "worker_performance"
)

// UnitOfWork runs a function in one MongoDB transaction. Repositories join
// it through the session context passed to fn.
type UnitOfWork struct {
	client *pkgmongo.InstrumentedClient
}

// NewUnitOfWork creates a unit of work over client
func NewUnitOfWork(client *pkgmongo.InstrumentedClient) *UnitOfWork {
	return &UnitOfWork{client: client}
}

// Do runs fn in a transaction. A call made inside an open transaction joins it.
func (u *UnitOfWork) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	if sess := mongo.SessionFromContext(ctx); sess != nil {
		return fn(ctx)
	}
	return u.client.WithTransaction(ctx, func(sessCtx mongo.SessionContext) error {
		return fn(sessCtx)
	})
}

// Store owns the repositories built over one client
type Store struct {
	client       *pkgmongo.InstrumentedClient
	Orders       *OrderRepository
	Progress     *ProgressRepository
	Transitions  *TransitionRepository
	Materials    *MaterialRepository
	Reservations *ReservationRepository
	Catalog      *CatalogRepository
	Assignments  *AssignmentRepository
	Performance  *PerformanceRepository
	Outbox       *outboxmongo.OutboxRepository
	UnitOfWork   *UnitOfWork
}

// NewStore builds every repository over client
func NewStore(client *pkgmongo.InstrumentedClient) *Store {
	return &Store{
		client:       client,
		Orders:       NewOrderRepository(client),
		Progress:     NewProgressRepository(client),
		Transitions:  NewTransitionRepository(client),
		Materials:    NewMaterialRepository(client),
		Reservations: NewReservationRepository(client),
		Catalog:      NewCatalogRepository(client),
		Assignments:  NewAssignmentRepository(client),
		Performance:  NewPerformanceRepository(client),
		Outbox:       outboxmongo.NewOutboxRepository(client),
		UnitOfWork:   NewUnitOfWork(client),
	}
}

// Repositories exposes the store as the application's persistence ports
func (s *Store) Repositories() application.Repositories {
	return application.Repositories{
		Orders:       s.Orders,
		Progress:     s.Progress,
		Transitions:  s.Transitions,
		Materials:    s.Materials,
		Reservations: s.Reservations,
		Catalog:      s.Catalog,
		Assignments:  s.Assignments,
		Performance:  s.Performance,
		UnitOfWork:   s.UnitOfWork,
	}
}

// EnsureIndexes creates every index the repositories rely on. Creating an
// existing index is a no-op, so it runs on each start and from the migrate command.
func (s *Store) EnsureIndexes(ctx context.Context) error {
	sets := []struct {
		collection string
		indexes    []mongo.IndexModel
	}{
		{CollectionOrders, s.Orders.indexes()},
		{CollectionStageProgress, s.Progress.indexes()},
		{CollectionTransitions, s.Transitions.indexes()},
		{CollectionMaterials, s.Materials.indexes()},
		{CollectionReservations, s.Reservations.indexes()},
		{CollectionBOM, s.Catalog.bomIndexes()},
		{CollectionAssignments, s.Assignments.indexes()},
		{CollectionPerformance, s.Performance.indexes()},
	}
	for _, set := range sets {
		if _, err := s.client.Collection(set.collection).Indexes().CreateMany(ctx, set.indexes); err != nil {
			return fmt.Errorf("failed to create indexes on %s: %w", set.collection, err)
		}
	}
	return s.Outbox.EnsureIndexes(ctx)
}

// UpsertProduct writes a catalog product
func (s *Store) UpsertProduct(ctx context.Context, product *domain.Product) error {
	return s.Catalog.UpsertProduct(ctx, product)
}

// UpsertBOMEntry writes one bill of materials line
func (s *Store) UpsertBOMEntry(ctx context.Context, entry domain.BOMEntry) error {
	return s.Catalog.UpsertBOMEntry(ctx, entry)
}

// UpsertMaterial writes a material's catalog fields and on hand
func (s *Store) UpsertMaterial(ctx context.Context, material *domain.Material) error {
	return s.Materials.Upsert(ctx, material)
}

// UpsertAssignment writes a worker's stage qualification
func (s *Store) UpsertAssignment(ctx context.Context, assignment *domain.WorkerStageAssignment) error {
	return s.Assignments.Upsert(ctx, assignment)
}
