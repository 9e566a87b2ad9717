//go:build integration

package mongodb

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"github.com/atelier-platform/production-engine/internal/domain"
	"github.com/atelier-platform/production-engine/pkg/logging"
	"github.com/atelier-platform/production-engine/pkg/metrics"
	pkgmongo "github.com/atelier-platform/production-engine/pkg/mongodb"
	pkgtesting "github.com/atelier-platform/production-engine/pkg/testing"
)

type RepositoryIntegrationTestSuite struct {
	suite.Suite
	container *pkgtesting.MongoDBContainer
	client    *pkgmongo.Client
	store     *Store
	ctx       context.Context
}

func TestRepositoryIntegration(t *testing.T) {
	suite.Run(t, new(RepositoryIntegrationTestSuite))
}

func (s *RepositoryIntegrationTestSuite) SetupSuite() {
	s.ctx = context.Background()

	container, err := pkgtesting.NewMongoDBContainer(s.ctx)
	s.Require().NoError(err)
	s.container = container

	client, err := container.Connect(s.ctx, "production_test")
	s.Require().NoError(err)
	s.client = client

	instrumented := pkgmongo.NewInstrumentedClient(client, metrics.New(metrics.DefaultConfig("test")), logging.NewNop())
	s.store = NewStore(instrumented)
	s.Require().NoError(s.store.EnsureIndexes(s.ctx))
}

func (s *RepositoryIntegrationTestSuite) TearDownSuite() {
	if s.client != nil {
		_ = s.client.Close(s.ctx)
	}
	if s.container != nil {
		s.Require().NoError(s.container.Close(s.ctx))
	}
}

func (s *RepositoryIntegrationTestSuite) SetupTest() {
	for _, name := range []string{
		CollectionOrders, CollectionStageProgress, CollectionTransitions, CollectionMaterials,
		CollectionReservations, CollectionAssignments, CollectionPerformance,
	} {
		_, err := s.client.Collection(name).DeleteMany(s.ctx, map[string]interface{}{})
		s.Require().NoError(err)
	}
}

func (s *RepositoryIntegrationTestSuite) newOrder(id string) *domain.Order {
	items := []domain.OrderItem{{ProductID: "JACKET", Quantity: 1}}
	order, err := domain.NewOrder(id, "C-1", "suit", domain.PriorityNormal, "USD", items, 900, time.Now().UTC())
	s.Require().NoError(err)
	return order
}

func (s *RepositoryIntegrationTestSuite) stockWool(onHand float64) {
	s.Require().NoError(s.store.Materials.Upsert(s.ctx, &domain.Material{
		MaterialID: "WOOL", Name: "Wool", Unit: "m", UnitCost: 25, OnHand: onHand,
	}))
}

func (s *RepositoryIntegrationTestSuite) TestOrderSave_RejectsStaleVersion() {
	order := s.newOrder("ORD-1")
	s.Require().NoError(s.store.Orders.Create(s.ctx, order))

	first, err := s.store.Orders.FindByID(s.ctx, "ORD-1")
	s.Require().NoError(err)
	second, err := s.store.Orders.FindByID(s.ctx, "ORD-1")
	s.Require().NoError(err)

	s.Require().NoError(s.store.Orders.Save(s.ctx, first))
	s.Equal(int64(1), first.Version)

	err = s.store.Orders.Save(s.ctx, second)
	s.ErrorIs(err, domain.ErrConcurrentModification)
	s.Equal(int64(0), second.Version)

	err = s.store.Orders.Create(s.ctx, s.newOrder("ORD-1"))
	s.ErrorIs(err, domain.ErrOrderExists)

	_, err = s.store.Orders.FindByID(s.ctx, "missing")
	s.ErrorIs(err, domain.ErrOrderNotFound)
}

func (s *RepositoryIntegrationTestSuite) TestOrderList_FiltersAndPages() {
	for _, id := range []string{"ORD-1", "ORD-2", "ORD-3"} {
		s.Require().NoError(s.store.Orders.Create(s.ctx, s.newOrder(id)))
	}

	orders, total, err := s.store.Orders.List(s.ctx, domain.OrderFilter{Status: domain.OrderStatusPendingAcceptance}, 1, 1)
	s.Require().NoError(err)
	s.Equal(int64(3), total)
	s.Len(orders, 1)

	orders, total, err = s.store.Orders.List(s.ctx, domain.OrderFilter{CustomerID: "nobody"}, 0, 10)
	s.Require().NoError(err)
	s.Zero(total)
	s.Empty(orders)
}

func (s *RepositoryIntegrationTestSuite) TestMaterialLedger_GuardsReservedBelowOnHand() {
	s.stockWool(10)

	m, err := s.store.Materials.Reserve(s.ctx, "WOOL", 6.6)
	s.Require().NoError(err)
	s.Equal(6.6, m.Reserved)
	s.Equal(int64(1), m.Version)

	_, err = s.store.Materials.Reserve(s.ctx, "WOOL", 4)
	var stockErr *domain.InsufficientStockError
	s.Require().ErrorAs(err, &stockErr)
	s.Equal(3.4, stockErr.Available)
	s.InDelta(0.6, stockErr.Shortfall, 1e-9)

	m, err = s.store.Materials.Consume(s.ctx, "WOOL", 6.6, 7)
	s.Require().NoError(err)
	s.Equal(3.0, m.OnHand)
	s.Zero(m.Reserved)

	_, err = s.store.Materials.Release(s.ctx, "WOOL", 1)
	s.ErrorIs(err, domain.ErrInvariantViolation)

	_, err = s.store.Materials.Reserve(s.ctx, "SILK", 1)
	s.ErrorIs(err, domain.ErrMaterialNotFound)
}

func (s *RepositoryIntegrationTestSuite) TestMaterialLedger_ConcurrentReservesNeverOversell() {
	s.stockWool(100)

	var wg sync.WaitGroup
	var mu sync.Mutex
	succeeded := 0
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := s.store.Materials.Reserve(s.ctx, "WOOL", 15); err == nil {
				mu.Lock()
				succeeded++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	m, err := s.store.Materials.FindByID(s.ctx, "WOOL")
	s.Require().NoError(err)
	s.Equal(6, succeeded)
	s.Equal(90.0, m.Reserved)
	s.NoError(m.CheckInvariant())
}

func (s *RepositoryIntegrationTestSuite) TestMaterialSetReserved_ChecksVersion() {
	s.stockWool(10)
	_, err := s.store.Materials.Reserve(s.ctx, "WOOL", 2)
	s.Require().NoError(err)

	s.ErrorIs(s.store.Materials.SetReserved(s.ctx, "WOOL", 1, 0), domain.ErrConcurrentModification)
	s.ErrorIs(s.store.Materials.SetReserved(s.ctx, "WOOL", 11, 1), domain.ErrInvariantViolation)
	s.NoError(s.store.Materials.SetReserved(s.ctx, "WOOL", 1, 1))

	m, err := s.store.Materials.FindByID(s.ctx, "WOOL")
	s.Require().NoError(err)
	s.Equal(1.0, m.Reserved)
}

func (s *RepositoryIntegrationTestSuite) TestReservations_ExpireAndPin() {
	now := time.Now().UTC().Truncate(time.Millisecond)
	req := domain.MaterialRequirement{MaterialID: "WOOL", StageID: "cutting", Quantity: 2}
	stale := domain.NewMaterialReservation("ORD-1", req, time.Hour, now.Add(-2*time.Hour))
	fresh := domain.NewMaterialReservation("ORD-2", req, time.Hour, now)
	s.Require().NoError(s.store.Reservations.CreateAll(s.ctx, []*domain.MaterialReservation{stale, fresh}))

	expired, err := s.store.Reservations.FindExpired(s.ctx, now, 10)
	s.Require().NoError(err)
	s.Require().Len(expired, 1)
	s.Equal(stale.ReservationID, expired[0].ReservationID)

	pinned, err := s.store.Reservations.PinByOrder(s.ctx, "ORD-1")
	s.Require().NoError(err)
	s.Equal(int64(1), pinned)

	expired, err = s.store.Reservations.FindExpired(s.ctx, now, 10)
	s.Require().NoError(err)
	s.Empty(expired)

	loaded, err := s.store.Reservations.FindByID(s.ctx, stale.ReservationID)
	s.Require().NoError(err)
	s.Nil(loaded.ExpiresAt)
	s.Equal(int64(1), loaded.Version)
}

func (s *RepositoryIntegrationTestSuite) TestUnitOfWork_RollsBackOnError() {
	boom := errors.New("boom")
	err := s.store.UnitOfWork.Do(s.ctx, func(ctx context.Context) error {
		if err := s.store.Orders.Create(ctx, s.newOrder("ORD-TX")); err != nil {
			return err
		}
		return boom
	})
	s.ErrorIs(err, boom)

	_, err = s.store.Orders.FindByID(s.ctx, "ORD-TX")
	s.ErrorIs(err, domain.ErrOrderNotFound)

	err = s.store.UnitOfWork.Do(s.ctx, func(ctx context.Context) error {
		return s.store.UnitOfWork.Do(ctx, func(ctx context.Context) error {
			return s.store.Orders.Create(ctx, s.newOrder("ORD-NESTED"))
		})
	})
	s.Require().NoError(err)
	_, err = s.store.Orders.FindByID(s.ctx, "ORD-NESTED")
	s.NoError(err)
}

func (s *RepositoryIntegrationTestSuite) TestProgress_UniquePerStageAndWorkerQueries() {
	at := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)
	row := &domain.OrderStageProgress{
		ProgressID: domain.ProgressID("ORD-1", "cutting"),
		OrderID:    "ORD-1",
		StageID:    "cutting",
		Sequence:   1,
		Status:     domain.StageStatusAssigned,
		WorkerID:   "W-CUT",
		AssignedAt: &at,
	}
	s.Require().NoError(s.store.Progress.CreateAll(s.ctx, []*domain.OrderStageProgress{row}))

	dup := *row
	dup.ProgressID = "other"
	s.Error(s.store.Progress.CreateAll(s.ctx, []*domain.OrderStageProgress{&dup}))

	workers, err := s.store.Progress.FindWorkersAssignedBetween(s.ctx, at.Add(-time.Hour), at.Add(time.Hour))
	s.Require().NoError(err)
	s.Equal([]string{"W-CUT"}, workers)

	rows, err := s.store.Progress.FindByWorker(s.ctx, "W-CUT", at, at.Add(time.Minute))
	s.Require().NoError(err)
	s.Len(rows, 1)

	stale := *rows[0]
	s.Require().NoError(s.store.Progress.Save(s.ctx, rows[0]))
	s.ErrorIs(s.store.Progress.Save(s.ctx, &stale), domain.ErrConcurrentModification)
}

func (s *RepositoryIntegrationTestSuite) TestAssignments_SaveExpectsBumpedVersion() {
	a := &domain.WorkerStageAssignment{
		WorkerID: "W-CUT", StageID: "cutting", Role: "cutter",
		AvailabilityStatus: domain.AvailabilityAvailable, MaxConcurrentTasks: 1,
	}
	s.Require().NoError(s.store.Assignments.Upsert(s.ctx, a))

	loaded, err := s.store.Assignments.Find(s.ctx, "W-CUT", "cutting")
	s.Require().NoError(err)
	loaded.TakeTask(time.Now().UTC())
	s.Require().NoError(s.store.Assignments.Save(s.ctx, loaded))

	s.ErrorIs(s.store.Assignments.Save(s.ctx, loaded), domain.ErrConcurrentModification)

	s.Require().NoError(s.store.Assignments.UpdateEfficiencyRating(s.ctx, "W-CUT", 1.2))
	byStage, err := s.store.Assignments.FindByStage(s.ctx, "cutting")
	s.Require().NoError(err)
	s.Require().Len(byStage, 1)
	s.Equal(1.2, byStage[0].EfficiencyRating)
	s.Equal(domain.AvailabilityBusy, byStage[0].AvailabilityStatus)
}
