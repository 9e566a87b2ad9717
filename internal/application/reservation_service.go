package application

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/atelier-platform/production-engine/pkg/logging"
	"github.com/atelier-platform/production-engine/pkg/metrics"
	"github.com/atelier-platform/production-engine/pkg/tracing"

	"github.com/atelier-platform/production-engine/internal/domain"
)

// reconcileEpsilon is the drift below which the reserved counter is left alone
const reconcileEpsilon = 0.0001

// ReservationService holds, consumes and releases material for orders.
// Methods that take an order or a stage expect to run inside a unit of work
// opened by the caller; the rest open their own.
type ReservationService struct {
	repos   Repositories
	events  EventRecorder
	ttl     time.Duration
	metrics *metrics.Metrics
	logger  *logging.Logger
	clock   Clock
}

// NewReservationService creates a new ReservationService
func NewReservationService(
	repos Repositories,
	events EventRecorder,
	ttl time.Duration,
	m *metrics.Metrics,
	logger *logging.Logger,
) *ReservationService {
	return &ReservationService{
		repos:   repos,
		events:  events,
		ttl:     ttl,
		metrics: m,
		logger:  logger.WithComponent("reservations"),
		clock:   utcNow,
	}
}

// WithClock replaces the time source
func (s *ReservationService) WithClock(clock Clock) *ReservationService {
	s.clock = clock
	return s
}

func productIDs(items []domain.OrderItem) []string {
	ids := make([]string, 0, len(items))
	for _, item := range items {
		ids = append(ids, item.ProductID)
	}
	return ids
}

// ReserveForOrder reserves every material the order's bill of materials needs.
// The first shortfall fails the call; the caller's transaction rolls back the
// reservations already taken.
func (s *ReservationService) ReserveForOrder(ctx context.Context, order *domain.Order, pipeline *domain.Pipeline) ([]*domain.MaterialReservation, error) {
	ctx, span := tracing.StartSpan(ctx, "reservation-service", "ReserveForOrder", attribute.String("order.id", order.OrderID))
	var err error
	defer func() { tracing.EndSpan(span, err) }()

	bom, err := s.repos.Catalog.FindBOM(ctx, productIDs(order.Items))
	if err != nil {
		return nil, fmt.Errorf("failed to load bill of materials: %w", err)
	}
	reqs, err := domain.RequiredMaterials(order.Items, bom, pipeline.First().StageID)
	if err != nil {
		return nil, err
	}
	for _, req := range reqs {
		if _, err = pipeline.Get(req.StageID); err != nil {
			err = fmt.Errorf("%w: material %s is consumed by %s which is not in the pipeline",
				domain.ErrInvariantViolation, req.MaterialID, req.StageID)
			s.logger.WithOrder(order.OrderID).Error("Bill of materials names an unknown stage",
				"materialId", req.MaterialID, "stageId", req.StageID)
			return nil, err
		}
	}

	now := s.clock()
	reservations := make([]*domain.MaterialReservation, 0, len(reqs))
	var lowStock []domain.DomainEvent
	for _, req := range reqs {
		var material *domain.Material
		material, err = s.repos.Materials.Reserve(ctx, req.MaterialID, req.Quantity)
		if err != nil {
			if errors.Is(err, domain.ErrInsufficientStock) {
				s.metrics.RecordShortfall(req.MaterialID)
				s.logger.WithOrder(order.OrderID).Warn("Insufficient stock for reservation",
					"materialId", req.MaterialID, "required", req.Quantity)
			}
			return nil, err
		}
		if material.IsLowStock() {
			lowStock = append(lowStock, material.LowStockEvent(order.OrderID, now))
			s.metrics.RecordLowStock(material.MaterialID)
		}
		reservations = append(reservations, domain.NewMaterialReservation(order.OrderID, req, s.ttl, now))
	}

	if len(reservations) > 0 {
		if err = s.repos.Reservations.CreateAll(ctx, reservations); err != nil {
			return nil, fmt.Errorf("failed to save reservations: %w", err)
		}
	}

	events := lowStock
	for _, r := range reservations {
		events = append(events, collect(r)...)
	}
	if err = s.events.Record(ctx, order.OrderID, events...); err != nil {
		return nil, err
	}

	s.metrics.RecordReservation(string(domain.ReservationStatusReserved), len(reservations))
	s.logger.WithOrder(order.OrderID).Info("Reserved materials", "reservations", len(reservations))
	return reservations, nil
}

// consume uses one reservation against the ledger
func (s *ReservationService) consume(ctx context.Context, r *domain.MaterialReservation, actual float64) (domain.ConsumedMaterial, error) {
	now := s.clock()
	if r.IsExpired(now) {
		return domain.ConsumedMaterial{}, fmt.Errorf("reservation %s: %w", r.ReservationID, domain.ErrReservationExpired)
	}
	if err := r.Consume(actual, now); err != nil {
		return domain.ConsumedMaterial{}, fmt.Errorf("reservation %s: %w", r.ReservationID, err)
	}

	material, err := s.repos.Materials.Consume(ctx, r.MaterialID, r.Quantity, r.ConsumedQuantity)
	if err != nil {
		return domain.ConsumedMaterial{}, err
	}
	if err := s.repos.Reservations.Save(ctx, r); err != nil {
		return domain.ConsumedMaterial{}, fmt.Errorf("failed to save reservation: %w", err)
	}

	events := collect(r)
	if material.IsLowStock() {
		events = append(events, material.LowStockEvent(r.OrderID, now))
		s.metrics.RecordLowStock(material.MaterialID)
	}
	if err := s.events.Record(ctx, r.OrderID, events...); err != nil {
		return domain.ConsumedMaterial{}, err
	}

	s.metrics.RecordReservation(string(domain.ReservationStatusUsed), 1)
	s.metrics.RecordConsumptionVariance(r.MaterialID, r.Quantity, r.ConsumedQuantity)
	return domain.ConsumedMaterial{Quantity: r.ConsumedQuantity, UnitCost: material.UnitCost}, nil
}

// Consume uses a reservation; a nil actual quantity consumes what was reserved
func (s *ReservationService) Consume(ctx context.Context, cmd ConsumeReservationCommand) (*ReservationDTO, error) {
	var result *domain.MaterialReservation
	err := s.repos.UnitOfWork.Do(ctx, func(ctx context.Context) error {
		r, err := s.repos.Reservations.FindByID(ctx, cmd.ReservationID)
		if err != nil {
			return err
		}
		actual := r.Quantity
		if cmd.ActualQuantity != nil {
			actual = *cmd.ActualQuantity
		}
		if _, err := s.consume(ctx, r, actual); err != nil {
			return err
		}
		result = r
		return nil
	})
	if err != nil {
		s.logger.WithError(err).Error("Failed to consume reservation", "reservationId", cmd.ReservationID)
		return nil, err
	}

	dto := ToReservationDTO(result)
	return &dto, nil
}

// ConsumeForStage consumes the active reservations owned by a stage. usage
// overrides the consumed quantity per material.
func (s *ReservationService) ConsumeForStage(ctx context.Context, orderID, stageID string, usage map[string]float64) ([]domain.ConsumedMaterial, error) {
	rs, err := s.repos.Reservations.FindByOrder(ctx, orderID)
	if err != nil {
		return nil, fmt.Errorf("failed to load reservations: %w", err)
	}

	seen := make(map[string]bool)
	var consumed []domain.ConsumedMaterial
	for _, r := range rs {
		if r.StageID != stageID || !r.IsActive() {
			continue
		}
		actual := r.Quantity
		if q, ok := usage[r.MaterialID]; ok {
			actual = q
		}
		c, err := s.consume(ctx, r, actual)
		if err != nil {
			return nil, err
		}
		seen[r.MaterialID] = true
		consumed = append(consumed, c)
	}

	for materialID := range usage {
		if !seen[materialID] {
			s.logger.WithOrder(orderID).Warn("Usage reported for a material the stage did not reserve",
				"stageId", stageID, "materialId", materialID)
		}
	}
	return consumed, nil
}

// release returns one reservation to available stock. It reports false when
// the reservation was already released.
func (s *ReservationService) release(ctx context.Context, r *domain.MaterialReservation, reason domain.ReleaseReason) (bool, error) {
	changed, err := r.Release(reason, s.clock())
	if err != nil || !changed {
		return false, err
	}
	if _, err := s.repos.Materials.Release(ctx, r.MaterialID, r.Quantity); err != nil {
		return false, err
	}
	if err := s.repos.Reservations.Save(ctx, r); err != nil {
		return false, fmt.Errorf("failed to save reservation: %w", err)
	}
	if err := s.events.Record(ctx, r.OrderID, collect(r)...); err != nil {
		return false, err
	}
	s.metrics.RecordReservation(string(domain.ReservationStatusReleased), 1)
	return true, nil
}

// Release releases one reservation by hand. Releasing twice is a no-op.
func (s *ReservationService) Release(ctx context.Context, cmd ReleaseReservationCommand) (*ReservationDTO, error) {
	var result *domain.MaterialReservation
	err := s.repos.UnitOfWork.Do(ctx, func(ctx context.Context) error {
		r, err := s.repos.Reservations.FindByID(ctx, cmd.ReservationID)
		if err != nil {
			return err
		}
		if _, err := s.release(ctx, r, domain.ReleaseReasonManual); err != nil {
			return err
		}
		result = r
		return nil
	})
	if err != nil {
		s.logger.WithError(err).Error("Failed to release reservation", "reservationId", cmd.ReservationID)
		return nil, err
	}

	s.logger.Audit(ctx, "release", "reservation", cmd.ReservationID, cmd.Actor, nil)
	dto := ToReservationDTO(result)
	return &dto, nil
}

func (s *ReservationService) releaseMatching(ctx context.Context, orderID string, reason domain.ReleaseReason, match func(*domain.MaterialReservation) bool) (int, error) {
	rs, err := s.repos.Reservations.FindByOrder(ctx, orderID)
	if err != nil {
		return 0, fmt.Errorf("failed to load reservations: %w", err)
	}
	released := 0
	for _, r := range rs {
		if !r.IsActive() || !match(r) {
			continue
		}
		changed, err := s.release(ctx, r, reason)
		if err != nil {
			return released, err
		}
		if changed {
			released++
		}
	}
	return released, nil
}

// ReleaseForOrder releases every active reservation of the order
func (s *ReservationService) ReleaseForOrder(ctx context.Context, orderID string, reason domain.ReleaseReason) (int, error) {
	return s.releaseMatching(ctx, orderID, reason, func(*domain.MaterialReservation) bool { return true })
}

// ReleaseLeftovers releases what no stage consumed once the order completed
func (s *ReservationService) ReleaseLeftovers(ctx context.Context, orderID string) (int, error) {
	released, err := s.ReleaseForOrder(ctx, orderID, domain.ReleaseReasonCompleted)
	if err != nil {
		return released, err
	}
	if released > 0 {
		s.logger.WithOrder(orderID).Warn("Released reservations left over at completion", "reservations", released)
	}
	return released, nil
}

// ReleaseForStage releases the active reservations owned by one stage
func (s *ReservationService) ReleaseForStage(ctx context.Context, orderID, stageID string, reason domain.ReleaseReason) (int, error) {
	return s.releaseMatching(ctx, orderID, reason, func(r *domain.MaterialReservation) bool { return r.StageID == stageID })
}

// PinForOrder clears the expiry of the order's active reservations
func (s *ReservationService) PinForOrder(ctx context.Context, orderID string) (int64, error) {
	n, err := s.repos.Reservations.PinByOrder(ctx, orderID)
	if err != nil {
		return 0, fmt.Errorf("failed to pin reservations: %w", err)
	}
	return n, nil
}

// FindExpired lists ids of active reservations past their expiry
func (s *ReservationService) FindExpired(ctx context.Context, limit int) ([]string, error) {
	rs, err := s.repos.Reservations.FindExpired(ctx, s.clock(), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to find expired reservations: %w", err)
	}
	ids := make([]string, 0, len(rs))
	for _, r := range rs {
		ids = append(ids, r.ReservationID)
	}
	return ids, nil
}

// ReleaseExpired releases one reservation with reason expired. It reports
// false when the reservation was consumed, pinned or released in the meantime.
func (s *ReservationService) ReleaseExpired(ctx context.Context, reservationID string) (bool, error) {
	released := false
	err := s.repos.UnitOfWork.Do(ctx, func(ctx context.Context) error {
		released = false
		r, err := s.repos.Reservations.FindByID(ctx, reservationID)
		if err != nil {
			return err
		}
		if !r.IsExpired(s.clock()) {
			return nil
		}
		released, err = s.release(ctx, r, domain.ReleaseReasonExpired)
		return err
	})
	if err != nil {
		return false, err
	}
	if released {
		s.metrics.RecordReservationsExpired(1)
		s.logger.Info("Released expired reservation", "reservationId", reservationID)
	}
	return released, nil
}

// ListForOrder lists every reservation of an order
func (s *ReservationService) ListForOrder(ctx context.Context, orderID string) ([]ReservationDTO, error) {
	if _, err := s.repos.Orders.FindByID(ctx, orderID); err != nil {
		return nil, err
	}
	rs, err := s.repos.Reservations.FindByOrder(ctx, orderID)
	if err != nil {
		return nil, fmt.Errorf("failed to load reservations: %w", err)
	}
	return ToReservationDTOs(rs), nil
}

// ReconcileMaterial recomputes the reserved counter from active reservations
// and corrects drift.
func (s *ReservationService) ReconcileMaterial(ctx context.Context, materialID string) (*ReconcileResultDTO, error) {
	var result ReconcileResultDTO
	err := s.repos.UnitOfWork.Do(ctx, func(ctx context.Context) error {
		material, err := s.repos.Materials.FindByID(ctx, materialID)
		if err != nil {
			return err
		}
		active, err := s.repos.Reservations.FindActiveByMaterial(ctx, materialID)
		if err != nil {
			return fmt.Errorf("failed to load reservations: %w", err)
		}

		sum := 0.0
		for _, r := range active {
			sum += r.Quantity
		}
		sum = domain.RoundQuantity(sum)

		result = ReconcileResultDTO{
			MaterialID:         materialID,
			PreviousReserved:   material.Reserved,
			Reserved:           sum,
			Drift:              domain.RoundQuantity(material.Reserved - sum),
			ActiveReservations: len(active),
		}
		if math.Abs(result.Drift) < reconcileEpsilon {
			result.Reserved = material.Reserved
			result.Drift = 0
			return nil
		}
		if sum > material.OnHand {
			return fmt.Errorf("%w: material %s active reservations %.4f exceed on hand %.4f",
				domain.ErrInvariantViolation, materialID, sum, material.OnHand)
		}

		if err := s.repos.Materials.SetReserved(ctx, materialID, sum, material.Version); err != nil {
			return err
		}
		result.Corrected = true
		return s.events.Record(ctx, "", &domain.MaterialReconciledEvent{
			MaterialID:       materialID,
			PreviousReserved: result.PreviousReserved,
			Reserved:         sum,
			Drift:            result.Drift,
			ReconciledAt:     s.clock(),
		})
	})
	if err != nil {
		s.logger.WithError(err).Error("Failed to reconcile material", "materialId", materialID)
		return nil, err
	}

	if result.Corrected {
		s.logger.Warn("Corrected reserved drift", "materialId", materialID, "drift", result.Drift)
	}
	return &result, nil
}

// ReconcileAll reconciles every material in the ledger
func (s *ReservationService) ReconcileAll(ctx context.Context) ([]ReconcileResultDTO, error) {
	materials, err := s.repos.Materials.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list materials: %w", err)
	}
	results := make([]ReconcileResultDTO, 0, len(materials))
	for _, m := range materials {
		r, err := s.ReconcileMaterial(ctx, m.MaterialID)
		if err != nil {
			return results, err
		}
		results = append(results, *r)
	}
	return results, nil
}
