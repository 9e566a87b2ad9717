package application

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/singleflight"

	pkgerrors "github.com/atelier-platform/production-engine/pkg/errors"
	"github.com/atelier-platform/production-engine/pkg/logging"
	"github.com/atelier-platform/production-engine/pkg/metrics"
	"github.com/atelier-platform/production-engine/pkg/resilience"
	"github.com/atelier-platform/production-engine/pkg/tracing"

	"github.com/atelier-platform/production-engine/internal/domain"
)

// WorkflowConfig holds the orchestration settings
type WorkflowConfig struct {
	DefaultCurrency string
	CostTolerance   float64
	Ranking         []domain.RankingCriterion
	Performance     domain.PerformanceWeights
	CancelRetries   int
	// RetryDelay is the first backoff after a concurrent modification
	RetryDelay time.Duration
}

// WorkflowService drives orders through their lifecycle and stages through the pipeline
type WorkflowService struct {
	repos        Repositories
	registry     domain.StageRegistry
	reservations *ReservationService
	costs        *CostService
	events       EventRecorder
	config       WorkflowConfig
	metrics      *metrics.Metrics
	logger       *logging.Logger
	clock        Clock
	statusGroup  singleflight.Group
}

// NewWorkflowService creates a new WorkflowService
func NewWorkflowService(
	repos Repositories,
	registry domain.StageRegistry,
	reservations *ReservationService,
	costs *CostService,
	events EventRecorder,
	config WorkflowConfig,
	m *metrics.Metrics,
	logger *logging.Logger,
) *WorkflowService {
	if config.CancelRetries <= 0 {
		config.CancelRetries = 1
	}
	if config.RetryDelay <= 0 {
		config.RetryDelay = 50 * time.Millisecond
	}
	if config.DefaultCurrency == "" {
		config.DefaultCurrency = "USD"
	}
	return &WorkflowService{
		repos:        repos,
		registry:     registry,
		reservations: reservations,
		costs:        costs,
		events:       events,
		config:       config,
		metrics:      m,
		logger:       logger.WithComponent("workflow"),
		clock:        utcNow,
	}
}

// WithClock replaces the time source of the service and its collaborators
func (s *WorkflowService) WithClock(clock Clock) *WorkflowService {
	s.clock = clock
	s.reservations.WithClock(clock)
	s.costs.WithClock(clock)
	return s
}

// record drains the sources into the event recorder and counts transitions
func (s *WorkflowService) record(ctx context.Context, orderID string, sources ...eventSource) error {
	events := collect(sources...)
	for _, e := range events {
		switch ev := e.(type) {
		case *domain.OrderStatusChangedEvent:
			s.metrics.RecordOrderTransition(string(ev.To))
		case *domain.StageStatusChangedEvent:
			s.metrics.RecordStageTransition(ev.StageID, string(ev.To))
		}
	}
	return s.events.Record(ctx, orderID, events...)
}

// appendTransitions writes log entries and records their events
func (s *WorkflowService) appendTransitions(ctx context.Context, orderID string, transitions ...*domain.StageTransition) error {
	if len(transitions) == 0 {
		return nil
	}
	if err := s.repos.Transitions.Append(ctx, transitions...); err != nil {
		return fmt.Errorf("failed to append transitions: %w", err)
	}
	events := make([]domain.DomainEvent, 0, len(transitions))
	for _, t := range transitions {
		events = append(events, &domain.StageTransitionRecordedEvent{Transition: *t})
		s.logger.Event(ctx, "stage.transition", map[string]any{
			"orderId":   orderID,
			"type":      string(t.Type),
			"fromStage": t.FromStageID,
			"toStage":   t.ToStageID,
		})
	}
	return s.events.Record(ctx, orderID, events...)
}

// pipelineFor is the pipeline an order's stage rows follow
func (s *WorkflowService) pipelineFor(order *domain.Order) (*domain.Pipeline, error) {
	return order.StagePipeline(s.registry.Pipeline())
}

func (s *WorkflowService) saveOrder(ctx context.Context, order *domain.Order) error {
	if err := s.repos.Orders.Save(ctx, order); err != nil {
		return fmt.Errorf("failed to save order: %w", err)
	}
	return s.record(ctx, order.OrderID, order)
}

func (s *WorkflowService) saveRows(ctx context.Context, orderID string, rows ...*domain.OrderStageProgress) error {
	for _, r := range rows {
		if err := s.repos.Progress.Save(ctx, r); err != nil {
			return fmt.Errorf("failed to save stage progress: %w", err)
		}
		if err := s.record(ctx, orderID, r); err != nil {
			return err
		}
	}
	return nil
}

// releaseWorker frees the capacity a stage held on its worker
func (s *WorkflowService) releaseWorker(ctx context.Context, workerID, stageID string) error {
	a, err := s.repos.Assignments.Find(ctx, workerID, stageID)
	if err != nil {
		if errors.Is(err, domain.ErrWorkerNotFound) {
			s.logger.Warn("Worker assignment vanished before capacity release", "workerId", workerID, "stageId", stageID)
			return nil
		}
		return err
	}
	a.ReleaseTask()
	if err := s.repos.Assignments.Save(ctx, a); err != nil {
		return fmt.Errorf("failed to save worker assignment: %w", err)
	}
	return nil
}

// CreateOrder registers an order in pending_acceptance
func (s *WorkflowService) CreateOrder(ctx context.Context, cmd CreateOrderCommand) (*OrderDTO, error) {
	priority, err := domain.ParsePriority(cmd.Priority)
	if err != nil {
		return nil, pkgerrors.ErrValidation(err.Error())
	}
	orderID := cmd.OrderID
	if orderID == "" {
		orderID = "ORD-" + strings.ToUpper(uuid.New().String()[:8])
	}
	currency := cmd.Currency
	if currency == "" {
		currency = s.config.DefaultCurrency
	}
	items := make([]domain.OrderItem, 0, len(cmd.Items))
	for _, item := range cmd.Items {
		items = append(items, domain.OrderItem{ProductID: item.ProductID, Quantity: item.Quantity})
	}

	order, err := domain.NewOrder(orderID, cmd.CustomerID, cmd.ProductType, priority, currency, items, cmd.SellingPrice, s.clock())
	if err != nil {
		return nil, pkgerrors.ErrValidation(err.Error()).Wrap(err)
	}

	err = s.repos.UnitOfWork.Do(ctx, func(ctx context.Context) error {
		if err := s.repos.Orders.Create(ctx, order); err != nil {
			return err
		}
		return s.record(ctx, order.OrderID, order)
	})
	if err != nil {
		s.logger.WithError(err).Error("Failed to create order", "orderId", orderID)
		return nil, err
	}

	s.logger.Audit(ctx, "create", "order", order.OrderID, cmd.Actor, map[string]any{"customerId": order.CustomerID})
	return ToOrderDTO(order), nil
}

// GetOrder retrieves an order by id
func (s *WorkflowService) GetOrder(ctx context.Context, orderID string) (*OrderDTO, error) {
	order, err := s.repos.Orders.FindByID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	return ToOrderDTO(order), nil
}

// ListOrders lists orders with a total count for paging
func (s *WorkflowService) ListOrders(ctx context.Context, query ListOrdersQuery) ([]OrderDTO, int64, error) {
	filter := domain.OrderFilter{Status: domain.OrderStatus(query.Status), CustomerID: query.CustomerID}
	orders, total, err := s.repos.Orders.List(ctx, filter, query.Offset, query.Limit)
	if err != nil {
		s.logger.WithError(err).Error("Failed to list orders")
		return nil, 0, fmt.Errorf("failed to list orders: %w", err)
	}
	out := make([]OrderDTO, 0, len(orders))
	for _, o := range orders {
		out = append(out, *ToOrderDTO(o))
	}
	return out, total, nil
}

// mutateOrder loads an order, applies fn and saves it in one unit of work
func (s *WorkflowService) mutateOrder(ctx context.Context, orderID string, fn func(ctx context.Context, order *domain.Order, now time.Time) error) (*domain.Order, error) {
	var result *domain.Order
	err := s.repos.UnitOfWork.Do(ctx, func(ctx context.Context) error {
		order, err := s.repos.Orders.FindByID(ctx, orderID)
		if err != nil {
			return err
		}
		if err := fn(ctx, order, s.clock()); err != nil {
			return err
		}
		if err := s.saveOrder(ctx, order); err != nil {
			return err
		}
		result = order
		return nil
	})
	return result, err
}

// AcceptOrder records the approving actor
func (s *WorkflowService) AcceptOrder(ctx context.Context, cmd OrderActionCommand) (*OrderDTO, error) {
	order, err := s.mutateOrder(ctx, cmd.OrderID, func(_ context.Context, order *domain.Order, now time.Time) error {
		return order.Accept(cmd.Actor, now)
	})
	if err != nil {
		s.logger.WithError(err).Warn("Failed to accept order", "orderId", cmd.OrderID)
		return nil, err
	}
	s.logger.Audit(ctx, "accept", "order", cmd.OrderID, cmd.Actor, nil)
	return ToOrderDTO(order), nil
}

// ReserveMaterials reserves the order's materials, estimates its cost and lays
// out its stages. From materials_reserved it re-reserves only after expiry.
func (s *WorkflowService) ReserveMaterials(ctx context.Context, cmd OrderActionCommand) (*OrderDTO, error) {
	ctx, span := tracing.StartSpan(ctx, "workflow-service", "ReserveMaterials", attribute.String("order.id", cmd.OrderID))
	order, err := s.mutateOrder(ctx, cmd.OrderID, func(ctx context.Context, order *domain.Order, now time.Time) error {
		pipeline, err := s.pipelineFor(order)
		if err != nil {
			return err
		}

		switch order.Status {
		case domain.OrderStatusAccepted:
		case domain.OrderStatusMaterialsReserved:
			if err := s.releaseForReReserve(ctx, order, now); err != nil {
				return err
			}
		default:
			return &domain.TransitionError{
				Entity: "order " + order.OrderID,
				From:   order.Status.String(),
				To:     domain.OrderStatusMaterialsReserved.String(),
			}
		}

		if _, err := s.reservations.ReserveForOrder(ctx, order, pipeline); err != nil {
			return err
		}

		if order.Status == domain.OrderStatusAccepted {
			if err := order.MarkMaterialsReserved(now); err != nil {
				return err
			}
			order.FreezeStages(pipeline)
			rows := make([]*domain.OrderStageProgress, 0, pipeline.Len())
			for _, stage := range pipeline.Stages() {
				rows = append(rows, domain.NewStageProgress(order.OrderID, stage, now))
			}
			if err := s.repos.Progress.CreateAll(ctx, rows); err != nil {
				return fmt.Errorf("failed to create stage progress: %w", err)
			}
		}
		return s.costs.Estimate(ctx, order)
	})
	tracing.EndSpan(span, err)
	if err != nil {
		s.logger.WithError(err).Warn("Failed to reserve materials", "orderId", cmd.OrderID)
		return nil, err
	}

	s.logger.Audit(ctx, "reserve", "order", cmd.OrderID, cmd.Actor, map[string]any{"estimatedCost": order.EstimatedCost})
	return ToOrderDTO(order), nil
}

// releaseForReReserve clears the leftovers of a partly expired reservation set
func (s *WorkflowService) releaseForReReserve(ctx context.Context, order *domain.Order, now time.Time) error {
	rs, err := s.repos.Reservations.FindByOrder(ctx, order.OrderID)
	if err != nil {
		return fmt.Errorf("failed to load reservations: %w", err)
	}
	expired := false
	for _, r := range rs {
		if r.WasExpired() || r.IsExpired(now) {
			expired = true
			break
		}
	}
	if !expired {
		return &domain.TransitionError{
			Entity: "order " + order.OrderID,
			From:   order.Status.String(),
			To:     domain.OrderStatusMaterialsReserved.String(),
			Reason: "reservations are still held",
		}
	}
	for _, r := range rs {
		if !r.IsActive() {
			continue
		}
		reason := domain.ReleaseReasonManual
		if r.IsExpired(now) {
			reason = domain.ReleaseReasonExpired
		}
		if _, err := s.reservations.release(ctx, r, reason); err != nil {
			return err
		}
	}
	return nil
}

// startProduction moves a materials_reserved order into production and pins
// its reservations so the janitor leaves them alone.
func (s *WorkflowService) startProduction(ctx context.Context, order *domain.Order, now time.Time) error {
	rs, err := s.repos.Reservations.FindByOrder(ctx, order.OrderID)
	if err != nil {
		return fmt.Errorf("failed to load reservations: %w", err)
	}
	active, expired := 0, false
	for _, r := range rs {
		if r.IsExpired(now) {
			return fmt.Errorf("order %s reservation %s: %w", order.OrderID, r.ReservationID, domain.ErrReservationExpired)
		}
		if r.IsActive() {
			active++
		}
		if r.WasExpired() {
			expired = true
		}
	}
	if active == 0 && expired {
		return fmt.Errorf("order %s: %w", order.OrderID, domain.ErrReservationExpired)
	}

	if err := order.StartProduction(now); err != nil {
		return err
	}
	if _, err := s.reservations.PinForOrder(ctx, order.OrderID); err != nil {
		return err
	}
	return nil
}

// StartProduction starts production without starting a stage
func (s *WorkflowService) StartProduction(ctx context.Context, cmd OrderActionCommand) (*OrderDTO, error) {
	order, err := s.mutateOrder(ctx, cmd.OrderID, func(ctx context.Context, order *domain.Order, now time.Time) error {
		return s.startProduction(ctx, order, now)
	})
	if err != nil {
		s.logger.WithError(err).Warn("Failed to start production", "orderId", cmd.OrderID)
		return nil, err
	}
	s.logger.Audit(ctx, "start", "order", cmd.OrderID, cmd.Actor, nil)
	return ToOrderDTO(order), nil
}

// DeliverOrder hands a completed order over
func (s *WorkflowService) DeliverOrder(ctx context.Context, cmd OrderActionCommand) (*OrderDTO, error) {
	order, err := s.mutateOrder(ctx, cmd.OrderID, func(_ context.Context, order *domain.Order, now time.Time) error {
		return order.Deliver(cmd.Actor, now)
	})
	if err != nil {
		s.logger.WithError(err).Warn("Failed to deliver order", "orderId", cmd.OrderID)
		return nil, err
	}
	s.logger.Audit(ctx, "deliver", "order", cmd.OrderID, cmd.Actor, nil)
	return ToOrderDTO(order), nil
}

// HoldOrder puts an order on hold
func (s *WorkflowService) HoldOrder(ctx context.Context, cmd HoldOrderCommand) (*OrderDTO, error) {
	order, err := s.mutateOrder(ctx, cmd.OrderID, func(_ context.Context, order *domain.Order, now time.Time) error {
		return order.Hold(cmd.Reason, cmd.Actor, now)
	})
	if err != nil {
		s.logger.WithError(err).Warn("Failed to hold order", "orderId", cmd.OrderID)
		return nil, err
	}
	s.logger.Audit(ctx, "hold", "order", cmd.OrderID, cmd.Actor, map[string]any{"reason": cmd.Reason})
	return ToOrderDTO(order), nil
}

// ResumeOrder returns a held order to its prior state
func (s *WorkflowService) ResumeOrder(ctx context.Context, cmd OrderActionCommand) (*OrderDTO, error) {
	order, err := s.mutateOrder(ctx, cmd.OrderID, func(_ context.Context, order *domain.Order, now time.Time) error {
		return order.Resume(cmd.Actor, now)
	})
	if err != nil {
		s.logger.WithError(err).Warn("Failed to resume order", "orderId", cmd.OrderID)
		return nil, err
	}
	s.logger.Audit(ctx, "resume", "order", cmd.OrderID, cmd.Actor, nil)
	return ToOrderDTO(order), nil
}

// CancelOrder cancels an order in one unit of work: reservations released,
// open stages cancelled with their worker capacity freed, cancel transitions
// written. Concurrent modifications retry the whole unit.
func (s *WorkflowService) CancelOrder(ctx context.Context, cmd CancelOrderCommand) (*OrderDTO, error) {
	ctx, span := tracing.StartSpan(ctx, "workflow-service", "CancelOrder", attribute.String("order.id", cmd.OrderID))

	var (
		result   *domain.Order
		released int
	)
	retry := &resilience.RetryConfig{
		MaxAttempts:     s.config.CancelRetries,
		InitialDelay:    s.config.RetryDelay,
		MaxDelay:        20 * s.config.RetryDelay,
		BackoffFactor:   2,
		RetryableErrors: isConcurrentModification,
		OnRetry: func(attempt int, err error) {
			s.metrics.RecordConcurrencyRetry("cancel_order")
			s.logger.WithError(err).Warn("Retrying order cancellation", "orderId", cmd.OrderID, "attempt", attempt)
		},
	}
	err := resilience.Retry(ctx, retry, func() error {
		return s.repos.UnitOfWork.Do(ctx, func(ctx context.Context) error {
			order, n, err := s.cancelInTx(ctx, cmd)
			if err != nil {
				return err
			}
			result, released = order, n
			return nil
		})
	})
	tracing.EndSpan(span, err)
	if err != nil {
		s.logger.WithError(err).Error("Failed to cancel order", "orderId", cmd.OrderID)
		return nil, err
	}

	s.logger.Audit(ctx, "cancel", "order", cmd.OrderID, cmd.Actor, map[string]any{
		"reason":               cmd.Reason,
		"reservationsReleased": released,
	})
	return ToOrderDTO(result), nil
}

func (s *WorkflowService) cancelInTx(ctx context.Context, cmd CancelOrderCommand) (*domain.Order, int, error) {
	order, err := s.repos.Orders.FindByID(ctx, cmd.OrderID)
	if err != nil {
		return nil, 0, err
	}
	now := s.clock()
	if err := order.Cancel(cmd.Reason, cmd.Actor, now); err != nil {
		return nil, 0, err
	}

	released, err := s.reservations.ReleaseForOrder(ctx, order.OrderID, domain.ReleaseReasonCancelled)
	if err != nil {
		return nil, 0, err
	}

	rows, err := s.repos.Progress.FindByOrder(ctx, order.OrderID)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to load stage progress: %w", err)
	}
	var (
		changed     []*domain.OrderStageProgress
		transitions []*domain.StageTransition
	)
	for _, row := range rows {
		if row.Status.IsTerminal() {
			continue
		}
		heldWorker := row.HoldsWorker()
		if err := row.Cancel(cmd.Reason, now); err != nil {
			return nil, 0, err
		}
		if heldWorker {
			if err := s.releaseWorker(ctx, row.WorkerID, row.StageID); err != nil {
				return nil, 0, err
			}
		}
		changed = append(changed, row)
		transitions = append(transitions, domain.NewStageTransition(order.OrderID, row.StageID, "", domain.TransitionCancel, now).
			WithWorkers(row.WorkerID, "").
			WithReason(cmd.Reason))
	}

	if err := s.saveRows(ctx, order.OrderID, changed...); err != nil {
		return nil, 0, err
	}
	if err := s.appendTransitions(ctx, order.OrderID, transitions...); err != nil {
		return nil, 0, err
	}
	if err := s.saveOrder(ctx, order); err != nil {
		return nil, 0, err
	}
	return order, released, nil
}

// stageScope is everything a stage operation reads
type stageScope struct {
	order    *domain.Order
	pipeline *domain.Pipeline
	stage    domain.WorkflowStage
	rows     []*domain.OrderStageProgress
	row      *domain.OrderStageProgress
}

func (s *WorkflowService) loadStage(ctx context.Context, orderID, stageID string) (*stageScope, error) {
	order, err := s.repos.Orders.FindByID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if err := order.EnsureStageWorkAllowed(); err != nil {
		return nil, err
	}
	pipeline, err := s.pipelineFor(order)
	if err != nil {
		return nil, err
	}
	stage, err := pipeline.Get(stageID)
	if err != nil {
		return nil, err
	}
	rows, err := s.repos.Progress.FindByOrder(ctx, orderID)
	if err != nil {
		return nil, fmt.Errorf("failed to load stage progress: %w", err)
	}
	row, ok := domain.ProgressByStage(rows)[stageID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrProgressNotFound, domain.ProgressID(orderID, stageID))
	}
	return &stageScope{order: order, pipeline: pipeline, stage: stage, rows: rows, row: row}, nil
}

func (sc *stageScope) requireEligible(to domain.StageStatus) error {
	ok, err := sc.pipeline.IsEligible(sc.stage.StageID, sc.rows)
	if err != nil {
		return err
	}
	if !ok {
		return &domain.TransitionError{
			Entity: "stage " + sc.row.ProgressID,
			From:   sc.row.Status.String(),
			To:     to.String(),
			Reason: "earlier stages are not finished",
		}
	}
	return nil
}

// stageOp runs fn on a loaded stage in one unit of work and saves the row and,
// when fn reports it changed, the order.
func (s *WorkflowService) stageOp(ctx context.Context, orderID, stageID string, fn func(ctx context.Context, sc *stageScope, now time.Time) (orderChanged bool, err error)) (*domain.OrderStageProgress, string, error) {
	var (
		result *domain.OrderStageProgress
		name   string
	)
	err := s.repos.UnitOfWork.Do(ctx, func(ctx context.Context) error {
		sc, err := s.loadStage(ctx, orderID, stageID)
		if err != nil {
			return err
		}
		orderChanged, err := fn(ctx, sc, s.clock())
		if err != nil {
			return err
		}
		if err := s.saveRows(ctx, orderID, sc.row); err != nil {
			return err
		}
		if orderChanged {
			if err := s.saveOrder(ctx, sc.order); err != nil {
				return err
			}
		}
		result, name = sc.row, sc.stage.Name
		return nil
	})
	return result, name, err
}

func stageResult(row *domain.OrderStageProgress, name string, err error) (*StageProgressDTO, error) {
	if err != nil {
		return nil, err
	}
	dto := ToStageProgressDTO(row, name)
	return &dto, nil
}

// AssignStage assigns an eligible pending stage to the best qualified worker,
// or to the named worker when they qualify.
func (s *WorkflowService) AssignStage(ctx context.Context, cmd AssignStageCommand) (*StageProgressDTO, error) {
	row, name, err := s.stageOp(ctx, cmd.OrderID, cmd.StageID, func(ctx context.Context, sc *stageScope, now time.Time) (bool, error) {
		if err := sc.requireEligible(domain.StageStatusAssigned); err != nil {
			return false, err
		}
		if err := s.assignInTx(ctx, sc, cmd.WorkerID, now); err != nil {
			return false, err
		}
		if sc.stage.AutoStart {
			return s.startInTx(ctx, sc, now)
		}
		return false, nil
	})
	s.metrics.RecordAssignment(cmd.StageID, err == nil)
	if err != nil {
		s.logger.WithError(err).Warn("Failed to assign stage", "orderId", cmd.OrderID, "stageId", cmd.StageID)
		return nil, err
	}

	s.logger.Audit(ctx, "assign", "stage", domain.ProgressID(cmd.OrderID, cmd.StageID), cmd.Actor, map[string]any{
		"workerId": row.WorkerID,
		"override": cmd.WorkerID != "",
	})
	return stageResult(row, name, nil)
}

func (s *WorkflowService) assignInTx(ctx context.Context, sc *stageScope, override string, now time.Time) error {
	if sc.row.Status != domain.StageStatusPending {
		return &domain.TransitionError{
			Entity: "stage " + sc.row.ProgressID,
			From:   sc.row.Status.String(),
			To:     domain.StageStatusAssigned.String(),
		}
	}
	candidates, err := s.repos.Assignments.FindByStage(ctx, sc.stage.StageID)
	if err != nil {
		return fmt.Errorf("failed to load worker assignments: %w", err)
	}
	chosen, err := domain.SelectWorker(candidates, sc.stage, s.config.Ranking, override)
	if err != nil {
		return err
	}
	if err := sc.row.Assign(chosen.WorkerID, now); err != nil {
		return err
	}
	chosen.TakeTask(now)
	if err := s.repos.Assignments.Save(ctx, chosen); err != nil {
		return fmt.Errorf("failed to save worker assignment: %w", err)
	}
	return nil
}

// startInTx starts an assigned stage, starting production when this is the
// order's first stage.
func (s *WorkflowService) startInTx(ctx context.Context, sc *stageScope, now time.Time) (bool, error) {
	if err := sc.requireEligible(domain.StageStatusInProgress); err != nil {
		return false, err
	}
	if err := sc.pipeline.CheckActiveStages(sc.stage.StageID, sc.rows); err != nil {
		s.logger.WithOrder(sc.order.OrderID).WithError(err).Error("Active stage invariant violated", "stageId", sc.stage.StageID)
		return false, err
	}

	orderChanged := false
	if sc.order.Status == domain.OrderStatusMaterialsReserved {
		if err := s.startProduction(ctx, sc.order, now); err != nil {
			return false, err
		}
		orderChanged = true
	}
	if err := sc.row.Start(now); err != nil {
		return false, err
	}

	var t *domain.StageTransition
	if prev := sc.pipeline.LastCompletedBefore(sc.stage.StageID, sc.rows); prev != nil {
		t = domain.NewStageTransition(sc.order.OrderID, prev.StageID, sc.stage.StageID, domain.TransitionHandover, now).
			WithWorkers(prev.WorkerID, sc.row.WorkerID)
	} else {
		t = domain.NewStageTransition(sc.order.OrderID, "", sc.stage.StageID, domain.TransitionStart, now).
			WithWorkers("", sc.row.WorkerID)
	}
	if err := s.appendTransitions(ctx, sc.order.OrderID, t); err != nil {
		return false, err
	}
	return orderChanged, nil
}

// StartStage starts work on an assigned stage
func (s *WorkflowService) StartStage(ctx context.Context, cmd StageCommand) (*StageProgressDTO, error) {
	row, name, err := s.stageOp(ctx, cmd.OrderID, cmd.StageID, func(ctx context.Context, sc *stageScope, now time.Time) (bool, error) {
		return s.startInTx(ctx, sc, now)
	})
	if err != nil {
		s.logger.WithError(err).Warn("Failed to start stage", "orderId", cmd.OrderID, "stageId", cmd.StageID)
	}
	return stageResult(row, name, err)
}

// PauseStage suspends an in-progress stage
func (s *WorkflowService) PauseStage(ctx context.Context, cmd StageCommand) (*StageProgressDTO, error) {
	row, name, err := s.stageOp(ctx, cmd.OrderID, cmd.StageID, func(_ context.Context, sc *stageScope, now time.Time) (bool, error) {
		return false, sc.row.Pause(cmd.Reason, now)
	})
	return stageResult(row, name, err)
}

// ResumeStage continues a paused stage
func (s *WorkflowService) ResumeStage(ctx context.Context, cmd StageCommand) (*StageProgressDTO, error) {
	row, name, err := s.stageOp(ctx, cmd.OrderID, cmd.StageID, func(_ context.Context, sc *stageScope, now time.Time) (bool, error) {
		return false, sc.row.Resume(now)
	})
	return stageResult(row, name, err)
}

// CompleteStage finishes work on a stage. Stages that need a quality check
// wait in quality_check; the rest complete and advance the order.
func (s *WorkflowService) CompleteStage(ctx context.Context, cmd CompleteStageCommand) (*StageProgressDTO, error) {
	ctx, span := tracing.StartSpan(ctx, "workflow-service", "CompleteStage",
		attribute.String("order.id", cmd.OrderID), attribute.String("stage.id", cmd.StageID))
	row, name, err := s.stageOp(ctx, cmd.OrderID, cmd.StageID, func(ctx context.Context, sc *stageScope, now time.Time) (bool, error) {
		if err := sc.requireEligible(domain.StageStatusCompleted); err != nil {
			return false, err
		}
		if err := sc.row.RecordMaterialUsage(cmd.MaterialUsage); err != nil {
			return false, err
		}
		if err := sc.row.Complete(cmd.ActualMinutes, sc.stage.RequiresQualityCheck, now); err != nil {
			return false, err
		}
		s.metrics.RecordStageMinutes(sc.stage.StageID, sc.row.ActualMinutes)

		if sc.row.Status == domain.StageStatusQualityCheck {
			if sc.pipeline.IsFinal(sc.stage.StageID) && sc.order.Status == domain.OrderStatusInProduction {
				return true, sc.order.EnterQualityCheck(now)
			}
			return false, nil
		}
		return s.finishStage(ctx, sc, now)
	})
	tracing.EndSpan(span, err)
	if err != nil {
		s.logger.WithError(err).Warn("Failed to complete stage", "orderId", cmd.OrderID, "stageId", cmd.StageID)
		return nil, err
	}
	return stageResult(row, name, nil)
}

// RecordQualityCheck passes a stage into completed or fails it into rework
func (s *WorkflowService) RecordQualityCheck(ctx context.Context, cmd QualityCheckCommand) (*StageProgressDTO, error) {
	if cmd.Score < 0 || cmd.Score > 100 {
		return nil, pkgerrors.ErrValidation("quality score must be between 0 and 100")
	}
	row, name, err := s.stageOp(ctx, cmd.OrderID, cmd.StageID, func(ctx context.Context, sc *stageScope, now time.Time) (bool, error) {
		if cmd.Passed {
			if err := sc.row.PassQualityCheck(cmd.Score, cmd.Notes, now); err != nil {
				return false, err
			}
			return s.finishStage(ctx, sc, now)
		}

		if err := sc.row.FailQualityCheck(cmd.Score, cmd.Notes, now); err != nil {
			return false, err
		}
		t := domain.NewStageTransition(sc.order.OrderID, sc.stage.StageID, sc.stage.StageID, domain.TransitionRework, now).
			WithWorkers(sc.row.WorkerID, sc.row.WorkerID).
			WithReason(cmd.Notes)
		if err := s.appendTransitions(ctx, sc.order.OrderID, t); err != nil {
			return false, err
		}
		if sc.pipeline.IsFinal(sc.stage.StageID) && sc.order.Status == domain.OrderStatusQualityCheck {
			return true, sc.order.ReturnToProduction(now)
		}
		return false, nil
	})
	if err != nil {
		s.logger.WithError(err).Warn("Failed to record quality check", "orderId", cmd.OrderID, "stageId", cmd.StageID)
		return nil, err
	}
	s.logger.Audit(ctx, "quality_check", "stage", domain.ProgressID(cmd.OrderID, cmd.StageID), cmd.Actor, map[string]any{
		"passed": cmd.Passed,
		"score":  cmd.Score,
	})
	return stageResult(row, name, nil)
}

// finishStage applies the effects of a stage reaching completed: consumption,
// stage cost, worker capacity, the complete transition, cost recompute and
// order progress.
func (s *WorkflowService) finishStage(ctx context.Context, sc *stageScope, now time.Time) (bool, error) {
	orderID, stageID := sc.order.OrderID, sc.stage.StageID

	consumed, err := s.reservations.ConsumeForStage(ctx, orderID, stageID, sc.row.MaterialUsage)
	if err != nil {
		return false, err
	}
	sc.row.Cost = domain.StageCostFor(sc.row.ActualMinutes, s.costs.Rates(), consumed)

	if sc.row.WorkerID != "" {
		if err := s.releaseWorker(ctx, sc.row.WorkerID, stageID); err != nil {
			return false, err
		}
	}

	toStage := ""
	if next, ok := sc.pipeline.Next(stageID); ok {
		toStage = next.StageID
	}
	score := domain.TaskScore(sc.row, s.config.Performance)
	t := domain.NewStageTransition(orderID, stageID, toStage, domain.TransitionComplete, now).
		WithWorkers(sc.row.WorkerID, "").
		WithScore(score)
	if err := s.appendTransitions(ctx, orderID, t); err != nil {
		return false, err
	}

	if domain.DivergesBeyond(sc.row.EstimatedMinutes, sc.row.ActualMinutes, s.config.CostTolerance) {
		if err := s.costs.Recompute(ctx, sc.order, sc.rows, "stage "+stageID); err != nil {
			return false, err
		}
	}

	if sc.pipeline.AllTerminal(sc.rows) {
		return true, s.completeOrder(ctx, sc, now)
	}

	sc.order.SetProgress(doneFraction(sc.pipeline, sc.rows))
	if sc.stage.AutoComplete {
		if err := s.autoAssign(ctx, sc, now); err != nil {
			return false, err
		}
	}
	return true, nil
}

// completeOrder closes an order whose stages are all terminal. Reservations
// that no stage consumed go back to stock.
func (s *WorkflowService) completeOrder(ctx context.Context, sc *stageScope, now time.Time) error {
	if err := s.costs.Recompute(ctx, sc.order, sc.rows, CostTriggerCompletion); err != nil {
		return err
	}
	if _, err := s.reservations.ReleaseLeftovers(ctx, sc.order.OrderID); err != nil {
		return err
	}
	if err := sc.order.Complete(sc.order.CostBreakdown.TotalCost, now); err != nil {
		return err
	}
	s.logger.WithOrder(sc.order.OrderID).Info("Order completed", "finalCost", sc.order.FinalCost)
	return nil
}

// doneFraction is the percentage of stages completed or skipped
func doneFraction(pipeline *domain.Pipeline, rows []*domain.OrderStageProgress) float64 {
	if pipeline.Len() == 0 {
		return 0
	}
	done := 0
	for _, r := range rows {
		if r.Status == domain.StageStatusCompleted || r.Status == domain.StageStatusSkipped {
			done++
		}
	}
	return float64(done) / float64(pipeline.Len()) * 100
}

// autoAssign hands over to every stage that became eligible. A stage nobody
// can take stays pending for a manual assignment.
func (s *WorkflowService) autoAssign(ctx context.Context, sc *stageScope, now time.Time) error {
	for _, next := range sc.pipeline.EligiblePending(sc.rows) {
		row := domain.ProgressByStage(sc.rows)[next.StageID]
		nsc := &stageScope{order: sc.order, pipeline: sc.pipeline, stage: next, rows: sc.rows, row: row}

		if err := s.assignInTx(ctx, nsc, "", now); err != nil {
			if errors.Is(err, domain.ErrNoEligibleWorker) {
				s.metrics.RecordAssignment(next.StageID, false)
				s.logger.WithOrder(sc.order.OrderID).Warn("No worker for automatic handover", "stageId", next.StageID)
				continue
			}
			return err
		}
		s.metrics.RecordAssignment(next.StageID, true)
		if next.AutoStart {
			if _, err := s.startInTx(ctx, nsc, now); err != nil {
				return err
			}
		}
		if err := s.saveRows(ctx, sc.order.OrderID, row); err != nil {
			return err
		}
	}
	return nil
}

// StartRework restarts a stage that failed its quality check
func (s *WorkflowService) StartRework(ctx context.Context, cmd ReworkCommand) (*StageProgressDTO, error) {
	row, name, err := s.stageOp(ctx, cmd.OrderID, cmd.StageID, func(ctx context.Context, sc *stageScope, now time.Time) (bool, error) {
		previous := sc.row.WorkerID
		if cmd.WorkerID != "" && cmd.WorkerID != previous {
			candidates, err := s.repos.Assignments.FindByStage(ctx, sc.stage.StageID)
			if err != nil {
				return false, fmt.Errorf("failed to load worker assignments: %w", err)
			}
			chosen, err := domain.SelectWorker(candidates, sc.stage, s.config.Ranking, cmd.WorkerID)
			if err != nil {
				return false, err
			}
			if err := sc.row.StartRework(chosen.WorkerID, now); err != nil {
				return false, err
			}
			if previous != "" {
				if err := s.releaseWorker(ctx, previous, sc.stage.StageID); err != nil {
					return false, err
				}
			}
			chosen.TakeTask(now)
			if err := s.repos.Assignments.Save(ctx, chosen); err != nil {
				return false, fmt.Errorf("failed to save worker assignment: %w", err)
			}
		} else if err := sc.row.StartRework("", now); err != nil {
			return false, err
		}

		t := domain.NewStageTransition(sc.order.OrderID, sc.stage.StageID, sc.stage.StageID, domain.TransitionRework, now).
			WithWorkers(previous, sc.row.WorkerID).
			WithReason("rework started")
		return false, s.appendTransitions(ctx, sc.order.OrderID, t)
	})
	if err != nil {
		s.logger.WithError(err).Warn("Failed to start rework", "orderId", cmd.OrderID, "stageId", cmd.StageID)
	}
	return stageResult(row, name, err)
}

// SkipStage skips a pending or assigned stage that is neither critical nor
// required for the order's product type.
func (s *WorkflowService) SkipStage(ctx context.Context, cmd SkipStageCommand) (*StageProgressDTO, error) {
	row, name, err := s.stageOp(ctx, cmd.OrderID, cmd.StageID, func(ctx context.Context, sc *stageScope, now time.Time) (bool, error) {
		if !sc.stage.Skippable(sc.order.ProductType) {
			return false, &domain.TransitionError{
				Entity: "stage " + sc.row.ProgressID,
				From:   sc.row.Status.String(),
				To:     domain.StageStatusSkipped.String(),
				Reason: "stage is required for this order",
			}
		}
		heldWorker := sc.row.HoldsWorker()
		if err := sc.row.Skip(cmd.Reason, now); err != nil {
			return false, err
		}
		if heldWorker {
			if err := s.releaseWorker(ctx, sc.row.WorkerID, sc.stage.StageID); err != nil {
				return false, err
			}
		}
		if _, err := s.reservations.ReleaseForStage(ctx, sc.order.OrderID, sc.stage.StageID, domain.ReleaseReasonManual); err != nil {
			return false, err
		}

		toStage := ""
		if next, ok := sc.pipeline.Next(sc.stage.StageID); ok {
			toStage = next.StageID
		}
		t := domain.NewStageTransition(sc.order.OrderID, sc.stage.StageID, toStage, domain.TransitionSkip, now).
			WithWorkers(sc.row.WorkerID, "").
			WithReason(cmd.Reason)
		if err := s.appendTransitions(ctx, sc.order.OrderID, t); err != nil {
			return false, err
		}

		if sc.order.Status == domain.OrderStatusMaterialsReserved {
			return false, nil
		}
		if sc.pipeline.AllTerminal(sc.rows) {
			return true, s.completeOrder(ctx, sc, now)
		}
		sc.order.SetProgress(doneFraction(sc.pipeline, sc.rows))
		return true, nil
	})
	if err != nil {
		s.logger.WithError(err).Warn("Failed to skip stage", "orderId", cmd.OrderID, "stageId", cmd.StageID)
		return nil, err
	}
	s.logger.Audit(ctx, "skip", "stage", domain.ProgressID(cmd.OrderID, cmd.StageID), cmd.Actor, map[string]any{"reason": cmd.Reason})
	return stageResult(row, name, nil)
}

// GetDisplayStatus projects the externally visible status from the stage rows.
// It is recomputed on every call; concurrent calls for one order share a read.
// The shared read ignores the cancellation of whichever caller started it.
func (s *WorkflowService) GetDisplayStatus(ctx context.Context, orderID string) (*DisplayStatusDTO, error) {
	ctx = context.WithoutCancel(ctx)
	v, err, _ := s.statusGroup.Do(orderID, func() (interface{}, error) {
		order, err := s.repos.Orders.FindByID(ctx, orderID)
		if err != nil {
			return nil, err
		}
		rows, err := s.repos.Progress.FindByOrder(ctx, orderID)
		if err != nil {
			return nil, fmt.Errorf("failed to load stage progress: %w", err)
		}
		pipeline, err := s.pipelineFor(order)
		if err != nil {
			return nil, err
		}
		return domain.ProjectDisplayStatus(order, pipeline, rows), nil
	})
	if err != nil {
		return nil, err
	}
	return ToDisplayStatusDTO(v.(domain.DisplayStatus)), nil
}

// ListStageProgress lists an order's stage rows in pipeline order
func (s *WorkflowService) ListStageProgress(ctx context.Context, orderID string) ([]StageProgressDTO, error) {
	order, err := s.repos.Orders.FindByID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	rows, err := s.repos.Progress.FindByOrder(ctx, orderID)
	if err != nil {
		return nil, fmt.Errorf("failed to load stage progress: %w", err)
	}
	pipeline, err := s.pipelineFor(order)
	if err != nil {
		return nil, err
	}
	out := make([]StageProgressDTO, 0, len(rows))
	for _, r := range rows {
		name := ""
		if stage, err := pipeline.Get(r.StageID); err == nil {
			name = stage.Name
		}
		out = append(out, ToStageProgressDTO(r, name))
	}
	return out, nil
}

// ListTransitions lists an order's transition log oldest first
func (s *WorkflowService) ListTransitions(ctx context.Context, orderID string) ([]TransitionDTO, error) {
	if _, err := s.repos.Orders.FindByID(ctx, orderID); err != nil {
		return nil, err
	}
	ts, err := s.repos.Transitions.FindByOrder(ctx, orderID)
	if err != nil {
		return nil, fmt.Errorf("failed to load transitions: %w", err)
	}
	out := make([]TransitionDTO, 0, len(ts))
	for _, t := range ts {
		out = append(out, ToTransitionDTO(t))
	}
	return out, nil
}

// Stages returns the current pipeline definition
func (s *WorkflowService) Stages() []domain.WorkflowStage {
	return s.registry.Pipeline().Stages()
}
