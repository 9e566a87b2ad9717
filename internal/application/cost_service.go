package application

import (
	"context"
	"fmt"

	"github.com/atelier-platform/production-engine/pkg/logging"

	"github.com/atelier-platform/production-engine/internal/domain"
)

// Cost recompute triggers
const (
	CostTriggerEstimate   = "estimate"
	CostTriggerCompletion = "completion"
)

// CostService estimates and recomputes order cost from the catalog
type CostService struct {
	repos    Repositories
	registry domain.StageRegistry
	rates    domain.CostRates
	logger   *logging.Logger
	clock    Clock
}

// NewCostService creates a new CostService
func NewCostService(repos Repositories, registry domain.StageRegistry, rates domain.CostRates, logger *logging.Logger) *CostService {
	return &CostService{
		repos:    repos,
		registry: registry,
		rates:    rates,
		logger:   logger.WithComponent("cost"),
		clock:    utcNow,
	}
}

// WithClock replaces the time source
func (s *CostService) WithClock(clock Clock) *CostService {
	s.clock = clock
	return s
}

// Rates returns the configured cost rates
func (s *CostService) Rates() domain.CostRates { return s.rates }

func (s *CostService) catalogFor(ctx context.Context, items []domain.OrderItem) (domain.CostCatalog, error) {
	ids := productIDs(items)
	products, err := s.repos.Catalog.FindProducts(ctx, ids)
	if err != nil {
		return domain.CostCatalog{}, fmt.Errorf("failed to load products: %w", err)
	}
	bom, err := s.repos.Catalog.FindBOM(ctx, ids)
	if err != nil {
		return domain.CostCatalog{}, fmt.Errorf("failed to load bill of materials: %w", err)
	}

	var materialIDs []string
	seen := make(map[string]bool)
	for _, entries := range bom {
		for _, e := range entries {
			if !seen[e.MaterialID] {
				seen[e.MaterialID] = true
				materialIDs = append(materialIDs, e.MaterialID)
			}
		}
	}
	materials, err := s.repos.Materials.FindByIDs(ctx, materialIDs)
	if err != nil {
		return domain.CostCatalog{}, fmt.Errorf("failed to load materials: %w", err)
	}
	return domain.CostCatalog{Products: products, BOM: bom, Materials: materials}, nil
}

// Estimate stores the intake cost estimate on the order. The caller saves it.
func (s *CostService) Estimate(ctx context.Context, order *domain.Order) error {
	catalog, err := s.catalogFor(ctx, order.Items)
	if err != nil {
		return err
	}
	breakdown, err := domain.ComputeOrderCost(order.Items, catalog, s.rates, 1, s.clock())
	if err != nil {
		return err
	}
	order.ApplyCost(breakdown, true, CostTriggerEstimate, s.clock())
	return nil
}

// Recompute projects labor from the stage rows and stores the new breakdown.
// The estimate is left as it was.
func (s *CostService) Recompute(ctx context.Context, order *domain.Order, rows []*domain.OrderStageProgress, trigger string) error {
	catalog, err := s.catalogFor(ctx, order.Items)
	if err != nil {
		return err
	}
	pipeline, err := order.StagePipeline(s.registry.Pipeline())
	if err != nil {
		return err
	}
	factor := domain.LaborFactor(pipeline, rows)
	breakdown, err := domain.ComputeOrderCost(order.Items, catalog, s.rates, factor, s.clock())
	if err != nil {
		return err
	}
	order.ApplyCost(breakdown, false, trigger, s.clock())

	s.logger.WithOrder(order.OrderID).Info("Recomputed order cost",
		"trigger", trigger,
		"laborFactor", factor,
		"estimated", order.EstimatedCost,
		"total", breakdown.TotalCost,
	)
	return nil
}

// OrderCost reports the order cost with the per-stage breakdown
func (s *CostService) OrderCost(ctx context.Context, orderID string) (*OrderCostDTO, error) {
	order, err := s.repos.Orders.FindByID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	rows, err := s.repos.Progress.FindByOrder(ctx, orderID)
	if err != nil {
		return nil, fmt.Errorf("failed to load stage progress: %w", err)
	}

	dto := &OrderCostDTO{
		OrderID:       order.OrderID,
		Currency:      order.Currency,
		EstimatedCost: order.EstimatedCost,
		FinalCost:     order.FinalCost,
		SellingPrice:  order.SellingPrice,
		Breakdown:     ToCostBreakdownDTO(order.CostBreakdown),
		Stages:        make([]StageCostLineDTO, 0, len(rows)),
	}
	total := 0.0
	for _, r := range rows {
		dto.Stages = append(dto.Stages, StageCostLineDTO{
			StageID: r.StageID,
			Status:  string(r.Status),
			Cost:    ToStageCostDTO(r.Cost),
		})
		total += r.Cost.Total()
	}
	dto.StageTotal = domain.Round2(total)
	return dto, nil
}
