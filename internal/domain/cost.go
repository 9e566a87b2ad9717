package domain

import (
	"fmt"
	"math"
	"time"
)

// Efficiency display bounds
const (
	MinDisplayEfficiency = 0.0
	MaxDisplayEfficiency = 200.0
)

// Efficiency is estimated over actual time as a percentage, unclipped
func Efficiency(estimatedMinutes, actualMinutes float64) float64 {
	if actualMinutes <= 0 || estimatedMinutes <= 0 {
		return 0
	}
	return estimatedMinutes / actualMinutes * 100
}

// ClipEfficiency bounds a stored efficiency for display
func ClipEfficiency(e float64) float64 {
	return Round2(math.Min(MaxDisplayEfficiency, math.Max(MinDisplayEfficiency, e)))
}

// CostRates are the configured labor and overhead inputs
type CostRates struct {
	DefaultLaborCost float64
	LaborHourlyRate  float64
	OverheadRate     float64
	Tolerance        float64
}

// CostCatalog is the catalog data a cost computation reads
type CostCatalog struct {
	Products  map[string]*Product
	BOM       map[string][]BOMEntry
	Materials map[string]*Material
}

// ComputeOrderCost blends material and labor cost. laborFactor scales the
// projected labor; 1 is the intake estimate.
func ComputeOrderCost(items []OrderItem, catalog CostCatalog, rates CostRates, laborFactor float64, at time.Time) (CostBreakdown, error) {
	var materials, labor float64
	quantity := 0
	for _, item := range items {
		quantity += item.Quantity
		for _, e := range catalog.BOM[item.ProductID] {
			m, ok := catalog.Materials[e.MaterialID]
			if !ok {
				return CostBreakdown{}, fmt.Errorf("%w: %s", ErrMaterialNotFound, e.MaterialID)
			}
			materials += e.RequiredFor(item.Quantity) * m.UnitCost
		}
		perUnit := rates.DefaultLaborCost
		if p, ok := catalog.Products[item.ProductID]; ok && p.LaborCost != nil {
			perUnit = *p.LaborCost
		}
		labor += perUnit * float64(item.Quantity) * laborFactor
	}

	total := materials + labor
	unit := 0.0
	if quantity > 0 {
		unit = total / float64(quantity)
	}
	return CostBreakdown{
		MaterialCost: Round2(materials),
		LaborCost:    Round2(labor),
		UnitCost:     Round2(unit),
		TotalCost:    Round2(total),
		ComputedAt:   at,
	}, nil
}

// DivergesBeyond reports whether actual differs from estimated by more than tolerance
func DivergesBeyond(estimated, actual, tolerance float64) bool {
	if estimated <= 0 {
		return false
	}
	return math.Abs(actual-estimated)/estimated > tolerance
}

// LaborFactor projects labor from what happened so far: actual minutes of
// completed stages plus the estimate of the rest, over the total estimate.
// Skipped and cancelled stages add no labor.
func LaborFactor(pipeline *Pipeline, rows []*OrderStageProgress) float64 {
	totalEstimate := pipeline.TotalEstimatedMinutes()
	if totalEstimate <= 0 {
		return 1
	}
	byStage := ProgressByStage(rows)
	projected := 0.0
	for _, s := range pipeline.stages {
		row, ok := byStage[s.StageID]
		switch {
		case !ok:
			projected += s.EstimatedMinutes
		case row.Status == StageStatusCompleted:
			projected += row.ActualMinutes
		case row.Status.IsTerminal():
		default:
			projected += s.EstimatedMinutes
		}
	}
	return projected / totalEstimate
}

// ConsumedMaterial is one consumption priced at the material's unit cost
type ConsumedMaterial struct {
	Quantity float64
	UnitCost float64
}

// StageCostFor prices a completed stage
func StageCostFor(actualMinutes float64, rates CostRates, consumed []ConsumedMaterial) StageCost {
	labor := actualMinutes / 60 * rates.LaborHourlyRate
	material := 0.0
	for _, c := range consumed {
		material += c.Quantity * c.UnitCost
	}
	return StageCost{
		Labor:    Round2(labor),
		Material: Round2(material),
		Overhead: Round2(labor * rates.OverheadRate),
	}
}
