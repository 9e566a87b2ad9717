package domain

import (
	"cmp"
	"fmt"
	"math"
	"slices"
	"time"
)

// Round2 rounds money and percentages to two decimals
func Round2(v float64) float64 {
	return math.Round(v*100) / 100
}

// RoundQuantity rounds material quantities to four decimals, which keeps
// waste multiplication free of float noise (1 * 1.1 * 2 == 2.2).
func RoundQuantity(v float64) float64 {
	return math.Round(v*10000) / 10000
}

// Product is a catalog product
type Product struct {
	ProductID   string    `bson:"_id" json:"productId" yaml:"id"`
	Name        string    `bson:"name" json:"name" yaml:"name"`
	ProductType string    `bson:"productType" json:"productType" yaml:"product_type"`
	LaborCost   *float64  `bson:"laborCost,omitempty" json:"laborCost,omitempty" yaml:"labor_cost"`
	UpdatedAt   time.Time `bson:"updatedAt" json:"updatedAt" yaml:"-"`
}

// BOMEntry is the quantity of one material needed per product unit
type BOMEntry struct {
	ProductID       string  `bson:"productId" json:"productId" yaml:"product_id"`
	MaterialID      string  `bson:"materialId" json:"materialId" yaml:"material_id"`
	QuantityPerUnit float64 `bson:"quantityPerUnit" json:"quantityPerUnit" yaml:"quantity_per_unit"`
	WastePercentage float64 `bson:"wastePercentage" json:"wastePercentage" yaml:"waste_percentage"`
	// StageID is the consuming stage; empty means the first stage
	StageID string `bson:"stageId,omitempty" json:"stageId,omitempty" yaml:"stage_id"`
}

// QuantityWithWaste is the per-unit quantity including waste
func (b BOMEntry) QuantityWithWaste() float64 {
	return b.QuantityPerUnit * (1 + b.WastePercentage/100)
}

// RequiredFor is the quantity needed for orderQuantity units
func (b BOMEntry) RequiredFor(orderQuantity int) float64 {
	return RoundQuantity(b.QuantityWithWaste() * float64(orderQuantity))
}

// MaterialRequirement is the aggregated need of one material at one stage
type MaterialRequirement struct {
	MaterialID string
	StageID    string
	Quantity   float64
}

// RequiredMaterials aggregates BOM needs per (material, stage) across items.
// The result is sorted by material then stage so concurrent reservations
// touch material rows in the same order.
func RequiredMaterials(items []OrderItem, bom map[string][]BOMEntry, firstStageID string) ([]MaterialRequirement, error) {
	type key struct{ material, stage string }
	totals := make(map[key]float64)

	for _, item := range items {
		entries, ok := bom[item.ProductID]
		if !ok {
			return nil, fmt.Errorf("%w: no bill of materials for %s", ErrProductNotFound, item.ProductID)
		}
		for _, e := range entries {
			stage := e.StageID
			if stage == "" {
				stage = firstStageID
			}
			k := key{e.MaterialID, stage}
			totals[k] = RoundQuantity(totals[k] + e.RequiredFor(item.Quantity))
		}
	}

	out := make([]MaterialRequirement, 0, len(totals))
	for k, q := range totals {
		if q <= 0 {
			continue
		}
		out = append(out, MaterialRequirement{MaterialID: k.material, StageID: k.stage, Quantity: q})
	}
	slices.SortFunc(out, func(a, b MaterialRequirement) int {
		if c := cmp.Compare(a.MaterialID, b.MaterialID); c != 0 {
			return c
		}
		return cmp.Compare(a.StageID, b.StageID)
	})
	return out, nil
}

// Material is an inventory ledger row
type Material struct {
	MaterialID        string    `bson:"_id" json:"materialId" yaml:"id"`
	Name              string    `bson:"name" json:"name" yaml:"name"`
	Unit              string    `bson:"unit" json:"unit" yaml:"unit"`
	UnitCost          float64   `bson:"unitCost" json:"unitCost" yaml:"unit_cost"`
	OnHand            float64   `bson:"onHand" json:"onHand" yaml:"on_hand"`
	Reserved          float64   `bson:"reserved" json:"reserved" yaml:"-"`
	LowStockThreshold float64   `bson:"lowStockThreshold" json:"lowStockThreshold" yaml:"low_stock_threshold"`
	Version           int64     `bson:"version" json:"version" yaml:"-"`
	UpdatedAt         time.Time `bson:"updatedAt" json:"updatedAt" yaml:"-"`
}

// Available is on hand minus reserved
func (m *Material) Available() float64 {
	return RoundQuantity(m.OnHand - m.Reserved)
}

// IsLowStock reports whether available has dropped below the threshold
func (m *Material) IsLowStock() bool {
	return m.LowStockThreshold > 0 && m.Available() < m.LowStockThreshold
}

// CheckInvariant verifies 0 <= reserved <= on hand
func (m *Material) CheckInvariant() error {
	if m.Reserved < 0 || m.OnHand < 0 || m.Reserved > m.OnHand {
		return fmt.Errorf("%w: material %s on hand %.4f reserved %.4f", ErrInvariantViolation, m.MaterialID, m.OnHand, m.Reserved)
	}
	return nil
}

// Reserve increments reserved when enough is available
func (m *Material) Reserve(quantity float64) error {
	if quantity <= 0 {
		return ErrInvalidQuantity
	}
	if available := m.Available(); available < quantity {
		return NewInsufficientStockError(m.MaterialID, quantity, available)
	}
	m.Reserved = RoundQuantity(m.Reserved + quantity)
	m.Version++
	return nil
}

// Consume removes actual from on hand and reserved from reserved. An overrun
// may draw on free stock but never on other orders' reservations.
func (m *Material) Consume(reserved, actual float64) error {
	if actual < 0 || reserved <= 0 {
		return ErrInvalidQuantity
	}
	remainingReserved := RoundQuantity(m.Reserved - reserved)
	if remainingReserved < 0 {
		return fmt.Errorf("%w: material %s releases more than it holds", ErrInvariantViolation, m.MaterialID)
	}
	if onHand := RoundQuantity(m.OnHand - actual); onHand < remainingReserved {
		return NewInsufficientStockError(m.MaterialID, actual, RoundQuantity(m.OnHand-remainingReserved))
	}
	m.OnHand = RoundQuantity(m.OnHand - actual)
	m.Reserved = remainingReserved
	m.Version++
	return nil
}

// Release returns quantity to available
func (m *Material) Release(quantity float64) error {
	if quantity <= 0 {
		return ErrInvalidQuantity
	}
	reserved := RoundQuantity(m.Reserved - quantity)
	if reserved < 0 {
		return fmt.Errorf("%w: material %s releases more than it holds", ErrInvariantViolation, m.MaterialID)
	}
	m.Reserved = reserved
	m.Version++
	return nil
}

// LowStockEvent builds the event for a low-stock material
func (m *Material) LowStockEvent(orderID string, at time.Time) *MaterialLowStockEvent {
	return &MaterialLowStockEvent{
		MaterialID: m.MaterialID,
		OrderID:    orderID,
		OnHand:     m.OnHand,
		Reserved:   m.Reserved,
		Available:  m.Available(),
		Threshold:  m.LowStockThreshold,
		DetectedAt: at,
	}
}
