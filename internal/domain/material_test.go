package domain

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRequiredQuantityIncludesWaste(t *testing.T) {
	// 1 unit per product, 10% waste, 2 ordered
	entry := BOMEntry{ProductID: "SHIRT", MaterialID: "M", QuantityPerUnit: 1, WastePercentage: 10}
	assert.Equal(t, 2.2, entry.RequiredFor(2))
}

func TestRequiredMaterialsAggregatesPerMaterialAndStage(t *testing.T) {
	bom := map[string][]BOMEntry{
		"JACKET": {
			{ProductID: "JACKET", MaterialID: "WOOL", QuantityPerUnit: 2.5, WastePercentage: 8},
			{ProductID: "JACKET", MaterialID: "BUTTON", QuantityPerUnit: 3, StageID: "finishing"},
		},
		"TROUSERS": {
			{ProductID: "TROUSERS", MaterialID: "WOOL", QuantityPerUnit: 1.5, WastePercentage: 8},
		},
	}
	items := []OrderItem{{ProductID: "JACKET", Quantity: 2}, {ProductID: "TROUSERS", Quantity: 2}}

	reqs, err := RequiredMaterials(items, bom, "cutting")
	require.NoError(t, err)
	assert.Equal(t, []MaterialRequirement{
		{MaterialID: "BUTTON", StageID: "finishing", Quantity: 6},
		{MaterialID: "WOOL", StageID: "cutting", Quantity: 8.64},
	}, reqs)

	_, err = RequiredMaterials([]OrderItem{{ProductID: "HAT", Quantity: 1}}, bom, "cutting")
	assert.ErrorIs(t, err, ErrProductNotFound)
}

func TestReserveFailsWhenAvailableIsShort(t *testing.T) {
	m := &Material{MaterialID: "M", OnHand: 5, Reserved: 4}

	err := m.Reserve(2)

	var stockErr *InsufficientStockError
	require.True(t, errors.As(err, &stockErr))
	assert.ErrorIs(t, err, ErrInsufficientStock)
	assert.Equal(t, "M", stockErr.MaterialID)
	assert.Equal(t, 2.0, stockErr.Required)
	assert.Equal(t, 1.0, stockErr.Available)
	assert.Equal(t, 1.0, stockErr.Shortfall)
	assert.Equal(t, 4.0, m.Reserved)
}

func TestMaterialLedgerNeverOverReserves(t *testing.T) {
	m := &Material{MaterialID: "M", OnHand: 10}
	quantities := []float64{3, 3, 3, 3, 0.5, 0.5}
	for _, q := range quantities {
		_ = m.Reserve(q)
		require.NoError(t, m.CheckInvariant())
	}
	assert.Equal(t, 10.0, m.Reserved)
	assert.Equal(t, 0.0, m.Available())
}

func TestMaterialConsume(t *testing.T) {
	tests := []struct {
		name         string
		onHand       float64
		reserved     float64
		consumeRes   float64
		actual       float64
		wantErr      error
		wantOnHand   float64
		wantReserved float64
	}{
		{"exact", 10, 4, 4, 4, nil, 6, 0},
		{"underrun frees the rest", 10, 4, 4, 3, nil, 7, 0},
		{"overrun draws on free stock", 10, 4, 4, 6, nil, 4, 0},
		{"overrun cannot eat other reservations", 10, 9, 4, 6, ErrInsufficientStock, 10, 9},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := &Material{MaterialID: "M", OnHand: tt.onHand, Reserved: tt.reserved}
			err := m.Consume(tt.consumeRes, tt.actual)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
			} else {
				require.NoError(t, err)
			}
			assert.Equal(t, tt.wantOnHand, m.OnHand)
			assert.Equal(t, tt.wantReserved, m.Reserved)
			assert.NoError(t, m.CheckInvariant())
		})
	}
}

func TestMaterialReleaseCannotGoNegative(t *testing.T) {
	m := &Material{MaterialID: "M", OnHand: 10, Reserved: 2}
	require.NoError(t, m.Release(2))
	assert.ErrorIs(t, m.Release(1), ErrInvariantViolation)
	assert.Equal(t, 0.0, m.Reserved)
}

func TestMaterialLowStock(t *testing.T) {
	m := &Material{MaterialID: "M", OnHand: 10, Reserved: 7, LowStockThreshold: 5}
	assert.True(t, m.IsLowStock())
	ev := m.LowStockEvent("ORD-1", t0)
	assert.Equal(t, 3.0, ev.Available)

	m.LowStockThreshold = 0
	assert.False(t, m.IsLowStock())
}

func TestRound2(t *testing.T) {
	assert.Equal(t, 66.67, Round2(200.0/3))
	assert.Equal(t, 0.1, Round2(0.1+0.2-0.2))
}
