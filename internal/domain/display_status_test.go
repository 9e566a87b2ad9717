package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDisplayStatusBetweenStages(t *testing.T) {
	p := threeStagePipeline(t)
	order := inProductionOrder(t)
	rows := rowsFor(order.OrderID, p, StageStatusCompleted, StageStatusCompleted, StageStatusPending)

	ds := ProjectDisplayStatus(order, p, rows)

	assert.Equal(t, DisplayBetweenStages, ds.Kind)
	assert.Equal(t, 66.67, ds.Progress)
	assert.Equal(t, 2, ds.CompletedStages)
	assert.Equal(t, 3, ds.TotalStages)
}

func TestDisplayStatusProjection(t *testing.T) {
	p := threeStagePipeline(t)

	tests := []struct {
		name      string
		status    OrderStatus
		stages    []StageStatus
		wantKind  DisplayKind
		wantStage string
		wantPct   float64
	}{
		{"completed verbatim", OrderStatusCompleted, []StageStatus{StageStatusCompleted, StageStatusCompleted, StageStatusCompleted}, DisplayCompleted, "", 100},
		{"cancelled verbatim", OrderStatusCancelled, []StageStatus{StageStatusCompleted, StageStatusCancelled, StageStatusCancelled}, DisplayCancelled, "", 33.33},
		{"in stage", OrderStatusInProduction, []StageStatus{StageStatusCompleted, StageStatusInProgress}, DisplayInStage, "sewing", 33.33},
		{"quality check counts as in stage", OrderStatusQualityCheck, []StageStatus{StageStatusCompleted, StageStatusCompleted, StageStatusQualityCheck}, DisplayInStage, "finishing", 66.67},
		{"rework counts as in stage", OrderStatusInProduction, []StageStatus{StageStatusReworkRequired}, DisplayInStage, "cutting", 0},
		{"skipped counts as done", OrderStatusInProduction, []StageStatus{StageStatusCompleted, StageStatusSkipped}, DisplayBetweenStages, "", 66.67},
		{"waiting to start", OrderStatusMaterialsReserved, nil, DisplayWaitingToStart, "", 0},
		{"pending acceptance has no rows", OrderStatusPendingAcceptance, nil, DisplayWaitingToStart, "", 0},
		{"held before any work", OrderStatusOnHold, nil, DisplayLifecycle, "", 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			order := &Order{OrderID: "ORD-1", Status: tt.status}
			if tt.status == OrderStatusCompleted {
				order.Progress = 100
			}
			var rows []*OrderStageProgress
			if tt.status != OrderStatusPendingAcceptance {
				rows = rowsFor(order.OrderID, p, tt.stages...)
			}

			ds := ProjectDisplayStatus(order, p, rows)
			assert.Equal(t, tt.wantKind, ds.Kind)
			assert.Equal(t, tt.wantStage, ds.StageID)
			assert.Equal(t, tt.wantPct, ds.Progress)
			assert.Equal(t, tt.status, ds.Status)
		})
	}
}

func TestDisplayStatusIsPure(t *testing.T) {
	p := parallelPipeline(t)
	order := inProductionOrder(t)
	rows := rowsFor(order.OrderID, p, StageStatusCompleted, StageStatusInProgress, StageStatusInProgress)
	before := *rows[1]

	first := ProjectDisplayStatus(order, p, rows)
	second := ProjectDisplayStatus(order, p, rows)

	assert.Equal(t, first, second)
	require.Equal(t, DisplayInStage, first.Kind)
	assert.Equal(t, "embroidery", first.StageID)
	assert.Equal(t, "Embroidery", first.StageName)
	assert.Equal(t, before, *rows[1])
}
