package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

func threeStagePipeline(t *testing.T) *Pipeline {
	t.Helper()
	p, err := NewPipeline([]WorkflowStage{
		{StageID: "cutting", Name: "Cutting", Sequence: 1, RequiredRole: "cutter", EstimatedMinutes: 60, IsCritical: true},
		{StageID: "sewing", Name: "Sewing", Sequence: 2, RequiredRole: "tailor", EstimatedMinutes: 120, IsCritical: true},
		{StageID: "finishing", Name: "Finishing", Sequence: 3, RequiredRole: "finisher", EstimatedMinutes: 30, RequiresQualityCheck: true},
	})
	require.NoError(t, err)
	return p
}

// cutting, then embroidery and lining in parallel, then pressing
func parallelPipeline(t *testing.T) *Pipeline {
	t.Helper()
	p, err := NewPipeline([]WorkflowStage{
		{StageID: "cutting", Name: "Cutting", Sequence: 1, RequiredRole: "cutter", EstimatedMinutes: 60},
		{StageID: "embroidery", Name: "Embroidery", Sequence: 2, RequiredRole: "embroiderer", EstimatedMinutes: 90, AllowsParallel: true},
		{StageID: "lining", Name: "Lining", Sequence: 3, RequiredRole: "tailor", EstimatedMinutes: 45, AllowsParallel: true},
		{StageID: "pressing", Name: "Pressing", Sequence: 4, RequiredRole: "presser", EstimatedMinutes: 15},
	})
	require.NoError(t, err)
	return p
}

func rowsFor(orderID string, p *Pipeline, statuses ...StageStatus) []*OrderStageProgress {
	rows := make([]*OrderStageProgress, 0, p.Len())
	for i, s := range p.Stages() {
		row := NewStageProgress(orderID, s, t0)
		if i < len(statuses) {
			row.Status = statuses[i]
		}
		rows = append(rows, row)
	}
	return rows
}

func inProductionOrder(t *testing.T) *Order {
	t.Helper()
	o, err := NewOrder("ORD-1", "CUST-1", "suit", PriorityNormal, "usd", []OrderItem{{ProductID: "SUIT", Quantity: 2}}, 900, t0)
	require.NoError(t, err)
	require.NoError(t, o.Accept("manager", t0))
	require.NoError(t, o.MarkMaterialsReserved(t0))
	require.NoError(t, o.StartProduction(t0))
	return o
}

func ptr[T any](v T) *T { return &v }
