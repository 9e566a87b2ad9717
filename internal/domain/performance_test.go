package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestPerformanceScore(t *testing.T) {
	w := DefaultPerformanceWeights()
	tests := []struct {
		name       string
		efficiency float64
		quality    float64
		reworks    int
		want       float64
	}{
		{"on estimate, perfect quality", 100, 100, 0, 80},
		{"speed capped at 150", 400, 100, 0, 100},
		{"slow with one rework", 60.0 / 90.0 * 100, 100, 1, 61.67},
		{"clamped at zero", 0, 0, 10, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, PerformanceScore(tt.efficiency, tt.quality, tt.reworks, w))
		})
	}
}

func completedRow(workerID string, at time.Time, efficiency float64) *OrderStageProgress {
	row := NewStageProgress("ORD-"+at.Format("150405"), WorkflowStage{StageID: "sewing", EstimatedMinutes: 60}, at)
	row.WorkerID = workerID
	row.AssignedAt = &at
	done := at.Add(time.Hour)
	row.CompletedAt = &done
	row.Status = StageStatusCompleted
	row.ActualMinutes = 40
	row.EfficiencyPercentage = efficiency
	return row
}

func TestComputeWorkerPerformance(t *testing.T) {
	w := DefaultPerformanceWeights()
	day := t0.Truncate(24 * time.Hour)
	var rows []*OrderStageProgress
	for i := 0; i < 5; i++ {
		rows = append(rows, completedRow("W-1", day.Add(time.Duration(i+1)*time.Hour), 150))
	}
	rows = append(rows,
		completedRow("W-2", day.Add(time.Hour), 50),
		completedRow("W-1", day.Add(-2*time.Hour), 10),
	)

	perf := ComputeWorkerPerformance("W-1", day, day.Add(24*time.Hour), rows, w, t0)
	assert.Equal(t, 5, perf.TasksAssigned)
	assert.Equal(t, 5, perf.TasksCompleted)
	assert.Equal(t, 1.0, perf.CompletionRate)
	assert.Equal(t, 40.0, perf.AverageTaskMinutes)
	assert.Equal(t, 150.0, perf.AverageEfficiency)
	assert.Equal(t, 100.0, perf.AverageQualityScore)
	assert.Equal(t, 100.0, perf.PerformanceScore)
	assert.True(t, perf.BonusEligible)
	assert.Equal(t, 1.5, perf.EfficiencyRating())

	unfinished := NewStageProgress("ORD-X", WorkflowStage{StageID: "sewing", EstimatedMinutes: 60}, day)
	unfinished.WorkerID = "W-1"
	unfinished.AssignedAt = ptr(day.Add(3 * time.Hour))
	unfinished.Status = StageStatusInProgress
	rows = append(rows, unfinished)

	perf = ComputeWorkerPerformance("W-1", day, day.Add(24*time.Hour), rows, w, t0)
	assert.Equal(t, 6, perf.TasksAssigned)
	assert.Equal(t, 0.83, perf.CompletionRate)
	assert.False(t, perf.BonusEligible)
}

func TestComputeWorkerPerformanceIsRecomputable(t *testing.T) {
	w := DefaultPerformanceWeights()
	rows := []*OrderStageProgress{completedRow("W-1", t0, 80)}
	a := ComputeWorkerPerformance("W-1", t0.Add(-time.Hour), t0.Add(2*time.Hour), rows, w, t0)
	b := ComputeWorkerPerformance("W-1", t0.Add(-time.Hour), t0.Add(2*time.Hour), rows, w, t0)
	assert.Equal(t, a, b)
	assert.Equal(t, 1, a.TasksCompleted)
	assert.False(t, a.BonusEligible)
}

func TestTaskScoreUsesQualityWhenPresent(t *testing.T) {
	row := completedRow("W-1", t0, 100)
	row.QualityScore = ptr(50.0)
	assert.Equal(t, 60.0, TaskScore(row, DefaultPerformanceWeights()))
}

func TestComputeWorkerPerformanceSplitsReworkHandover(t *testing.T) {
	w := DefaultPerformanceWeights()
	row := NewStageProgress("ORD-1", WorkflowStage{StageID: "pressing", EstimatedMinutes: 30}, t0)
	row.Status = StageStatusReworkRequired
	row.WorkerID = "W-1"
	row.AssignedAt = ptr(t0)
	row.ReworkCount = 1

	handover := t0.Add(time.Hour)
	assert.NoError(t, row.StartRework("W-2", handover))
	assert.Equal(t, "W-1", row.PreviousWorkerID)
	assert.Equal(t, 0, row.WorkerReworks())

	row.ReworkCount = 2
	row.Status = StageStatusCompleted
	row.CompletedAt = ptr(handover.Add(time.Hour))
	row.ActualMinutes = 30
	row.EfficiencyPercentage = 100

	from, to := t0.Add(-time.Hour), t0.Add(24*time.Hour)
	departed := ComputeWorkerPerformance("W-1", from, to, []*OrderStageProgress{row}, w, t0)
	assert.Equal(t, 1, departed.TasksAssigned)
	assert.Zero(t, departed.TasksCompleted)
	assert.Equal(t, 1, departed.ReworkCount)

	finisher := ComputeWorkerPerformance("W-2", from, to, []*OrderStageProgress{row}, w, t0)
	assert.Equal(t, 1, finisher.TasksAssigned)
	assert.Equal(t, 1, finisher.TasksCompleted)
	assert.Equal(t, 1, finisher.ReworkCount)
	assert.Equal(t, 75.0, TaskScore(row, w))

	outside := ComputeWorkerPerformance("W-1", t0.Add(2*time.Hour), to, []*OrderStageProgress{row}, w, t0)
	assert.Zero(t, outside.TasksAssigned)
}
