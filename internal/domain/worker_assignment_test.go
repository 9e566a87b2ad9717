package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var sewing = WorkflowStage{StageID: "sewing", Name: "Sewing", Sequence: 2, RequiredRole: "tailor", EstimatedMinutes: 120}

func tailor(id string, mutate func(w *WorkerStageAssignment)) *WorkerStageAssignment {
	w := &WorkerStageAssignment{
		WorkerID:           id,
		StageID:            "sewing",
		Role:               "tailor",
		SkillLevel:         3,
		EfficiencyRating:   1.0,
		AvailabilityStatus: AvailabilityAvailable,
		MaxConcurrentTasks: 2,
	}
	if mutate != nil {
		mutate(w)
	}
	return w
}

func ids(ws []*WorkerStageAssignment) []string {
	out := make([]string, 0, len(ws))
	for _, w := range ws {
		out = append(out, w.WorkerID)
	}
	return out
}

func TestRankCandidatesFiltersUnqualified(t *testing.T) {
	candidates := []*WorkerStageAssignment{
		tailor("ok", nil),
		tailor("on-leave", func(w *WorkerStageAssignment) { w.AvailabilityStatus = AvailabilityOnLeave }),
		tailor("busy", func(w *WorkerStageAssignment) { w.AvailabilityStatus = AvailabilityBusy }),
		tailor("full", func(w *WorkerStageAssignment) { w.CurrentTaskCount = 2 }),
		tailor("cutter", func(w *WorkerStageAssignment) { w.Role = "cutter" }),
		tailor("other-stage", func(w *WorkerStageAssignment) { w.StageID = "cutting" }),
	}
	assert.Equal(t, []string{"ok"}, ids(RankCandidates(candidates, sewing, nil)))
}

func TestRankCandidatesDefaultOrder(t *testing.T) {
	earlier := t0
	later := t0.Add(time.Hour)
	candidates := []*WorkerStageAssignment{
		tailor("slow", func(w *WorkerStageAssignment) { w.EfficiencyRating = 0.8 }),
		tailor("primary", func(w *WorkerStageAssignment) { w.IsPrimary = true; w.EfficiencyRating = 0.5 }),
		tailor("recent", func(w *WorkerStageAssignment) { w.LastAssignedAt = &later }),
		tailor("rested", func(w *WorkerStageAssignment) { w.LastAssignedAt = &earlier }),
		tailor("never", nil),
		tailor("senior", func(w *WorkerStageAssignment) { w.PriorityLevel = 2 }),
	}
	got := ids(RankCandidates(candidates, sewing, DefaultRanking))
	assert.Equal(t, []string{"primary", "senior", "never", "rested", "recent", "slow"}, got)
}

func TestRankCandidatesConfigurableCriteria(t *testing.T) {
	candidates := []*WorkerStageAssignment{
		tailor("primary", func(w *WorkerStageAssignment) { w.IsPrimary = true; w.EfficiencyRating = 0.5 }),
		tailor("fast", func(w *WorkerStageAssignment) { w.EfficiencyRating = 1.4 }),
	}
	criteria, err := ParseRanking([]string{"efficiency", "primary"})
	require.NoError(t, err)
	assert.Equal(t, []string{"fast", "primary"}, ids(RankCandidates(candidates, sewing, criteria)))

	_, err = ParseRanking([]string{"seniority"})
	assert.Error(t, err)

	def, err := ParseRanking(nil)
	require.NoError(t, err)
	assert.Equal(t, DefaultRanking, def)
}

func TestSelectWorker(t *testing.T) {
	candidates := []*WorkerStageAssignment{
		tailor("a", func(w *WorkerStageAssignment) { w.IsPrimary = true }),
		tailor("b", nil),
		tailor("c", func(w *WorkerStageAssignment) { w.AvailabilityStatus = AvailabilityOffline }),
	}

	w, err := SelectWorker(candidates, sewing, nil, "")
	require.NoError(t, err)
	assert.Equal(t, "a", w.WorkerID)

	w, err = SelectWorker(candidates, sewing, nil, "b")
	require.NoError(t, err)
	assert.Equal(t, "b", w.WorkerID)

	_, err = SelectWorker(candidates, sewing, nil, "c")
	assert.ErrorIs(t, err, ErrWorkerNotQualified)

	_, err = SelectWorker(nil, sewing, nil, "")
	assert.ErrorIs(t, err, ErrNoEligibleWorker)
}

func TestWorkerCapacity(t *testing.T) {
	w := tailor("a", nil)
	w.TakeTask(t0)
	assert.Equal(t, AvailabilityAvailable, w.AvailabilityStatus)
	w.TakeTask(t0)
	assert.Equal(t, AvailabilityBusy, w.AvailabilityStatus)
	assert.False(t, w.Qualifies(sewing))

	w.ReleaseTask()
	assert.Equal(t, AvailabilityAvailable, w.AvailabilityStatus)
	assert.Equal(t, 1, w.CurrentTaskCount)

	w.AvailabilityStatus = AvailabilityOnLeave
	w.ReleaseTask()
	w.ReleaseTask()
	assert.Equal(t, 0, w.CurrentTaskCount)
	assert.Equal(t, AvailabilityOnLeave, w.AvailabilityStatus)
}
