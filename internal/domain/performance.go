package domain

import (
	"math"
	"time"
)

// PerformanceWeights configures the composite worker score
type PerformanceWeights struct {
	SpeedWeight       float64 `mapstructure:"speed_weight"`
	QualityWeight     float64 `mapstructure:"quality_weight"`
	ReworkPenalty     float64 `mapstructure:"rework_penalty"`
	BonusThreshold    float64 `mapstructure:"bonus_threshold"`
	MinCompletionRate float64 `mapstructure:"min_completion_rate"`
	MinTasks          int     `mapstructure:"min_tasks"`
}

// DefaultPerformanceWeights returns the default scoring weights
func DefaultPerformanceWeights() PerformanceWeights {
	return PerformanceWeights{
		SpeedWeight:       0.6,
		QualityWeight:     0.4,
		ReworkPenalty:     5,
		BonusThreshold:    85,
		MinCompletionRate: 0.9,
		MinTasks:          5,
	}
}

// speedCap is the efficiency that earns full speed points
const speedCap = 150.0

// PerformanceScore blends speed and quality, minus a penalty per rework, into 0..100.
// Quality is on a 0..100 scale.
func PerformanceScore(efficiency, quality float64, reworks int, w PerformanceWeights) float64 {
	speed := math.Min(math.Max(efficiency, 0), speedCap) / 1.5
	score := w.SpeedWeight*speed + w.QualityWeight*quality - w.ReworkPenalty*float64(reworks)
	return Round2(math.Min(100, math.Max(0, score)))
}

// qualityOrDefault treats a stage without a check as passing in full
func qualityOrDefault(score *float64) float64 {
	if score == nil {
		return 100
	}
	return *score
}

// TaskScore scores the worker departing a completed stage
func TaskScore(p *OrderStageProgress, w PerformanceWeights) float64 {
	return PerformanceScore(p.EfficiencyPercentage, qualityOrDefault(p.QualityScore), p.WorkerReworks(), w)
}

// WorkerPerformance is the rollup for one worker over one period
type WorkerPerformance struct {
	WorkerID            string    `bson:"workerId" json:"workerId"`
	PeriodStart         time.Time `bson:"periodStart" json:"periodStart"`
	PeriodEnd           time.Time `bson:"periodEnd" json:"periodEnd"`
	TasksAssigned       int       `bson:"tasksAssigned" json:"tasksAssigned"`
	TasksCompleted      int       `bson:"tasksCompleted" json:"tasksCompleted"`
	CompletionRate      float64   `bson:"completionRate" json:"completionRate"`
	AverageTaskMinutes  float64   `bson:"averageTaskMinutes" json:"averageTaskMinutes"`
	AverageQualityScore float64   `bson:"averageQualityScore" json:"averageQualityScore"`
	AverageEfficiency   float64   `bson:"averageEfficiency" json:"averageEfficiency"`
	ReworkCount         int       `bson:"reworkCount" json:"reworkCount"`
	PerformanceScore    float64   `bson:"performanceScore" json:"performanceScore"`
	BonusEligible       bool      `bson:"bonusEligible" json:"bonusEligible"`
	ComputedAt          time.Time `bson:"computedAt" json:"computedAt"`
}

func inPeriod(t *time.Time, from, to time.Time) bool {
	return t != nil && !t.Before(from) && t.Before(to)
}

// ComputeWorkerPerformance rolls up rows worked by workerID in [from, to).
// It reads only the progress log, so it can be recomputed at any time. A
// worker who handed a stage over for rework is charged the assignment and the
// reworks before the handover; the completion goes to whoever finished it.
func ComputeWorkerPerformance(workerID string, from, to time.Time, rows []*OrderStageProgress, w PerformanceWeights, at time.Time) *WorkerPerformance {
	perf := &WorkerPerformance{
		WorkerID:    workerID,
		PeriodStart: from,
		PeriodEnd:   to,
		ComputedAt:  at,
	}

	var minutes, quality, efficiency float64
	for _, r := range rows {
		if r.PreviousWorkerID == workerID && r.WorkerID != workerID {
			if inPeriod(r.PreviousAssignedAt, from, to) {
				perf.TasksAssigned++
				perf.ReworkCount += r.HandoverReworks
			}
			continue
		}
		if r.WorkerID != workerID || !inPeriod(r.AssignedAt, from, to) {
			continue
		}
		perf.TasksAssigned++
		perf.ReworkCount += r.WorkerReworks()
		if r.Status != StageStatusCompleted || !inPeriod(r.CompletedAt, from, to) {
			continue
		}
		perf.TasksCompleted++
		minutes += r.ActualMinutes
		efficiency += r.EfficiencyPercentage
		quality += qualityOrDefault(r.QualityScore)
	}

	if perf.TasksAssigned > 0 {
		perf.CompletionRate = Round2(float64(perf.TasksCompleted) / float64(perf.TasksAssigned))
	}
	if n := float64(perf.TasksCompleted); n > 0 {
		perf.AverageTaskMinutes = Round2(minutes / n)
		perf.AverageQualityScore = Round2(quality / n)
		perf.AverageEfficiency = Round2(efficiency / n)
		perf.PerformanceScore = PerformanceScore(efficiency/n, quality/n, perf.ReworkCount, w)
	}
	perf.BonusEligible = perf.PerformanceScore >= w.BonusThreshold &&
		perf.CompletionRate >= w.MinCompletionRate &&
		perf.TasksCompleted >= w.MinTasks
	return perf
}

// EfficiencyRating converts a rollup into the ranking multiplier, 1.0 at 100%
func (p *WorkerPerformance) EfficiencyRating() float64 {
	if p.TasksCompleted == 0 {
		return 0
	}
	return Round2(ClipEfficiency(p.AverageEfficiency) / 100)
}
