package domain

import (
	"cmp"
	"fmt"
	"slices"
	"strings"
	"time"
)

// AvailabilityStatus of a worker
type AvailabilityStatus string

const (
	AvailabilityAvailable AvailabilityStatus = "available"
	AvailabilityBusy      AvailabilityStatus = "busy"
	AvailabilityOnLeave   AvailabilityStatus = "on_leave"
	AvailabilityOffline   AvailabilityStatus = "offline"
)

// WorkerStageAssignment qualifies a worker for a stage
type WorkerStageAssignment struct {
	WorkerID           string             `bson:"workerId" json:"workerId" yaml:"worker_id"`
	StageID            string             `bson:"stageId" json:"stageId" yaml:"stage_id"`
	Role               string             `bson:"role" json:"role" yaml:"role"`
	SkillLevel         int                `bson:"skillLevel" json:"skillLevel" yaml:"skill_level"`
	EfficiencyRating   float64            `bson:"efficiencyRating" json:"efficiencyRating" yaml:"efficiency_rating"`
	PriorityLevel      int                `bson:"priorityLevel" json:"priorityLevel" yaml:"priority_level"`
	IsPrimary          bool               `bson:"isPrimary" json:"isPrimary" yaml:"is_primary"`
	AvailabilityStatus AvailabilityStatus `bson:"availabilityStatus" json:"availabilityStatus" yaml:"availability_status"`
	MaxConcurrentTasks int                `bson:"maxConcurrentTasks" json:"maxConcurrentTasks" yaml:"max_concurrent_tasks"`
	CurrentTaskCount   int                `bson:"currentTaskCount" json:"currentTaskCount" yaml:"-"`
	LastAssignedAt     *time.Time         `bson:"lastAssignedAt,omitempty" json:"lastAssignedAt,omitempty" yaml:"-"`
	Version            int64              `bson:"version" json:"version" yaml:"-"`
}

// HasCapacity reports whether the worker can take another task
func (w *WorkerStageAssignment) HasCapacity() bool {
	return w.CurrentTaskCount < w.MaxConcurrentTasks
}

// Qualifies reports whether the worker may be assigned stage right now
func (w *WorkerStageAssignment) Qualifies(stage WorkflowStage) bool {
	return w.StageID == stage.StageID &&
		w.Role == stage.RequiredRole &&
		w.AvailabilityStatus == AvailabilityAvailable &&
		w.HasCapacity()
}

// TakeTask books one unit of capacity; a full worker becomes busy
func (w *WorkerStageAssignment) TakeTask(at time.Time) {
	w.CurrentTaskCount++
	w.LastAssignedAt = &at
	if !w.HasCapacity() && w.AvailabilityStatus == AvailabilityAvailable {
		w.AvailabilityStatus = AvailabilityBusy
	}
	w.Version++
}

// ReleaseTask frees one unit of capacity; a busy worker becomes available again
func (w *WorkerStageAssignment) ReleaseTask() {
	if w.CurrentTaskCount > 0 {
		w.CurrentTaskCount--
	}
	if w.AvailabilityStatus == AvailabilityBusy && w.HasCapacity() {
		w.AvailabilityStatus = AvailabilityAvailable
	}
	w.Version++
}

// RankingCriterion is one key of the worker ranking
type RankingCriterion string

const (
	RankPrimary               RankingCriterion = "primary"
	RankEfficiency            RankingCriterion = "efficiency"
	RankPriority              RankingCriterion = "priority"
	RankSkill                 RankingCriterion = "skill"
	RankLeastRecentlyAssigned RankingCriterion = "least_recently_assigned"
)

// DefaultRanking is primary desc, efficiency desc, priority desc, then least recently assigned
var DefaultRanking = []RankingCriterion{RankPrimary, RankEfficiency, RankPriority, RankLeastRecentlyAssigned}

// ParseRanking validates a configured criteria list; empty input yields the default
func ParseRanking(values []string) ([]RankingCriterion, error) {
	if len(values) == 0 {
		return slices.Clone(DefaultRanking), nil
	}
	out := make([]RankingCriterion, 0, len(values))
	for _, v := range values {
		c := RankingCriterion(strings.ToLower(strings.TrimSpace(v)))
		switch c {
		case RankPrimary, RankEfficiency, RankPriority, RankSkill, RankLeastRecentlyAssigned:
			out = append(out, c)
		default:
			return nil, fmt.Errorf("unknown ranking criterion %q", v)
		}
	}
	return out, nil
}

func boolDesc(a, b bool) int {
	switch {
	case a == b:
		return 0
	case a:
		return -1
	}
	return 1
}

// never-assigned workers sort before anyone who has been assigned
func lastAssignedAsc(a, b *time.Time) int {
	switch {
	case a == nil && b == nil:
		return 0
	case a == nil:
		return -1
	case b == nil:
		return 1
	}
	return a.Compare(*b)
}

func compareBy(c RankingCriterion, a, b *WorkerStageAssignment) int {
	switch c {
	case RankPrimary:
		return boolDesc(a.IsPrimary, b.IsPrimary)
	case RankEfficiency:
		return cmp.Compare(b.EfficiencyRating, a.EfficiencyRating)
	case RankPriority:
		return cmp.Compare(b.PriorityLevel, a.PriorityLevel)
	case RankSkill:
		return cmp.Compare(b.SkillLevel, a.SkillLevel)
	case RankLeastRecentlyAssigned:
		return lastAssignedAsc(a.LastAssignedAt, b.LastAssignedAt)
	}
	return 0
}

// RankCandidates filters to qualified workers and orders them by criteria.
// Remaining ties fall back to worker id so the choice is deterministic.
func RankCandidates(candidates []*WorkerStageAssignment, stage WorkflowStage, criteria []RankingCriterion) []*WorkerStageAssignment {
	if len(criteria) == 0 {
		criteria = DefaultRanking
	}
	eligible := make([]*WorkerStageAssignment, 0, len(candidates))
	for _, c := range candidates {
		if c.Qualifies(stage) {
			eligible = append(eligible, c)
		}
	}
	slices.SortStableFunc(eligible, func(a, b *WorkerStageAssignment) int {
		for _, c := range criteria {
			if r := compareBy(c, a, b); r != 0 {
				return r
			}
		}
		return cmp.Compare(a.WorkerID, b.WorkerID)
	})
	return eligible
}

// SelectWorker picks the best candidate, or the named override when it qualifies
func SelectWorker(candidates []*WorkerStageAssignment, stage WorkflowStage, criteria []RankingCriterion, override string) (*WorkerStageAssignment, error) {
	ranked := RankCandidates(candidates, stage, criteria)
	if override != "" {
		for _, c := range ranked {
			if c.WorkerID == override {
				return c, nil
			}
		}
		return nil, fmt.Errorf("%w: %s for stage %s", ErrWorkerNotQualified, override, stage.StageID)
	}
	if len(ranked) == 0 {
		return nil, fmt.Errorf("%w for stage %s (role %s)", ErrNoEligibleWorker, stage.StageID, stage.RequiredRole)
	}
	return ranked[0], nil
}
