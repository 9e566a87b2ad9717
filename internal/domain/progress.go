package domain

import (
	"fmt"
	"math"
	"strings"
	"time"
)

// StageStatus represents the status of one stage of one order
type StageStatus string

const (
	StageStatusPending        StageStatus = "pending"
	StageStatusAssigned       StageStatus = "assigned"
	StageStatusInProgress     StageStatus = "in_progress"
	StageStatusPaused         StageStatus = "paused"
	StageStatusQualityCheck   StageStatus = "quality_check"
	StageStatusReworkRequired StageStatus = "rework_required"
	StageStatusCompleted      StageStatus = "completed"
	StageStatusSkipped        StageStatus = "skipped"
	StageStatusCancelled      StageStatus = "cancelled"
)

func (s StageStatus) String() string { return string(s) }

// IsTerminal reports whether the stage is finished for the order
func (s StageStatus) IsTerminal() bool {
	return s == StageStatusCompleted || s == StageStatusSkipped || s == StageStatusCancelled
}

// IsActive reports whether the stage currently occupies the order
func (s StageStatus) IsActive() bool {
	switch s {
	case StageStatusInProgress, StageStatusPaused, StageStatusQualityCheck, StageStatusReworkRequired:
		return true
	}
	return false
}

// holdsWorker reports whether a worker's capacity is taken by the stage
func (s StageStatus) holdsWorker() bool {
	return s == StageStatusAssigned || s.IsActive()
}

// MinimumActualMinutes floors measured wall time so efficiency stays defined
const MinimumActualMinutes = 1.0

// StageCost is the cost recorded on a stage when it completes
type StageCost struct {
	Labor    float64 `bson:"labor" json:"labor"`
	Material float64 `bson:"material" json:"material"`
	Overhead float64 `bson:"overhead" json:"overhead"`
}

// Total of the stage cost
func (c StageCost) Total() float64 { return Round2(c.Labor + c.Material + c.Overhead) }

// OrderStageProgress is the per-(order, stage) progress record
type OrderStageProgress struct {
	ProgressID string      `bson:"_id"`
	OrderID    string      `bson:"orderId"`
	StageID    string      `bson:"stageId"`
	Sequence   int         `bson:"sequence"`
	Status     StageStatus `bson:"status"`

	WorkerID         string `bson:"workerId,omitempty"`
	PreviousWorkerID string `bson:"previousWorkerId,omitempty"`
	HandedOverFrom   string `bson:"handedOverFrom,omitempty"`

	AssignedAt         *time.Time `bson:"assignedAt,omitempty"`
	PreviousAssignedAt *time.Time `bson:"previousAssignedAt,omitempty"`
	StartedAt          *time.Time `bson:"startedAt,omitempty"`
	PausedAt           *time.Time `bson:"pausedAt,omitempty"`
	ResumedAt          *time.Time `bson:"resumedAt,omitempty"`
	CompletedAt        *time.Time `bson:"completedAt,omitempty"`

	EstimatedMinutes     float64   `bson:"estimatedMinutes"`
	ActualMinutes        float64   `bson:"actualMinutes"`
	EfficiencyPercentage float64   `bson:"efficiencyPercentage"`
	QualityScore         *float64  `bson:"qualityScore,omitempty"`
	QualityNotes         string    `bson:"qualityNotes,omitempty"`
	PauseCount           int       `bson:"pauseCount"`
	PausedMinutes        float64   `bson:"pausedMinutes"`
	ReworkCount          int       `bson:"reworkCount"`
	HandoverReworks      int       `bson:"handoverReworks"`
	SkipReason           string    `bson:"skipReason,omitempty"`
	Cost                 StageCost `bson:"cost"`
	// MaterialUsage is the actual quantity per material, consumed on completion
	MaterialUsage map[string]float64 `bson:"materialUsage,omitempty"`

	Version      int64         `bson:"version"`
	CreatedAt    time.Time     `bson:"createdAt"`
	UpdatedAt    time.Time     `bson:"updatedAt"`
	DomainEvents []DomainEvent `bson:"-"`
}

// ProgressID is the natural key of a progress record
func ProgressID(orderID, stageID string) string {
	return orderID + "/" + stageID
}

// NewStageProgress creates a pending progress record for stage
func NewStageProgress(orderID string, stage WorkflowStage, at time.Time) *OrderStageProgress {
	return &OrderStageProgress{
		ProgressID:       ProgressID(orderID, stage.StageID),
		OrderID:          orderID,
		StageID:          stage.StageID,
		Sequence:         stage.Sequence,
		Status:           StageStatusPending,
		EstimatedMinutes: stage.EstimatedMinutes,
		CreatedAt:        at,
		UpdatedAt:        at,
		DomainEvents:     make([]DomainEvent, 0),
	}
}

func (p *OrderStageProgress) transition(to StageStatus, reason string, at time.Time) {
	from := p.Status
	p.Status = to
	p.UpdatedAt = at
	p.AddDomainEvent(&StageStatusChangedEvent{
		OrderID:   p.OrderID,
		StageID:   p.StageID,
		From:      from,
		To:        to,
		WorkerID:  p.WorkerID,
		Reason:    reason,
		ChangedAt: at,
	})
}

func (p *OrderStageProgress) require(to StageStatus, allowed ...StageStatus) error {
	for _, s := range allowed {
		if p.Status == s {
			return nil
		}
	}
	return invalidTransition("stage "+p.ProgressID, p.Status, to, "")
}

// WorkerReworks is the rework count charged to the current worker
func (p *OrderStageProgress) WorkerReworks() int {
	return p.ReworkCount - p.HandoverReworks
}

// HoldsWorker reports whether the assigned worker's capacity is in use
func (p *OrderStageProgress) HoldsWorker() bool {
	return p.WorkerID != "" && p.Status.holdsWorker()
}

// Assign gives a pending stage to workerID
func (p *OrderStageProgress) Assign(workerID string, at time.Time) error {
	if err := p.require(StageStatusAssigned, StageStatusPending); err != nil {
		return err
	}
	if workerID == "" {
		return ErrNoEligibleWorker
	}
	p.WorkerID = workerID
	p.AssignedAt = &at
	p.transition(StageStatusAssigned, "", at)
	return nil
}

// Start begins work on an assigned stage
func (p *OrderStageProgress) Start(at time.Time) error {
	if err := p.require(StageStatusInProgress, StageStatusAssigned); err != nil {
		return err
	}
	p.StartedAt = &at
	p.transition(StageStatusInProgress, "", at)
	return nil
}

// Pause suspends an in-progress stage
func (p *OrderStageProgress) Pause(reason string, at time.Time) error {
	if err := p.require(StageStatusPaused, StageStatusInProgress); err != nil {
		return err
	}
	p.PauseCount++
	p.PausedAt = &at
	p.transition(StageStatusPaused, reason, at)
	return nil
}

// Resume continues a paused stage and accumulates the paused time
func (p *OrderStageProgress) Resume(at time.Time) error {
	if err := p.require(StageStatusInProgress, StageStatusPaused); err != nil {
		return err
	}
	if p.PausedAt != nil {
		p.PausedMinutes = RoundQuantity(p.PausedMinutes + math.Max(0, at.Sub(*p.PausedAt).Minutes()))
	}
	p.PausedAt = nil
	p.ResumedAt = &at
	p.transition(StageStatusInProgress, "", at)
	return nil
}

// RecordMaterialUsage stores actual quantities to consume when the stage completes
func (p *OrderStageProgress) RecordMaterialUsage(usage map[string]float64) error {
	for materialID, q := range usage {
		if q < 0 {
			return fmt.Errorf("material %s: %w", materialID, ErrInvalidQuantity)
		}
	}
	if len(usage) == 0 {
		return nil
	}
	if p.MaterialUsage == nil {
		p.MaterialUsage = make(map[string]float64, len(usage))
	}
	for materialID, q := range usage {
		p.MaterialUsage[materialID] = RoundQuantity(q)
	}
	return nil
}

// Complete finishes work. A nil actualMinutes measures wall time minus pauses.
// Stages that require a quality check stop in quality_check.
func (p *OrderStageProgress) Complete(actualMinutes *float64, requiresQualityCheck bool, at time.Time) error {
	to := StageStatusCompleted
	if requiresQualityCheck {
		to = StageStatusQualityCheck
	}
	if err := p.require(to, StageStatusInProgress); err != nil {
		return err
	}

	var minutes float64
	switch {
	case actualMinutes != nil:
		if *actualMinutes <= 0 {
			return fmt.Errorf("actual minutes: %w", ErrInvalidQuantity)
		}
		minutes = *actualMinutes
	case p.StartedAt != nil:
		minutes = math.Max(MinimumActualMinutes, at.Sub(*p.StartedAt).Minutes()-p.PausedMinutes)
	default:
		minutes = MinimumActualMinutes
	}

	p.ActualMinutes = RoundQuantity(minutes)
	p.EfficiencyPercentage = Efficiency(p.EstimatedMinutes, minutes)
	if to == StageStatusCompleted {
		p.CompletedAt = &at
	}
	p.transition(to, "", at)
	return nil
}

// PassQualityCheck completes a stage waiting in quality_check
func (p *OrderStageProgress) PassQualityCheck(score float64, notes string, at time.Time) error {
	if err := p.require(StageStatusCompleted, StageStatusQualityCheck); err != nil {
		return err
	}
	p.QualityScore = &score
	p.QualityNotes = notes
	p.CompletedAt = &at
	p.transition(StageStatusCompleted, notes, at)
	return nil
}

// FailQualityCheck sends the stage back for rework
func (p *OrderStageProgress) FailQualityCheck(score float64, notes string, at time.Time) error {
	if err := p.require(StageStatusReworkRequired, StageStatusQualityCheck); err != nil {
		return err
	}
	p.QualityScore = &score
	p.QualityNotes = notes
	p.ReworkCount++
	p.transition(StageStatusReworkRequired, notes, at)
	return nil
}

// StartRework resumes work after a failed check, under workerID when it differs.
// A handover keeps the departing worker and the reworks charged to them.
func (p *OrderStageProgress) StartRework(workerID string, at time.Time) error {
	if err := p.require(StageStatusInProgress, StageStatusReworkRequired); err != nil {
		return err
	}
	if workerID != "" && workerID != p.WorkerID {
		p.PreviousWorkerID = p.WorkerID
		p.PreviousAssignedAt = p.AssignedAt
		p.HandoverReworks = p.ReworkCount
		p.HandedOverFrom = p.WorkerID
		p.WorkerID = workerID
		p.AssignedAt = &at
	}
	p.ResumedAt = &at
	p.transition(StageStatusInProgress, "rework", at)
	return nil
}

// Skip closes a stage that was never started
func (p *OrderStageProgress) Skip(reason string, at time.Time) error {
	if err := p.require(StageStatusSkipped, StageStatusPending, StageStatusAssigned); err != nil {
		return err
	}
	if strings.TrimSpace(reason) == "" {
		return ErrReasonRequired
	}
	p.SkipReason = reason
	p.CompletedAt = &at
	p.transition(StageStatusSkipped, reason, at)
	return nil
}

// Cancel closes any non-terminal stage
func (p *OrderStageProgress) Cancel(reason string, at time.Time) error {
	if p.Status.IsTerminal() {
		return invalidTransition("stage "+p.ProgressID, p.Status, StageStatusCancelled, "")
	}
	p.PausedAt = nil
	p.transition(StageStatusCancelled, reason, at)
	return nil
}

// AddDomainEvent adds a domain event
func (p *OrderStageProgress) AddDomainEvent(event DomainEvent) {
	p.DomainEvents = append(p.DomainEvents, event)
}

// GetDomainEvents returns all domain events
func (p *OrderStageProgress) GetDomainEvents() []DomainEvent {
	return p.DomainEvents
}

// ClearDomainEvents clears all domain events
func (p *OrderStageProgress) ClearDomainEvents() {
	p.DomainEvents = make([]DomainEvent, 0)
}

// ProgressByStage indexes rows by stage id
func ProgressByStage(rows []*OrderStageProgress) map[string]*OrderStageProgress {
	out := make(map[string]*OrderStageProgress, len(rows))
	for _, r := range rows {
		out[r.StageID] = r
	}
	return out
}

// IsEligible reports whether stageID may start: every lower-sequence stage is
// terminal, or both it and the stage are marked parallel.
func (p *Pipeline) IsEligible(stageID string, rows []*OrderStageProgress) (bool, error) {
	target, err := p.Get(stageID)
	if err != nil {
		return false, err
	}
	byStage := ProgressByStage(rows)
	for _, pred := range p.Predecessors(stageID) {
		row, ok := byStage[pred.StageID]
		if ok && row.Status.IsTerminal() {
			continue
		}
		if pred.AllowsParallel && target.AllowsParallel {
			continue
		}
		return false, nil
	}
	return true, nil
}

// EligiblePending returns the pending stages that may be assigned now
func (p *Pipeline) EligiblePending(rows []*OrderStageProgress) []WorkflowStage {
	byStage := ProgressByStage(rows)
	var out []WorkflowStage
	for _, s := range p.stages {
		row, ok := byStage[s.StageID]
		if !ok || row.Status != StageStatusPending {
			continue
		}
		if ok, _ := p.IsEligible(s.StageID, rows); ok {
			out = append(out, s)
		}
	}
	return out
}

// CheckActiveStages fails when starting would leave two active stages on the
// order that are not both parallel.
func (p *Pipeline) CheckActiveStages(starting string, rows []*OrderStageProgress) error {
	ids := []string{starting}
	for _, r := range rows {
		if r.StageID != starting && r.Status.IsActive() {
			ids = append(ids, r.StageID)
		}
	}
	if len(ids) < 2 {
		return nil
	}
	for _, id := range ids {
		s, err := p.Get(id)
		if err != nil {
			return err
		}
		if !s.AllowsParallel {
			return fmt.Errorf("%w: stages %s active together on one order", ErrInvariantViolation, strings.Join(ids, ", "))
		}
	}
	return nil
}

// LastCompletedBefore returns the highest-sequence terminal, non-skipped stage
// below stageID, or nil.
func (p *Pipeline) LastCompletedBefore(stageID string, rows []*OrderStageProgress) *OrderStageProgress {
	byStage := ProgressByStage(rows)
	preds := p.Predecessors(stageID)
	for i := len(preds) - 1; i >= 0; i-- {
		if row, ok := byStage[preds[i].StageID]; ok && row.Status == StageStatusCompleted {
			return row
		}
	}
	return nil
}

// AllTerminal reports whether every stage has a terminal row
func (p *Pipeline) AllTerminal(rows []*OrderStageProgress) bool {
	byStage := ProgressByStage(rows)
	for _, s := range p.stages {
		row, ok := byStage[s.StageID]
		if !ok || !row.Status.IsTerminal() {
			return false
		}
	}
	return true
}
