package domain

import (
	"time"

	"github.com/google/uuid"
)

// TransitionType classifies a stage transition log entry
type TransitionType string

const (
	TransitionStart    TransitionType = "start"
	TransitionHandover TransitionType = "handover"
	TransitionComplete TransitionType = "complete"
	TransitionSkip     TransitionType = "skip"
	TransitionRework   TransitionType = "rework"
	TransitionCancel   TransitionType = "cancel"
)

// StageTransition is an immutable log entry. ToStageID is empty when the
// transition completes the order; FromStageID is empty for the first stage.
type StageTransition struct {
	TransitionID     string         `bson:"_id" json:"transitionId"`
	OrderID          string         `bson:"orderId" json:"orderId"`
	FromStageID      string         `bson:"fromStageId,omitempty" json:"fromStageId,omitempty"`
	ToStageID        string         `bson:"toStageId,omitempty" json:"toStageId,omitempty"`
	Type             TransitionType `bson:"type" json:"type"`
	FromWorkerID     string         `bson:"fromWorkerId,omitempty" json:"fromWorkerId,omitempty"`
	ToWorkerID       string         `bson:"toWorkerId,omitempty" json:"toWorkerId,omitempty"`
	PerformanceScore *float64       `bson:"performanceScore,omitempty" json:"performanceScore,omitempty"`
	Reason           string         `bson:"reason,omitempty" json:"reason,omitempty"`
	CreatedAt        time.Time      `bson:"createdAt" json:"createdAt"`
}

// NewStageTransition creates a transition with a fresh id
func NewStageTransition(orderID, fromStageID, toStageID string, typ TransitionType, at time.Time) *StageTransition {
	return &StageTransition{
		TransitionID: uuid.New().String(),
		OrderID:      orderID,
		FromStageID:  fromStageID,
		ToStageID:    toStageID,
		Type:         typ,
		CreatedAt:    at,
	}
}

// WithWorkers records the departing and receiving workers
func (t *StageTransition) WithWorkers(from, to string) *StageTransition {
	t.FromWorkerID = from
	t.ToWorkerID = to
	return t
}

// WithScore records the departing worker's performance score
func (t *StageTransition) WithScore(score float64) *StageTransition {
	t.PerformanceScore = &score
	return t
}

// WithReason records why the transition happened
func (t *StageTransition) WithReason(reason string) *StageTransition {
	t.Reason = reason
	return t
}
