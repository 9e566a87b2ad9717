package domain

// DisplayKind classifies the externally visible order status
type DisplayKind string

const (
	DisplayCompleted      DisplayKind = "completed"
	DisplayCancelled      DisplayKind = "cancelled"
	DisplayInStage        DisplayKind = "in_stage"
	DisplayBetweenStages  DisplayKind = "between_stages"
	DisplayWaitingToStart DisplayKind = "waiting_to_start"
	DisplayLifecycle      DisplayKind = "lifecycle"
)

// DisplayStatus is derived from stage rows on every read and never stored
type DisplayStatus struct {
	OrderID         string      `json:"orderId"`
	Kind            DisplayKind `json:"kind"`
	Status          OrderStatus `json:"status"`
	StageID         string      `json:"stageId,omitempty"`
	StageName       string      `json:"stageName,omitempty"`
	Progress        float64     `json:"progress"`
	CompletedStages int         `json:"completedStages"`
	TotalStages     int         `json:"totalStages"`
}

// ProjectDisplayStatus is a pure function of the order status, the pipeline and
// the order's progress rows. Skipped stages count as done.
func ProjectDisplayStatus(order *Order, pipeline *Pipeline, rows []*OrderStageProgress) DisplayStatus {
	byStage := ProgressByStage(rows)
	total := pipeline.Len()
	done := 0
	var active *WorkflowStage
	for _, s := range pipeline.stages {
		row, ok := byStage[s.StageID]
		if !ok {
			continue
		}
		switch {
		case row.Status == StageStatusCompleted || row.Status == StageStatusSkipped:
			done++
		case row.Status.IsActive() && active == nil:
			stage := s
			active = &stage
		}
	}

	ds := DisplayStatus{
		OrderID:         order.OrderID,
		Status:          order.Status,
		CompletedStages: done,
		TotalStages:     total,
	}
	fraction := 0.0
	if total > 0 {
		fraction = Round2(float64(done) / float64(total) * 100)
	}

	switch {
	case order.Status == OrderStatusCompleted:
		ds.Kind = DisplayCompleted
		ds.Progress = 100
	case order.Status == OrderStatusCancelled:
		ds.Kind = DisplayCancelled
		ds.Progress = fraction
	case active != nil:
		ds.Kind = DisplayInStage
		ds.StageID = active.StageID
		ds.StageName = active.Name
		ds.Progress = fraction
	case done > 0 && done < total:
		ds.Kind = DisplayBetweenStages
		ds.Progress = fraction
	case order.Status == OrderStatusPendingAcceptance,
		order.Status == OrderStatusAccepted,
		order.Status == OrderStatusMaterialsReserved:
		ds.Kind = DisplayWaitingToStart
	default:
		ds.Kind = DisplayLifecycle
		ds.Progress = order.Progress
	}
	return ds
}
