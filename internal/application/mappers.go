package application

import "github.com/atelier-platform/production-engine/internal/domain"

// ToOrderDTO converts a domain Order to OrderDTO
func ToOrderDTO(order *domain.Order) *OrderDTO {
	if order == nil {
		return nil
	}

	items := make([]OrderItemDTO, 0, len(order.Items))
	for _, item := range order.Items {
		items = append(items, OrderItemDTO{ProductID: item.ProductID, Quantity: item.Quantity})
	}

	return &OrderDTO{
		OrderID:             order.OrderID,
		CustomerID:          order.CustomerID,
		ProductType:         order.ProductType,
		Status:              string(order.Status),
		PriorStatus:         string(order.PriorStatus),
		Priority:            string(order.Priority),
		Items:               items,
		Quantity:            order.Quantity,
		Currency:            order.Currency,
		EstimatedCost:       order.EstimatedCost,
		FinalCost:           order.FinalCost,
		SellingPrice:        order.SellingPrice,
		CostBreakdown:       ToCostBreakdownDTO(order.CostBreakdown),
		Progress:            order.Progress,
		AcceptedAt:          order.AcceptedAt,
		AcceptedBy:          order.AcceptedBy,
		ProductionStartedAt: order.ProductionStartedAt,
		CompletedAt:         order.CompletedAt,
		DeliveredAt:         order.DeliveredAt,
		CancelledAt:         order.CancelledAt,
		CancelReason:        order.CancelReason,
		HoldReason:          order.HoldReason,
		CreatedAt:           order.CreatedAt,
		UpdatedAt:           order.UpdatedAt,
	}
}

// ToCostBreakdownDTO converts a domain CostBreakdown
func ToCostBreakdownDTO(b domain.CostBreakdown) CostBreakdownDTO {
	return CostBreakdownDTO{
		MaterialCost: b.MaterialCost,
		LaborCost:    b.LaborCost,
		UnitCost:     b.UnitCost,
		TotalCost:    b.TotalCost,
		ComputedAt:   b.ComputedAt,
	}
}

// ToStageCostDTO converts a domain StageCost
func ToStageCostDTO(c domain.StageCost) StageCostDTO {
	return StageCostDTO{
		Labor:    c.Labor,
		Material: c.Material,
		Overhead: c.Overhead,
		Total:    c.Total(),
	}
}

// ToStageProgressDTO converts a progress row; stageName may be empty
func ToStageProgressDTO(row *domain.OrderStageProgress, stageName string) StageProgressDTO {
	return StageProgressDTO{
		ProgressID:           row.ProgressID,
		OrderID:              row.OrderID,
		StageID:              row.StageID,
		StageName:            stageName,
		Sequence:             row.Sequence,
		Status:               string(row.Status),
		WorkerID:             row.WorkerID,
		PreviousWorkerID:     row.PreviousWorkerID,
		HandedOverFrom:       row.HandedOverFrom,
		AssignedAt:           row.AssignedAt,
		StartedAt:            row.StartedAt,
		PausedAt:             row.PausedAt,
		ResumedAt:            row.ResumedAt,
		CompletedAt:          row.CompletedAt,
		EstimatedMinutes:     row.EstimatedMinutes,
		ActualMinutes:        row.ActualMinutes,
		EfficiencyPercentage: row.EfficiencyPercentage,
		DisplayEfficiency:    domain.ClipEfficiency(row.EfficiencyPercentage),
		QualityScore:         row.QualityScore,
		QualityNotes:         row.QualityNotes,
		PauseCount:           row.PauseCount,
		PausedMinutes:        row.PausedMinutes,
		ReworkCount:          row.ReworkCount,
		SkipReason:           row.SkipReason,
		MaterialUsage:        row.MaterialUsage,
		Cost:                 ToStageCostDTO(row.Cost),
	}
}

// ToTransitionDTO converts a transition log entry
func ToTransitionDTO(t *domain.StageTransition) TransitionDTO {
	return TransitionDTO{
		TransitionID:     t.TransitionID,
		OrderID:          t.OrderID,
		FromStageID:      t.FromStageID,
		ToStageID:        t.ToStageID,
		Type:             string(t.Type),
		FromWorkerID:     t.FromWorkerID,
		ToWorkerID:       t.ToWorkerID,
		PerformanceScore: t.PerformanceScore,
		Reason:           t.Reason,
		CreatedAt:        t.CreatedAt,
	}
}

// ToReservationDTO converts a material reservation
func ToReservationDTO(r *domain.MaterialReservation) ReservationDTO {
	return ReservationDTO{
		ReservationID:    r.ReservationID,
		OrderID:          r.OrderID,
		MaterialID:       r.MaterialID,
		StageID:          r.StageID,
		Quantity:         r.Quantity,
		ConsumedQuantity: r.ConsumedQuantity,
		Variance:         r.Variance,
		Status:           string(r.Status),
		ReleaseReason:    string(r.ReleaseReason),
		ExpiresAt:        r.ExpiresAt,
		ReservedAt:       r.ReservedAt,
		ConsumedAt:       r.ConsumedAt,
		ReleasedAt:       r.ReleasedAt,
	}
}

// ToReservationDTOs converts a slice of reservations
func ToReservationDTOs(rs []*domain.MaterialReservation) []ReservationDTO {
	out := make([]ReservationDTO, 0, len(rs))
	for _, r := range rs {
		out = append(out, ToReservationDTO(r))
	}
	return out
}

// ToDisplayStatusDTO converts a projected display status
func ToDisplayStatusDTO(ds domain.DisplayStatus) *DisplayStatusDTO {
	return &DisplayStatusDTO{
		OrderID:         ds.OrderID,
		Kind:            string(ds.Kind),
		Status:          string(ds.Status),
		StageID:         ds.StageID,
		StageName:       ds.StageName,
		Progress:        ds.Progress,
		CompletedStages: ds.CompletedStages,
		TotalStages:     ds.TotalStages,
	}
}

// ToWorkerPerformanceDTO converts a rollup
func ToWorkerPerformanceDTO(p *domain.WorkerPerformance) *WorkerPerformanceDTO {
	if p == nil {
		return nil
	}
	return &WorkerPerformanceDTO{
		WorkerID:            p.WorkerID,
		PeriodStart:         p.PeriodStart,
		PeriodEnd:           p.PeriodEnd,
		TasksAssigned:       p.TasksAssigned,
		TasksCompleted:      p.TasksCompleted,
		CompletionRate:      p.CompletionRate,
		AverageTaskMinutes:  p.AverageTaskMinutes,
		AverageQualityScore: p.AverageQualityScore,
		AverageEfficiency:   p.AverageEfficiency,
		ReworkCount:         p.ReworkCount,
		PerformanceScore:    p.PerformanceScore,
		BonusEligible:       p.BonusEligible,
		ComputedAt:          p.ComputedAt,
	}
}
