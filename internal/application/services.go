package application

import (
	"time"

	"github.com/atelier-platform/production-engine/internal/domain"
)

// Repositories bundles the persistence ports the services share
type Repositories struct {
	Orders       domain.OrderRepository
	Progress     domain.ProgressRepository
	Transitions  domain.TransitionRepository
	Materials    domain.MaterialRepository
	Reservations domain.ReservationRepository
	Catalog      domain.CatalogRepository
	Assignments  domain.AssignmentRepository
	Performance  domain.PerformanceRepository
	UnitOfWork   domain.UnitOfWork
}

// Clock returns the current time; services read it once per operation
type Clock func() time.Time

func utcNow() time.Time { return time.Now().UTC() }
