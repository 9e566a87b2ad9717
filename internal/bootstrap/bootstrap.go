// Package bootstrap wires the configured stores and services shared by the binaries.
package bootstrap

import (
	"context"
	"fmt"

	"github.com/atelier-platform/production-engine/internal/application"
	"github.com/atelier-platform/production-engine/internal/config"
	"github.com/atelier-platform/production-engine/internal/domain"
	mongostore "github.com/atelier-platform/production-engine/internal/infrastructure/mongodb"
	"github.com/atelier-platform/production-engine/internal/infrastructure/registry"
	"github.com/atelier-platform/production-engine/pkg/cloudevents"
	"github.com/atelier-platform/production-engine/pkg/logging"
	"github.com/atelier-platform/production-engine/pkg/metrics"
	pkgmongo "github.com/atelier-platform/production-engine/pkg/mongodb"
)

// EventSource is the CloudEvents source of every engine event
const EventSource = "/production-engine"

// ConnectMongo dials MongoDB and wraps the client with metrics and logging
func ConnectMongo(ctx context.Context, cfg *config.Config, m *metrics.Metrics, logger *logging.Logger) (*pkgmongo.InstrumentedClient, error) {
	client, err := pkgmongo.NewClient(ctx, &cfg.MongoDB)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
	}
	return pkgmongo.NewInstrumentedClient(client, m, logger), nil
}

// Services are the application services over one store and registry
type Services struct {
	Store        *mongostore.Store
	Registry     *registry.Registry
	Workflow     *application.WorkflowService
	Reservations *application.ReservationService
	Costs        *application.CostService
	Performance  *application.PerformanceService
}

// NewServices builds the application services from cfg
func NewServices(cfg *config.Config, store *mongostore.Store, reg *registry.Registry, m *metrics.Metrics, logger *logging.Logger) (*Services, error) {
	ranking, err := cfg.Engine.RankingCriteria()
	if err != nil {
		return nil, err
	}

	repos := store.Repositories()
	events := application.NewOutboxRecorder(store.Outbox, cloudevents.NewEventFactory(EventSource), logger)
	if cfg.Engine.ValidateEvents {
		validator, err := application.EventContracts()
		if err != nil {
			return nil, fmt.Errorf("failed to load event contracts: %w", err)
		}
		events.WithContracts(validator)
	}

	reservations := application.NewReservationService(repos, events, cfg.Engine.ReservationTTL, m, logger)
	costs := application.NewCostService(repos, reg, cfg.Engine.CostRates(), logger)
	performance := application.NewPerformanceService(repos, cfg.Engine.Performance, logger)
	workflow := application.NewWorkflowService(repos, reg, reservations, costs, events, application.WorkflowConfig{
		DefaultCurrency: cfg.Engine.DefaultCurrency,
		CostTolerance:   cfg.Engine.CostTolerance,
		Ranking:         ranking,
		Performance:     cfg.Engine.Performance,
		CancelRetries:   cfg.Engine.CancelRetries,
	}, m, logger)

	return &Services{
		Store:        store,
		Registry:     reg,
		Workflow:     workflow,
		Reservations: reservations,
		Costs:        costs,
		Performance:  performance,
	}, nil
}

// Open connects to MongoDB, loads the stage registry and builds the services.
// The caller closes the returned client.
func Open(ctx context.Context, cfg *config.Config, m *metrics.Metrics, logger *logging.Logger) (*pkgmongo.InstrumentedClient, *Services, error) {
	reg, err := registry.Load(cfg.Engine.RegistryPath, logger)
	if err != nil {
		return nil, nil, err
	}

	client, err := ConnectMongo(ctx, cfg, m, logger)
	if err != nil {
		return nil, nil, err
	}

	services, err := NewServices(cfg, mongostore.NewStore(client), reg, m, logger)
	if err != nil {
		_ = client.Close(ctx)
		return nil, nil, err
	}
	return client, services, nil
}

var _ domain.StageRegistry = (*registry.Registry)(nil)
