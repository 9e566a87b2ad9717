package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	enumspb "go.temporal.io/api/enums/v1"
	"go.temporal.io/sdk/client"
	"go.temporal.io/sdk/workflow"

	"github.com/atelier-platform/production-engine/internal/activities"
	"github.com/atelier-platform/production-engine/internal/bootstrap"
	"github.com/atelier-platform/production-engine/internal/config"
	"github.com/atelier-platform/production-engine/internal/workflows"
	"github.com/atelier-platform/production-engine/pkg/logging"
	"github.com/atelier-platform/production-engine/pkg/metrics"
	"github.com/atelier-platform/production-engine/pkg/temporal"
)

const serviceName = "production-engine-worker"

func main() {
	configPath := flag.String("config", os.Getenv("PRODUCTION_CONFIG"), "path to the config file")
	flag.Parse()

	cfg, err := config.Load(*configPath, serviceName)
	if err != nil {
		logging.New(logging.DefaultConfig(serviceName)).WithError(err).Error("Failed to load configuration")
		os.Exit(1)
	}

	logConfig := logging.DefaultConfig(serviceName)
	logConfig.Level = logging.ParseLevel(cfg.LogLevel)
	logConfig.Environment = cfg.Environment
	logger := logging.New(logConfig)
	logger.SetDefault()

	logger.Info("Starting production engine worker")

	ctx := context.Background()
	m := metrics.New(metrics.DefaultConfig(serviceName))

	mongoClient, services, err := bootstrap.Open(ctx, cfg, m, logger)
	if err != nil {
		logger.WithError(err).Error("Failed to initialize services")
		os.Exit(1)
	}
	defer mongoClient.Close(context.Background())

	temporalClient, err := temporal.NewClient(ctx, &cfg.Temporal, logger.Logger)
	if err != nil {
		logger.WithError(err).Error("Failed to create Temporal client")
		os.Exit(1)
	}
	defer temporalClient.Close()
	logger.Info("Connected to Temporal", "hostPort", cfg.Temporal.HostPort, "namespace", cfg.Temporal.Namespace)

	w := temporalClient.NewWorker(temporal.TaskQueues.Production, temporal.DefaultWorkerOptions())

	w.RegisterWorkflowWithOptions(workflows.ReservationExpirySweepWorkflow, workflow.RegisterOptions{
		Name: temporal.WorkflowNames.ReservationExpirySweep,
	})
	w.RegisterActivity(activities.NewSweepActivities(services.Reservations, m, logger))
	logger.Info("Registered workflows and activities",
		"workflows", []string{temporal.WorkflowNames.ReservationExpirySweep},
		"activities", []string{workflows.ActivityFindExpiredReservations, workflows.ActivityReleaseExpiredReservation},
	)

	if err := w.Start(); err != nil {
		logger.WithError(err).Error("Worker failed to start")
		os.Exit(1)
	}
	logger.Info("Worker started", "taskQueue", temporal.TaskQueues.Production)

	if err := scheduleSweep(ctx, temporalClient.Client(), cfg.Engine.Sweep); err != nil {
		logger.WithError(err).Error("Failed to schedule reservation expiry sweep")
	} else {
		logger.Info("Reservation expiry sweep scheduled",
			"workflowId", cfg.Engine.Sweep.WorkflowID,
			"cron", cfg.Engine.Sweep.CronSchedule,
		)
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("Shutting down worker...")

	w.Stop()
	logger.Info("Worker stopped")
}

// scheduleSweep starts the cron sweep, joining the run already scheduled under the same id
func scheduleSweep(ctx context.Context, c client.Client, sweep config.SweepConfig) error {
	if sweep.CronSchedule == "" {
		return nil
	}
	_, err := c.ExecuteWorkflow(ctx, client.StartWorkflowOptions{
		ID:                       sweep.WorkflowID,
		TaskQueue:                temporal.TaskQueues.Production,
		CronSchedule:             sweep.CronSchedule,
		WorkflowIDConflictPolicy: enumspb.WORKFLOW_ID_CONFLICT_POLICY_USE_EXISTING,
	}, temporal.WorkflowNames.ReservationExpirySweep, workflows.ReservationExpirySweepInput{
		BatchSize: sweep.BatchSize,
	})
	return err
}
