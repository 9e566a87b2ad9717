package main

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	enumspb "go.temporal.io/api/enums/v1"
	"go.temporal.io/sdk/client"

	"github.com/atelier-platform/production-engine/internal/application"
	"github.com/atelier-platform/production-engine/internal/bootstrap"
	"github.com/atelier-platform/production-engine/internal/config"
	"github.com/atelier-platform/production-engine/internal/infrastructure/registry"
	"github.com/atelier-platform/production-engine/internal/infrastructure/seed"
	"github.com/atelier-platform/production-engine/internal/workflows"
	"github.com/atelier-platform/production-engine/pkg/kafka"
	"github.com/atelier-platform/production-engine/pkg/outbox"
	"github.com/atelier-platform/production-engine/pkg/temporal"
)

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create the indexes every repository relies on",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withServices(cmd.Context(), func(ctx context.Context, _ *config.Config, s *bootstrap.Services) error {
				if err := s.Store.EnsureIndexes(ctx); err != nil {
					return err
				}
				fmt.Println("indexes up to date")
				return nil
			})
		},
	}
}

func registryCmd() *cobra.Command {
	reg := &cobra.Command{Use: "registry", Short: "Inspect the stage registry"}

	validate := &cobra.Command{
		Use:   "validate [path]",
		Short: "Validate a stage registry file and print its pipeline",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := ""
			if len(args) == 1 {
				path = args[0]
			} else {
				cfg, err := loadConfig()
				if err != nil {
					return err
				}
				path = cfg.Engine.RegistryPath
			}

			p, err := registry.ParseFile(path)
			if err != nil {
				return err
			}
			if viper.GetBool("json") {
				return printJSON(p.Stages())
			}

			tw := newTable(table.Row{"#", "Stage", "Role", "Minutes", "Critical", "Parallel", "QC", "Product types"})
			for _, st := range p.Stages() {
				tw.AppendRow(table.Row{
					st.Sequence, st.StageID, st.RequiredRole, st.EstimatedMinutes,
					st.IsCritical, st.AllowsParallel, st.RequiresQualityCheck,
					strings.Join(st.RequiredForProductTypes, ","),
				})
			}
			tw.AppendFooter(table.Row{"", "", "total", p.TotalEstimatedMinutes()})
			tw.Render()
			return nil
		},
	}

	reg.AddCommand(validate)
	return reg
}

func seedCmd() *cobra.Command {
	var dryRun bool
	cmd := &cobra.Command{
		Use:   "seed <file>",
		Short: "Upsert products, bill of materials, materials and worker assignments",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := seed.ParseFile(args[0])
			if err != nil {
				return err
			}
			if dryRun {
				cfg, err := loadConfig()
				if err != nil {
					return err
				}
				p, err := registry.ParseFile(cfg.Engine.RegistryPath)
				if err != nil {
					return err
				}
				if err := f.CheckStages(p); err != nil {
					return err
				}
				fmt.Printf("%s is valid: %d products, %d bill of materials lines, %d materials, %d assignments\n",
					args[0], len(f.Products), len(f.BOM), len(f.Materials), len(f.Assignments))
				return nil
			}

			return withServices(cmd.Context(), func(ctx context.Context, _ *config.Config, s *bootstrap.Services) error {
				if err := f.CheckStages(s.Registry.Pipeline()); err != nil {
					return err
				}
				summary, err := f.Apply(ctx, s.Store)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(summary)
				}
				tw := newTable(table.Row{"Products", "BOM lines", "Materials", "Assignments"})
				tw.AppendRow(table.Row{summary.Products, summary.BOMEntries, summary.Materials, summary.Assignments})
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "validate the file against the registry without writing")
	return cmd
}

func reconcileCmd() *cobra.Command {
	var all bool
	cmd := &cobra.Command{
		Use:   "reconcile [materialId]",
		Short: "Recompute reserved counters from active reservations and correct drift",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if all == (len(args) == 1) {
				return errors.New("pass a material id or --all")
			}
			return withServices(cmd.Context(), func(ctx context.Context, _ *config.Config, s *bootstrap.Services) error {
				var results []application.ReconcileResultDTO
				if all {
					var err error
					if results, err = s.Reservations.ReconcileAll(ctx); err != nil {
						return err
					}
				} else {
					r, err := s.Reservations.ReconcileMaterial(ctx, args[0])
					if err != nil {
						return err
					}
					results = append(results, *r)
				}

				if viper.GetBool("json") {
					return printJSON(results)
				}
				tw := newTable(table.Row{"Material", "Was", "Now", "Drift", "Active", "Corrected"})
				for _, r := range results {
					tw.AppendRow(table.Row{r.MaterialID, r.PreviousReserved, r.Reserved, r.Drift, r.ActiveReservations, r.Corrected})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&all, "all", false, "reconcile every material")
	return cmd
}

func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status <orderId>",
		Short: "Show an order's display status and stage progress",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withServices(cmd.Context(), func(ctx context.Context, _ *config.Config, s *bootstrap.Services) error {
				status, err := s.Workflow.GetDisplayStatus(ctx, args[0])
				if err != nil {
					return err
				}
				rows, err := s.Workflow.ListStageProgress(ctx, args[0])
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(map[string]any{"status": status, "stages": rows})
				}

				fmt.Printf("%s: %s (%.0f%%, %d/%d stages)\n",
					status.OrderID, status.Status, status.Progress, status.CompletedStages, status.TotalStages)
				tw := newTable(table.Row{"#", "Stage", "Status", "Worker", "Est. min", "Actual min", "Efficiency", "Rework"})
				for _, r := range rows {
					tw.AppendRow(table.Row{r.Sequence, r.StageID, r.Status, r.WorkerID,
						r.EstimatedMinutes, r.ActualMinutes, r.DisplayEfficiency, r.ReworkCount})
				}
				tw.Render()
				return nil
			})
		},
	}
}

func performanceCmd() *cobra.Command {
	perf := &cobra.Command{Use: "performance", Short: "Worker performance rollups"}

	var from, to string
	show := &cobra.Command{
		Use:   "show <workerId>",
		Short: "Compute a worker's performance over a day range",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			start, err := time.Parse(time.DateOnly, from)
			if err != nil {
				return fmt.Errorf("--from: %w", err)
			}
			end, err := time.Parse(time.DateOnly, to)
			if err != nil {
				return fmt.Errorf("--to: %w", err)
			}
			return withServices(cmd.Context(), func(ctx context.Context, _ *config.Config, s *bootstrap.Services) error {
				p, err := s.Performance.WorkerPerformance(ctx, application.PerformanceQuery{
					WorkerID: args[0], From: start, To: end.AddDate(0, 0, 1),
				})
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(p)
				}
				renderPerformance([]application.WorkerPerformanceDTO{*p})
				return nil
			})
		},
	}
	today := time.Now().UTC().Format(time.DateOnly)
	show.Flags().StringVar(&from, "from", today, "first day (YYYY-MM-DD)")
	show.Flags().StringVar(&to, "to", today, "last day (YYYY-MM-DD)")

	var day string
	var refresh bool
	rollup := &cobra.Command{
		Use:   "rollup",
		Short: "Store the daily rollup of every worker active that day",
		RunE: func(cmd *cobra.Command, args []string) error {
			d, err := time.Parse(time.DateOnly, day)
			if err != nil {
				return fmt.Errorf("--day: %w", err)
			}
			return withServices(cmd.Context(), func(ctx context.Context, _ *config.Config, s *bootstrap.Services) error {
				rows, err := s.Performance.RollupDaily(ctx, d)
				if err != nil {
					return err
				}
				if refresh {
					n, err := s.Performance.RefreshEfficiencyRatings(ctx, d.AddDate(0, 0, -30), d.AddDate(0, 0, 1))
					if err != nil {
						return err
					}
					fmt.Printf("refreshed efficiency ratings of %d workers\n", n)
				}
				if viper.GetBool("json") {
					return printJSON(rows)
				}
				renderPerformance(rows)
				return nil
			})
		},
	}
	rollup.Flags().StringVar(&day, "day", time.Now().UTC().AddDate(0, 0, -1).Format(time.DateOnly), "day to roll up (YYYY-MM-DD)")
	rollup.Flags().BoolVar(&refresh, "refresh-ratings", false, "write 30-day efficiency back to the assignment index")

	perf.AddCommand(show, rollup)
	return perf
}

func renderPerformance(rows []application.WorkerPerformanceDTO) {
	tw := newTable(table.Row{"Worker", "Assigned", "Completed", "Rate", "Avg min", "Quality", "Efficiency", "Rework", "Score", "Bonus"})
	for _, p := range rows {
		tw.AppendRow(table.Row{p.WorkerID, p.TasksAssigned, p.TasksCompleted, p.CompletionRate, p.AverageTaskMinutes,
			p.AverageQualityScore, p.AverageEfficiency, p.ReworkCount, p.PerformanceScore, p.BonusEligible})
	}
	tw.Render()
}

func sweepCmd() *cobra.Command {
	var viaTemporal bool
	var batchSize int
	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Release reservations past their expiry",
		Long: `sweep releases expired reservations in-process. With --temporal it starts
a one-off run of the sweep workflow on the worker task queue instead.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if viaTemporal {
				return startSweepWorkflow(cmd.Context(), batchSize)
			}
			return withServices(cmd.Context(), func(ctx context.Context, cfg *config.Config, s *bootstrap.Services) error {
				if batchSize <= 0 {
					batchSize = cfg.Engine.Sweep.BatchSize
				}
				var released, skipped, failed int
				for batch := 0; batch < workflows.DefaultSweepMaxBatches; batch++ {
					ids, err := s.Reservations.FindExpired(ctx, batchSize)
					if err != nil {
						return err
					}
					progress := 0
					for _, id := range ids {
						ok, err := s.Reservations.ReleaseExpired(ctx, id)
						switch {
						case err != nil:
							failed++
							fmt.Printf("%s: %v\n", id, err)
						case ok:
							released++
							progress++
						default:
							skipped++
						}
					}
					if len(ids) < batchSize || progress == 0 {
						break
					}
				}
				fmt.Printf("released %d, skipped %d, failed %d\n", released, skipped, failed)
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&viaTemporal, "temporal", false, "run the sweep as a Temporal workflow")
	cmd.Flags().IntVar(&batchSize, "batch-size", 0, "reservations per batch (default from config)")
	return cmd
}

func startSweepWorkflow(ctx context.Context, batchSize int) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	tc, err := temporal.NewClient(ctx, &cfg.Temporal, newLogger().Logger)
	if err != nil {
		return err
	}
	defer tc.Close()

	if batchSize <= 0 {
		batchSize = cfg.Engine.Sweep.BatchSize
	}
	run, err := tc.Client().ExecuteWorkflow(ctx, client.StartWorkflowOptions{
		ID:                       fmt.Sprintf("%s-manual-%d", cfg.Engine.Sweep.WorkflowID, time.Now().Unix()),
		TaskQueue:                temporal.TaskQueues.Production,
		WorkflowIDConflictPolicy: enumspb.WORKFLOW_ID_CONFLICT_POLICY_FAIL,
	}, temporal.WorkflowNames.ReservationExpirySweep, workflows.ReservationExpirySweepInput{BatchSize: batchSize})
	if err != nil {
		return err
	}

	var result workflows.ReservationExpirySweepResult
	if err := run.Get(ctx, &result); err != nil {
		return err
	}
	if viper.GetBool("json") {
		return printJSON(result)
	}
	fmt.Printf("workflow %s: %d batches, released %d, skipped %d, failed %d\n",
		run.GetID(), result.Batches, result.Released, result.Skipped, result.Failed)
	return nil
}

func outboxCmd() *cobra.Command {
	ob := &cobra.Command{Use: "outbox", Short: "Inspect and relay the event outbox"}

	flush := &cobra.Command{
		Use:   "flush",
		Short: "Relay pending outbox events to Kafka until none are left",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withServices(cmd.Context(), func(ctx context.Context, cfg *config.Config, s *bootstrap.Services) error {
				logger := newLogger()
				producer := kafka.NewProducer(&cfg.Kafka)
				defer producer.Close()

				relay := outbox.NewPublisher(s.Store.Outbox, kafka.NewInstrumentedProducer(producer, nil, logger), logger, nil, &cfg.Outbox)
				total := 0
				for {
					n, err := relay.ProcessOnce(ctx)
					if err != nil {
						return err
					}
					total += n
					if n == 0 {
						break
					}
				}
				fmt.Printf("published %d events\n", total)
				return nil
			})
		},
	}

	var aggregate string
	list := &cobra.Command{
		Use:   "list",
		Short: "List the outbox events of one order",
		RunE: func(cmd *cobra.Command, args []string) error {
			if aggregate == "" {
				return errors.New("--order is required")
			}
			return withServices(cmd.Context(), func(ctx context.Context, _ *config.Config, s *bootstrap.Services) error {
				events, err := s.Store.Outbox.FindByAggregateID(ctx, aggregate)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(events)
				}
				tw := newTable(table.Row{"Event", "Type", "Topic", "Created", "Published", "Retries"})
				for _, e := range events {
					published := ""
					if e.PublishedAt != nil {
						published = e.PublishedAt.Format(time.RFC3339)
					}
					tw.AppendRow(table.Row{e.ID, e.EventType, e.Topic, e.CreatedAt.Format(time.RFC3339), published, e.RetryCount})
				}
				tw.Render()
				return nil
			})
		},
	}
	list.Flags().StringVar(&aggregate, "order", "", "order id")

	ob.AddCommand(flush, list)
	return ob
}
