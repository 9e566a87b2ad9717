package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/atelier-platform/production-engine/internal/bootstrap"
	"github.com/atelier-platform/production-engine/internal/config"
	"github.com/atelier-platform/production-engine/pkg/logging"
	"github.com/atelier-platform/production-engine/pkg/metrics"
)

const serviceName = "productionctl"

var rootCmd = &cobra.Command{
	Use:   "productionctl",
	Short: "Operate the production engine",
	Long: `productionctl runs maintenance against the production engine store:
index migration, reference data seeding, ledger reconciliation, expiry sweeps
and read-only inspection of orders and worker performance.`,
	SilenceUsage: true,
}

func main() {
	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	registerCommands()
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix(config.EnvPrefix)
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("config", "c", "", "path to the engine config file")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("log-level", "warn", "log level written to stderr")
	_ = viper.BindPFlag("config", rootCmd.PersistentFlags().Lookup("config"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	_ = viper.BindPFlag("log-level", rootCmd.PersistentFlags().Lookup("log-level"))
}

func registerCommands() {
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(registryCmd())
	rootCmd.AddCommand(seedCmd())
	rootCmd.AddCommand(reconcileCmd())
	rootCmd.AddCommand(statusCmd())
	rootCmd.AddCommand(performanceCmd())
	rootCmd.AddCommand(sweepCmd())
	rootCmd.AddCommand(outboxCmd())
}

func newLogger() *logging.Logger {
	cfg := logging.DefaultConfig(serviceName)
	cfg.Level = logging.ParseLevel(viper.GetString("log-level"))
	cfg.Output = os.Stderr
	return logging.New(cfg)
}

func loadConfig() (*config.Config, error) {
	return config.Load(viper.GetString("config"), serviceName)
}

// withServices opens the store and services for the length of fn
func withServices(ctx context.Context, fn func(context.Context, *config.Config, *bootstrap.Services) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger := newLogger()
	m := metrics.New(metrics.DefaultConfig(serviceName))

	client, services, err := bootstrap.Open(ctx, cfg, m, logger)
	if err != nil {
		return err
	}
	defer client.Close(context.Background())
	return fn(ctx, cfg, services)
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func newTable(header table.Row) table.Writer {
	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	tw.SetStyle(table.StyleLight)
	tw.AppendHeader(header)
	return tw
}
