package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/atelier-platform/production-engine/internal/domain"
	"github.com/atelier-platform/production-engine/pkg/kafka"
	"github.com/atelier-platform/production-engine/pkg/mongodb"
	"github.com/atelier-platform/production-engine/pkg/outbox"
	"github.com/atelier-platform/production-engine/pkg/temporal"
	"github.com/atelier-platform/production-engine/pkg/tracing"
)

// EnvPrefix prefixes every environment override, e.g. PRODUCTION_MONGODB_URI
const EnvPrefix = "PRODUCTION"

// Config is the configuration shared by every binary
type Config struct {
	ServiceName string `mapstructure:"service_name"`
	Environment string `mapstructure:"environment"`
	LogLevel    string `mapstructure:"log_level"`

	Server   ServerConfig           `mapstructure:"server"`
	MongoDB  mongodb.Config         `mapstructure:"mongodb"`
	Kafka    kafka.Config           `mapstructure:"kafka"`
	Temporal temporal.Config        `mapstructure:"temporal"`
	Tracing  tracing.Config         `mapstructure:"tracing"`
	Outbox   outbox.PublisherConfig `mapstructure:"outbox"`
	Engine   EngineConfig           `mapstructure:"engine"`
}

// ServerConfig configures the HTTP API
type ServerConfig struct {
	Addr            string        `mapstructure:"addr"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`

	// ValidateRequests rejects requests that do not match the API document
	ValidateRequests bool `mapstructure:"validate_requests"`

	CORS CORSConfig `mapstructure:"cors"`
}

// CORSConfig lists the browser origins allowed to call the API
type CORSConfig struct {
	AllowOrigins     []string      `mapstructure:"allow_origins"`
	AllowCredentials bool          `mapstructure:"allow_credentials"`
	MaxAge           time.Duration `mapstructure:"max_age"`
}

// EngineConfig holds the production engine policies
type EngineConfig struct {
	RegistryPath    string        `mapstructure:"registry_path"`
	WatchRegistry   bool          `mapstructure:"watch_registry"`
	ReservationTTL  time.Duration `mapstructure:"reservation_ttl"`
	DefaultCurrency string        `mapstructure:"default_currency"`

	CostTolerance    float64 `mapstructure:"cost_tolerance"`
	DefaultLaborCost float64 `mapstructure:"default_labor_cost"`
	LaborHourlyRate  float64 `mapstructure:"labor_hourly_rate"`
	OverheadRate     float64 `mapstructure:"overhead_rate"`

	Ranking     []string                  `mapstructure:"ranking"`
	Performance domain.PerformanceWeights `mapstructure:"performance"`

	CancelRetries int `mapstructure:"cancel_retries"`

	// ValidateEvents checks every outgoing event against its payload contract
	ValidateEvents bool `mapstructure:"validate_events"`

	Sweep SweepConfig `mapstructure:"sweep"`
}

// SweepConfig schedules the reservation expiry janitor
type SweepConfig struct {
	CronSchedule string `mapstructure:"cron_schedule"`
	BatchSize    int    `mapstructure:"batch_size"`
	WorkflowID   string `mapstructure:"workflow_id"`
}

// CostRates returns the domain cost inputs
func (e EngineConfig) CostRates() domain.CostRates {
	return domain.CostRates{
		DefaultLaborCost: e.DefaultLaborCost,
		LaborHourlyRate:  e.LaborHourlyRate,
		OverheadRate:     e.OverheadRate,
		Tolerance:        e.CostTolerance,
	}
}

// RankingCriteria parses the configured ranking
func (e EngineConfig) RankingCriteria() ([]domain.RankingCriterion, error) {
	return domain.ParseRanking(e.Ranking)
}

func setDefaults(v *viper.Viper, serviceName string) {
	v.SetDefault("service_name", serviceName)
	v.SetDefault("environment", "development")
	v.SetDefault("log_level", "info")

	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.read_timeout", 10*time.Second)
	v.SetDefault("server.write_timeout", 30*time.Second)
	v.SetDefault("server.shutdown_timeout", 10*time.Second)
	v.SetDefault("server.validate_requests", false)
	v.SetDefault("server.cors.allow_origins", []string{"http://localhost:3000", "http://localhost:5173"})
	v.SetDefault("server.cors.allow_credentials", true)
	v.SetDefault("server.cors.max_age", 12*time.Hour)

	mongo := mongodb.DefaultConfig()
	v.SetDefault("mongodb.uri", mongo.URI)
	v.SetDefault("mongodb.database", mongo.Database)
	v.SetDefault("mongodb.connect_timeout", mongo.ConnectTimeout)
	v.SetDefault("mongodb.max_pool_size", mongo.MaxPoolSize)
	v.SetDefault("mongodb.min_pool_size", mongo.MinPoolSize)

	k := kafka.DefaultConfig()
	v.SetDefault("kafka.brokers", k.Brokers)
	v.SetDefault("kafka.client_id", k.ClientID)
	v.SetDefault("kafka.batch_size", k.BatchSize)
	v.SetDefault("kafka.batch_timeout", k.BatchTimeout)
	v.SetDefault("kafka.required_acks", k.RequiredAcks)
	v.SetDefault("kafka.enabled", k.Enabled)

	tc := temporal.DefaultConfig()
	v.SetDefault("temporal.host_port", tc.HostPort)
	v.SetDefault("temporal.namespace", tc.Namespace)
	v.SetDefault("temporal.identity", tc.Identity)

	tr := tracing.DefaultConfig(serviceName)
	v.SetDefault("tracing.service_name", tr.ServiceName)
	v.SetDefault("tracing.service_version", tr.ServiceVersion)
	v.SetDefault("tracing.environment", tr.Environment)
	v.SetDefault("tracing.otlp_endpoint", tr.OTLPEndpoint)
	v.SetDefault("tracing.sample_rate", tr.SampleRate)
	v.SetDefault("tracing.enabled", tr.Enabled)

	ob := outbox.DefaultPublisherConfig()
	v.SetDefault("outbox.poll_interval", ob.PollInterval)
	v.SetDefault("outbox.batch_size", ob.BatchSize)

	v.SetDefault("engine.registry_path", "config/stages.yaml")
	v.SetDefault("engine.watch_registry", true)
	v.SetDefault("engine.reservation_ttl", 72*time.Hour)
	v.SetDefault("engine.default_currency", "USD")
	v.SetDefault("engine.cost_tolerance", 0.15)
	v.SetDefault("engine.default_labor_cost", 120.0)
	v.SetDefault("engine.labor_hourly_rate", 30.0)
	v.SetDefault("engine.overhead_rate", 0.15)
	v.SetDefault("engine.cancel_retries", 3)
	v.SetDefault("engine.validate_events", true)

	ranking := make([]string, 0, len(domain.DefaultRanking))
	for _, c := range domain.DefaultRanking {
		ranking = append(ranking, string(c))
	}
	v.SetDefault("engine.ranking", ranking)

	w := domain.DefaultPerformanceWeights()
	v.SetDefault("engine.performance.speed_weight", w.SpeedWeight)
	v.SetDefault("engine.performance.quality_weight", w.QualityWeight)
	v.SetDefault("engine.performance.rework_penalty", w.ReworkPenalty)
	v.SetDefault("engine.performance.bonus_threshold", w.BonusThreshold)
	v.SetDefault("engine.performance.min_completion_rate", w.MinCompletionRate)
	v.SetDefault("engine.performance.min_tasks", w.MinTasks)

	v.SetDefault("engine.sweep.cron_schedule", "*/15 * * * *")
	v.SetDefault("engine.sweep.batch_size", 200)
	v.SetDefault("engine.sweep.workflow_id", "reservation-expiry-sweep")
}

// Load reads path (optional) and PRODUCTION_* environment overrides
func Load(path, serviceName string) (*Config, error) {
	v := viper.New()
	setDefaults(v, serviceName)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("failed to read config %s: %w", path, err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks the server and engine policies
func (c *Config) Validate() error {
	var errs []error
	if len(c.Server.CORS.AllowOrigins) == 0 {
		errs = append(errs, errors.New("server.cors.allow_origins needs at least one origin"))
	}
	e := c.Engine
	if e.RegistryPath == "" {
		errs = append(errs, errors.New("engine.registry_path is required"))
	}
	if e.ReservationTTL < 0 {
		errs = append(errs, errors.New("engine.reservation_ttl must not be negative"))
	}
	if e.CostTolerance < 0 {
		errs = append(errs, errors.New("engine.cost_tolerance must not be negative"))
	}
	if e.CancelRetries < 1 {
		errs = append(errs, errors.New("engine.cancel_retries must be at least 1"))
	}
	if e.Sweep.BatchSize < 1 {
		errs = append(errs, errors.New("engine.sweep.batch_size must be at least 1"))
	}
	if _, err := e.RankingCriteria(); err != nil {
		errs = append(errs, fmt.Errorf("engine.ranking: %w", err))
	}
	return errors.Join(errs...)
}
