package temporal

import (
	"context"
	"fmt"
	"log/slog"

	"go.temporal.io/sdk/client"
	tlog "go.temporal.io/sdk/log"
	"go.temporal.io/sdk/worker"
)

// Config holds Temporal client configuration
type Config struct {
	HostPort  string `mapstructure:"host_port"`
	Namespace string `mapstructure:"namespace"`
	Identity  string `mapstructure:"identity"`
}

// DefaultConfig returns a Config with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		HostPort:  "localhost:7233",
		Namespace: "default",
		Identity:  "production-engine",
	}
}

// TaskQueues used by the engine
var TaskQueues = struct {
	Production string
}{
	Production: "production-engine-queue",
}

// WorkflowNames registered by the worker
var WorkflowNames = struct {
	ReservationExpirySweep string
}{
	ReservationExpirySweep: "ReservationExpirySweepWorkflow",
}

// Client wraps the Temporal SDK client
type Client struct {
	client client.Client
	config *Config
}

// NewClient dials Temporal. logger may be nil.
func NewClient(ctx context.Context, config *Config, logger *slog.Logger) (*Client, error) {
	opts := client.Options{
		HostPort:  config.HostPort,
		Namespace: config.Namespace,
		Identity:  config.Identity,
	}
	if logger != nil {
		opts.Logger = tlog.NewStructuredLogger(logger)
	}

	c, err := client.DialContext(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to create Temporal client: %w", err)
	}
	return &Client{client: c, config: config}, nil
}

// Client returns the underlying Temporal client
func (c *Client) Client() client.Client { return c.client }

// Close closes the client connection
func (c *Client) Close() { c.client.Close() }

// NewWorker creates a worker on taskQueue
func (c *Client) NewWorker(taskQueue string, opts worker.Options) worker.Worker {
	return worker.New(c.client, taskQueue, opts)
}

// DefaultWorkerOptions returns conservative worker options; the sweep is light
func DefaultWorkerOptions() worker.Options {
	return worker.Options{
		MaxConcurrentActivityExecutionSize:     20,
		MaxConcurrentWorkflowTaskExecutionSize: 10,
		EnableSessionWorker:                    false,
	}
}
