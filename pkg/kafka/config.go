package kafka

import (
	"time"
)

// Config holds Kafka producer configuration
type Config struct {
	Brokers      []string      `mapstructure:"brokers"`
	ClientID     string        `mapstructure:"client_id"`
	BatchSize    int           `mapstructure:"batch_size"`
	BatchTimeout time.Duration `mapstructure:"batch_timeout"`
	// 0: none, 1: leader, -1: all in-sync replicas
	RequiredAcks int  `mapstructure:"required_acks"`
	Enabled      bool `mapstructure:"enabled"`
}

// DefaultConfig returns a Config with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Brokers:      []string{"localhost:9092"},
		ClientID:     "production-engine",
		BatchSize:    100,
		BatchTimeout: 10 * time.Millisecond,
		RequiredAcks: -1,
		Enabled:      true,
	}
}

// Topics the engine publishes to
var Topics = struct {
	Orders       string
	Stages       string
	Reservations string
}{
	Orders:       "atelier.production.orders",
	Stages:       "atelier.production.stages",
	Reservations: "atelier.inventory.reservations",
}
