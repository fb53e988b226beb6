// Package config provides process configuration and repository settings.
package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config holds all configuration for the application.
type Config struct {
	// Server settings
	ServerPort         string        `env:"PORT"                 envDefault:"8080"`
	ServerReadTimeout  time.Duration `env:"SERVER_READ_TIMEOUT"  envDefault:"30s"`
	ServerWriteTimeout time.Duration `env:"SERVER_WRITE_TIMEOUT" envDefault:"0s"`

	// NATS settings
	NATSURL      string `env:"NATS_URL"       envDefault:"nats://localhost:4222"`
	NATSCAFile   string `env:"NATS_CA_FILE"`
	NATSCertFile string `env:"NATS_CERT_FILE"`
	NATSKeyFile  string `env:"NATS_KEY_FILE"`
	NATSToken    string `env:"NATS_TOKEN"`

	// LocalBus replaces NATS with an in-process bus and simulated pillars.
	LocalBus bool `env:"LOCAL_BUS" envDefault:"false"`

	// JWT settings
	JWTSecret     string        `env:"JWT_SECRET"     envDefault:"development-secret-change-in-production"`
	JWTExpiration time.Duration `env:"JWT_EXPIRATION" envDefault:"15m"`

	// Rate limiting
	RateLimitRequests int           `env:"RATE_LIMIT_REQUESTS" envDefault:"60"`
	RateLimitWindow   time.Duration `env:"RATE_LIMIT_WINDOW"   envDefault:"1m"`

	// Logging
	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`

	// Tracing
	TracingEndpoint string `env:"TRACING_ENDPOINT" envDefault:"localhost:4318"`
	TracingEnabled  bool   `env:"TRACING_ENABLED"  envDefault:"false"`

	// Repository client
	SettingsFile        string `env:"SETTINGS_FILE"`
	ClientID            string `env:"CLIENT_ID"            envDefault:"bitrepo-api"`
	ReceiverDestination string `env:"RECEIVER_DESTINATION"`
	AlarmsEnabled       bool   `env:"ALARMS_ENABLED"       envDefault:"true"`
	OperationHistory    int    `env:"OPERATION_HISTORY"    envDefault:"1000"`
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	cfg, err := env.ParseAs[Config]()
	if err != nil {
		return nil, fmt.Errorf("failed to parse environment: %w", err)
	}
	if cfg.ReceiverDestination == "" {
		cfg.ReceiverDestination = "client." + cfg.ClientID
	}
	return &cfg, nil
}
