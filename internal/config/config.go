package config

import (
	"context"
	"fmt"
	"time"

	"github.com/sethvargo/go-envconfig"
)

type Config struct {
	DatabaseURL  string   `env:"DATABASE_URL,required"`
	Environment  string   `env:"ENVIRONMENT,default=production"`
	Port         int      `env:"PORT,default=8080"`
	LogLevel     string   `env:"LOG_LEVEL,default=info"`
	CORSOrigins  []string `env:"CORS_ORIGINS"`
	UpstreamURL  string   `env:"CONTENT_UPSTREAM_URL,required"`

	// Identity provider for the developer and reviewer portal.
	OIDCIssuer   string `env:"OIDC_ISSUER,required"`
	OIDCClientID string `env:"OIDC_CLIENT_ID,required"`

	// Rate limit counters live in Postgres by default; Redis is the
	// option for multi-replica deployments with hot credentials.
	RateLimitBackend string `env:"RATE_LIMIT_BACKEND,default=postgres"`
	RedisAddr        string `env:"REDIS_ADDR"`

	// Optional analytics mirror. Leave KAFKA_BROKERS empty to disable.
	KafkaBrokers    []string `env:"KAFKA_BROKERS"`
	KafkaUsageTopic string   `env:"KAFKA_USAGE_TOPIC,default=access-gate.usage"`

	SweepInterval   time.Duration `env:"SWEEP_INTERVAL,default=10m"`
	SweepPendingSLA time.Duration `env:"SWEEP_PENDING_SLA,default=720h"`

	// HTTP server timeouts
	ReadTimeout  time.Duration `env:"HTTP_READ_TIMEOUT,default=15s"`
	WriteTimeout time.Duration `env:"HTTP_WRITE_TIMEOUT,default=30s"`
	IdleTimeout  time.Duration `env:"HTTP_IDLE_TIMEOUT,default=60s"`
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(context.Background(), &cfg); err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	if c.Environment != "production" && c.Environment != "staging" {
		return fmt.Errorf("ENVIRONMENT must be 'production' or 'staging', got %q", c.Environment)
	}

	switch c.RateLimitBackend {
	case "memory", "postgres":
	case "redis":
		if c.RedisAddr == "" {
			return fmt.Errorf("REDIS_ADDR is required when RATE_LIMIT_BACKEND is 'redis'")
		}
	default:
		return fmt.Errorf("RATE_LIMIT_BACKEND must be 'memory', 'postgres' or 'redis', got %q", c.RateLimitBackend)
	}

	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("PORT must be between 1 and 65535, got %d", c.Port)
	}

	if c.SweepInterval < time.Minute {
		return fmt.Errorf("SWEEP_INTERVAL must be at least 1m, got %s", c.SweepInterval)
	}
	if c.SweepPendingSLA < 24*time.Hour {
		return fmt.Errorf("SWEEP_PENDING_SLA must be at least 24h, got %s", c.SweepPendingSLA)
	}

	return nil
}

// KafkaEnabled reports whether the usage mirror should be wired.
func (c *Config) KafkaEnabled() bool {
	return len(c.KafkaBrokers) > 0
}
