// Package config loads daemon and CLI configuration from the environment.
//
// A .env file in the working directory is loaded first when present, then
// environment variables are parsed into the Config struct. Flags in cmd
// override both.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Config holds every tunable the engine reads from the environment.
type Config struct {
	// DatabaseDSN selects the storage backend: a PostgreSQL connection
	// string or a SQLite file path.
	DatabaseDSN string `env:"DATABASE_URL"`
	// StateDir is where the default SQLite database lives when
	// DATABASE_URL is unset.
	StateDir string `env:"ALMANAC_STATE_DIR" envDefault:"/var/lib/almanac"`
	// CalendarPath points at the YAML content calendar.
	CalendarPath string `env:"ALMANAC_CALENDAR" envDefault:"calendar.yaml"`

	// DeliveryProvider selects the gateway: "smtp", "twilio" or "mock".
	DeliveryProvider string `env:"ALMANAC_DELIVERY_PROVIDER" envDefault:"smtp"`

	SMTPHost     string `env:"SMTP_HOST"`
	SMTPPort     string `env:"SMTP_PORT" envDefault:"587"`
	SMTPUsername string `env:"SMTP_USERNAME"`
	SMTPPassword string `env:"SMTP_PASSWORD"`
	SMTPFrom     string `env:"SMTP_FROM"`

	TwilioAccountSID string `env:"TWILIO_ACCOUNT_SID"`
	TwilioAuthToken  string `env:"TWILIO_AUTH_TOKEN"`
	TwilioFrom       string `env:"TWILIO_FROM"`

	// Concurrency is the number of subscribers decided in parallel.
	Concurrency int `env:"ALMANAC_CONCURRENCY" envDefault:"8"`
	// DispatchTimeout bounds one gateway attempt.
	DispatchTimeout time.Duration `env:"ALMANAC_DISPATCH_TIMEOUT" envDefault:"30s"`
	// DispatchMaxRetries is the number of re-attempts after a failed send.
	DispatchMaxRetries uint64 `env:"ALMANAC_DISPATCH_MAX_RETRIES" envDefault:"2"`
	// DispatchRatePerSecond throttles outbound sends across all workers.
	DispatchRatePerSecond float64 `env:"ALMANAC_DISPATCH_RATE" envDefault:"5"`

	// DailySchedule is the cron expression for daemon mode.
	DailySchedule string `env:"ALMANAC_SCHEDULE" envDefault:"0 9 * * *"`
	// DryRun makes every run decide without claiming or dispatching.
	DryRun bool `env:"ALMANAC_DRY_RUN" envDefault:"false"`
}

// Load reads .env (when present) and the environment into a Config.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		if !os.IsNotExist(err) {
			slog.Warn("failed to load .env file", "error", err)
		}
	} else {
		slog.Debug("loaded environment from .env file")
	}

	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	return &cfg, nil
}

// Validate checks provider-specific requirements before startup.
func (c *Config) Validate() error {
	switch c.DeliveryProvider {
	case "smtp":
		if c.SMTPHost == "" || c.SMTPFrom == "" {
			return fmt.Errorf("smtp provider requires SMTP_HOST and SMTP_FROM")
		}
	case "twilio":
		if c.TwilioAccountSID == "" || c.TwilioAuthToken == "" || c.TwilioFrom == "" {
			return fmt.Errorf("twilio provider requires TWILIO_ACCOUNT_SID, TWILIO_AUTH_TOKEN and TWILIO_FROM")
		}
	case "mock":
	default:
		return fmt.Errorf("unknown delivery provider %q", c.DeliveryProvider)
	}
	if c.Concurrency < 1 {
		return fmt.Errorf("concurrency must be at least 1")
	}
	return nil
}
