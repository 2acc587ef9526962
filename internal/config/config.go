// Package config describes the recruiter-loop configuration file.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spigell/recruiter-loop/internal/convergence"
	"github.com/spigell/recruiter-loop/internal/model"
	"github.com/spigell/recruiter-loop/internal/orchestrator"
	"github.com/spigell/recruiter-loop/internal/secrets"

	"github.com/spf13/viper"
)

// EnvPrefix prefixes environment overrides, e.g. RECRUITER_SERVER_ADDR.
const EnvPrefix = "RECRUITER"

type Config struct {
	Server        ServerConfig         `mapstructure:"server"`
	Oracle        OracleConfig         `mapstructure:"oracle"`
	Loop          convergence.Config   `mapstructure:"loop"`
	Evaluator     EvaluatorConfig      `mapstructure:"evaluator"`
	Storage       StorageConfig        `mapstructure:"storage"`
	Counter       CounterConfig        `mapstructure:"counter"`
	Jobs          JobsConfig           `mapstructure:"jobs"`
	Notifications NotificationsConfig  `mapstructure:"notifications"`
	Outreach      OutreachConfig       `mapstructure:"outreach"`
	Tenants       orchestrator.Tenants `mapstructure:"tenants"`
	Escalation    EscalationConfig     `mapstructure:"escalation"`
	Intake        IntakeConfig         `mapstructure:"intake"`
	BatchSize     int                  `mapstructure:"batch-size"`
	SeedDir       string               `mapstructure:"seed-dir"`
}

type ServerConfig struct {
	Addr           string        `mapstructure:"addr"`
	AllowedOrigins []string      `mapstructure:"allowed-origins"`
	ReadTimeout    time.Duration `mapstructure:"read-timeout"`
}

type OracleConfig struct {
	Provider     string `mapstructure:"provider"`
	Model        string `mapstructure:"model"`
	APIKey       string `mapstructure:"api-key"`
	APIKeyFile   string `mapstructure:"api-key-file"`
	MaxRetries   int    `mapstructure:"max-retries"`
	MaxLogLength int    `mapstructure:"max-log-length"`
}

// APIKeySource points at the oracle key, falling back to the provider's usual env variable.
func (c OracleConfig) APIKeySource() secrets.Source {
	env := "GEMINI_API_KEY"
	if c.Provider == ProviderAnthropic {
		env = "ANTHROPIC_API_KEY"
	}
	return secrets.Source{Name: c.Provider + " api key", Value: c.APIKey, File: c.APIKeyFile, Env: env}
}

type EvaluatorConfig struct {
	QuickThreshold float64 `mapstructure:"quick-threshold"`
}

type StorageConfig struct {
	Driver string `mapstructure:"driver"`
	DSN    string `mapstructure:"dsn"`
}

type CounterConfig struct {
	Driver   string `mapstructure:"driver"`
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type JobsConfig struct {
	Driver    string `mapstructure:"driver"`
	URL       string `mapstructure:"url"`
	Workers   int    `mapstructure:"workers"`
	QueueSize int    `mapstructure:"queue-size"`
}

type NotificationsConfig struct {
	DashboardLimit int         `mapstructure:"dashboard-limit"`
	Slack          SlackConfig `mapstructure:"slack"`
}

type SlackConfig struct {
	Token     string            `mapstructure:"token"`
	TokenFile string            `mapstructure:"token-file"`
	Channels  map[string]string `mapstructure:"channels"`
	Fallback  string            `mapstructure:"fallback-channel"`
}

// TokenSource points at the Slack bot token.
func (c SlackConfig) TokenSource() secrets.Source {
	return secrets.Source{Name: "slack token", Value: c.Token, File: c.TokenFile, Env: "SLACK_BOT_TOKEN"}
}

type OutreachConfig struct {
	APIURL    string `mapstructure:"api-url"`
	Token     string `mapstructure:"token"`
	TokenFile string `mapstructure:"token-file"`
	UserAgent string `mapstructure:"user-agent"`
}

// TokenSource points at the outreach API token.
func (c OutreachConfig) TokenSource() secrets.Source {
	return secrets.Source{Name: "outreach token", Value: c.Token, File: c.TokenFile, Env: EnvPrefix + "_OUTREACH_TOKEN"}
}

// EscalationConfig overrides or extends the default triggers by name.
type EscalationConfig struct {
	Triggers []map[string]any `mapstructure:"triggers"`
}

// IntakeConfig configures the screening filters applied to batches.
type IntakeConfig struct {
	DoNotContactFile  string   `mapstructure:"do-not-contact-file"`
	ExcludedCompanies []string `mapstructure:"excluded-companies"`
}

const (
	ProviderGemini    = "gemini"
	ProviderAnthropic = "anthropic"

	DriverMemory   = "memory"
	DriverPostgres = "postgres"
	DriverRedis    = "redis"
	DriverNATS     = "nats"
)

// SetDefaults registers default values on v.
func SetDefaults(v *viper.Viper) {
	loop := convergence.DefaultConfig()

	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.read-timeout", 30*time.Second)
	v.SetDefault("oracle.provider", ProviderGemini)
	v.SetDefault("oracle.model", "gemini-2.5-flash")
	v.SetDefault("oracle.max-retries", 3)
	v.SetDefault("oracle.max-log-length", 2000)
	v.SetDefault("loop.max-iterations", loop.MaxIterations)
	v.SetDefault("loop.convergence-threshold", loop.ConvergenceThreshold)
	v.SetDefault("loop.escalation-threshold", loop.EscalationThreshold)
	v.SetDefault("loop.timeout", loop.Timeout)
	v.SetDefault("loop.regenerate-edit-threshold", loop.RegenerateEditThreshold)
	v.SetDefault("loop.persist-learnings", true)
	v.SetDefault("evaluator.quick-threshold", 0.6)
	v.SetDefault("storage.driver", DriverMemory)
	v.SetDefault("counter.driver", DriverMemory)
	v.SetDefault("jobs.driver", DriverMemory)
	v.SetDefault("jobs.workers", 4)
	v.SetDefault("jobs.queue-size", 256)
	v.SetDefault("notifications.dashboard-limit", 200)
	v.SetDefault("batch-size", 5)
}

// Load unmarshals and validates the configuration held by v.
func Load(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decoding config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks drivers and the settings each driver requires.
func (c *Config) Validate() error {
	var errs []error

	switch c.Oracle.Provider {
	case ProviderGemini, ProviderAnthropic:
	default:
		errs = append(errs, fmt.Errorf("oracle.provider must be %s or %s, got %q", ProviderGemini, ProviderAnthropic, c.Oracle.Provider))
	}
	if strings.TrimSpace(c.Oracle.Model) == "" {
		errs = append(errs, errors.New("oracle.model is required"))
	}

	switch c.Storage.Driver {
	case DriverMemory:
	case DriverPostgres:
		if c.Storage.DSN == "" {
			errs = append(errs, errors.New("storage.dsn is required for postgres"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown storage.driver %q", c.Storage.Driver))
	}

	switch c.Counter.Driver {
	case DriverMemory:
	case DriverRedis:
		if c.Counter.Addr == "" {
			errs = append(errs, errors.New("counter.addr is required for redis"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown counter.driver %q", c.Counter.Driver))
	}

	switch c.Jobs.Driver {
	case DriverMemory:
	case DriverNATS:
		if c.Jobs.URL == "" {
			errs = append(errs, errors.New("jobs.url is required for nats"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown jobs.driver %q", c.Jobs.Driver))
	}
	if c.Jobs.Workers < 1 {
		errs = append(errs, errors.New("jobs.workers must be positive"))
	}

	if c.Loop.ConvergenceThreshold <= 0 || c.Loop.ConvergenceThreshold > 1 {
		errs = append(errs, fmt.Errorf("loop.convergence-threshold must be in (0, 1], got %v", c.Loop.ConvergenceThreshold))
	}
	if c.Loop.EscalationThreshold <= 0 || c.Loop.EscalationThreshold > 1 {
		errs = append(errs, fmt.Errorf("loop.escalation-threshold must be in (0, 1], got %v", c.Loop.EscalationThreshold))
	}
	if c.Loop.MaxIterations < 1 {
		errs = append(errs, errors.New("loop.max-iterations must be positive"))
	}

	for id, tenant := range c.Tenants {
		if a := tenant.AutoApproval; a.Enabled && (a.Threshold <= 0 || a.Threshold > 1) {
			errs = append(errs, fmt.Errorf("tenants.%s.auto-approval.threshold must be in (0, 1]", id))
		}
		for _, ch := range tenant.Channels {
			if !ch.Valid() {
				errs = append(errs, fmt.Errorf("tenants.%s: unknown channel %q", id, ch))
			}
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", model.ErrValidation, errors.Join(errs...))
	}
	return nil
}
