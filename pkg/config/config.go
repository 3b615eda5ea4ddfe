package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/ilyakaznacheev/cleanenv"
)

// Config holds all configuration for paygap-engine.
// Configuration can come from a YAML file (config.yaml) or environment variables.
// Environment variables always override YAML values for fields that support both.
// Secrets (passwords, keys) must only come from environment variables.
type Config struct {
	// Server configuration
	BindAddr string `yaml:"bind_addr" env:"BIND_ADDR" env-default:"127.0.0.1"`
	Port     string `yaml:"port" env:"PORT" env-default:"3480" validate:"required,numeric"`
	Env      string `yaml:"env" env:"ENVIRONMENT" env-default:"local" validate:"oneof=local dev staging production test"`
	Version  string `yaml:"-"` // Set at load time, not from config

	Database DatabaseConfig `yaml:"database"`
	LLM      LLMConfig      `yaml:"llm"`
	Imports  ImportsConfig  `yaml:"imports"`
	Risk     RiskConfig     `yaml:"risk"`
	Workers  WorkersConfig  `yaml:"workers"`
	Audit    AuditConfig    `yaml:"audit"`
}

// DatabaseConfig holds PostgreSQL database configuration.
type DatabaseConfig struct {
	Host           string `yaml:"host" env:"PGHOST" env-default:"localhost" validate:"required"`
	Port           int    `yaml:"port" env:"PGPORT" env-default:"5432" validate:"gt=0,lt=65536"`
	User           string `yaml:"user" env:"PGUSER" env-default:"paygap" validate:"required"`
	Password       string `yaml:"-" env:"PGPASSWORD"` // Secret - not in YAML
	Database       string `yaml:"database" env:"PGDATABASE" env-default:"paygap_engine" validate:"required"`
	MaxConnections int32  `yaml:"max_connections" env:"PGMAX_CONNECTIONS" env-default:"25" validate:"gt=0"`
	MaxIdleConns   int32  `yaml:"max_idle_conns" env:"PGMAX_IDLE_CONNS" env-default:"5"`
	SSLMode        string `yaml:"ssl_mode" env:"PGSSLMODE" env-default:"disable"`
	MigrationsPath string `yaml:"migrations_path" env:"MIGRATIONS_PATH" env-default:"migrations"`
}

// LLMConfig configures the optional text-generation provider. Leaving Model
// empty disables assisted mapping and narrative reports.
type LLMConfig struct {
	Provider       string        `yaml:"provider" env:"LLM_PROVIDER" env-default:"openai" validate:"oneof=openai anthropic"`
	BaseURL        string        `yaml:"base_url" env:"LLM_BASE_URL" env-default:"" validate:"omitempty,url"`
	Model          string        `yaml:"model" env:"LLM_MODEL" env-default:""`
	APIKey         string        `yaml:"-" env:"LLM_API_KEY"` // Secret - not in YAML
	MappingTimeout time.Duration `yaml:"mapping_timeout" env:"LLM_MAPPING_TIMEOUT" env-default:"60s" validate:"gt=0"`
	ReportTimeout  time.Duration `yaml:"report_timeout" env:"LLM_REPORT_TIMEOUT" env-default:"300s" validate:"gt=0"`
	// BreakerThreshold consecutive failures disable the provider for BreakerReset.
	BreakerThreshold int           `yaml:"breaker_threshold" env:"LLM_BREAKER_THRESHOLD" env-default:"3" validate:"gt=0"`
	BreakerReset     time.Duration `yaml:"breaker_reset" env:"LLM_BREAKER_RESET" env-default:"1m"`
}

// Enabled reports whether a provider model is configured.
func (c *LLMConfig) Enabled() bool {
	return c.Model != ""
}

// ImportsConfig controls upload handling and import execution.
type ImportsConfig struct {
	UploadDir          string `yaml:"upload_dir" env:"IMPORT_UPLOAD_DIR" env-default:"data/uploads" validate:"required"`
	SampleSize         int    `yaml:"sample_size" env:"IMPORT_SAMPLE_SIZE" env-default:"5" validate:"gt=0"`
	MaxUploadMB        int64  `yaml:"max_upload_mb" env:"IMPORT_MAX_UPLOAD_MB" env-default:"25" validate:"gt=0"`
	MaxRowErrorDetails int    `yaml:"max_row_error_details" env:"IMPORT_MAX_ROW_ERROR_DETAILS" env-default:"500" validate:"gte=0"`
}

// MaxUploadBytes is MaxUploadMB in bytes.
func (c *ImportsConfig) MaxUploadBytes() int64 {
	return c.MaxUploadMB << 20
}

// RiskConfig controls the synchronous risk-run wrapper.
type RiskConfig struct {
	PollInterval time.Duration `yaml:"poll_interval" env:"RISK_POLL_INTERVAL" env-default:"1s" validate:"gt=0"`
	PollAttempts int           `yaml:"poll_attempts" env:"RISK_POLL_ATTEMPTS" env-default:"60" validate:"gt=0"`
}

// WorkersConfig bounds background task execution.
type WorkersConfig struct {
	MaxConcurrent int           `yaml:"max_concurrent" env:"WORKERS_MAX_CONCURRENT" env-default:"4" validate:"gt=0"`
	TaskTimeout   time.Duration `yaml:"task_timeout" env:"WORKERS_TASK_TIMEOUT" env-default:"30m" validate:"gt=0"`
}

// AuditConfig configures the best-effort audit sink. Events are always logged;
// they are also published to NATS when NATSURL is set.
type AuditConfig struct {
	NATSURL    string `yaml:"nats_url" env:"AUDIT_NATS_URL" env-default:""`
	Subject    string `yaml:"subject" env:"AUDIT_SUBJECT" env-default:"paygap.audit" validate:"required"`
	BufferSize int    `yaml:"buffer_size" env:"AUDIT_BUFFER_SIZE" env-default:"256" validate:"gt=0"`
}

// Load reads configuration from path with environment variable overrides.
// A missing file is not an error; defaults and environment are used instead.
// The version parameter is injected at build time and set on the returned Config.
func Load(path, version string) (*Config, error) {
	cfg := &Config{
		Version: version,
	}

	if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
		if err := cleanenv.ReadEnv(cfg); err != nil {
			return nil, fmt.Errorf("failed to read environment: %w", err)
		}
	} else if err := cleanenv.ReadConfig(path, cfg); err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	cfg.LLM.BaseURL = ResolveURLForDocker(cfg.LLM.BaseURL)
	cfg.Audit.NATSURL = ResolveURLForDocker(cfg.Audit.NATSURL)

	return cfg, nil
}

// Validate checks field constraints declared in validate tags.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return err
	}
	if c.LLM.Provider == "anthropic" && c.LLM.Enabled() && c.LLM.APIKey == "" {
		return fmt.Errorf("LLM_API_KEY is required for provider anthropic")
	}
	return nil
}

// ConnectionString returns a PostgreSQL connection string.
func (c *DatabaseConfig) ConnectionString() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		ResolveHostForDocker(c.Host), c.Port, c.User, c.Password, c.Database, c.SSLMode,
	)
}
