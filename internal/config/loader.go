package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultConfigFile is the path checked for YAML configuration.
const DefaultConfigFile = "gatewright.yaml"

// Load returns a Config using the hierarchy: defaults < YAML < ENV.
// YAML file is optional; missing file is not an error.
func Load() (*Config, error) {
	return LoadFrom(DefaultConfigFile)
}

// LoadFrom returns a Config loaded from the given YAML path using the
// hierarchy: defaults < YAML < ENV. The YAML file is optional.
func LoadFrom(yamlPath string) (*Config, error) {
	cfg := Defaults()

	if err := loadYAML(&cfg, yamlPath); err != nil {
		return nil, fmt.Errorf("config yaml: %w", err)
	}

	loadEnv(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("config validate: %w", err)
	}

	return &cfg, nil
}

// loadYAML reads the YAML file and unmarshals it over cfg.
// Returns nil if the file does not exist.
func loadYAML(cfg *Config, path string) error {
	data, err := os.ReadFile(path) //nolint:gosec // G304: path is validated by caller
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("read %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}

	return nil
}

// loadEnv overlays environment variables onto cfg.
// Only non-empty env values override the current config.
func loadEnv(cfg *Config) {
	setString(&cfg.Server.Port, "GW_PORT")
	setString(&cfg.Server.CORSOrigin, "GW_CORS_ORIGIN")
	setString(&cfg.Postgres.DSN, "GW_POSTGRES_DSN")
	setString(&cfg.NATS.URL, "GW_NATS_URL")
	setString(&cfg.Logging.Level, "GW_LOG_LEVEL")
	setString(&cfg.Tracker.BaseURL, "GW_TRACKER_URL")
	setString(&cfg.Tracker.Email, "GW_TRACKER_EMAIL")
	setString(&cfg.Tracker.APIToken, "GW_TRACKER_TOKEN")
	setString(&cfg.Tracker.Project, "GW_TRACKER_PROJECT")
	setString(&cfg.Assignment.DefaultAssignee, "GW_DEFAULT_ASSIGNEE")
	setString(&cfg.Assignment.EmailDomain, "GW_EMAIL_DOMAIN")
	setInt(&cfg.Breaker.MaxFailures, "GW_BREAKER_MAX_FAILURES")
	setInt(&cfg.Retry.MaxAttempts, "GW_RETRY_MAX_ATTEMPTS")
	setInt64(&cfg.Orchestrator.MaxConcurrent, "GW_MAX_CONCURRENT")
	setDuration(&cfg.SLA.HumanReviewDeadline, "GW_HUMAN_REVIEW_DEADLINE")
	setDuration(&cfg.SLA.ScanInterval, "GW_SLA_SCAN_INTERVAL")
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setInt64(dst *int64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func setDuration(dst *time.Duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			*dst = d
		}
	}
}

// validate rejects configurations that cannot work.
func validate(cfg *Config) error {
	if cfg.Server.Port == "" {
		return errors.New("server port is required")
	}
	if cfg.Breaker.MaxFailures <= 0 {
		return errors.New("breaker max_failures must be positive")
	}
	if cfg.Retry.MaxAttempts <= 0 {
		return errors.New("retry max_attempts must be positive")
	}
	if cfg.Orchestrator.MaxConcurrent <= 0 {
		return errors.New("orchestrator max_concurrent must be positive")
	}
	if f := cfg.SLA.ReminderFraction; f <= 0 || f >= 1 {
		return errors.New("sla reminder_fraction must be in (0,1)")
	}
	if f := cfg.SLA.EscalationFraction; f <= cfg.SLA.ReminderFraction || f >= 1 {
		return errors.New("sla escalation_fraction must be in (reminder_fraction,1)")
	}
	return nil
}
