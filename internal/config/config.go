package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Paths contains directory and bind address configuration.
type Paths struct {
	DataDir    string `toml:"data_dir"`
	LogDir     string `toml:"log_dir"`
	ObjectsDir string `toml:"objects_dir"`
	APIBind    string `toml:"api_bind"`
	APIToken   string `toml:"api_token"`
}

// Database selects the relational store backing accounts, jobs, and billing events.
type Database struct {
	Driver string `toml:"driver"`
	DSN    string `toml:"dsn"`
}

// Credits contains the admission economics.
type Credits struct {
	FreeTrialCredits int64 `toml:"free_trial_credits"`
	JobCost          int64 `toml:"job_cost"`
}

// Generation contains request validation and submit timeouts.
type Generation struct {
	Resolutions            []string `toml:"resolutions"`
	FrameCounts            []int    `toml:"frame_counts"`
	MaxUploadBytes         int64    `toml:"max_upload_bytes"`
	PersistTimeoutSeconds  int      `toml:"persist_timeout_seconds"`
	DispatchTimeoutSeconds int      `toml:"dispatch_timeout_seconds"`
}

// Worker configures the synthesis worker the daemon dispatches jobs to.
type Worker struct {
	Mode                  string  `toml:"mode"`
	Endpoint              string  `toml:"endpoint"`
	CallbackURL           string  `toml:"callback_url"`
	SimulatedDelaySeconds int     `toml:"simulated_delay_seconds"`
	SimulatedFailureRate  float64 `toml:"simulated_failure_rate"`
}

// Billing configures the payment processor integration.
type Billing struct {
	Provider        string `toml:"provider"`
	WebhookSecret   string `toml:"webhook_secret"`
	CheckoutBaseURL string `toml:"checkout_base_url"`
}

// ReplenishRule maps a plan to a cron cadence and the balance it is reset to.
type ReplenishRule struct {
	Plan          string `toml:"plan"`
	Cadence       string `toml:"cadence"`
	TargetBalance int64  `toml:"target_balance"`
}

// Replenish contains the scheduled balance reset rules.
type Replenish struct {
	Enabled     bool            `toml:"enabled"`
	Timezone    string          `toml:"timezone"`
	Concurrency int             `toml:"concurrency"`
	Rules       []ReplenishRule `toml:"rules"`
}

// Retry configures caller-side backoff for transient store faults.
type Retry struct {
	MaxRetries  int `toml:"max_retries"`
	BaseDelayMS int `toml:"base_delay_ms"`
	MaxDelayMS  int `toml:"max_delay_ms"`
}

// Notifications contains configuration for ntfy push notifications.
type Notifications struct {
	NtfyTopic      string `toml:"ntfy_topic"`
	RequestTimeout int    `toml:"request_timeout"`
	JobFailures    bool   `toml:"job_failures"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format        string `toml:"format"`
	Level         string `toml:"level"`
	RetentionDays int    `toml:"retention_days"`
}

// Config encapsulates all configuration values for MultiTalk.
//
// Configuration sections by subsystem:
//   - Paths: data, log and object directories plus the API bind address
//   - Database: sqlite or postgres store selection
//   - Credits: free-trial seed and per-job cost
//   - Generation: request validation and submit timeouts
//   - Worker: synthesis worker dispatch
//   - Billing: payment processor webhooks and checkout
//   - Replenish: per-plan balance reset cadences
//   - Retry: backoff for transient store faults
//   - Notifications: ntfy alerts
//   - Logging: log format, level, and retention
type Config struct {
	Paths         Paths         `toml:"paths"`
	Database      Database      `toml:"database"`
	Credits       Credits       `toml:"credits"`
	Generation    Generation    `toml:"generation"`
	Worker        Worker        `toml:"worker"`
	Billing       Billing       `toml:"billing"`
	Replenish     Replenish     `toml:"replenish"`
	Retry         Retry         `toml:"retry"`
	Notifications Notifications `toml:"notifications"`
	Logging       Logging       `toml:"logging"`
}

// DefaultConfigPath returns the absolute path to the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath(defaultConfigPath)
}

// Load locates, parses, and validates a configuration file. The returned config has all
// path fields expanded and normalized.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		if err := decoder.Decode(&cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}

	return &cfg, resolvedPath, exists, nil
}

// LoadEnvFile loads KEY=VALUE pairs into the process environment without
// overriding variables that are already set. A missing file is not an error.
func LoadEnvFile(path string) error {
	if strings.TrimSpace(path) == "" {
		return nil
	}
	expanded, err := expandPath(path)
	if err != nil {
		return err
	}
	if _, err := os.Stat(expanded); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("stat env file: %w", err)
	}
	if err := godotenv.Load(expanded); err != nil {
		return fmt.Errorf("load env file: %w", err)
	}
	return nil
}

// EnvFileFor returns the conventional .env location next to a config file.
func EnvFileFor(configPath string) string {
	if strings.TrimSpace(configPath) == "" {
		return ""
	}
	return filepath.Join(filepath.Dir(configPath), ".env")
}

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		_, err = os.Stat(expanded)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	defaultPath, err := expandPath(defaultConfigPath)
	if err != nil {
		return "", false, err
	}

	projectPath, err := filepath.Abs("multitalk.toml")
	if err != nil {
		return "", false, err
	}

	if info, err := os.Stat(defaultPath); err == nil && !info.IsDir() {
		return defaultPath, true, nil
	}
	if info, err := os.Stat(projectPath); err == nil && !info.IsDir() {
		return projectPath, true, nil
	}

	return defaultPath, false, nil
}

// EnsureDirectories creates required directories for daemon operation.
func (c *Config) EnsureDirectories() error {
	for _, dir := range []string{c.Paths.DataDir, c.Paths.LogDir, c.Paths.ObjectsDir} {
		if strings.TrimSpace(dir) == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	return nil
}

// DatabasePath returns the SQLite file used when no DSN is configured.
func (c *Config) DatabasePath() string {
	return filepath.Join(c.Paths.DataDir, "multitalk.db")
}

// PersistTimeout bounds artifact uploads during submit.
func (c *Config) PersistTimeout() time.Duration {
	return time.Duration(c.Generation.PersistTimeoutSeconds) * time.Second
}

// DispatchTimeout bounds the synthesis worker acknowledgement during submit.
func (c *Config) DispatchTimeout() time.Duration {
	return time.Duration(c.Generation.DispatchTimeoutSeconds) * time.Second
}

// RetryBaseDelay returns the first backoff interval for transient faults.
func (c *Config) RetryBaseDelay() time.Duration {
	return time.Duration(c.Retry.BaseDelayMS) * time.Millisecond
}

// RetryMaxDelay returns the backoff ceiling for transient faults.
func (c *Config) RetryMaxDelay() time.Duration {
	return time.Duration(c.Retry.MaxDelayMS) * time.Millisecond
}

// Location resolves the replenish timezone; an empty value means UTC.
func (c *Config) Location() (*time.Location, error) {
	name := strings.TrimSpace(c.Replenish.Timezone)
	if name == "" {
		return time.UTC, nil
	}
	return time.LoadLocation(name)
}

func expandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && (pathValue[1] == '/' || pathValue[1] == '\\') {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	cleaned := filepath.Clean(pathValue)
	absolute, err := filepath.Abs(cleaned)
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", cleaned, err)
	}
	return absolute, nil
}

// ExpandPath exposes the repository path expansion rules for other packages.
func ExpandPath(pathValue string) (string, error) {
	return expandPath(pathValue)
}

// CreateSample writes a sample configuration file to the specified location.
func CreateSample(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}

	if err := os.WriteFile(path, []byte(sampleConfig), 0o644); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}
