package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/robfig/cron/v3"
)

var knownPlans = map[string]struct{}{
	"free":    {},
	"starter": {},
	"mid":     {},
	"pro":     {},
}

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validateDatabase(); err != nil {
		return err
	}
	if err := c.validateCredits(); err != nil {
		return err
	}
	if err := c.validateGeneration(); err != nil {
		return err
	}
	if err := c.validateWorker(); err != nil {
		return err
	}
	if err := c.validateBilling(); err != nil {
		return err
	}
	if err := c.validateReplenish(); err != nil {
		return err
	}
	if err := c.validateRetry(); err != nil {
		return err
	}
	return nil
}

func (c *Config) validateDatabase() error {
	switch c.Database.Driver {
	case "sqlite":
		return nil
	case "postgres":
		if c.Database.DSN == "" {
			return errors.New("database.dsn must be set when database.driver is postgres (or export MULTITALK_DATABASE_DSN)")
		}
		return nil
	default:
		return fmt.Errorf("database.driver must be sqlite or postgres, got %q", c.Database.Driver)
	}
}

func (c *Config) validateCredits() error {
	if c.Credits.FreeTrialCredits < 0 {
		return errors.New("credits.free_trial_credits must be >= 0")
	}
	if c.Credits.JobCost <= 0 {
		return errors.New("credits.job_cost must be positive")
	}
	return nil
}

func (c *Config) validateGeneration() error {
	if len(c.Generation.Resolutions) == 0 {
		return errors.New("generation.resolutions must list at least one resolution")
	}
	if len(c.Generation.FrameCounts) == 0 {
		return errors.New("generation.frame_counts must list at least one frame count")
	}
	for _, count := range c.Generation.FrameCounts {
		if count <= 0 {
			return fmt.Errorf("generation.frame_counts must be positive, got %d", count)
		}
	}
	if c.Generation.MaxUploadBytes <= 0 {
		return errors.New("generation.max_upload_bytes must be positive")
	}
	if c.Generation.PersistTimeoutSeconds <= 0 {
		return errors.New("generation.persist_timeout_seconds must be positive")
	}
	if c.Generation.DispatchTimeoutSeconds <= 0 {
		return errors.New("generation.dispatch_timeout_seconds must be positive")
	}
	return nil
}

func (c *Config) validateWorker() error {
	switch c.Worker.Mode {
	case "simulated":
		if c.Worker.SimulatedDelaySeconds < 0 {
			return errors.New("worker.simulated_delay_seconds must be >= 0")
		}
		if c.Worker.SimulatedFailureRate < 0 || c.Worker.SimulatedFailureRate > 1 {
			return errors.New("worker.simulated_failure_rate must be between 0 and 1")
		}
	case "http":
		if c.Worker.Endpoint == "" {
			return errors.New("worker.endpoint must be set when worker.mode is http")
		}
		if _, err := url.ParseRequestURI(c.Worker.Endpoint); err != nil {
			return fmt.Errorf("worker.endpoint must be a valid URL: %w", err)
		}
		if c.Worker.CallbackURL == "" {
			return errors.New("worker.callback_url must be set when worker.mode is http")
		}
	default:
		return fmt.Errorf("worker.mode must be simulated or http, got %q", c.Worker.Mode)
	}
	return nil
}

func (c *Config) validateBilling() error {
	switch c.Billing.Provider {
	case "paddle", "stripe":
	default:
		return fmt.Errorf("billing.provider must be paddle or stripe, got %q", c.Billing.Provider)
	}
	if _, err := url.ParseRequestURI(c.Billing.CheckoutBaseURL); err != nil {
		return fmt.Errorf("billing.checkout_base_url must be a valid URL: %w", err)
	}
	return nil
}

func (c *Config) validateReplenish() error {
	if _, err := c.Location(); err != nil {
		return fmt.Errorf("replenish.timezone: %w", err)
	}
	seen := make(map[string]struct{}, len(c.Replenish.Rules))
	for i, rule := range c.Replenish.Rules {
		if _, ok := knownPlans[rule.Plan]; !ok {
			return fmt.Errorf("replenish.rules[%d].plan must be one of free, starter, mid, pro, got %q", i, rule.Plan)
		}
		if _, dup := seen[rule.Plan]; dup {
			return fmt.Errorf("replenish.rules[%d].plan %q is already covered by another rule", i, rule.Plan)
		}
		seen[rule.Plan] = struct{}{}
		if strings.TrimSpace(rule.Cadence) == "" {
			return fmt.Errorf("replenish.rules[%d].cadence must be set", i)
		}
		if _, err := cron.ParseStandard(rule.Cadence); err != nil {
			return fmt.Errorf("replenish.rules[%d].cadence %q: %w", i, rule.Cadence, err)
		}
		if rule.TargetBalance < 0 {
			return fmt.Errorf("replenish.rules[%d].target_balance must be >= 0", i)
		}
	}
	return nil
}

func (c *Config) validateRetry() error {
	if c.Retry.MaxRetries < 0 {
		return errors.New("retry.max_retries must be >= 0")
	}
	if c.Retry.BaseDelayMS <= 0 {
		return errors.New("retry.base_delay_ms must be positive")
	}
	if c.Retry.MaxDelayMS < c.Retry.BaseDelayMS {
		return errors.New("retry.max_delay_ms must be >= retry.base_delay_ms")
	}
	return nil
}
