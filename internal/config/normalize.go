package config

import (
	"fmt"
	"os"
	"strings"
)

func (c *Config) normalize() error {
	if err := c.normalizePaths(); err != nil {
		return err
	}
	c.normalizeDatabase()
	c.normalizeGeneration()
	c.normalizeWorker()
	c.normalizeBilling()
	c.normalizeReplenish()
	c.normalizeNotifications()
	c.normalizeLogging()
	return nil
}

func (c *Config) normalizePaths() error {
	var err error
	if strings.TrimSpace(c.Paths.DataDir) == "" {
		c.Paths.DataDir = defaultDataDir
	}
	if c.Paths.DataDir, err = expandPath(c.Paths.DataDir); err != nil {
		return fmt.Errorf("paths.data_dir: %w", err)
	}
	if strings.TrimSpace(c.Paths.LogDir) == "" {
		c.Paths.LogDir = defaultLogDir
	}
	if c.Paths.LogDir, err = expandPath(c.Paths.LogDir); err != nil {
		return fmt.Errorf("paths.log_dir: %w", err)
	}
	if strings.TrimSpace(c.Paths.ObjectsDir) == "" {
		c.Paths.ObjectsDir = defaultObjectsDir
	}
	if c.Paths.ObjectsDir, err = expandPath(c.Paths.ObjectsDir); err != nil {
		return fmt.Errorf("paths.objects_dir: %w", err)
	}
	c.Paths.APIBind = strings.TrimSpace(c.Paths.APIBind)
	c.Paths.APIToken = strings.TrimSpace(c.Paths.APIToken)
	if c.Paths.APIToken == "" {
		if value, ok := os.LookupEnv("MULTITALK_API_TOKEN"); ok {
			c.Paths.APIToken = strings.TrimSpace(value)
		}
	}
	return nil
}

func (c *Config) normalizeDatabase() {
	c.Database.Driver = strings.ToLower(strings.TrimSpace(c.Database.Driver))
	switch c.Database.Driver {
	case "", "sqlite", "sqlite3":
		c.Database.Driver = "sqlite"
	case "postgresql", "pg":
		c.Database.Driver = "postgres"
	}
	c.Database.DSN = strings.TrimSpace(c.Database.DSN)
	if c.Database.DSN == "" {
		if value, ok := os.LookupEnv("MULTITALK_DATABASE_DSN"); ok {
			c.Database.DSN = strings.TrimSpace(value)
		}
	}
}

func (c *Config) normalizeGeneration() {
	resolutions := make([]string, 0, len(c.Generation.Resolutions))
	for _, value := range c.Generation.Resolutions {
		trimmed := strings.ToLower(strings.TrimSpace(value))
		if trimmed != "" {
			resolutions = append(resolutions, trimmed)
		}
	}
	c.Generation.Resolutions = resolutions
}

func (c *Config) normalizeWorker() {
	c.Worker.Mode = strings.ToLower(strings.TrimSpace(c.Worker.Mode))
	if c.Worker.Mode == "" {
		c.Worker.Mode = defaultWorkerMode
	}
	c.Worker.Endpoint = strings.TrimSpace(c.Worker.Endpoint)
	c.Worker.CallbackURL = strings.TrimRight(strings.TrimSpace(c.Worker.CallbackURL), "/")
	if c.Worker.CallbackURL == "" && c.Paths.APIBind != "" {
		c.Worker.CallbackURL = "http://" + c.Paths.APIBind
	}
}

func (c *Config) normalizeBilling() {
	c.Billing.Provider = strings.ToLower(strings.TrimSpace(c.Billing.Provider))
	if c.Billing.Provider == "" {
		c.Billing.Provider = defaultBillingProvider
	}
	c.Billing.WebhookSecret = strings.TrimSpace(c.Billing.WebhookSecret)
	if c.Billing.WebhookSecret == "" {
		if value, ok := os.LookupEnv("STRIPE_WEBHOOK_SECRET"); ok {
			c.Billing.WebhookSecret = strings.TrimSpace(value)
		}
	}
	c.Billing.CheckoutBaseURL = strings.TrimSpace(c.Billing.CheckoutBaseURL)
	if c.Billing.CheckoutBaseURL == "" {
		c.Billing.CheckoutBaseURL = defaultCheckoutBaseURL
	}
}

func (c *Config) normalizeReplenish() {
	c.Replenish.Timezone = strings.TrimSpace(c.Replenish.Timezone)
	if c.Replenish.Concurrency <= 0 {
		c.Replenish.Concurrency = defaultReplenishConcurrency
	}
	// Rules stay nil in Default so a file's [[replenish.rules]] replaces them wholesale.
	if len(c.Replenish.Rules) == 0 {
		c.Replenish.Rules = DefaultReplenishRules()
	}
	for i := range c.Replenish.Rules {
		c.Replenish.Rules[i].Plan = strings.ToLower(strings.TrimSpace(c.Replenish.Rules[i].Plan))
		c.Replenish.Rules[i].Cadence = strings.TrimSpace(c.Replenish.Rules[i].Cadence)
	}
}

func (c *Config) normalizeNotifications() {
	c.Notifications.NtfyTopic = strings.TrimSpace(c.Notifications.NtfyTopic)
	if c.Notifications.NtfyTopic == "" {
		if value, ok := os.LookupEnv("MULTITALK_NTFY_TOPIC"); ok {
			c.Notifications.NtfyTopic = strings.TrimSpace(value)
		}
	}
	if c.Notifications.RequestTimeout <= 0 {
		c.Notifications.RequestTimeout = defaultNotifyRequestTimeout
	}
}

func (c *Config) normalizeLogging() {
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	switch c.Logging.Format {
	case "", "console":
		c.Logging.Format = "console"
	case "json":
	default:
		c.Logging.Format = "console"
	}
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
	if c.Logging.RetentionDays < 0 {
		c.Logging.RetentionDays = 0
	}
}
