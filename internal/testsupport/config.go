package testsupport

import (
	"path/filepath"
	"testing"

	"multitalk/internal/config"
)

// ConfigOption allows callers to customize the generated test configuration.
type ConfigOption func(*configBuilder)

type configBuilder struct {
	t       testing.TB
	baseDir string
	cfg     *config.Config
}

// NewConfig produces a config seeded with unique temp directories per test.
// It defaults common fields and applies any provided options.
func NewConfig(t testing.TB, opts ...ConfigOption) *config.Config {
	t.Helper()

	base := t.TempDir()
	cfgVal := config.Default()
	cfgVal.Paths.DataDir = filepath.Join(base, "data")
	cfgVal.Paths.LogDir = filepath.Join(base, "logs")
	cfgVal.Paths.ObjectsDir = filepath.Join(base, "objects")
	cfgVal.Paths.APIBind = "127.0.0.1:0"
	cfgVal.Replenish.Rules = config.DefaultReplenishRules()
	cfgVal.Worker.SimulatedDelaySeconds = 0
	cfgVal.Retry.BaseDelayMS = 1
	cfgVal.Retry.MaxDelayMS = 5

	builder := &configBuilder{
		t:       t,
		baseDir: base,
		cfg:     &cfgVal,
	}

	for _, opt := range opts {
		opt(builder)
	}

	return builder.cfg
}

// WithAPIToken enables bearer authentication on the test config.
func WithAPIToken(token string) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Paths.APIToken = token
	}
}

// WithFreeTrialCredits overrides the seed balance for new accounts.
func WithFreeTrialCredits(credits int64) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Credits.FreeTrialCredits = credits
	}
}

// WithBillingProvider selects the webhook contract and secret.
func WithBillingProvider(provider, secret string) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Billing.Provider = provider
		b.cfg.Billing.WebhookSecret = secret
	}
}

// WithReplenishRules replaces the stock replenish rules.
func WithReplenishRules(rules ...config.ReplenishRule) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Replenish.Rules = rules
	}
}

// BaseDir returns the root temp directory backing the generated config.
func BaseDir(cfg *config.Config) string {
	return filepath.Dir(cfg.Paths.DataDir)
}
