package config

const (
	defaultConfigPath             = "~/.config/multitalk/config.toml"
	defaultDataDir                = "~/.local/share/multitalk"
	defaultLogDir                 = "~/.local/share/multitalk/logs"
	defaultObjectsDir             = "~/.local/share/multitalk/objects"
	defaultAPIBind                = "127.0.0.1:7590"
	defaultDatabaseDriver         = "sqlite"
	defaultFreeTrialCredits       = 5
	defaultJobCost                = 1
	defaultMaxUploadBytes         = 10 * 1024 * 1024
	defaultPersistTimeoutSeconds  = 30
	defaultDispatchTimeoutSeconds = 10
	defaultWorkerMode             = "simulated"
	defaultSimulatedDelaySeconds  = 30
	defaultBillingProvider        = "paddle"
	defaultCheckoutBaseURL        = "https://checkout.paddle.com/subscription"
	defaultReplenishConcurrency   = 4
	defaultRetryMaxRetries        = 3
	defaultRetryBaseDelayMS       = 50
	defaultRetryMaxDelayMS        = 2000
	defaultNotifyRequestTimeout   = 10
	defaultLogFormat              = "console"
	defaultLogLevel               = "info"
	defaultLogRetentionDays       = 30

	// UnlimitedBalance is the sentinel balance granted to unlimited tiers.
	UnlimitedBalance = 999999
)

// DefaultReplenishRules returns the stock plan cadences: starter resets to 10
// every Monday, mid resets on the 1st and 15th, and pro resets monthly.
func DefaultReplenishRules() []ReplenishRule {
	return []ReplenishRule{
		{Plan: "starter", Cadence: "0 0 * * 1", TargetBalance: 10},
		{Plan: "mid", Cadence: "0 0 1,15 * *", TargetBalance: UnlimitedBalance},
		{Plan: "pro", Cadence: "0 0 1 * *", TargetBalance: UnlimitedBalance},
	}
}

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			DataDir:    defaultDataDir,
			LogDir:     defaultLogDir,
			ObjectsDir: defaultObjectsDir,
			APIBind:    defaultAPIBind,
		},
		Database: Database{
			Driver: defaultDatabaseDriver,
		},
		Credits: Credits{
			FreeTrialCredits: defaultFreeTrialCredits,
			JobCost:          defaultJobCost,
		},
		Generation: Generation{
			Resolutions:            []string{"480p", "720p"},
			FrameCounts:            []int{41, 81, 121},
			MaxUploadBytes:         defaultMaxUploadBytes,
			PersistTimeoutSeconds:  defaultPersistTimeoutSeconds,
			DispatchTimeoutSeconds: defaultDispatchTimeoutSeconds,
		},
		Worker: Worker{
			Mode:                  defaultWorkerMode,
			SimulatedDelaySeconds: defaultSimulatedDelaySeconds,
		},
		Billing: Billing{
			Provider:        defaultBillingProvider,
			CheckoutBaseURL: defaultCheckoutBaseURL,
		},
		Replenish: Replenish{
			Enabled:     true,
			Concurrency: defaultReplenishConcurrency,
		},
		Retry: Retry{
			MaxRetries:  defaultRetryMaxRetries,
			BaseDelayMS: defaultRetryBaseDelayMS,
			MaxDelayMS:  defaultRetryMaxDelayMS,
		},
		Notifications: Notifications{
			RequestTimeout: defaultNotifyRequestTimeout,
			JobFailures:    true,
		},
		Logging: Logging{
			Format:        defaultLogFormat,
			Level:         defaultLogLevel,
			RetentionDays: defaultLogRetentionDays,
		},
	}
}
