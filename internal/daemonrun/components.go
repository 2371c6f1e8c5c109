package daemonrun

import (
	"fmt"
	"log/slog"
	"time"

	"multitalk/internal/billing"
	"multitalk/internal/config"
	"multitalk/internal/daemon"
	"multitalk/internal/generation"
	"multitalk/internal/jobs"
	"multitalk/internal/ledger"
	"multitalk/internal/metrics"
	"multitalk/internal/notifications"
	"multitalk/internal/replenish"
	"multitalk/internal/services"
	"multitalk/internal/services/objectstore"
	"multitalk/internal/services/synth"
	"multitalk/internal/store"
)

// BuildComponents wires the services that operate on st. The replenish
// scheduler is always built so its rules can be inspected and run by hand;
// the daemon only starts it when replenish.enabled is set.
func BuildComponents(cfg *config.Config, st *store.Store, logger *slog.Logger, m *metrics.Metrics, notifier notifications.Service) (daemon.Components, error) {
	if notifier == nil {
		notifier = notifications.NewNoop()
	}
	retry := services.RetrySettings{
		MaxRetries: cfg.Retry.MaxRetries,
		BaseDelay:  cfg.RetryBaseDelay(),
		MaxDelay:   cfg.RetryMaxDelay(),
	}

	led := ledger.New(st, ledger.WithLogger(logger), ledger.WithMetrics(m), ledger.WithNotifier(notifier))
	jobStore := jobs.New(st, logger, m)

	objects, err := objectstore.NewFS(cfg.Paths.ObjectsDir)
	if err != nil {
		return daemon.Components{}, fmt.Errorf("open object store: %w", err)
	}

	var (
		dispatcher synth.Dispatcher
		simulated  *synth.Simulated
	)
	switch cfg.Worker.Mode {
	case "http":
		worker, err := synth.NewHTTP(cfg.Worker.Endpoint, cfg.Worker.CallbackURL, cfg.Paths.APIToken, retry, cfg.DispatchTimeout())
		if err != nil {
			return daemon.Components{}, fmt.Errorf("configure synthesis worker: %w", err)
		}
		dispatcher = worker
	default:
		delay := time.Duration(cfg.Worker.SimulatedDelaySeconds) * time.Second
		simulated = synth.NewSimulated(delay, cfg.Worker.SimulatedFailureRate, logger)
		dispatcher = simulated
	}

	gen := generation.New(generation.SettingsFromConfig(cfg), generation.Dependencies{
		Ledger:     led,
		Jobs:       jobStore,
		Objects:    objects,
		Dispatcher: dispatcher,
		Notifier:   notifier,
		Metrics:    m,
		Logger:     logger,
	})

	reconciler := billing.New(st, billing.Settings{
		SeedBalance:     cfg.Credits.FreeTrialCredits,
		CheckoutBaseURL: cfg.Billing.CheckoutBaseURL,
	}, logger, m)

	rules, err := replenish.RulesFromConfig(cfg)
	if err != nil {
		return daemon.Components{}, fmt.Errorf("replenish rules: %w", err)
	}
	location, err := cfg.Location()
	if err != nil {
		return daemon.Components{}, err
	}
	scheduler := replenish.New(rules, led, replenish.Options{
		Location:    location,
		Concurrency: cfg.Replenish.Concurrency,
		Retry:       retry,
		Logger:      logger,
		Metrics:     m,
		Notifier:    notifier,
	})

	return daemon.Components{
		Store:      st,
		Ledger:     led,
		Jobs:       jobStore,
		Generation: gen,
		Billing:    reconciler,
		Scheduler:  scheduler,
		Worker:     simulated,
		Metrics:    m,
		Notifier:   notifier,
	}, nil
}
