package daemon

import (
	"context"
	"net/http/httptest"
	"testing"
	"time"

	"multitalk/internal/billing"
	"multitalk/internal/config"
	"multitalk/internal/generation"
	"multitalk/internal/jobs"
	"multitalk/internal/ledger"
	"multitalk/internal/metrics"
	"multitalk/internal/replenish"
	"multitalk/internal/services/objectstore"
	"multitalk/internal/services/synth"
	"multitalk/internal/store"
	"multitalk/internal/testsupport"
)

type harness struct {
	cfg     *config.Config
	store   *store.Store
	daemon  *Daemon
	metrics *metrics.Metrics
	server  *httptest.Server
}

// newDaemon wires a daemon whose simulated worker never reports on its own,
// so tests drive job results through the callback endpoint.
func newDaemon(t *testing.T, cfg *config.Config) (*Daemon, *store.Store, *metrics.Metrics, *synth.Simulated) {
	t.Helper()

	st := testsupport.MustOpenStore(t, cfg)
	m := metrics.New()
	led := ledger.New(st, ledger.WithMetrics(m))
	js := jobs.New(st, nil, m)
	objects, err := objectstore.NewFS(cfg.Paths.ObjectsDir)
	if err != nil {
		t.Fatalf("objectstore.NewFS: %v", err)
	}
	worker := synth.NewSimulated(time.Hour, 0, nil)
	gen := generation.New(generation.SettingsFromConfig(cfg), generation.Dependencies{
		Ledger:     led,
		Jobs:       js,
		Objects:    objects,
		Dispatcher: worker,
		Metrics:    m,
	})
	reconciler := billing.New(st, billing.Settings{
		SeedBalance:     cfg.Credits.FreeTrialCredits,
		CheckoutBaseURL: cfg.Billing.CheckoutBaseURL,
	}, nil, m)
	rules, err := replenish.RulesFromConfig(cfg)
	if err != nil {
		t.Fatalf("RulesFromConfig: %v", err)
	}
	scheduler := replenish.New(rules, led, replenish.Options{Location: time.UTC, Metrics: m})

	d, err := New(cfg, nil, Components{
		Store:      st,
		Ledger:     led,
		Jobs:       js,
		Generation: gen,
		Billing:    reconciler,
		Scheduler:  scheduler,
		Worker:     worker,
		Metrics:    m,
		Version:    "test",
	})
	if err != nil {
		t.Fatalf("daemon.New: %v", err)
	}
	return d, st, m, worker
}

func newHarness(t *testing.T, opts ...testsupport.ConfigOption) *harness {
	t.Helper()

	cfg := testsupport.NewConfig(t, opts...)
	d, st, m, worker := newDaemon(t, cfg)

	ctx, cancel := context.WithCancel(context.Background())
	worker.Start(ctx, d.comps.Generation.OnWorkerResult)
	t.Cleanup(func() {
		cancel()
		worker.Wait()
	})

	srv := httptest.NewServer(d.api.server.Handler)
	t.Cleanup(srv.Close)

	return &harness{cfg: cfg, store: st, daemon: d, metrics: m, server: srv}
}
