package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gofrs/flock"

	"multitalk/internal/billing"
	"multitalk/internal/config"
	"multitalk/internal/generation"
	"multitalk/internal/jobs"
	"multitalk/internal/ledger"
	"multitalk/internal/logging"
	"multitalk/internal/metrics"
	"multitalk/internal/notifications"
	"multitalk/internal/replenish"
	"multitalk/internal/services/synth"
	"multitalk/internal/store"
)

const (
	staleJobAge        = 24 * time.Hour
	staleSweepInterval = 15 * time.Minute
)

// Components are the services the daemon drives. Scheduler and Worker are
// optional.
type Components struct {
	Store      *store.Store
	Ledger     *ledger.Ledger
	Jobs       *jobs.Store
	Generation *generation.Manager
	Billing    *billing.Reconciler
	Scheduler  *replenish.Scheduler
	Worker     *synth.Simulated
	Metrics    *metrics.Metrics
	Notifier   notifications.Service
	Version    string
}

// Daemon owns the process lifecycle and enforces single-instance execution.
type Daemon struct {
	cfg    *config.Config
	logger *slog.Logger
	comps  Components
	stripe *billing.StripeDecoder
	api    *apiServer

	lockPath string
	lock     *flock.Flock

	running atomic.Bool
	mu      sync.Mutex
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// DatabaseHealth reports store reachability.
type DatabaseHealth struct {
	Reachable     bool   `json:"reachable"`
	Dialect       string `json:"dialect"`
	SchemaVersion string `json:"schemaVersion,omitempty"`
	Error         string `json:"error,omitempty"`
}

// Health is the payload served by /api/health.
type Health struct {
	Running       bool                               `json:"running"`
	Version       string                             `json:"version"`
	Database      DatabaseHealth                     `json:"database"`
	NextReplenish []replenish.Firing                 `json:"nextReplenish"`
	LastReplenish map[store.Plan]replenish.RunReport `json:"lastReplenish,omitempty"`
	Jobs          map[store.JobStatus]int            `json:"jobs,omitempty"`
	Accounts      map[store.Plan]int                 `json:"accounts,omitempty"`
	LockFilePath  string                             `json:"lockFilePath"`
}

// New constructs a daemon with initialized dependencies.
func New(cfg *config.Config, logger *slog.Logger, comps Components) (*Daemon, error) {
	if cfg == nil || comps.Store == nil || comps.Ledger == nil || comps.Jobs == nil ||
		comps.Generation == nil || comps.Billing == nil {
		return nil, errors.New("daemon requires config, store, ledger, jobs, generation, and billing")
	}
	if comps.Notifier == nil {
		comps.Notifier = notifications.NewNoop()
	}
	if strings.TrimSpace(comps.Version) == "" {
		comps.Version = "dev"
	}

	lockPath := filepath.Join(cfg.Paths.DataDir, "multitalkd.lock")
	d := &Daemon{
		cfg:      cfg,
		logger:   logging.NewComponentLogger(logger, "daemon"),
		comps:    comps,
		stripe:   billing.NewStripeDecoder(cfg.Billing.WebhookSecret),
		lockPath: lockPath,
		lock:     flock.New(lockPath),
	}
	d.api = newAPIServer(cfg, d, logger)
	return d, nil
}

// Start acquires the daemon lock, then launches the worker, the replenish
// scheduler, the stale-job sweeper, and the API server.
func (d *Daemon) Start(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.running.Load() {
		return errors.New("daemon already running")
	}

	ok, err := d.lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return errors.New("another multitalk daemon instance is already running")
	}

	runCtx, cancel := context.WithCancel(ctx)
	if d.comps.Worker != nil {
		d.comps.Worker.Start(runCtx, d.comps.Generation.OnWorkerResult)
	}
	if d.comps.Scheduler != nil {
		if err := d.comps.Scheduler.Start(runCtx); err != nil {
			cancel()
			_ = d.lock.Unlock()
			return fmt.Errorf("start replenish scheduler: %w", err)
		}
	}
	if err := d.api.start(runCtx); err != nil {
		cancel()
		if d.comps.Scheduler != nil {
			d.comps.Scheduler.Wait()
		}
		_ = d.lock.Unlock()
		return err
	}

	d.wg.Add(1)
	go d.sweepLoop(runCtx)

	d.cancel = cancel
	d.running.Store(true)
	d.logger.Info("multitalk daemon started",
		logging.String("lock", d.lockPath),
		logging.String("api", d.api.address()),
		logging.String("version", d.comps.Version),
	)
	return nil
}

// Stop stops background processing and releases the daemon lock.
func (d *Daemon) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.running.Load() {
		return
	}

	if d.cancel != nil {
		d.cancel()
		d.cancel = nil
	}
	d.api.stop()
	d.wg.Wait()
	if d.comps.Scheduler != nil {
		d.comps.Scheduler.Wait()
	}
	if d.comps.Worker != nil {
		d.comps.Worker.Wait()
	}
	if err := d.lock.Unlock(); err != nil {
		d.logger.Warn("failed to release daemon lock", logging.Error(err))
	}
	d.running.Store(false)
	d.logger.Info("multitalk daemon stopped")
}

// Close releases resources held by the daemon.
func (d *Daemon) Close() error {
	d.Stop()
	return d.comps.Store.Close()
}

// Address returns the API listener address once started.
func (d *Daemon) Address() string {
	return d.api.address()
}

// Health returns the current daemon status.
func (d *Daemon) Health(ctx context.Context) Health {
	health := Health{
		Running:      d.running.Load(),
		Version:      d.comps.Version,
		LockFilePath: d.lockPath,
		Database:     DatabaseHealth{Dialect: string(d.comps.Store.Dialect())},
	}

	if err := d.comps.Store.Ping(ctx); err != nil {
		health.Database.Error = err.Error()
	} else {
		health.Database.Reachable = true
		if version, err := d.comps.Store.SchemaVersion(ctx); err == nil {
			health.Database.SchemaVersion = version
		}
		if counts, err := d.comps.Store.JobCounts(ctx); err == nil {
			health.Jobs = counts
		}
		if counts, err := d.comps.Store.PlanCounts(ctx); err == nil {
			health.Accounts = counts
		}
	}

	if d.comps.Scheduler != nil {
		health.NextReplenish = d.comps.Scheduler.Next(time.Now())
		if reports := d.comps.Scheduler.LastReports(); len(reports) > 0 {
			health.LastReplenish = reports
		}
	}
	return health
}

// TestNotification triggers a test notification using the current configuration.
func (d *Daemon) TestNotification(ctx context.Context) (bool, string, error) {
	if strings.TrimSpace(d.cfg.Notifications.NtfyTopic) == "" {
		return false, "ntfy topic not configured", nil
	}
	if err := d.comps.Notifier.TestNotification(ctx); err != nil {
		return false, "failed to send notification", err
	}
	return true, "test notification sent", nil
}

func (d *Daemon) sweepLoop(ctx context.Context) {
	defer d.wg.Done()
	ticker := time.NewTicker(staleSweepInterval)
	defer ticker.Stop()

	d.sweep(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.sweep(ctx)
		}
	}
}

func (d *Daemon) sweep(ctx context.Context) {
	swept, err := d.comps.Jobs.SweepStale(ctx, staleJobAge)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		logging.WarnWithContext(d.logger, "stale job sweep failed", "stale_sweep_failed",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check database connectivity"),
			logging.String(logging.FieldImpact, "jobs without a worker result stay processing"),
		)
		return
	}
	if swept > 0 {
		d.logger.Info("stale jobs failed", logging.Int("count", swept), logging.Duration("max_age", staleJobAge))
	}
}
