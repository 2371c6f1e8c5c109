package replenish

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/failsafe-go/failsafe-go/retrypolicy"
	"github.com/robfig/cron/v3"
	"golang.org/x/sync/errgroup"

	"multitalk/internal/logging"
	"multitalk/internal/metrics"
	"multitalk/internal/notifications"
	"multitalk/internal/services"
	"multitalk/internal/store"
)

// Target is the ledger surface a firing needs.
type Target interface {
	AccountIDsByPlan(ctx context.Context, plan store.Plan) ([]string, error)
	ReplenishPlan(ctx context.Context, accountID string, plan store.Plan, target int64) (bool, error)
}

// RunReport summarizes one firing.
type RunReport struct {
	Plan          store.Plan    `json:"plan"`
	TargetBalance int64         `json:"targetBalance"`
	Matched       int           `json:"matched"`
	Replenished   int           `json:"replenished"`
	Skipped       int           `json:"skipped"`
	Failed        int           `json:"failed"`
	StartedAt     time.Time     `json:"startedAt"`
	Duration      time.Duration `json:"duration"`
}

// Firing is a rule's next scheduled run.
type Firing struct {
	Plan store.Plan `json:"plan"`
	Next time.Time  `json:"next"`
}

// Options tunes a Scheduler.
type Options struct {
	Location    *time.Location
	Concurrency int
	Retry       services.RetrySettings
	Logger      *slog.Logger
	Metrics     *metrics.Metrics
	Notifier    notifications.Service
}

// Scheduler fires replenish rules on their cadences.
type Scheduler struct {
	rules       []Rule
	target      Target
	location    *time.Location
	concurrency int
	policy      retrypolicy.RetryPolicy[bool]
	listPolicy  retrypolicy.RetryPolicy[[]string]
	logger      *slog.Logger
	metrics     *metrics.Metrics
	notifier    notifications.Service

	mu      sync.Mutex
	cron    *cron.Cron
	last    map[store.Plan]RunReport
	stopped chan struct{}
}

// New builds a Scheduler over rules. Nothing fires until Start.
func New(rules []Rule, target Target, opts Options) *Scheduler {
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = 4
	}
	if opts.Notifier == nil {
		opts.Notifier = notifications.NewNoop()
	}
	sorted := append([]Rule(nil), rules...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Plan < sorted[j].Plan })
	return &Scheduler{
		rules:       sorted,
		target:      target,
		location:    opts.Location,
		concurrency: opts.Concurrency,
		policy:      services.NewTransientRetryPolicy[bool](opts.Retry),
		listPolicy:  services.NewTransientRetryPolicy[[]string](opts.Retry),
		logger:      logging.NewComponentLogger(opts.Logger, "replenish"),
		metrics:     opts.Metrics,
		notifier:    opts.Notifier,
		last:        make(map[store.Plan]RunReport),
	}
}

// Start registers every rule and begins firing until ctx ends.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cron != nil {
		return errors.New("replenish scheduler already started")
	}

	adapter := cronLogger{logger: s.logger}
	c := cron.New(
		cron.WithLocation(s.location),
		cron.WithLogger(adapter),
		cron.WithChain(cron.Recover(adapter), cron.SkipIfStillRunning(adapter)),
	)
	for _, rule := range s.rules {
		c.Schedule(rule.schedule, cron.FuncJob(func() {
			if ctx.Err() != nil {
				return
			}
			_, _ = s.run(ctx, rule)
		}))
	}
	c.Start()
	s.cron = c
	s.stopped = make(chan struct{})

	go func(stopped chan struct{}) {
		<-ctx.Done()
		<-c.Stop().Done()
		close(stopped)
	}(s.stopped)

	s.logger.Info("replenish scheduler started",
		logging.Int("rules", len(s.rules)),
		logging.String("timezone", s.location.String()),
		logging.Int("concurrency", s.concurrency),
	)
	return nil
}

// Wait blocks until the scheduler has stopped and in-flight firings finished.
func (s *Scheduler) Wait() {
	s.mu.Lock()
	stopped := s.stopped
	s.mu.Unlock()
	if stopped != nil {
		<-stopped
	}
}

// Rules returns the configured rules ordered by plan.
func (s *Scheduler) Rules() []Rule {
	return append([]Rule(nil), s.rules...)
}

// Next reports when each rule fires next.
func (s *Scheduler) Next(now time.Time) []Firing {
	firings := make([]Firing, 0, len(s.rules))
	for _, rule := range s.rules {
		firings = append(firings, Firing{Plan: rule.Plan, Next: rule.Next(now.In(s.location))})
	}
	return firings
}

// LastReports returns the most recent report per plan.
func (s *Scheduler) LastReports() map[store.Plan]RunReport {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[store.Plan]RunReport, len(s.last))
	for plan, report := range s.last {
		out[plan] = report
	}
	return out
}

// RunNow fires the rule for plan immediately.
func (s *Scheduler) RunNow(ctx context.Context, plan store.Plan) (RunReport, error) {
	for _, rule := range s.rules {
		if rule.Plan == plan {
			return s.run(ctx, rule)
		}
	}
	return RunReport{}, services.Wrap(services.ErrNotFound, "replenish", "run", fmt.Sprintf("no rule for plan %q", plan), nil)
}

func (s *Scheduler) run(ctx context.Context, rule Rule) (RunReport, error) {
	report := RunReport{Plan: rule.Plan, TargetBalance: rule.TargetBalance, StartedAt: time.Now()}
	logger := s.logger.With(logging.String(logging.FieldPlan, string(rule.Plan)))

	ids, err := services.RetryTransient(ctx, s.listPolicy, func() ([]string, error) {
		return s.target.AccountIDsByPlan(ctx, rule.Plan)
	})
	if err != nil {
		report.Duration = time.Since(report.StartedAt)
		s.record(report)
		logging.ErrorWithContext(logger, "replenish run aborted", "replenish_list_failed",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check database connectivity"),
		)
		return report, err
	}
	report.Matched = len(ids)

	var replenished, skipped, failed atomic.Int64
	var g errgroup.Group
	g.SetLimit(s.concurrency)
	for _, id := range ids {
		g.Go(func() error {
			applied, err := services.RetryTransient(ctx, s.policy, func() (bool, error) {
				return s.target.ReplenishPlan(ctx, id, rule.Plan, rule.TargetBalance)
			})
			if err != nil {
				failed.Add(1)
				logging.WarnWithContext(logger, "account not replenished", "replenish_account_failed",
					logging.String(logging.FieldAccountID, id),
					logging.Error(err),
					logging.String(logging.FieldErrorHint, "rerun with multitalk replenish run "+string(rule.Plan)),
					logging.String(logging.FieldImpact, "account keeps its previous balance until the next firing"),
				)
				return nil
			}
			if !applied {
				skipped.Add(1)
				logger.Info("account left plan before replenish",
					logging.String(logging.FieldAccountID, id),
					logging.String(logging.FieldEventType, "replenish_account_skipped"),
				)
				return nil
			}
			replenished.Add(1)
			return nil
		})
	}
	_ = g.Wait()

	report.Replenished = int(replenished.Load())
	report.Skipped = int(skipped.Load())
	report.Failed = int(failed.Load())
	report.Duration = time.Since(report.StartedAt)
	s.record(report)
	s.metrics.Replenish(string(rule.Plan), report.Replenished, report.Skipped, report.Failed, report.Duration)

	logger.Info("replenish run finished",
		logging.Int64("target_balance", rule.TargetBalance),
		logging.Int("matched", report.Matched),
		logging.Int("replenished", report.Replenished),
		logging.Int("skipped", report.Skipped),
		logging.Int("failed", report.Failed),
		logging.Duration("duration", report.Duration),
		logging.String(logging.FieldEventType, "replenish_run_finished"),
	)
	if report.Failed > 0 {
		if err := s.notifier.NotifyReplenishFailures(ctx, string(rule.Plan), report.Matched, report.Failed); err != nil {
			logger.Debug("replenish failure notification not delivered", logging.Error(err))
		}
	}
	return report, nil
}

func (s *Scheduler) record(report RunReport) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.last[report.Plan] = report
}

// cronLogger routes robfig/cron's internal logging through slog.
type cronLogger struct {
	logger *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.logger.Debug("cron: "+msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	args := append([]any{logging.Error(err)}, keysAndValues...)
	l.logger.Error("cron: "+msg, args...)
}
