package replenish_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"multitalk/internal/billing"
	"multitalk/internal/config"
	"multitalk/internal/ledger"
	"multitalk/internal/logging"
	"multitalk/internal/metrics"
	"multitalk/internal/notifications"
	"multitalk/internal/replenish"
	"multitalk/internal/services"
	"multitalk/internal/store"
	"multitalk/internal/testsupport"
)

type fakeTarget struct {
	mu        sync.Mutex
	ids       []string
	broken    map[string]bool
	flaky     map[string]int
	moved     map[string]bool
	balances  map[string]int64
	listCalls int
}

func (f *fakeTarget) AccountIDsByPlan(context.Context, store.Plan) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.listCalls++
	return f.ids, nil
}

func (f *fakeTarget) ReplenishPlan(_ context.Context, id string, _ store.Plan, target int64) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.broken[id] {
		return false, errors.New("constraint violated")
	}
	if f.flaky[id] > 0 {
		f.flaky[id]--
		return false, services.Wrap(services.ErrTransient, "test", "replenish", "busy", nil)
	}
	if f.moved[id] {
		return false, nil
	}
	f.balances[id] = target
	return true, nil
}

// cancelAfterList applies a billing event between listing and replenishing,
// the window a webhook can land in during a firing.
type cancelAfterList struct {
	replenish.Target
	apply func(ctx context.Context) error
}

func (c *cancelAfterList) AccountIDsByPlan(ctx context.Context, plan store.Plan) ([]string, error) {
	ids, err := c.Target.AccountIDsByPlan(ctx, plan)
	if err != nil {
		return nil, err
	}
	return ids, c.apply(ctx)
}

type recordingNotifier struct {
	notifications.Service
	mu    sync.Mutex
	calls []string
}

func (r *recordingNotifier) NotifyReplenishFailures(_ context.Context, plan string, matched, failed int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, fmt.Sprintf("%s %d/%d", plan, failed, matched))
	return nil
}

func mustRule(t *testing.T, plan, cadence string, target int64) replenish.Rule {
	t.Helper()
	rule, err := replenish.NewRule(plan, cadence, target)
	if err != nil {
		t.Fatalf("NewRule failed: %v", err)
	}
	return rule
}

func fastRetry() services.RetrySettings {
	return services.RetrySettings{MaxRetries: 3, BaseDelay: time.Millisecond, MaxDelay: 2 * time.Millisecond}
}

func TestRunIsolatesAccountFailures(t *testing.T) {
	target := &fakeTarget{
		broken:   map[string]bool{"acct-3": true, "acct-7": true},
		flaky:    map[string]int{"acct-5": 2},
		moved:    map[string]bool{"acct-8": true},
		balances: map[string]int64{},
	}
	for i := 0; i < 10; i++ {
		target.ids = append(target.ids, fmt.Sprintf("acct-%d", i))
	}
	notifier := &recordingNotifier{Service: notifications.NewNoop()}
	sched := replenish.New([]replenish.Rule{mustRule(t, "starter", "0 0 * * 1", 10)}, target, replenish.Options{
		Concurrency: 3,
		Retry:       fastRetry(),
		Logger:      logging.NewNop(),
		Metrics:     metrics.New(),
		Notifier:    notifier,
	})

	report, err := sched.RunNow(context.Background(), store.PlanStarter)
	if err != nil {
		t.Fatalf("RunNow failed: %v", err)
	}
	if report.Matched != 10 || report.Replenished != 7 || report.Skipped != 1 || report.Failed != 2 {
		t.Fatalf("unexpected report %+v", report)
	}
	if target.balances["acct-5"] != 10 {
		t.Fatal("expected transient failure to be retried")
	}
	if len(notifier.calls) != 1 || notifier.calls[0] != "starter 2/10" {
		t.Fatalf("unexpected notifications %v", notifier.calls)
	}
	if _, ok := target.balances["acct-8"]; ok {
		t.Fatal("account that left the plan must not be written")
	}
	if last := sched.LastReports()[store.PlanStarter]; last.Replenished != 7 {
		t.Fatalf("expected last report to be recorded, got %+v", last)
	}

	if _, err := sched.RunNow(context.Background(), store.PlanMid); !errors.Is(err, services.ErrNotFound) {
		t.Fatalf("expected not found for plan without rule, got %v", err)
	}
}

func TestProSubscriptionThenReplenish(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()
	testsupport.NewAccount(t, st, "acct-a", 2, store.PlanFree)
	testsupport.NewAccount(t, st, "acct-b", 4, store.PlanStarter)

	reconciler := billing.New(st, billing.Settings{SeedBalance: 5, CheckoutBaseURL: cfg.Billing.CheckoutBaseURL}, logging.NewNop(), nil)
	if _, err := reconciler.Apply(ctx, billing.Event{ExternalEventID: "evt-pro", Type: store.EventSubscriptionCreated, AccountID: "acct-a", TargetPlan: store.PlanPro}); err != nil {
		t.Fatalf("Apply failed: %v", err)
	}

	rules, err := replenish.RulesFromConfig(cfg)
	if err != nil {
		t.Fatalf("RulesFromConfig failed: %v", err)
	}
	sched := replenish.New(rules, ledger.New(st), replenish.Options{Retry: fastRetry()})
	report, err := sched.RunNow(ctx, store.PlanPro)
	if err != nil {
		t.Fatalf("RunNow failed: %v", err)
	}
	if report.Matched != 1 || report.Replenished != 1 {
		t.Fatalf("unexpected report %+v", report)
	}

	account, _ := st.GetAccount(ctx, "acct-a")
	if account.Balance != config.UnlimitedBalance || account.Plan != store.PlanPro {
		t.Fatalf("expected pro account at sentinel balance, got %+v", account)
	}
	if got := testsupport.MustBalance(t, st, "acct-b"); got != 4 {
		t.Fatalf("starter account must not be touched by the pro rule, got %d", got)
	}
}

func TestCancelDuringRunKeepsFreeBalance(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()
	testsupport.NewAccount(t, st, "acct-a", 3, store.PlanStarter)
	testsupport.NewAccount(t, st, "acct-b", 1, store.PlanStarter)

	reconciler := billing.New(st, billing.Settings{SeedBalance: 5, CheckoutBaseURL: cfg.Billing.CheckoutBaseURL}, logging.NewNop(), nil)
	target := &cancelAfterList{
		Target: ledger.New(st),
		apply: func(ctx context.Context) error {
			_, err := reconciler.Apply(ctx, billing.Event{ExternalEventID: "evt-cancel", Type: store.EventSubscriptionCancelled, AccountID: "acct-a"})
			return err
		},
	}
	sched := replenish.New([]replenish.Rule{mustRule(t, "starter", "0 0 * * 1", 10)}, target, replenish.Options{Retry: fastRetry()})

	report, err := sched.RunNow(ctx, store.PlanStarter)
	if err != nil {
		t.Fatalf("RunNow failed: %v", err)
	}
	if report.Matched != 2 || report.Replenished != 1 || report.Skipped != 1 || report.Failed != 0 {
		t.Fatalf("unexpected report %+v", report)
	}

	account, _ := st.GetAccount(ctx, "acct-a")
	if account.Plan != store.PlanFree || account.Balance != 3 {
		t.Fatalf("cancelled account must keep its balance on the free plan, got %+v", account)
	}
	if got := testsupport.MustBalance(t, st, "acct-b"); got != 10 {
		t.Fatalf("expected acct-b replenished to 10, got %d", got)
	}
}

func TestRulesFromConfigRejectsBadRules(t *testing.T) {
	cases := []struct {
		name  string
		rules []config.ReplenishRule
	}{
		{"duplicate plan", []config.ReplenishRule{
			{Plan: "starter", Cadence: "0 0 * * 1", TargetBalance: 10},
			{Plan: "starter", Cadence: "0 0 1 * *", TargetBalance: 20},
		}},
		{"bad cadence", []config.ReplenishRule{{Plan: "mid", Cadence: "fortnightly", TargetBalance: 1}}},
		{"unknown plan", []config.ReplenishRule{{Plan: "gold", Cadence: "0 0 1 * *", TargetBalance: 1}}},
		{"negative target", []config.ReplenishRule{{Plan: "pro", Cadence: "0 0 1 * *", TargetBalance: -1}}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := testsupport.NewConfig(t, testsupport.WithReplenishRules(tc.rules...))
			if _, err := replenish.RulesFromConfig(cfg); err == nil {
				t.Fatal("expected error")
			}
		})
	}
}

func TestNextFirings(t *testing.T) {
	sched := replenish.New([]replenish.Rule{
		mustRule(t, "starter", "0 0 * * 1", 10),
		mustRule(t, "mid", "0 0 1,15 * *", config.UnlimitedBalance),
	}, &fakeTarget{balances: map[string]int64{}}, replenish.Options{})

	now := time.Date(2026, 10, 19, 12, 0, 0, 0, time.UTC) // a Monday
	firings := sched.Next(now)
	if len(firings) != 2 {
		t.Fatalf("expected two firings, got %d", len(firings))
	}
	want := map[store.Plan]time.Time{
		store.PlanMid:     time.Date(2026, 11, 1, 0, 0, 0, 0, time.UTC),
		store.PlanStarter: time.Date(2026, 10, 26, 0, 0, 0, 0, time.UTC),
	}
	for _, f := range firings {
		if !f.Next.Equal(want[f.Plan]) {
			t.Fatalf("plan %s: next %s, want %s", f.Plan, f.Next, want[f.Plan])
		}
	}
}

func TestStartFiresOnCadence(t *testing.T) {
	target := &fakeTarget{ids: []string{"acct-1"}, balances: map[string]int64{}}
	sched := replenish.New([]replenish.Rule{mustRule(t, "starter", "@every 1s", 10)}, target, replenish.Options{Retry: fastRetry()})

	ctx, cancel := context.WithCancel(context.Background())
	if err := sched.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if err := sched.Start(ctx); err == nil {
		t.Fatal("expected second Start to fail")
	}

	deadline := time.Now().Add(5 * time.Second)
	for {
		target.mu.Lock()
		got := target.balances["acct-1"]
		target.mu.Unlock()
		if got == 10 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("rule did not fire")
		}
		time.Sleep(20 * time.Millisecond)
	}
	cancel()
	sched.Wait()
}
