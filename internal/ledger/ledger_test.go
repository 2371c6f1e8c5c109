package ledger_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/prometheus/client_golang/prometheus"

	"multitalk/internal/ledger"
	"multitalk/internal/metrics"
	"multitalk/internal/notifications"
	"multitalk/internal/services"
	"multitalk/internal/store"
	"multitalk/internal/testsupport"
)

type recordingNotifier struct {
	notifications.Service
	mu     sync.Mutex
	fatals []string
}

func (r *recordingNotifier) NotifyFatal(_ context.Context, err error, label string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.fatals = append(r.fatals, label+": "+err.Error())
	return nil
}

func TestEnsureAccountSeedsOnce(t *testing.T) {
	st := testsupport.MustOpenStore(t, testsupport.NewConfig(t))
	l := ledger.New(st)
	ctx := context.Background()

	account, err := l.EnsureAccount(ctx, "acct-1", 5, store.PlanFree)
	if err != nil {
		t.Fatalf("EnsureAccount failed: %v", err)
	}
	if account.Balance != 5 {
		t.Fatalf("expected seed balance 5, got %d", account.Balance)
	}
	if _, err := l.TryDebit(ctx, "acct-1", 1); err != nil {
		t.Fatalf("TryDebit failed: %v", err)
	}
	account, err = l.EnsureAccount(ctx, "acct-1", 5, store.PlanFree)
	if err != nil {
		t.Fatalf("EnsureAccount failed: %v", err)
	}
	if account.Balance != 4 {
		t.Fatalf("expected existing balance to survive, got %d", account.Balance)
	}
	if _, err := l.EnsureAccount(ctx, "", 5, store.PlanFree); !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected validation error for blank id, got %v", err)
	}
}

func TestDebitRefundAndReplenish(t *testing.T) {
	st := testsupport.MustOpenStore(t, testsupport.NewConfig(t))
	m := metrics.NewWithRegistry(prometheus.NewRegistry())
	l := ledger.New(st, ledger.WithMetrics(m))
	ctx := context.Background()
	testsupport.NewAccount(t, st, "acct-1", 1, store.PlanStarter)

	if remaining, err := l.TryDebit(ctx, "acct-1", 1); err != nil || remaining != 0 {
		t.Fatalf("TryDebit: remaining=%d err=%v", remaining, err)
	}
	if _, err := l.TryDebit(ctx, "acct-1", 1); !errors.Is(err, services.ErrInsufficientBalance) {
		t.Fatalf("expected insufficient balance, got %v", err)
	}
	if balance, err := l.Refund(ctx, "acct-1", 1); err != nil || balance != 1 {
		t.Fatalf("Refund: balance=%d err=%v", balance, err)
	}
	if err := l.Replenish(ctx, "acct-1", 10); err != nil {
		t.Fatalf("Replenish failed: %v", err)
	}
	if balance, err := l.Grant(ctx, "acct-1", 5); err != nil || balance != 15 {
		t.Fatalf("Grant: balance=%d err=%v", balance, err)
	}
	account, err := l.Account(ctx, "acct-1")
	if err != nil {
		t.Fatalf("Account failed: %v", err)
	}
	if account.Balance != 15 {
		t.Fatalf("expected balance 15, got %d", account.Balance)
	}
	if _, err := l.Account(ctx, "missing"); !errors.Is(err, services.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestNegativeBalanceIsFatal(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create sqlmock: %v", err)
	}
	defer db.Close()

	mock.ExpectQuery("UPDATE accounts SET balance = balance - ").
		WillReturnRows(sqlmock.NewRows([]string{"balance"}).AddRow(int64(-1)))

	notifier := &recordingNotifier{Service: notifications.NewNoop()}
	l := ledger.New(store.New(db, store.DialectPostgres), ledger.WithNotifier(notifier))

	_, err = l.TryDebit(context.Background(), "acct-1", 1)
	if !errors.Is(err, services.ErrFatal) {
		t.Fatalf("expected fatal error, got %v", err)
	}
	if len(notifier.fatals) != 1 {
		t.Fatalf("expected one fatal alert, got %v", notifier.fatals)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}
