package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"multitalk/internal/logging"
	"multitalk/internal/metrics"
	"multitalk/internal/notifications"
	"multitalk/internal/services"
	"multitalk/internal/store"
)

// Ledger owns account balances. Each operation is one storage round trip and
// none of them retry; callers back off on services.ErrTransient.
type Ledger struct {
	store    *store.Store
	logger   *slog.Logger
	metrics  *metrics.Metrics
	notifier notifications.Service
}

// Option customizes a Ledger.
type Option func(*Ledger)

// WithLogger sets the ledger logger.
func WithLogger(logger *slog.Logger) Option {
	return func(l *Ledger) {
		if logger != nil {
			l.logger = logger
		}
	}
}

// WithMetrics records debit and fault counters.
func WithMetrics(m *metrics.Metrics) Option {
	return func(l *Ledger) { l.metrics = m }
}

// WithNotifier raises fatal faults to the operator.
func WithNotifier(n notifications.Service) Option {
	return func(l *Ledger) {
		if n != nil {
			l.notifier = n
		}
	}
}

// New constructs a Ledger over st.
func New(st *store.Store, opts ...Option) *Ledger {
	l := &Ledger{
		store:    st,
		logger:   logging.NewNop(),
		notifier: notifications.NewNoop(),
	}
	for _, opt := range opts {
		opt(l)
	}
	l.logger = logging.NewComponentLogger(l.logger, "ledger")
	return l
}

// TryDebit removes amount from the balance if, and only if, the balance covers it.
func (l *Ledger) TryDebit(ctx context.Context, accountID string, amount int64) (int64, error) {
	remaining, err := l.store.TryDebit(ctx, accountID, amount)
	switch {
	case err == nil:
	case errors.Is(err, services.ErrInsufficientBalance):
		l.metrics.Debit("insufficient")
		l.logger.Info("debit rejected",
			logging.String(logging.FieldAccountID, accountID),
			logging.Int64("balance", remaining),
			logging.Int64("amount", amount),
			logging.String(logging.FieldEventType, "debit_rejected"),
		)
		return remaining, err
	case errors.Is(err, services.ErrNotFound):
		l.metrics.Debit("not_found")
		return 0, err
	default:
		l.metrics.Debit("error")
		return 0, err
	}

	if remaining < 0 {
		return remaining, l.fatal(ctx, "debit", accountID, remaining)
	}
	l.metrics.Debit("ok")
	l.logger.Debug("credit debited",
		logging.String(logging.FieldAccountID, accountID),
		logging.Int64("amount", amount),
		logging.Int64("balance", remaining),
		logging.String(logging.FieldEventType, "credit_debited"),
	)
	return remaining, nil
}

// Replenish sets the balance to target. Last writer wins.
func (l *Ledger) Replenish(ctx context.Context, accountID string, target int64) error {
	if err := l.store.Replenish(ctx, accountID, target); err != nil {
		return err
	}
	l.logger.Debug("balance replenished",
		logging.String(logging.FieldAccountID, accountID),
		logging.Int64("balance", target),
		logging.String(logging.FieldEventType, "balance_replenished"),
	)
	return nil
}

// ReplenishPlan sets the balance to target while the account is still on
// plan. A false result means the plan changed and nothing was written.
func (l *Ledger) ReplenishPlan(ctx context.Context, accountID string, plan store.Plan, target int64) (bool, error) {
	applied, err := l.store.ReplenishPlan(ctx, accountID, plan, target)
	if err != nil {
		return false, err
	}
	if !applied {
		l.logger.Debug("replenish skipped after plan change",
			logging.String(logging.FieldAccountID, accountID),
			logging.String(logging.FieldPlan, string(plan)),
			logging.String(logging.FieldEventType, "balance_replenish_skipped"),
		)
		return false, nil
	}
	l.logger.Debug("balance replenished",
		logging.String(logging.FieldAccountID, accountID),
		logging.String(logging.FieldPlan, string(plan)),
		logging.Int64("balance", target),
		logging.String(logging.FieldEventType, "balance_replenished"),
	)
	return true, nil
}

// EnsureAccount provisions accountID on first sight. Existing accounts are
// returned unchanged.
func (l *Ledger) EnsureAccount(ctx context.Context, accountID string, seedBalance int64, seedPlan store.Plan) (*store.Account, error) {
	if accountID == "" {
		return nil, services.Invalid("account_id", "required")
	}
	account, created, err := l.store.EnsureAccount(ctx, accountID, seedBalance, seedPlan)
	if err != nil {
		return nil, err
	}
	if created {
		l.logger.Info("account provisioned",
			logging.String(logging.FieldAccountID, accountID),
			logging.Int64("balance", seedBalance),
			logging.String(logging.FieldPlan, string(seedPlan)),
			logging.String(logging.FieldEventType, "account_provisioned"),
		)
	}
	if account.Balance < 0 {
		return account, l.fatal(ctx, "ensure account", accountID, account.Balance)
	}
	return account, nil
}

// Refund returns amount to the balance after a submit failed past the debit.
func (l *Ledger) Refund(ctx context.Context, accountID string, amount int64) (int64, error) {
	balance, err := l.store.Credit(ctx, accountID, amount)
	if err != nil {
		return 0, err
	}
	l.metrics.Refund()
	l.logger.Info("credit refunded",
		logging.String(logging.FieldAccountID, accountID),
		logging.Int64("amount", amount),
		logging.Int64("balance", balance),
		logging.String(logging.FieldEventType, "credit_refunded"),
	)
	return balance, nil
}

// Grant adds credits on operator request.
func (l *Ledger) Grant(ctx context.Context, accountID string, amount int64) (int64, error) {
	balance, err := l.store.Credit(ctx, accountID, amount)
	if err != nil {
		return 0, err
	}
	l.logger.Info("credit granted",
		logging.String(logging.FieldAccountID, accountID),
		logging.Int64("amount", amount),
		logging.Int64("balance", balance),
		logging.String(logging.FieldEventType, "credit_granted"),
	)
	return balance, nil
}

// Account returns the account or an ErrNotFound error.
func (l *Ledger) Account(ctx context.Context, accountID string) (*store.Account, error) {
	account, err := l.store.GetAccount(ctx, accountID)
	if err != nil {
		return nil, err
	}
	if account == nil {
		return nil, services.Wrap(services.ErrNotFound, "ledger", "account", fmt.Sprintf("account %s", accountID), nil)
	}
	if account.Balance < 0 {
		return account, l.fatal(ctx, "read", accountID, account.Balance)
	}
	return account, nil
}

// Accounts lists accounts, optionally restricted to plan.
func (l *Ledger) Accounts(ctx context.Context, plan store.Plan) ([]*store.Account, error) {
	return l.store.ListAccounts(ctx, plan)
}

// AccountIDsByPlan lists the accounts a replenish rule applies to.
func (l *Ledger) AccountIDsByPlan(ctx context.Context, plan store.Plan) ([]string, error) {
	return l.store.AccountIDsByPlan(ctx, plan)
}

// fatal reports a negative balance. The value is never corrected here.
func (l *Ledger) fatal(ctx context.Context, op, accountID string, balance int64) error {
	err := services.Wrap(services.ErrFatal, "ledger", op, fmt.Sprintf("account %s balance %d is negative", accountID, balance), nil)
	l.metrics.FatalFault()
	logging.ErrorWithContext(l.logger, "negative balance detected", "ledger_invariant_violated",
		logging.String(logging.FieldAccountID, accountID),
		logging.Int64("balance", balance),
		logging.String(logging.FieldErrorHint, "inspect the accounts table; balances must never go below zero"),
		logging.Alert("fatal"),
		logging.Error(err),
	)
	if notifyErr := l.notifier.NotifyFatal(ctx, err, "ledger "+op); notifyErr != nil {
		l.logger.Warn("fatal alert not delivered",
			logging.Error(notifyErr),
			logging.String(logging.FieldEventType, "notification_failed"),
			logging.String(logging.FieldErrorHint, "check notifications.ntfy_topic"),
			logging.String(logging.FieldImpact, "operator was not alerted"),
		)
	}
	return err
}
