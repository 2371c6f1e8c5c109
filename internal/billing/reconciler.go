package billing

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"multitalk/internal/logging"
	"multitalk/internal/metrics"
	"multitalk/internal/services"
	"multitalk/internal/store"
)

// Event is a subscription change as delivered by a processor.
type Event = store.BillingEvent

// Result reports what Apply did with an event.
type Result string

const (
	ResultApplied   Result = "applied"
	ResultDuplicate Result = "duplicate"
	ResultIgnored   Result = "ignored"
)

// Settings configures account provisioning and checkout links.
type Settings struct {
	SeedBalance     int64
	CheckoutBaseURL string
}

// Reconciler applies billing events to accounts.
type Reconciler struct {
	store    *store.Store
	settings Settings
	logger   *slog.Logger
	metrics  *metrics.Metrics
}

// New constructs a Reconciler.
func New(st *store.Store, settings Settings, logger *slog.Logger, m *metrics.Metrics) *Reconciler {
	return &Reconciler{
		store:    st,
		settings: settings,
		logger:   logging.NewComponentLogger(logger, "billing"),
		metrics:  m,
	}
}

// Apply records ev and updates the account plan at most once per event id.
func (r *Reconciler) Apply(ctx context.Context, ev Event) (Result, error) {
	ev.ExternalEventID = strings.TrimSpace(ev.ExternalEventID)
	ev.AccountID = strings.TrimSpace(ev.AccountID)
	if ev.Source == "" {
		ev.Source = "manual"
	}
	ctx = services.WithAccountID(ctx, ev.AccountID)
	logger := logging.WithContext(ctx, r.logger).With(
		logging.String(logging.FieldEventID, ev.ExternalEventID),
		logging.String("source", ev.Source),
	)

	// Unhandled types are acknowledged even without ids so the processor
	// stops redelivering them.
	if !ev.Type.Known() {
		r.metrics.BillingEvent(ev.Source, string(ResultIgnored))
		logger.Info("billing event ignored",
			logging.String("type", string(ev.Type)),
			logging.String(logging.FieldEventType, "billing_event_ignored"),
		)
		return ResultIgnored, nil
	}
	if ev.ExternalEventID == "" {
		return "", services.Invalid("external_event_id", "required")
	}
	if ev.AccountID == "" {
		return "", services.Invalid("account_id", "required")
	}

	change, err := r.resolve(ev)
	if err != nil {
		return "", err
	}
	applied, err := r.store.ApplySubscriptionChange(ctx, change)
	if err != nil {
		r.metrics.BillingEvent(ev.Source, "error")
		if errors.Is(err, services.ErrTransient) {
			logging.WarnWithContext(logger, "billing event not applied", "billing_event_retryable",
				logging.Error(err),
				logging.String(logging.FieldErrorHint, "the processor will redeliver"),
				logging.String(logging.FieldImpact, "plan change delayed"),
			)
		}
		return "", err
	}
	if !applied {
		r.metrics.BillingEvent(ev.Source, string(ResultDuplicate))
		logger.Info("billing event already processed",
			logging.String(logging.FieldEventType, "billing_event_duplicate"),
		)
		return ResultDuplicate, nil
	}

	r.metrics.BillingEvent(ev.Source, string(ResultApplied))
	logger.Info("subscription updated",
		logging.String("type", string(ev.Type)),
		logging.String(logging.FieldPlan, string(change.Plan)),
		logging.String("plan_status", string(change.Status)),
		logging.String(logging.FieldEventType, "billing_event_applied"),
	)
	return ResultApplied, nil
}

func (r *Reconciler) resolve(ev Event) (store.SubscriptionChange, error) {
	change := store.SubscriptionChange{
		Event:       ev,
		SeedBalance: r.settings.SeedBalance,
		SeedPlan:    store.PlanFree,
	}
	if ev.Type == store.EventSubscriptionCancelled {
		change.Plan = store.PlanFree
		change.Status = store.PlanStatusCancelled
		return change, nil
	}

	plan, err := store.ParsePlan(string(ev.TargetPlan))
	if err != nil {
		return change, services.Invalid("target_plan", "must be one of free, starter, mid, pro")
	}
	status := store.PlanStatusActive
	if ev.TargetStatus != "" {
		if status, err = store.ParsePlanStatus(string(ev.TargetStatus)); err != nil {
			return change, services.Invalid("target_status", "must be one of active, cancelled, pastDue")
		}
	}
	change.Plan = plan
	change.Status = status
	change.Event.TargetPlan = plan
	change.Event.TargetStatus = status
	return change, nil
}

// Events lists the processed events for an account, newest first.
func (r *Reconciler) Events(ctx context.Context, accountID string) ([]*store.BillingEvent, error) {
	return r.store.ListBillingEvents(ctx, accountID)
}
