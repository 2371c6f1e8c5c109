package billing_test

import (
	"context"
	"errors"
	"testing"

	"multitalk/internal/billing"
	"multitalk/internal/services"
	"multitalk/internal/store"
)

func TestCheckoutActivatesOnSubscriptionEvent(t *testing.T) {
	r, st, _ := newReconciler(t)
	ctx := context.Background()

	checkout, err := r.Checkout(ctx, "acct 1", "Starter")
	if err != nil {
		t.Fatalf("Checkout failed: %v", err)
	}
	if checkout.PriceCents != 600 || checkout.Status != store.CheckoutPending {
		t.Fatalf("unexpected checkout %+v", checkout)
	}
	if checkout.CheckoutURL != "https://checkout.paddle.com/subscription?plan=starter&user=acct+1" {
		t.Fatalf("unexpected checkout url %q", checkout.CheckoutURL)
	}
	if account, _ := st.GetAccount(ctx, "acct 1"); account == nil || account.Plan != store.PlanFree {
		t.Fatalf("expected checkout to provision a free account, got %+v", account)
	}

	if _, err := r.Apply(ctx, billing.Event{ExternalEventID: "evt-1", Type: store.EventSubscriptionCreated, AccountID: "acct 1", TargetPlan: store.PlanStarter}); err != nil {
		t.Fatalf("Apply failed: %v", err)
	}
	checkouts, err := r.Checkouts(ctx, "acct 1")
	if err != nil || len(checkouts) != 1 {
		t.Fatalf("expected one checkout, got %d (%v)", len(checkouts), err)
	}
	if checkouts[0].Status != store.CheckoutActive {
		t.Fatalf("expected active checkout, got %s", checkouts[0].Status)
	}
}

func TestCheckoutRejectsFreeAndUnknownPlans(t *testing.T) {
	r, _, _ := newReconciler(t)
	for _, plan := range []string{"free", "enterprise"} {
		if _, err := r.Checkout(context.Background(), "acct-1", plan); !errors.Is(err, services.ErrValidation) {
			t.Fatalf("expected validation error for %s, got %v", plan, err)
		}
	}
	if price, ok := billing.PriceCents(store.PlanPro); !ok || price != 2600 {
		t.Fatalf("unexpected pro price %d", price)
	}
}
