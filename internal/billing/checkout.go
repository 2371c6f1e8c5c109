package billing

import (
	"context"
	"fmt"
	"net/url"

	"multitalk/internal/logging"
	"multitalk/internal/services"
	"multitalk/internal/store"
)

// Monthly plan prices in cents.
var planPrices = map[store.Plan]int64{
	store.PlanStarter: 600,
	store.PlanMid:     1200,
	store.PlanPro:     2600,
}

// PriceCents returns the monthly price of a paid plan.
func PriceCents(plan store.Plan) (int64, bool) {
	price, ok := planPrices[plan]
	return price, ok
}

// Checkout records a pending purchase of plan and returns the processor link
// the buyer should follow. The plan changes only when the processor's
// subscription event arrives.
func (r *Reconciler) Checkout(ctx context.Context, accountID, planName string) (*store.Checkout, error) {
	if accountID == "" {
		return nil, services.Invalid("account_id", "required")
	}
	plan, err := store.ParsePlan(planName)
	if err != nil {
		return nil, services.Invalid("plan", "must be one of starter, mid, pro")
	}
	price, ok := PriceCents(plan)
	if !ok {
		return nil, services.Invalid("plan", "%s is not a paid plan", plan)
	}
	link, err := checkoutURL(r.settings.CheckoutBaseURL, plan, accountID)
	if err != nil {
		return nil, err
	}

	if _, _, err := r.store.EnsureAccount(ctx, accountID, r.settings.SeedBalance, store.PlanFree); err != nil {
		return nil, err
	}
	checkout, err := r.store.CreateCheckout(ctx, accountID, plan, price, link)
	if err != nil {
		return nil, err
	}
	r.logger.Info("checkout created",
		logging.String(logging.FieldAccountID, accountID),
		logging.String(logging.FieldPlan, string(plan)),
		logging.Int64("price_cents", price),
		logging.String("checkout_id", checkout.ID),
		logging.String(logging.FieldEventType, "checkout_created"),
	)
	return checkout, nil
}

// Checkouts lists an account's checkouts, newest first.
func (r *Reconciler) Checkouts(ctx context.Context, accountID string) ([]*store.Checkout, error) {
	return r.store.ListCheckouts(ctx, accountID)
}

func checkoutURL(base string, plan store.Plan, accountID string) (string, error) {
	parsed, err := url.Parse(base)
	if err != nil || parsed.Scheme == "" {
		return "", fmt.Errorf("billing.checkout_base_url %q is not an absolute URL", base)
	}
	query := parsed.Query()
	query.Set("plan", string(plan))
	query.Set("user", accountID)
	parsed.RawQuery = query.Encode()
	return parsed.String(), nil
}
