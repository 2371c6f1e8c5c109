package billing

import (
	"encoding/json"
	"strings"

	stripelib "github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/webhook"

	"multitalk/internal/services"
	"multitalk/internal/store"
)

// SourceStripe tags events decoded from Stripe webhooks.
const SourceStripe = "stripe"

var stripeEventTypes = map[stripelib.EventType]store.EventType{
	"customer.subscription.created": store.EventSubscriptionCreated,
	"customer.subscription.updated": store.EventSubscriptionUpdated,
	"customer.subscription.deleted": store.EventSubscriptionCancelled,
}

// StripeDecoder verifies and parses Stripe subscription webhooks.
type StripeDecoder struct {
	secret string
}

// NewStripeDecoder builds a decoder. An empty secret skips signature checks.
func NewStripeDecoder(secret string) *StripeDecoder {
	return &StripeDecoder{secret: strings.TrimSpace(secret)}
}

// Decode turns a webhook body into an Event. The subscription's metadata
// carries account_id and plan.
func (d *StripeDecoder) Decode(payload []byte, signature string) (Event, error) {
	var event stripelib.Event
	if d.secret != "" {
		if strings.TrimSpace(signature) == "" {
			return Event{}, services.Invalid("stripe_signature", "missing Stripe-Signature header")
		}
		verified, err := webhook.ConstructEventWithOptions(payload, signature, d.secret, webhook.ConstructEventOptions{
			IgnoreAPIVersionMismatch: true,
		})
		if err != nil {
			return Event{}, services.Invalid("stripe_signature", "%v", err)
		}
		event = verified
	} else if err := json.Unmarshal(payload, &event); err != nil {
		return Event{}, services.Invalid("body", "malformed Stripe event: %v", err)
	}

	eventType, ok := stripeEventTypes[event.Type]
	if !ok {
		return Event{ExternalEventID: event.ID, Source: SourceStripe, Type: store.EventType(event.Type)}, nil
	}
	if event.Data == nil {
		return Event{}, services.Invalid("data", "event carries no object")
	}
	var sub stripelib.Subscription
	if err := json.Unmarshal(event.Data.Raw, &sub); err != nil {
		return Event{}, services.Invalid("data", "malformed subscription: %v", err)
	}

	ev := Event{
		ExternalEventID: event.ID,
		Source:          SourceStripe,
		Type:            eventType,
		AccountID:       strings.TrimSpace(sub.Metadata["account_id"]),
	}
	if eventType != store.EventSubscriptionCancelled {
		ev.TargetPlan = store.Plan(strings.ToLower(strings.TrimSpace(sub.Metadata["plan"])))
		ev.TargetStatus = stripeStatus(sub.Status)
	}
	return ev, nil
}

func stripeStatus(status stripelib.SubscriptionStatus) store.PlanStatus {
	switch status {
	case stripelib.SubscriptionStatusActive, stripelib.SubscriptionStatusTrialing:
		return store.PlanStatusActive
	case stripelib.SubscriptionStatusPastDue, stripelib.SubscriptionStatusUnpaid, stripelib.SubscriptionStatusIncomplete:
		return store.PlanStatusPastDue
	case stripelib.SubscriptionStatusCanceled, stripelib.SubscriptionStatusIncompleteExpired, stripelib.SubscriptionStatusPaused:
		return store.PlanStatusCancelled
	default:
		return ""
	}
}
