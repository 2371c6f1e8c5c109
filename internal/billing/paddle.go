package billing

import (
	"encoding/json"
	"mime"
	"net/url"
	"strings"

	"multitalk/internal/services"
	"multitalk/internal/store"
)

// SourcePaddle tags events decoded from Paddle webhooks.
const SourcePaddle = "paddle"

type paddleAlert struct {
	AlertName          string `json:"alert_name"`
	AlertID            string `json:"alert_id"`
	UserID             string `json:"user_id"`
	SubscriptionPlanID string `json:"subscription_plan_id"`
	Status             string `json:"status"`
}

var paddleEventTypes = map[string]store.EventType{
	"subscription_created":   store.EventSubscriptionCreated,
	"subscription_updated":   store.EventSubscriptionUpdated,
	"subscription_cancelled": store.EventSubscriptionCancelled,
}

var paddleStatuses = map[string]store.PlanStatus{
	"active":   store.PlanStatusActive,
	"trialing": store.PlanStatusActive,
	"past_due": store.PlanStatusPastDue,
	"deleted":  store.PlanStatusCancelled,
	"paused":   store.PlanStatusCancelled,
}

// DecodePaddle parses a Paddle alert delivered as JSON or as a form post.
// Alerts other than subscription lifecycle ones keep their raw name as the
// event type so Apply acknowledges them as ignored.
func DecodePaddle(contentType string, body []byte) (Event, error) {
	var alert paddleAlert
	mediaType, _, _ := mime.ParseMediaType(contentType)
	switch mediaType {
	case "application/x-www-form-urlencoded":
		values, err := url.ParseQuery(string(body))
		if err != nil {
			return Event{}, services.Invalid("body", "malformed form body: %v", err)
		}
		alert = paddleAlert{
			AlertName:          values.Get("alert_name"),
			AlertID:            values.Get("alert_id"),
			UserID:             values.Get("user_id"),
			SubscriptionPlanID: values.Get("subscription_plan_id"),
			Status:             values.Get("status"),
		}
	default:
		if err := json.Unmarshal(body, &alert); err != nil {
			return Event{}, services.Invalid("body", "malformed JSON body: %v", err)
		}
	}

	name := strings.TrimSpace(alert.AlertName)
	eventType, ok := paddleEventTypes[name]
	if !ok {
		eventType = store.EventType(name)
	}
	ev := Event{
		ExternalEventID: strings.TrimSpace(alert.AlertID),
		Source:          SourcePaddle,
		Type:            eventType,
		AccountID:       strings.TrimSpace(alert.UserID),
	}
	if eventType == store.EventSubscriptionCreated || eventType == store.EventSubscriptionUpdated {
		ev.TargetPlan = store.Plan(strings.ToLower(strings.TrimSpace(alert.SubscriptionPlanID)))
		if raw := strings.ToLower(strings.TrimSpace(alert.Status)); raw != "" {
			status, ok := paddleStatuses[raw]
			if !ok {
				return Event{}, services.Invalid("status", "unknown paddle status %q", raw)
			}
			ev.TargetStatus = status
		}
	}
	return ev, nil
}
