package store

import (
	"fmt"
	"strings"
	"time"
)

// Plan identifies a subscription tier.
type Plan string

const (
	PlanFree    Plan = "free"
	PlanStarter Plan = "starter"
	PlanMid     Plan = "mid"
	PlanPro     Plan = "pro"
)

var plans = []Plan{PlanFree, PlanStarter, PlanMid, PlanPro}

// Plans returns every known plan in ascending tier order.
func Plans() []Plan {
	out := make([]Plan, len(plans))
	copy(out, plans)
	return out
}

// ParsePlan normalizes and validates a plan name.
func ParsePlan(value string) (Plan, error) {
	candidate := Plan(strings.ToLower(strings.TrimSpace(value)))
	for _, plan := range plans {
		if plan == candidate {
			return plan, nil
		}
	}
	return "", fmt.Errorf("unknown plan %q", value)
}

// PlanStatus captures the subscription standing of an account.
type PlanStatus string

const (
	PlanStatusActive    PlanStatus = "active"
	PlanStatusCancelled PlanStatus = "cancelled"
	PlanStatusPastDue   PlanStatus = "pastDue"
)

// ParsePlanStatus validates a plan status value.
func ParsePlanStatus(value string) (PlanStatus, error) {
	switch PlanStatus(strings.TrimSpace(value)) {
	case PlanStatusActive:
		return PlanStatusActive, nil
	case PlanStatusCancelled:
		return PlanStatusCancelled, nil
	case PlanStatusPastDue:
		return PlanStatusPastDue, nil
	default:
		return "", fmt.Errorf("unknown plan status %q", value)
	}
}

// Account holds the credit balance and subscription state for one end user.
type Account struct {
	ID         string     `json:"id"`
	Balance    int64      `json:"balance"`
	Plan       Plan       `json:"plan"`
	PlanStatus PlanStatus `json:"planStatus"`
	CreatedAt  time.Time  `json:"createdAt"`
	UpdatedAt  time.Time  `json:"updatedAt"`
}

// JobStatus represents the lifecycle state of a generation job.
type JobStatus string

const (
	JobStatusQueued     JobStatus = "queued"
	JobStatusProcessing JobStatus = "processing"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
)

// IsTerminal reports whether no further transition is permitted.
func (s JobStatus) IsTerminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed
}

// JobRequest is the validated payload a job was admitted with.
type JobRequest struct {
	Prompt     string `json:"prompt"`
	Resolution string `json:"resolution"`
	FrameCount int    `json:"frameCount"`
	AudioRef   string `json:"audioRef,omitempty"`
	ImageRef   string `json:"imageRef,omitempty"`
}

// Job tracks one video generation request.
type Job struct {
	ID          string     `json:"id"`
	AccountID   string     `json:"accountId"`
	Status      JobStatus  `json:"status"`
	Request     JobRequest `json:"request"`
	ArtifactRef string     `json:"artifactRef,omitempty"`
	ErrorDetail string     `json:"errorDetail,omitempty"`
	CreatedAt   time.Time  `json:"createdAt"`
	UpdatedAt   time.Time  `json:"updatedAt"`
	CompletedAt *time.Time `json:"completedAt,omitempty"`
}

// EventType enumerates the billing events the reconciler understands.
type EventType string

const (
	EventSubscriptionCreated   EventType = "subscriptionCreated"
	EventSubscriptionUpdated   EventType = "subscriptionUpdated"
	EventSubscriptionCancelled EventType = "subscriptionCancelled"
)

// Known reports whether the reconciler can apply this type.
func (t EventType) Known() bool {
	switch t {
	case EventSubscriptionCreated, EventSubscriptionUpdated, EventSubscriptionCancelled:
		return true
	default:
		return false
	}
}

// BillingEvent is a processed subscription change, kept for audit and dedup.
type BillingEvent struct {
	ExternalEventID string     `json:"externalEventId"`
	Source          string     `json:"source"`
	Type            EventType  `json:"type"`
	AccountID       string     `json:"accountId"`
	TargetPlan      Plan       `json:"targetPlan,omitempty"`
	TargetStatus    PlanStatus `json:"targetStatus,omitempty"`
	ProcessedAt     time.Time  `json:"processedAt"`
}

// CheckoutStatus tracks a pending subscription purchase.
type CheckoutStatus string

const (
	CheckoutPending   CheckoutStatus = "pending"
	CheckoutActive    CheckoutStatus = "active"
	CheckoutCancelled CheckoutStatus = "cancelled"
)

// Checkout is a subscription purchase handed off to the payment processor.
type Checkout struct {
	ID          string         `json:"id"`
	AccountID   string         `json:"accountId"`
	Plan        Plan           `json:"plan"`
	PriceCents  int64          `json:"priceCents"`
	Status      CheckoutStatus `json:"status"`
	CheckoutURL string         `json:"checkoutUrl"`
	CreatedAt   time.Time      `json:"createdAt"`
	UpdatedAt   time.Time      `json:"updatedAt"`
}
