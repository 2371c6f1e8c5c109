package store

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"go.jetify.com/typeid/v2"
)

const (
	accountColumns  = "id, balance, plan, plan_status, created_at, updated_at"
	jobColumns      = "id, account_id, status, prompt, resolution, frame_count, audio_ref, image_ref, artifact_ref, error_detail, created_at, updated_at, completed_at"
	eventColumns    = "event_id, source, type, account_id, target_plan, target_status, processed_at"
	checkoutColumns = "id, account_id, plan, price_cents, status, checkout_url, created_at, updated_at"

	prefixJob      = "job"
	prefixCheckout = "chk"
)

type scanner interface{ Scan(dest ...any) error }

func scanAccount(row scanner) (*Account, error) {
	var (
		account    Account
		plan       string
		status     string
		createdRaw string
		updatedRaw string
	)
	if err := row.Scan(&account.ID, &account.Balance, &plan, &status, &createdRaw, &updatedRaw); err != nil {
		return nil, err
	}
	account.Plan = Plan(plan)
	account.PlanStatus = PlanStatus(status)
	if created, err := parseTimeString(createdRaw); err == nil {
		account.CreatedAt = created
	}
	if updated, err := parseTimeString(updatedRaw); err == nil {
		account.UpdatedAt = updated
	}
	return &account, nil
}

func scanJob(row scanner) (*Job, error) {
	var (
		job          Job
		status       string
		audioRef     sql.NullString
		imageRef     sql.NullString
		artifactRef  sql.NullString
		errorDetail  sql.NullString
		createdRaw   string
		updatedRaw   string
		completedRaw sql.NullString
	)
	if err := row.Scan(
		&job.ID,
		&job.AccountID,
		&status,
		&job.Request.Prompt,
		&job.Request.Resolution,
		&job.Request.FrameCount,
		&audioRef,
		&imageRef,
		&artifactRef,
		&errorDetail,
		&createdRaw,
		&updatedRaw,
		&completedRaw,
	); err != nil {
		return nil, err
	}
	job.Status = JobStatus(status)
	job.Request.AudioRef = audioRef.String
	job.Request.ImageRef = imageRef.String
	job.ArtifactRef = artifactRef.String
	job.ErrorDetail = errorDetail.String
	if created, err := parseTimeString(createdRaw); err == nil {
		job.CreatedAt = created
	}
	if updated, err := parseTimeString(updatedRaw); err == nil {
		job.UpdatedAt = updated
	}
	if completedRaw.Valid {
		if completed, err := parseTimeString(completedRaw.String); err == nil {
			job.CompletedAt = &completed
		}
	}
	return &job, nil
}

func scanEvent(row scanner) (*BillingEvent, error) {
	var (
		event        BillingEvent
		eventType    string
		targetPlan   sql.NullString
		targetStatus sql.NullString
		processedRaw string
	)
	if err := row.Scan(&event.ExternalEventID, &event.Source, &eventType, &event.AccountID, &targetPlan, &targetStatus, &processedRaw); err != nil {
		return nil, err
	}
	event.Type = EventType(eventType)
	event.TargetPlan = Plan(targetPlan.String)
	event.TargetStatus = PlanStatus(targetStatus.String)
	if processed, err := parseTimeString(processedRaw); err == nil {
		event.ProcessedAt = processed
	}
	return &event, nil
}

func scanCheckout(row scanner) (*Checkout, error) {
	var (
		checkout   Checkout
		plan       string
		status     string
		createdRaw string
		updatedRaw string
	)
	if err := row.Scan(&checkout.ID, &checkout.AccountID, &plan, &checkout.PriceCents, &status, &checkout.CheckoutURL, &createdRaw, &updatedRaw); err != nil {
		return nil, err
	}
	checkout.Plan = Plan(plan)
	checkout.Status = CheckoutStatus(status)
	if created, err := parseTimeString(createdRaw); err == nil {
		checkout.CreatedAt = created
	}
	if updated, err := parseTimeString(updatedRaw); err == nil {
		checkout.UpdatedAt = updated
	}
	return &checkout, nil
}

func newID(prefix string) (string, error) {
	tid, err := typeid.Generate(prefix)
	if err != nil {
		return "", fmt.Errorf("generate %s id: %w", prefix, err)
	}
	return tid.String(), nil
}

// ValidJobID reports whether value is a well-formed job identifier.
func ValidJobID(value string) bool {
	tid, err := typeid.Parse(value)
	return err == nil && tid.Prefix() == prefixJob
}

func nullableString(value string) any {
	if value == "" {
		return nil
	}
	return value
}

// timeLayout is fixed width so TEXT comparison orders timestamps the same way
// time does. RFC3339Nano trims trailing zeros and breaks that.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(value time.Time) string {
	return value.UTC().Format(timeLayout)
}

func nowString() string {
	return formatTime(time.Now())
}

func parseTimeString(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, errors.New("empty")
	}
	if t, err := time.Parse(time.RFC3339Nano, value); err == nil {
		return t, nil
	}
	return time.Parse("2006-01-02 15:04:05", value)
}

func makePlaceholders(count int) string {
	if count <= 0 {
		return ""
	}
	placeholders := make([]byte, 0, count*2)
	for i := 0; i < count; i++ {
		if i > 0 {
			placeholders = append(placeholders, ',')
		}
		placeholders = append(placeholders, '?')
	}
	return string(placeholders)
}
