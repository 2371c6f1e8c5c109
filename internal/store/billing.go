package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// SubscriptionChange is the account mutation a billing event resolves to.
// Seed values provision the account when the event arrives before any job.
type SubscriptionChange struct {
	Event       BillingEvent
	Plan        Plan
	Status      PlanStatus
	SeedBalance int64
	SeedPlan    Plan
}

// ApplySubscriptionChange records the event and mutates the account in one
// transaction. It reports false without changing anything when the event id
// was already recorded.
func (s *Store) ApplySubscriptionChange(ctx context.Context, change SubscriptionChange) (bool, error) {
	var applied bool
	err := s.withTx(ctx, func(tx txn) error {
		applied = false
		now := nowString()
		ev := change.Event

		res, err := tx.exec(ctx,
			`INSERT INTO billing_events (event_id, source, type, account_id, target_plan, target_status, processed_at)
             VALUES (?, ?, ?, ?, ?, ?, ?)
             ON CONFLICT (event_id) DO NOTHING`,
			ev.ExternalEventID, ev.Source, ev.Type, ev.AccountID,
			nullableString(string(ev.TargetPlan)), nullableString(string(ev.TargetStatus)), now,
		)
		if err != nil {
			return fmt.Errorf("record billing event: %w", err)
		}
		rows, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("record billing event: rows affected: %w", err)
		}
		if rows == 0 {
			return errRollback
		}

		if _, err := tx.exec(ctx,
			`INSERT INTO accounts (id, balance, plan, plan_status, created_at, updated_at)
             VALUES (?, ?, ?, ?, ?, ?)
             ON CONFLICT (id) DO NOTHING`,
			ev.AccountID, change.SeedBalance, change.SeedPlan, PlanStatusActive, now, now,
		); err != nil {
			return fmt.Errorf("provision account: %w", err)
		}

		if _, err := tx.exec(ctx,
			`UPDATE accounts SET plan = ?, plan_status = ?, updated_at = ? WHERE id = ?`,
			change.Plan, change.Status, now, ev.AccountID,
		); err != nil {
			return fmt.Errorf("update subscription: %w", err)
		}

		if ev.Type == EventSubscriptionCancelled {
			_, err = tx.exec(ctx,
				`UPDATE checkouts SET status = ?, updated_at = ? WHERE account_id = ? AND status IN (?, ?)`,
				CheckoutCancelled, now, ev.AccountID, CheckoutActive, CheckoutPending,
			)
		} else {
			_, err = tx.exec(ctx,
				`UPDATE checkouts SET status = ?, updated_at = ? WHERE account_id = ? AND plan = ? AND status = ?`,
				CheckoutActive, now, ev.AccountID, change.Plan, CheckoutPending,
			)
		}
		if err != nil {
			return fmt.Errorf("update checkouts: %w", err)
		}

		applied = true
		return nil
	})
	if err != nil {
		return false, classify("apply billing event", err)
	}
	return applied, nil
}

// GetBillingEvent fetches a recorded event. A missing event yields nil, nil.
func (s *Store) GetBillingEvent(ctx context.Context, eventID string) (*BillingEvent, error) {
	var event *BillingEvent
	err := s.queryOne(ctx, `SELECT `+eventColumns+` FROM billing_events WHERE event_id = ?`, []any{eventID}, func(row *sql.Row) (err error) {
		event, err = scanEvent(row)
		return err
	})
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, classify("get billing event", err)
	}
	return event, nil
}

// ListBillingEvents returns an account's processed events, newest first.
func (s *Store) ListBillingEvents(ctx context.Context, accountID string) ([]*BillingEvent, error) {
	rows, err := s.query(ctx,
		`SELECT `+eventColumns+` FROM billing_events WHERE account_id = ? ORDER BY processed_at DESC`,
		accountID,
	)
	if err != nil {
		return nil, classify("list billing events", err)
	}
	defer rows.Close()

	var events []*BillingEvent
	for rows.Next() {
		event, err := scanEvent(rows)
		if err != nil {
			return nil, classify("scan billing event", err)
		}
		events = append(events, event)
	}
	if err := rows.Err(); err != nil {
		return nil, classify("list billing events", err)
	}
	return events, nil
}

// CreateCheckout records a pending subscription purchase.
func (s *Store) CreateCheckout(ctx context.Context, accountID string, plan Plan, priceCents int64, checkoutURL string) (*Checkout, error) {
	id, err := newID(prefixCheckout)
	if err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	if _, err := s.execWithRetry(ctx,
		`INSERT INTO checkouts (id, account_id, plan, price_cents, status, checkout_url, created_at, updated_at)
         VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		id, accountID, plan, priceCents, CheckoutPending, checkoutURL, formatTime(now), formatTime(now),
	); err != nil {
		return nil, classify("create checkout", err)
	}
	return &Checkout{
		ID:          id,
		AccountID:   accountID,
		Plan:        plan,
		PriceCents:  priceCents,
		Status:      CheckoutPending,
		CheckoutURL: checkoutURL,
		CreatedAt:   now,
		UpdatedAt:   now,
	}, nil
}

// ListCheckouts returns an account's checkouts, newest first.
func (s *Store) ListCheckouts(ctx context.Context, accountID string) ([]*Checkout, error) {
	rows, err := s.query(ctx,
		`SELECT `+checkoutColumns+` FROM checkouts WHERE account_id = ? ORDER BY created_at DESC, id DESC`,
		accountID,
	)
	if err != nil {
		return nil, classify("list checkouts", err)
	}
	defer rows.Close()

	var checkouts []*Checkout
	for rows.Next() {
		checkout, err := scanCheckout(rows)
		if err != nil {
			return nil, classify("scan checkout", err)
		}
		checkouts = append(checkouts, checkout)
	}
	if err := rows.Err(); err != nil {
		return nil, classify("list checkouts", err)
	}
	return checkouts, nil
}
