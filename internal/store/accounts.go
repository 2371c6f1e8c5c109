package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"multitalk/internal/services"
)

// EnsureAccount provisions accountID with the seed values when absent and
// returns the stored row. An existing account is never modified.
func (s *Store) EnsureAccount(ctx context.Context, accountID string, seedBalance int64, seedPlan Plan) (*Account, bool, error) {
	now := nowString()
	res, err := s.execWithRetry(ctx,
		`INSERT INTO accounts (id, balance, plan, plan_status, created_at, updated_at)
         VALUES (?, ?, ?, ?, ?, ?)
         ON CONFLICT (id) DO NOTHING`,
		accountID, seedBalance, seedPlan, PlanStatusActive, now, now,
	)
	if err != nil {
		return nil, false, classify("ensure account", err)
	}
	created := false
	if rows, err := res.RowsAffected(); err == nil && rows > 0 {
		created = true
	}
	account, err := s.GetAccount(ctx, accountID)
	if err != nil {
		return nil, false, err
	}
	if account == nil {
		return nil, false, services.Wrap(services.ErrNotFound, "store", "ensure account", "account vanished after insert", nil)
	}
	return account, created, nil
}

// GetAccount fetches an account by id. A missing account yields nil, nil.
func (s *Store) GetAccount(ctx context.Context, accountID string) (*Account, error) {
	var account *Account
	err := s.queryOne(ctx, `SELECT `+accountColumns+` FROM accounts WHERE id = ?`, []any{accountID}, func(row *sql.Row) (err error) {
		account, err = scanAccount(row)
		return err
	})
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, classify("get account", err)
	}
	return account, nil
}

// TryDebit subtracts amount in a single conditional update. It fails with
// ErrInsufficientBalance when the balance does not cover amount and with
// ErrNotFound when the account does not exist; neither case changes state.
func (s *Store) TryDebit(ctx context.Context, accountID string, amount int64) (int64, error) {
	if amount <= 0 {
		return 0, services.Invalid("amount", "must be positive, got %d", amount)
	}
	var remaining int64
	err := s.queryRowWithRetry(ctx,
		`UPDATE accounts SET balance = balance - ?, updated_at = ?
         WHERE id = ? AND balance >= ?
         RETURNING balance`,
		[]any{amount, nowString(), accountID, amount},
		&remaining,
	)
	if err == nil {
		return remaining, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return 0, classify("debit", err)
	}
	account, lookupErr := s.GetAccount(ctx, accountID)
	if lookupErr != nil {
		return 0, lookupErr
	}
	if account == nil {
		return 0, services.Wrap(services.ErrNotFound, "store", "debit", fmt.Sprintf("account %s", accountID), nil)
	}
	return account.Balance, services.Wrap(services.ErrInsufficientBalance, "store", "debit",
		fmt.Sprintf("balance %d below %d", account.Balance, amount), nil)
}

// Replenish sets the balance to target. The write is absolute.
func (s *Store) Replenish(ctx context.Context, accountID string, target int64) error {
	if target < 0 {
		return services.Invalid("target_balance", "must be >= 0, got %d", target)
	}
	res, err := s.execWithRetry(ctx,
		`UPDATE accounts SET balance = ?, updated_at = ? WHERE id = ?`,
		target, nowString(), accountID,
	)
	if err != nil {
		return classify("replenish", err)
	}
	return requireRow(res, "replenish", accountID)
}

// ReplenishPlan sets the balance to target only while the account is still
// on plan. It reports false, without error, when the account exists but has
// moved to another plan since it was listed.
func (s *Store) ReplenishPlan(ctx context.Context, accountID string, plan Plan, target int64) (bool, error) {
	if target < 0 {
		return false, services.Invalid("target_balance", "must be >= 0, got %d", target)
	}
	res, err := s.execWithRetry(ctx,
		`UPDATE accounts SET balance = ?, updated_at = ? WHERE id = ? AND plan = ?`,
		target, nowString(), accountID, plan,
	)
	if err != nil {
		return false, classify("replenish plan", err)
	}
	if rows, err := res.RowsAffected(); err == nil && rows > 0 {
		return true, nil
	}
	account, err := s.GetAccount(ctx, accountID)
	if err != nil {
		return false, err
	}
	if account == nil {
		return false, services.Wrap(services.ErrNotFound, "store", "replenish plan", fmt.Sprintf("account %s", accountID), nil)
	}
	return false, nil
}

// Credit adds amount to the balance and returns the new value. It backs
// compensating refunds and operator grants.
func (s *Store) Credit(ctx context.Context, accountID string, amount int64) (int64, error) {
	if amount <= 0 {
		return 0, services.Invalid("amount", "must be positive, got %d", amount)
	}
	var balance int64
	err := s.queryRowWithRetry(ctx,
		`UPDATE accounts SET balance = balance + ?, updated_at = ? WHERE id = ? RETURNING balance`,
		[]any{amount, nowString(), accountID},
		&balance,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, services.Wrap(services.ErrNotFound, "store", "credit", fmt.Sprintf("account %s", accountID), nil)
	}
	if err != nil {
		return 0, classify("credit", err)
	}
	return balance, nil
}

// AccountIDsByPlan lists the ids of every account on plan.
func (s *Store) AccountIDsByPlan(ctx context.Context, plan Plan) ([]string, error) {
	rows, err := s.query(ctx, `SELECT id FROM accounts WHERE plan = ? ORDER BY id`, plan)
	if err != nil {
		return nil, classify("accounts by plan", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, classify("scan account id", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, classify("accounts by plan", err)
	}
	return ids, nil
}

// ListAccounts returns accounts ordered by id, optionally filtered by plan.
func (s *Store) ListAccounts(ctx context.Context, plan Plan) ([]*Account, error) {
	query := `SELECT ` + accountColumns + ` FROM accounts`
	var args []any
	if plan != "" {
		query += ` WHERE plan = ?`
		args = append(args, plan)
	}
	query += ` ORDER BY id`

	rows, err := s.query(ctx, query, args...)
	if err != nil {
		return nil, classify("list accounts", err)
	}
	defer rows.Close()

	var accounts []*Account
	for rows.Next() {
		account, err := scanAccount(rows)
		if err != nil {
			return nil, classify("scan account", err)
		}
		accounts = append(accounts, account)
	}
	if err := rows.Err(); err != nil {
		return nil, classify("list accounts", err)
	}
	return accounts, nil
}

// PlanCounts returns the number of accounts per plan.
func (s *Store) PlanCounts(ctx context.Context) (map[Plan]int, error) {
	rows, err := s.query(ctx, `SELECT plan, COUNT(1) FROM accounts GROUP BY plan`)
	if err != nil {
		return nil, classify("plan counts", err)
	}
	defer rows.Close()

	counts := make(map[Plan]int, len(plans))
	for rows.Next() {
		var (
			plan  string
			count int
		)
		if err := rows.Scan(&plan, &count); err != nil {
			return nil, classify("scan plan count", err)
		}
		counts[Plan(plan)] = count
	}
	if err := rows.Err(); err != nil {
		return nil, classify("plan counts", err)
	}
	return counts, nil
}

func requireRow(res sql.Result, op, accountID string) error {
	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s: rows affected: %w", op, err)
	}
	if rows == 0 {
		return services.Wrap(services.ErrNotFound, "store", op, fmt.Sprintf("account %s", accountID), nil)
	}
	return nil
}
