package testsupport

import (
	"context"
	"testing"

	"multitalk/internal/config"
	"multitalk/internal/store"
)

// MustOpenStore opens a store.Store for tests and registers cleanup.
func MustOpenStore(t testing.TB, cfg *config.Config) *store.Store {
	t.Helper()

	st, err := store.Open(cfg)
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	t.Cleanup(func() {
		st.Close()
	})
	return st
}

// NewAccount provisions an account with the given balance and plan.
func NewAccount(t testing.TB, st *store.Store, id string, balance int64, plan store.Plan) *store.Account {
	t.Helper()

	ctx := context.Background()
	if _, _, err := st.EnsureAccount(ctx, id, balance, plan); err != nil {
		t.Fatalf("store.EnsureAccount: %v", err)
	}
	if err := st.Replenish(ctx, id, balance); err != nil {
		t.Fatalf("store.Replenish: %v", err)
	}
	account, err := st.GetAccount(ctx, id)
	if err != nil || account == nil {
		t.Fatalf("store.GetAccount: %v", err)
	}
	return account
}

// MustBalance returns the stored balance for id.
func MustBalance(t testing.TB, st *store.Store, id string) int64 {
	t.Helper()

	account, err := st.GetAccount(context.Background(), id)
	if err != nil {
		t.Fatalf("store.GetAccount: %v", err)
	}
	if account == nil {
		t.Fatalf("account %s not found", id)
	}
	return account.Balance
}
