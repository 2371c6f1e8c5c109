// Package store persists accounts, generation jobs, billing events, and
// checkouts in SQLite (modernc.org/sqlite) or PostgreSQL (lib/pq).
//
// Queries are written once with ? placeholders and rebound per dialect.
// Balance mutations are single conditional statements, so concurrent debits
// against one account serialize inside the database rather than in Go.
// Billing events are recorded in the same transaction as the account change
// they cause, keyed by the processor's event id. Migrations are embedded per
// dialect and tracked in schema_migrations.
//
// Errors carry the internal/services markers: SQLITE_BUSY after retries,
// postgres connection and serialization failures, and dropped connections are
// tagged ErrTransient so callers can back off and retry.
package store
