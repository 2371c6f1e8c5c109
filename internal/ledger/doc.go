// Package ledger owns account credit balances.
//
// TryDebit is a single conditional update, so two concurrent debits against a
// balance of one can never both succeed. Replenish is an absolute set and
// EnsureAccount lazily provisions accounts with the free-trial seed. A negative
// balance observed anywhere is reported as services.ErrFatal and raised to the
// operator; it is never clamped.
package ledger
