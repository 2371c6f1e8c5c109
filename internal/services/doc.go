// Package services defines shared utilities consumed by the credit ledger, the
// job lifecycle manager, the reconciler, and their external collaborators.
//
// Key responsibilities:
//   - Context helpers that stamp account IDs, job IDs, and correlation
//     identifiers for logging.
//   - Structured error markers plus the Wrap helper, and Kind/HTTPStatus which
//     classify failures into validation, insufficient balance, conflict, not
//     found, transient, and fatal outcomes.
//
// Subpackages hold the object storage and synthesis worker collaborators.
package services
