// Package generation admits video generation requests against the credit
// ledger and follows each job to its terminal state.
//
// Submit debits one job's cost before touching object storage or the worker.
// Any failure after the debit is compensated with a refund so the caller sees
// either an admitted job or an unchanged balance. Worker results arrive through
// OnWorkerResult; duplicates are expected and acknowledged.
package generation
