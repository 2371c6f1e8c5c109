// Package billing reconciles payment processor subscription events with
// account plans.
//
// Processors redeliver webhooks freely. Every event is recorded by its
// external id in the same transaction that changes the account, so a replay is
// acknowledged as a duplicate instead of being applied twice. The Paddle and
// Stripe decoders translate each processor's webhook body into the common
// Event shape; checkout creation hands the buyer to the processor.
package billing
