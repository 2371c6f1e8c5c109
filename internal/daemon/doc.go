// Package daemon coordinates the long-running MultiTalk process and its HTTP
// surface.
//
// It wires the credit ledger, the generation manager, the billing reconciler,
// and the replenish scheduler into a single lifecycle with flock-based locking
// to prevent multiple instances against one data directory. The daemon owns the
// simulated synthesis worker when one is configured, sweeps jobs that never
// received a worker result, and serves the JSON API used by clients, the
// synthesis worker, and the billing processor.
//
// Keep orchestration logic here: credit, job, and subscription rules live in
// their respective packages while the daemon focuses on startup, shutdown, and
// request translation.
package daemon
