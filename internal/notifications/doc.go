// Package notifications delivers operator alerts via ntfy.
//
// The default implementation publishes to the topic configured in config.toml
// and degrades to a no-op when notifications are disabled. Alerts cover fatal
// ledger faults, replenish runs with failed accounts, and failed generation
// jobs.
package notifications
