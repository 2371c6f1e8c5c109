// Package config loads, normalizes, and validates MultiTalk configuration data.
//
// It supplies repository defaults, expands user paths (including tilde
// shortcuts), reads TOML files, and honours environment fallbacks such as
// MULTITALK_API_TOKEN and STRIPE_WEBHOOK_SECRET, optionally sourced from a
// .env file. The Config type centralizes every knob the daemon and CLI need:
// store selection, admission economics, worker dispatch, billing webhooks,
// and the per-plan replenishment cadences.
//
// Always obtain settings through this package so downstream code receives
// sanitized paths, canonical log formats, and clear validation errors.
package config
