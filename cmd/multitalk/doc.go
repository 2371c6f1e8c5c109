// Package main hosts the MultiTalk CLI entrypoint and command graph.
//
// The Cobra-based command tree runs the daemon, queries its health over HTTP,
// and offers operator tooling that works directly against the configured
// store: account and job inspection, credit grants, billing event replay,
// checkout creation, manual replenish runs, configuration scaffolding, and
// preflight diagnostics.
//
// Keep this package lean: add new functionality by extending the internal
// packages first, then surface it through dedicated commands or flags here.
package main
