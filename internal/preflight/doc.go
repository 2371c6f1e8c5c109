// Package preflight provides readiness checks for the filesystem paths,
// database, and worker endpoint MultiTalk depends on.
//
// The daemon runs RunAll at startup and logs each failure; "multitalk doctor"
// prints the same results. Checks for features that are not configured are
// skipped.
package preflight
