// Package replenish resets account balances on per-plan calendar cadences.
//
// Each rule is its own cron entry, so plans fire independently. A firing sets
// every matching account to the rule's target balance with bounded
// concurrency; one account's failure never stops the batch. Firings missed
// while the daemon was down are not replayed.
package replenish
