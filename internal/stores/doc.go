// Package stores provides Redis-backed, short-lived records for the step-up
// protocol.
//
// # Design
//
// A reauth challenge lives in one Redis hash per user with a TTL slightly past
// its absolute expiry. Consumption runs as a Lua script so the
// check-unexpired-and-unconsumed-then-mark step is a single atomic operation.
// Records are single-use: a consumed record stays in place, marked, until it
// expires, so a replay reports "consumed" rather than "missing".
//
// # Architecture boundaries
//
// This package owns persistence and concurrency control for transient
// challenge records. It does NOT generate IDs, enforce rate limits, or decide
// what a failed consume means to the caller; internal/flows maps these errors
// onto the step-up signal.
//
// # What this package must NOT do
//
//   - Import goReauth or any sibling internal package.
//   - Trust a caller-supplied clock for anything but expiry comparison.
package stores
