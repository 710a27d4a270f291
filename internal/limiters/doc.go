// Package limiters provides Redis counters that throttle repeated failed
// verification attempts.
//
// [AttemptLimiter] keys counters by scope and user ID ("reauth", "totp-confirm")
// so a burst against one flow does not lock the user out of another. All
// methods are nil-safe: a nil limiter allows everything.
//
// # What this package must NOT do
//
//   - Import goReauth or any sibling internal package.
//   - Decide consequences; flow functions map ErrRateLimited onto their own errors.
package limiters
