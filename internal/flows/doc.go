// Package flows contains pure-function orchestrators for every Engine
// operation that needs more than a single store call.
//
// Each flow function (RunReauthenticate, RunRequireReauth,
// RunConfirmTOTPEnrollment, etc.) accepts a typed dependency struct and
// returns results without side-effects beyond those dependencies.
//
// # What this package must NOT do
//
//   - Hold mutable state between calls.
//   - Import goReauth (to avoid import cycles).
//   - Perform I/O directly. All I/O is mediated through dependency funcs.
package flows
