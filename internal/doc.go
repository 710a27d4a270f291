// Package internal contains helper utilities that are private to goReauth,
// currently secure random identifier generation.
//
// # Sub-packages
//
//   - audit: async event dispatch (Dispatcher + Sink implementations)
//   - config: reauthd configuration loading
//   - flows: deps-injected flow functions behind each Engine operation
//   - limiters: Redis attempt counters
//   - stores: Redis reauth challenge store
//
// # What this package must NOT do
//
//   - Export types that appear in the public goReauth API.
package internal
