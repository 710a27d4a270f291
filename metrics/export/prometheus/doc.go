// Package prometheus exposes goReauth engine metrics through
// client_golang.
//
// [NewCollector] wraps an engine as a [promclient.Collector]; register it with
// any registry, or call [Handler] for a ready /metrics endpoint backed by a
// private registry. Counter names are prefixed goreauth_ and end in _total.
// The single histogram is goreauth_session_verify_latency_seconds.
//
// The collector never mutates engine state.
package prometheus
