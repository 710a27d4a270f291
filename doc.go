// Package goReauth provides step-up reauthentication and session lifecycle
// control on top of Redis and a host-supplied account store.
//
// Sessions are signed tokens carrying a user ID, a profile snapshot and an
// activation stamp. The stamp is the only server-side session state: a token
// is live while its stamp equals the user's current one, so replacing the
// stamp (password change, RevokeSessions, a new login) invalidates every
// outstanding token at once.
//
// Sensitive mutations are gated. The caller first proves identity again with
// [Engine.Reauthenticate], which issues a short-lived single-use
// [ReauthChallenge]. The gated call then consumes it. A missing, expired,
// consumed or mismatched challenge yields [ErrStepUpRequired], which the
// client side (package reauthclient) turns into a verification prompt and a
// transparent retry.
//
// # Architecture boundaries
//
// goReauth is the public surface. It exposes [Engine], [Builder], [Config]
// and value types. Flow orchestration, Redis stores, attempt limiting and
// audit dispatch live under internal/ and are never exported.
//
// Engine methods are safe for concurrent use after [Builder.Build].
package goReauth
