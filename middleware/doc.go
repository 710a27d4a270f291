// Package middleware adapts goReauth session verification to net/http.
//
// [Guard] reads the Authorization bearer token, calls
// Engine.VerifySession and attaches the claims to the request context, where
// handlers read them with [ClaimsFromContext]. [RequestMetadata] forwards
// client IP and User-Agent into the context for audit events.
//
// The package never parses tokens or touches Redis itself. Every decision
// is delegated to the engine; rejections are written as result envelopes.
package middleware
