// Package httpapi exposes the reauth engine over HTTP with chi.
//
// Every response is a result envelope. Gated routes read the reauth
// challenge from the X-Reauth-Challenge header and answer 403 NEED_REAUTH
// when no usable challenge exists; clients key their step-up flow on that
// code. The broadcast relay lets verification surfaces and waiting pages
// that share no process talk over per-user Server-Sent Event streams.
package httpapi
