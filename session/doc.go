// Package session stores the per-user activation stamp that decides which
// session tokens are live.
//
// # Model
//
// Every signed token embeds the stamp that was current when it was minted. A
// token is live only while that stamp is still the user's current stamp, so a
// single [Store.Bump] invalidates every outstanding token of that user without
// a revocation list. Refresh re-signs with the stamp it read and never bumps.
//
// # Atomicity
//
// Bump is one Redis SET; readers observe either the previous or the new stamp,
// never a partial value.
package session
