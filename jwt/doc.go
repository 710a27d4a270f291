// Package jwt signs and verifies session tokens.
//
// A session token carries the user ID, a denormalized profile snapshot and the
// activation stamp that was current when the token was minted. Verification is
// purely cryptographic: it never consults a store, so checking the stamp
// against the live value is the caller's job.
//
// Verify separates two failure classes: [ErrExpired] for a well-signed token
// whose lifetime has passed and [ErrInvalid] for anything malformed, tampered
// or signed with an unexpected key or algorithm.
package jwt
