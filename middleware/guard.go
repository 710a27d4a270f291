package middleware

import (
	"context"
	"net"
	"net/http"
	"strings"

	goReauth "github.com/MrEthical07/goReauth"
	"github.com/MrEthical07/goReauth/result"
)

// SessionVerifier is the slice of the engine the guard needs.
type SessionVerifier interface {
	VerifySession(ctx context.Context, token string) (*goReauth.SessionClaims, error)
}

type claimsContextKey struct{}
type tokenContextKey struct{}

// ClaimsFromContext returns the claims Guard attached to the request.
func ClaimsFromContext(ctx context.Context) (*goReauth.SessionClaims, bool) {
	claims, ok := ctx.Value(claimsContextKey{}).(*goReauth.SessionClaims)
	return claims, ok && claims != nil
}

// TokenFromContext returns the raw bearer token Guard accepted.
func TokenFromContext(ctx context.Context) (string, bool) {
	token, ok := ctx.Value(tokenContextKey{}).(string)
	return token, ok && token != ""
}

// Guard rejects requests without a live session token. Failures are written
// as result envelopes: a missing header is UNAUTHENTICATED, an expired or
// revoked token TOKEN_EXPIRED, anything else unparseable TOKEN_INVALID.
func Guard(verifier SessionVerifier) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if verifier == nil {
				result.WriteError(w, goReauth.ErrEngineNotReady)
				return
			}

			token, ok := bearerToken(r.Header.Get("Authorization"))
			if !ok {
				result.WriteCode(w, &result.Error{
					Code:    result.CodeUnauthenticated,
					Message: "missing bearer token",
					Status:  http.StatusUnauthorized,
				})
				return
			}

			claims, err := verifier.VerifySession(r.Context(), token)
			if err != nil {
				result.WriteError(w, err)
				return
			}

			ctx := context.WithValue(r.Context(), claimsContextKey{}, claims)
			ctx = context.WithValue(ctx, tokenContextKey{}, token)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequestMetadata copies the caller's IP and User-Agent into the request
// context so engine audit events carry them. Mount it after chi's RealIP when
// running behind a proxy.
func RequestMetadata(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		host, _, err := net.SplitHostPort(r.RemoteAddr)
		if err != nil {
			host = r.RemoteAddr
		}
		ctx := goReauth.WithClientIP(r.Context(), host)
		ctx = goReauth.WithUserAgent(ctx, r.UserAgent())
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func bearerToken(value string) (string, bool) {
	const bearer = "Bearer "
	if len(value) < len(bearer) || !strings.EqualFold(value[:len(bearer)], bearer) {
		return "", false
	}

	token := strings.TrimSpace(value[len(bearer):])
	if token == "" {
		return "", false
	}

	return token, true
}
