package httpapi

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	goReauth "github.com/MrEthical07/goReauth"
	"github.com/MrEthical07/goReauth/broadcast"
	"github.com/MrEthical07/goReauth/middleware"
	"github.com/MrEthical07/goReauth/result"
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
)

// ChallengeHeader carries the reauth challenge ID on gated requests. An
// absent header means "whatever challenge is current".
const ChallengeHeader = "X-Reauth-Challenge"

const maxBodyBytes = 64 << 10

// Engine is the engine surface the API drives. *goReauth.Engine implements it.
type Engine interface {
	middleware.SessionVerifier

	Login(ctx context.Context, identifier, password string) (*goReauth.SessionResult, error)
	RefreshSession(ctx context.Context, token string) (*goReauth.SessionResult, error)
	Health(ctx context.Context) goReauth.HealthStatus

	Reauthenticate(ctx context.Context, userID int64, proof goReauth.Proof) (*goReauth.ReauthChallenge, error)
	ReauthStatus(ctx context.Context, userID int64) (*goReauth.ReauthChallenge, error)
	VerificationMethods(ctx context.Context, userID int64) ([]goReauth.MethodKind, error)

	ChangePassword(ctx context.Context, userID int64, challengeID, newPassword string) (*goReauth.SessionResult, error)
	RevokeSessions(ctx context.Context, userID int64, challengeID string) (*goReauth.SessionResult, error)

	BeginTOTPEnrollment(ctx context.Context, userID int64) (*goReauth.TOTPEnrollment, error)
	ConfirmTOTPEnrollment(ctx context.Context, userID int64, code string) ([]string, error)
	TOTPStatus(ctx context.Context, userID int64) (goReauth.TOTPState, error)
	DisableTOTP(ctx context.Context, userID int64, challengeID string) error
	RegenerateBackupCodes(ctx context.Context, userID int64, challengeID string) ([]string, error)

	LinkProvider(ctx context.Context, userID int64, provider string, assertion []byte) (*goReauth.LinkedProvider, error)
	UnlinkProvider(ctx context.Context, userID int64, challengeID, provider string) error
	RegisterPasskey(ctx context.Context, userID int64, challengeID, name string, publicKey []byte) (*goReauth.PasskeyCredential, error)
	RemovePasskey(ctx context.Context, userID int64, challengeID, credentialID string) error
}

// Options configures NewRouter.
type Options struct {
	Engine Engine
	// Topics backs the broadcast relay. Nil disables the relay routes.
	Topics broadcast.Topics
	// Metrics is mounted on GET /metrics when non-nil.
	Metrics http.Handler
	// AllowedOrigins lists origins allowed to call the API from a browser,
	// typically the app origin and the verification surface origin.
	AllowedOrigins []string
	// ReauthRateLimit caps /v1/reauth/* requests per client IP per
	// ReauthRateWindow. Zero disables the edge limiter.
	ReauthRateLimit  int
	ReauthRateWindow time.Duration
	// RequestTimeout bounds non-streaming handlers. Zero means 30s.
	RequestTimeout time.Duration
	Logger         *slog.Logger
}

type api struct {
	engine Engine
	topics broadcast.Topics
	logger *slog.Logger
}

// NewRouter returns the chi router serving the reauth API.
func NewRouter(opts Options) (http.Handler, error) {
	if opts.Engine == nil {
		return nil, errors.New("httpapi: engine required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	timeout := opts.RequestTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	a := &api{engine: opts.Engine, topics: opts.Topics, logger: logger}

	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(middleware.RequestMetadata)
	if len(opts.AllowedOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins:   opts.AllowedOrigins,
			AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
			AllowedHeaders:   []string{"Authorization", "Content-Type", ChallengeHeader},
			AllowCredentials: true,
			MaxAge:           300,
		}))
	}

	r.Get("/healthz", a.health)
	if opts.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", opts.Metrics)
	}

	r.Route("/v1", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(chimw.Timeout(timeout))
			r.Post("/session/login", a.login)

			r.Group(func(r chi.Router) {
				r.Use(middleware.Guard(opts.Engine))
				r.Post("/session/refresh", a.refresh)
				r.Get("/session", a.session)

				r.Route("/reauth", func(r chi.Router) {
					if opts.ReauthRateLimit > 0 {
						window := opts.ReauthRateWindow
						if window <= 0 {
							window = time.Minute
						}
						r.Use(httprate.Limit(opts.ReauthRateLimit, window,
							httprate.WithKeyFuncs(httprate.KeyByIP),
							httprate.WithLimitHandler(func(w http.ResponseWriter, _ *http.Request) {
								result.WriteError(w, goReauth.ErrRateLimited)
							}),
						))
					}
					r.Get("/methods", a.methods)
					r.Post("/verify", a.verify)
					r.Get("/status", a.status)
				})

				r.Route("/account", func(r chi.Router) {
					r.Post("/password", a.changePassword)
					r.Post("/sessions/revoke", a.revokeSessions)

					r.Get("/totp", a.totpStatus)
					r.Post("/totp/enroll", a.beginTOTP)
					r.Post("/totp/confirm", a.confirmTOTP)
					r.Delete("/totp", a.disableTOTP)
					r.Post("/totp/backup-codes", a.regenerateBackupCodes)

					r.Post("/providers", a.linkProvider)
					r.Delete("/providers/{provider}", a.unlinkProvider)
					r.Post("/passkeys", a.registerPasskey)
					r.Delete("/passkeys/{id}", a.removePasskey)
				})
			})
		})

		if opts.Topics != nil {
			// Streams are long-lived, so the relay sits outside the timeout group.
			r.Group(func(r chi.Router) {
				r.Use(middleware.Guard(opts.Engine))
				r.Post("/broadcast/{topic}", a.publish)
				r.Get("/broadcast/{topic}", a.subscribe)
			})
		}
	})

	return r, nil
}

func (a *api) health(w http.ResponseWriter, r *http.Request) {
	status := a.engine.Health(r.Context())
	if !status.RedisAvailable {
		result.WriteError(w, goReauth.ErrUnavailable)
		return
	}
	result.WriteOK(w, http.StatusOK, status)
}

// claims returns the guard's claims. Routes mounting this helper always sit
// behind Guard, so a miss is an internal wiring error.
func claims(r *http.Request) *goReauth.SessionClaims {
	c, _ := middleware.ClaimsFromContext(r.Context())
	return c
}

func challengeID(r *http.Request) string {
	return r.Header.Get(ChallengeHeader)
}
