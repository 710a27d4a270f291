// Package config loads reauthd settings: defaults, then an optional TOML
// file, then a .env file, then REAUTHD_* environment variables. Later
// sources win.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	goReauth "github.com/MrEthical07/goReauth"
	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// EnvPrefix namespaces every environment override.
const EnvPrefix = "REAUTHD_"

type Config struct {
	Service ServiceConfig `toml:"service"`
	HTTP    HTTPConfig    `toml:"http"`
	Redis   RedisConfig   `toml:"redis"`
	Store   StoreConfig   `toml:"store"`
	Auth    AuthConfig    `toml:"auth"`
}

type ServiceConfig struct {
	Name        string `toml:"name"`
	Environment string `toml:"environment"`
	LogLevel    string `toml:"log_level"`
	// OTelLogInterval, when positive, logs the engine's OpenTelemetry
	// metrics at that period.
	OTelLogInterval time.Duration `toml:"otel_log_interval"`
}

type HTTPConfig struct {
	Addr              string        `toml:"addr"`
	AllowedOrigins    []string      `toml:"allowed_origins"`
	ReauthRateLimit   int           `toml:"reauth_rate_limit"`
	ReauthRateWindow  time.Duration `toml:"reauth_rate_window"`
	RequestTimeout    time.Duration `toml:"request_timeout"`
	ReadHeaderTimeout time.Duration `toml:"read_header_timeout"`
	ShutdownTimeout   time.Duration `toml:"shutdown_timeout"`
	MetricsEnabled    bool          `toml:"metrics_enabled"`
}

type RedisConfig struct {
	Addr     string `toml:"addr"`
	Password string `toml:"password"`
	DB       int    `toml:"db"`
	// BroadcastPrefix namespaces the pub/sub channels behind the relay.
	BroadcastPrefix string `toml:"broadcast_prefix"`
}

// StoreConfig selects the account store. The memory driver is for local
// development and can be seeded with one user.
type StoreConfig struct {
	Driver       string `toml:"driver"`
	DatabaseURL  string `toml:"database_url"`
	Migrate      bool   `toml:"migrate"`
	MaxOpenConns int    `toml:"max_open_conns"`
	SeedUser     string `toml:"seed_user"`
	SeedEmail    string `toml:"seed_email"`
	SeedPassword string `toml:"seed_password"`
}

// AuthConfig is the subset of engine settings exposed to operators.
type AuthConfig struct {
	SigningMethod  string        `toml:"signing_method"`
	SigningKey     string        `toml:"signing_key"`
	SigningKeyFile string        `toml:"signing_key_file"`
	PublicKeyFile  string        `toml:"public_key_file"`
	KeyID          string        `toml:"key_id"`
	Issuer         string        `toml:"issuer"`
	Audience       string        `toml:"audience"`
	SessionTTL     time.Duration `toml:"session_ttl"`
	ChallengeTTL   time.Duration `toml:"challenge_ttl"`
	MaxAttempts    int           `toml:"max_attempts"`
	Cooldown       time.Duration `toml:"cooldown"`
	TOTPIssuer     string        `toml:"totp_issuer"`
	AuditEnabled   bool          `toml:"audit_enabled"`
}

// Default returns settings for a local run against Redis on localhost.
func Default() Config {
	engine := goReauth.DefaultConfig()
	return Config{
		Service: ServiceConfig{
			Name:        "reauthd",
			Environment: "dev",
			LogLevel:    "info",
		},
		HTTP: HTTPConfig{
			Addr:              ":8080",
			ReauthRateLimit:   30,
			ReauthRateWindow:  time.Minute,
			RequestTimeout:    15 * time.Second,
			ReadHeaderTimeout: 10 * time.Second,
			ShutdownTimeout:   10 * time.Second,
			MetricsEnabled:    true,
		},
		Redis: RedisConfig{
			Addr:            "localhost:6379",
			BroadcastPrefix: "reauthd",
		},
		Store: StoreConfig{
			Driver:       "memory",
			MaxOpenConns: 10,
		},
		Auth: AuthConfig{
			SigningMethod: engine.JWT.SigningMethod,
			SessionTTL:    engine.JWT.SessionTTL,
			ChallengeTTL:  engine.Reauth.ChallengeTTL,
			MaxAttempts:   engine.Limits.MaxAttempts,
			Cooldown:      engine.Limits.Cooldown,
			TOTPIssuer:    engine.TOTP.Issuer,
			AuditEnabled:  true,
		},
	}
}

// LoadOptions names the files Load reads. Empty paths are skipped.
type LoadOptions struct {
	File    string
	EnvFile string
	// Lookup replaces os.LookupEnv. Tests use it to avoid touching the
	// process environment.
	Lookup func(string) (string, bool)
}

// Load builds a validated Config.
func Load(opts LoadOptions) (Config, error) {
	cfg := Default()

	if opts.File != "" {
		md, err := toml.DecodeFile(opts.File, &cfg)
		if err != nil {
			return Config{}, fmt.Errorf("config: decode %s: %w", opts.File, err)
		}
		if undecoded := md.Undecoded(); len(undecoded) > 0 {
			return Config{}, fmt.Errorf("config: unknown keys in %s: %v", opts.File, undecoded)
		}
	}

	lookup := opts.Lookup
	if lookup == nil {
		lookup = os.LookupEnv
	}
	if opts.EnvFile != "" {
		dotenv, err := godotenv.Read(opts.EnvFile)
		if err != nil && !errors.Is(err, fs.ErrNotExist) {
			return Config{}, fmt.Errorf("config: read %s: %w", opts.EnvFile, err)
		}
		lookup = layered(lookup, dotenv)
	}
	if err := applyEnv(&cfg, lookup); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	if _, err := ParseLevel(c.Service.LogLevel); err != nil {
		return err
	}
	if c.Service.OTelLogInterval < 0 {
		return errors.New("config: service.otel_log_interval must be >= 0")
	}
	if strings.TrimSpace(c.HTTP.Addr) == "" {
		return errors.New("config: http.addr is required")
	}
	if c.HTTP.ReauthRateLimit < 0 {
		return errors.New("config: http.reauth_rate_limit must be >= 0")
	}
	if c.HTTP.ReauthRateLimit > 0 && c.HTTP.ReauthRateWindow <= 0 {
		return errors.New("config: http.reauth_rate_window must be > 0")
	}
	if strings.TrimSpace(c.Redis.Addr) == "" {
		return errors.New("config: redis.addr is required")
	}
	switch c.Store.Driver {
	case "memory":
		if c.Store.SeedUser != "" && c.Store.SeedPassword == "" {
			return errors.New("config: store.seed_password is required with store.seed_user")
		}
	case "postgres":
		if strings.TrimSpace(c.Store.DatabaseURL) == "" {
			return errors.New("config: store.database_url is required for postgres")
		}
	default:
		return fmt.Errorf("config: unknown store.driver %q", c.Store.Driver)
	}
	switch c.Auth.SigningMethod {
	case "hs256":
		if c.Auth.SigningKey == "" && c.Auth.SigningKeyFile == "" {
			return errors.New("config: auth.signing_key or auth.signing_key_file is required")
		}
	case "ed25519":
		if c.Auth.SigningKeyFile == "" || c.Auth.PublicKeyFile == "" {
			return errors.New("config: ed25519 needs auth.signing_key_file and auth.public_key_file")
		}
	default:
		return fmt.Errorf("config: unknown auth.signing_method %q", c.Auth.SigningMethod)
	}
	return nil
}

// EngineConfig maps the operator settings onto the engine's Config, reading
// key files as needed. The result still goes through Builder validation.
func (c *Config) EngineConfig() (goReauth.Config, error) {
	out := goReauth.DefaultConfig()
	out.JWT.SigningMethod = c.Auth.SigningMethod
	out.JWT.KeyID = c.Auth.KeyID
	out.JWT.Issuer = c.Auth.Issuer
	out.JWT.Audience = c.Auth.Audience
	if c.Auth.SessionTTL > 0 {
		out.JWT.SessionTTL = c.Auth.SessionTTL
		if out.Session.StampTTL < out.JWT.SessionTTL {
			out.Session.StampTTL = out.JWT.SessionTTL
		}
	}
	if c.Auth.ChallengeTTL > 0 {
		out.Reauth.ChallengeTTL = c.Auth.ChallengeTTL
	}
	if c.Auth.MaxAttempts > 0 {
		out.Limits.MaxAttempts = c.Auth.MaxAttempts
	}
	if c.Auth.Cooldown > 0 {
		out.Limits.Cooldown = c.Auth.Cooldown
	}
	if c.Auth.TOTPIssuer != "" {
		out.TOTP.Issuer = c.Auth.TOTPIssuer
	}
	out.Audit.Enabled = c.Auth.AuditEnabled
	metrics := c.HTTP.MetricsEnabled || c.Service.OTelLogInterval > 0
	out.Metrics.Enabled = metrics
	out.Metrics.EnableLatencyHistograms = metrics

	switch {
	case c.Auth.SigningKeyFile != "":
		key, err := os.ReadFile(c.Auth.SigningKeyFile)
		if err != nil {
			return goReauth.Config{}, fmt.Errorf("config: read signing key: %w", err)
		}
		out.JWT.PrivateKey = key
	default:
		out.JWT.PrivateKey = []byte(c.Auth.SigningKey)
	}
	if c.Auth.PublicKeyFile != "" {
		key, err := os.ReadFile(c.Auth.PublicKeyFile)
		if err != nil {
			return goReauth.Config{}, fmt.Errorf("config: read public key: %w", err)
		}
		out.JWT.PublicKey = key
	}
	return out, nil
}

// ParseLevel maps debug|info|warn|error onto slog levels. Empty means info.
func ParseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return 0, fmt.Errorf("config: unknown log level %q", s)
	}
}

// layered consults the process environment first and the .env values
// second, so a real variable always beats the file.
func layered(primary func(string) (string, bool), fallback map[string]string) func(string) (string, bool) {
	return func(key string) (string, bool) {
		if v, ok := primary(key); ok {
			return v, true
		}
		v, ok := fallback[key]
		return v, ok
	}
}

func applyEnv(c *Config, lookup func(string) (string, bool)) error {
	e := envReader{lookup: lookup}

	e.text("SERVICE_NAME", &c.Service.Name)
	e.text("ENVIRONMENT", &c.Service.Environment)
	e.text("LOG_LEVEL", &c.Service.LogLevel)
	e.duration("OTEL_LOG_INTERVAL", &c.Service.OTelLogInterval)

	e.text("HTTP_ADDR", &c.HTTP.Addr)
	e.list("HTTP_ALLOWED_ORIGINS", &c.HTTP.AllowedOrigins)
	e.integer("HTTP_REAUTH_RATE_LIMIT", &c.HTTP.ReauthRateLimit)
	e.duration("HTTP_REAUTH_RATE_WINDOW", &c.HTTP.ReauthRateWindow)
	e.duration("HTTP_REQUEST_TIMEOUT", &c.HTTP.RequestTimeout)
	e.duration("HTTP_SHUTDOWN_TIMEOUT", &c.HTTP.ShutdownTimeout)
	e.flag("HTTP_METRICS_ENABLED", &c.HTTP.MetricsEnabled)

	e.text("REDIS_ADDR", &c.Redis.Addr)
	e.text("REDIS_PASSWORD", &c.Redis.Password)
	e.integer("REDIS_DB", &c.Redis.DB)
	e.text("REDIS_BROADCAST_PREFIX", &c.Redis.BroadcastPrefix)

	e.text("STORE_DRIVER", &c.Store.Driver)
	e.text("DATABASE_URL", &c.Store.DatabaseURL)
	e.flag("STORE_MIGRATE", &c.Store.Migrate)
	e.integer("STORE_MAX_OPEN_CONNS", &c.Store.MaxOpenConns)
	e.text("STORE_SEED_USER", &c.Store.SeedUser)
	e.text("STORE_SEED_EMAIL", &c.Store.SeedEmail)
	e.text("STORE_SEED_PASSWORD", &c.Store.SeedPassword)

	e.text("AUTH_SIGNING_METHOD", &c.Auth.SigningMethod)
	e.text("AUTH_SIGNING_KEY", &c.Auth.SigningKey)
	e.text("AUTH_SIGNING_KEY_FILE", &c.Auth.SigningKeyFile)
	e.text("AUTH_PUBLIC_KEY_FILE", &c.Auth.PublicKeyFile)
	e.text("AUTH_KEY_ID", &c.Auth.KeyID)
	e.text("AUTH_ISSUER", &c.Auth.Issuer)
	e.text("AUTH_AUDIENCE", &c.Auth.Audience)
	e.duration("AUTH_SESSION_TTL", &c.Auth.SessionTTL)
	e.duration("AUTH_CHALLENGE_TTL", &c.Auth.ChallengeTTL)
	e.integer("AUTH_MAX_ATTEMPTS", &c.Auth.MaxAttempts)
	e.duration("AUTH_COOLDOWN", &c.Auth.Cooldown)
	e.text("AUTH_TOTP_ISSUER", &c.Auth.TOTPIssuer)
	e.flag("AUTH_AUDIT_ENABLED", &c.Auth.AuditEnabled)

	return errors.Join(e.errs...)
}

// envReader applies REAUTHD_* overrides and collects parse failures, so a
// bad value is reported instead of silently falling back.
type envReader struct {
	lookup func(string) (string, bool)
	errs   []error
}

func (e *envReader) get(key string) (string, bool) {
	v, ok := e.lookup(EnvPrefix + key)
	if !ok || v == "" {
		return "", false
	}
	return v, true
}

func (e *envReader) text(key string, dst *string) {
	if v, ok := e.get(key); ok {
		*dst = v
	}
}

func (e *envReader) list(key string, dst *[]string) {
	v, ok := e.get(key)
	if !ok {
		return
	}
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	*dst = out
}

func (e *envReader) integer(key string, dst *int) {
	v, ok := e.get(key)
	if !ok {
		return
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		e.errs = append(e.errs, fmt.Errorf("config: %s%s: %w", EnvPrefix, key, err))
		return
	}
	*dst = n
}

func (e *envReader) duration(key string, dst *time.Duration) {
	v, ok := e.get(key)
	if !ok {
		return
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		e.errs = append(e.errs, fmt.Errorf("config: %s%s: %w", EnvPrefix, key, err))
		return
	}
	*dst = d
}

func (e *envReader) flag(key string, dst *bool) {
	v, ok := e.get(key)
	if !ok {
		return
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		e.errs = append(e.errs, fmt.Errorf("config: %s%s: %w", EnvPrefix, key, err))
		return
	}
	*dst = b
}
