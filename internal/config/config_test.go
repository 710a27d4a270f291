package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func envMap(m map[string]string) func(string) (string, bool) {
	return func(k string) (string, bool) {
		v, ok := m[k]
		return v, ok
	}
}

func writeFile(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadDefaultsNeedSigningKey(t *testing.T) {
	_, err := Load(LoadOptions{Lookup: envMap(nil)})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ed25519")
}

func TestLoadFileThenEnv(t *testing.T) {
	file := writeFile(t, "reauthd.toml", `
[service]
log_level = "debug"

[http]
addr = ":9000"
allowed_origins = ["https://app.example"]
reauth_rate_window = "30s"

[auth]
signing_method = "hs256"
signing_key = "from-file"
challenge_ttl = "2m"
`)
	cfg, err := Load(LoadOptions{
		File: file,
		Lookup: envMap(map[string]string{
			"REAUTHD_HTTP_ADDR":         ":9100",
			"REAUTHD_AUTH_MAX_ATTEMPTS": "7",
			"REAUTHD_REDIS_ADDR":        "",
		}),
	})
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.Service.LogLevel)
	assert.Equal(t, ":9100", cfg.HTTP.Addr)
	assert.Equal(t, []string{"https://app.example"}, cfg.HTTP.AllowedOrigins)
	assert.Equal(t, 30*time.Second, cfg.HTTP.ReauthRateWindow)
	assert.Equal(t, 2*time.Minute, cfg.Auth.ChallengeTTL)
	assert.Equal(t, 7, cfg.Auth.MaxAttempts)
	// Empty variables do not clear file or default values.
	assert.Equal(t, "localhost:6379", cfg.Redis.Addr)
}

func TestLoadRejectsUnknownKeys(t *testing.T) {
	file := writeFile(t, "reauthd.toml", `
[auth]
signing_method = "hs256"
signing_key = "k"
sigining_key = "typo"
`)
	_, err := Load(LoadOptions{File: file, Lookup: envMap(nil)})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "sigining_key")
}

func TestDotenvBelowProcessEnv(t *testing.T) {
	envFile := writeFile(t, ".env", "REAUTHD_AUTH_SIGNING_METHOD=hs256\nREAUTHD_AUTH_SIGNING_KEY=from-dotenv\nREAUTHD_LOG_LEVEL=warn\n")
	cfg, err := Load(LoadOptions{
		EnvFile: envFile,
		Lookup:  envMap(map[string]string{"REAUTHD_LOG_LEVEL": "error"}),
	})
	require.NoError(t, err)
	assert.Equal(t, "from-dotenv", cfg.Auth.SigningKey)
	assert.Equal(t, "error", cfg.Service.LogLevel)
}

func TestMissingDotenvIgnored(t *testing.T) {
	_, err := Load(LoadOptions{
		EnvFile: filepath.Join(t.TempDir(), "absent.env"),
		Lookup: envMap(map[string]string{
			"REAUTHD_AUTH_SIGNING_METHOD": "hs256",
			"REAUTHD_AUTH_SIGNING_KEY":    "k",
		}),
	})
	assert.NoError(t, err)
}

func TestBadEnvValuesReported(t *testing.T) {
	_, err := Load(LoadOptions{Lookup: envMap(map[string]string{
		"REAUTHD_AUTH_SIGNING_METHOD":    "hs256",
		"REAUTHD_AUTH_SIGNING_KEY":       "k",
		"REAUTHD_AUTH_COOLDOWN":          "soon",
		"REAUTHD_HTTP_METRICS_ENABLED":   "maybe",
		"REAUTHD_HTTP_REAUTH_RATE_LIMIT": "ten",
	})})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "REAUTHD_AUTH_COOLDOWN")
	assert.Contains(t, err.Error(), "REAUTHD_HTTP_METRICS_ENABLED")
	assert.Contains(t, err.Error(), "REAUTHD_HTTP_REAUTH_RATE_LIMIT")
}

func TestValidate(t *testing.T) {
	base := func() Config {
		c := Default()
		c.Auth.SigningMethod = "hs256"
		c.Auth.SigningKey = "k"
		return c
	}
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"bad log level", func(c *Config) { c.Service.LogLevel = "loud" }},
		{"no addr", func(c *Config) { c.HTTP.Addr = " " }},
		{"no redis", func(c *Config) { c.Redis.Addr = "" }},
		{"rate window", func(c *Config) { c.HTTP.ReauthRateWindow = 0 }},
		{"unknown driver", func(c *Config) { c.Store.Driver = "sqlite" }},
		{"postgres without url", func(c *Config) { c.Store.Driver = "postgres" }},
		{"seed without password", func(c *Config) { c.Store.SeedUser = "alice" }},
		{"hs256 without key", func(c *Config) { c.Auth.SigningKey = "" }},
		{"unknown signing", func(c *Config) { c.Auth.SigningMethod = "rs256" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := base()
			tt.mutate(&c)
			assert.Error(t, c.Validate())
		})
	}
	c := base()
	assert.NoError(t, c.Validate())
}

func TestEngineConfigMapping(t *testing.T) {
	c := Default()
	c.Auth.SigningMethod = "hs256"
	c.Auth.SigningKey = "secret"
	c.Auth.SessionTTL = 40 * 24 * time.Hour
	c.Auth.ChallengeTTL = time.Minute
	c.Auth.Issuer = "reauthd"

	ec, err := c.EngineConfig()
	require.NoError(t, err)
	assert.Equal(t, []byte("secret"), ec.JWT.PrivateKey)
	assert.Equal(t, "reauthd", ec.JWT.Issuer)
	assert.Equal(t, time.Minute, ec.Reauth.ChallengeTTL)
	assert.GreaterOrEqual(t, ec.Session.StampTTL, ec.JWT.SessionTTL)
	assert.True(t, ec.Audit.Enabled)
	require.NoError(t, ec.Validate())
}

func TestOTelLogIntervalEnablesEngineMetrics(t *testing.T) {
	c := Default()
	c.Auth.SigningMethod = "hs256"
	c.Auth.SigningKey = "secret"
	c.HTTP.MetricsEnabled = false

	ec, err := c.EngineConfig()
	require.NoError(t, err)
	assert.False(t, ec.Metrics.Enabled)

	c.Service.OTelLogInterval = 30 * time.Second
	ec, err = c.EngineConfig()
	require.NoError(t, err)
	assert.True(t, ec.Metrics.Enabled)

	cfg, err := Load(LoadOptions{Lookup: envMap(map[string]string{
		"REAUTHD_AUTH_SIGNING_METHOD": "hs256",
		"REAUTHD_AUTH_SIGNING_KEY":    "secret",
		"REAUTHD_OTEL_LOG_INTERVAL":   "1m",
	})})
	require.NoError(t, err)
	assert.Equal(t, time.Minute, cfg.Service.OTelLogInterval)

	c.Service.OTelLogInterval = -time.Second
	assert.Error(t, c.Validate())
}

func TestEngineConfigReadsKeyFiles(t *testing.T) {
	c := Default()
	c.Auth.SigningKeyFile = writeFile(t, "priv.pem", "PRIVATE")
	c.Auth.PublicKeyFile = writeFile(t, "pub.pem", "PUBLIC")

	ec, err := c.EngineConfig()
	require.NoError(t, err)
	assert.Equal(t, []byte("PRIVATE"), ec.JWT.PrivateKey)
	assert.Equal(t, []byte("PUBLIC"), ec.JWT.PublicKey)

	c.Auth.PublicKeyFile = filepath.Join(t.TempDir(), "missing.pem")
	_, err = c.EngineConfig()
	assert.Error(t, err)
}

func TestParseLevel(t *testing.T) {
	lvl, err := ParseLevel("WARN")
	require.NoError(t, err)
	assert.Equal(t, slog.LevelWarn, lvl)
	lvl, err = ParseLevel("")
	require.NoError(t, err)
	assert.Equal(t, slog.LevelInfo, lvl)
	_, err = ParseLevel("trace")
	assert.Error(t, err)
}
