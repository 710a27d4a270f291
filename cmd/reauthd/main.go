// Command reauthd serves the step-up reauthentication HTTP API.
//
// Configuration comes from an optional TOML file (-config), an optional
// .env file (-env) and REAUTHD_* environment variables, in that order of
// increasing precedence. A minimal local run:
//
//	REAUTHD_AUTH_SIGNING_METHOD=hs256 \
//	REAUTHD_AUTH_SIGNING_KEY=dev-secret \
//	REAUTHD_STORE_SEED_USER=alice \
//	REAUTHD_STORE_SEED_PASSWORD=correct-horse-battery \
//	go run ./cmd/reauthd
//
// Then:
//
//	curl -s -X POST localhost:8080/v1/session/login \
//	  -d '{"identifier":"alice","password":"correct-horse-battery"}'
//
// Setting REAUTHD_OTEL_LOG_INTERVAL (for example 1m) also logs the engine
// counters on the "metrics" stream through the OpenTelemetry SDK.
package main

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	goReauth "github.com/MrEthical07/goReauth"
	"github.com/MrEthical07/goReauth/broadcast"
	"github.com/MrEthical07/goReauth/httpapi"
	"github.com/MrEthical07/goReauth/internal/config"
	otelexport "github.com/MrEthical07/goReauth/metrics/export/otel"
	promexport "github.com/MrEthical07/goReauth/metrics/export/prometheus"
	"github.com/MrEthical07/goReauth/password"
	"github.com/MrEthical07/goReauth/store/memory"
	"github.com/MrEthical07/goReauth/store/postgres"
	"github.com/redis/go-redis/v9"
)

func main() {
	configPath := flag.String("config", "", "path to a TOML config file")
	envPath := flag.String("env", ".env", "path to a .env file; missing is fine")
	flag.Parse()

	cfg, err := config.Load(config.LoadOptions{File: *configPath, EnvFile: *envPath})
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	logger := newLogger(cfg.Service)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("reauthd stopped", "err", err)
		os.Exit(1)
	}
}

func newLogger(svc config.ServiceConfig) *slog.Logger {
	level, _ := config.ParseLevel(svc.LogLevel)
	h := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level})
	return slog.New(h).With("service", svc.Name, "env", svc.Environment)
}

func run(ctx context.Context, cfg config.Config, logger *slog.Logger) error {
	engineCfg, err := cfg.EngineConfig()
	if err != nil {
		return err
	}

	rdb := redis.NewUniversalClient(&redis.UniversalOptions{
		Addrs:    []string{cfg.Redis.Addr},
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer rdb.Close()
	if err := rdb.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping: %w", err)
	}

	store, closeStore, err := openStore(ctx, cfg.Store, engineCfg.Password, logger)
	if err != nil {
		return err
	}
	defer closeStore()

	engine, err := goReauth.New().
		WithConfig(engineCfg).
		WithRedis(rdb).
		WithAccountStore(store).
		WithAuditSink(goReauth.NewSlogSink(logger.With("stream", "audit"))).
		WithLogger(logger).
		Build()
	if err != nil {
		return fmt.Errorf("engine build: %w", err)
	}
	defer engine.Close()

	report := engine.SecurityReport()
	logger.Info("engine ready",
		"signing", report.SigningAlgorithm,
		"session_ttl", report.SessionTTL,
		"challenge_ttl", report.ChallengeTTL,
		"methods", report.Methods,
		"max_attempts", report.MaxAttempts,
		"audit", report.AuditEnabled,
	)

	if cfg.Service.OTelLogInterval > 0 {
		pipeline, err := otelexport.StartLogPipeline(engine, logger.With("stream", "metrics"), cfg.Service.OTelLogInterval)
		if err != nil {
			return fmt.Errorf("otel pipeline: %w", err)
		}
		defer func() {
			flushCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
			defer cancel()
			if err := pipeline.Shutdown(flushCtx); err != nil {
				logger.Warn("otel pipeline shutdown failed", "err", err)
			}
		}()
	}

	var metrics http.Handler
	if cfg.HTTP.MetricsEnabled {
		metrics, err = promexport.Handler(promexport.NewCollector(engine))
		if err != nil {
			return err
		}
	}

	router, err := httpapi.NewRouter(httpapi.Options{
		Engine:           engine,
		Topics:           broadcast.RedisTopics{Client: rdb, Prefix: cfg.Redis.BroadcastPrefix},
		Metrics:          metrics,
		AllowedOrigins:   cfg.HTTP.AllowedOrigins,
		ReauthRateLimit:  cfg.HTTP.ReauthRateLimit,
		ReauthRateWindow: cfg.HTTP.ReauthRateWindow,
		RequestTimeout:   cfg.HTTP.RequestTimeout,
		Logger:           logger,
	})
	if err != nil {
		return err
	}

	srv := &http.Server{
		Addr:              cfg.HTTP.Addr,
		Handler:           router,
		ReadHeaderTimeout: cfg.HTTP.ReadHeaderTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("reauthd listening", "addr", srv.Addr, "store", cfg.Store.Driver)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// openStore returns the configured AccountStore and its close func.
func openStore(ctx context.Context, cfg config.StoreConfig, pw goReauth.PasswordConfig, logger *slog.Logger) (goReauth.AccountStore, func(), error) {
	switch cfg.Driver {
	case "postgres":
		db, err := postgres.Open(ctx, cfg.DatabaseURL, cfg.MaxOpenConns)
		if err != nil {
			return nil, nil, err
		}
		if cfg.Migrate {
			if err := postgres.Migrate(ctx, db); err != nil {
				_ = db.Close()
				return nil, nil, err
			}
		}
		return postgres.New(db), closer(db, logger), nil
	default:
		store := memory.New()
		if cfg.SeedUser != "" {
			if err := seed(ctx, store, cfg, pw); err != nil {
				return nil, nil, err
			}
			logger.Warn("memory store seeded; data is lost on restart", "user", cfg.SeedUser)
		}
		return store, func() {}, nil
	}
}

func seed(ctx context.Context, store *memory.Store, cfg config.StoreConfig, pw goReauth.PasswordConfig) error {
	hasher, err := password.NewArgon2(password.Config{
		Memory:           pw.Memory,
		Time:             pw.Time,
		Parallelism:      pw.Parallelism,
		SaltLength:       pw.SaltLength,
		KeyLength:        pw.KeyLength,
		MinPasswordBytes: pw.MinLength,
		MaxPasswordBytes: pw.MaxLength,
	})
	if err != nil {
		return fmt.Errorf("argon2 init: %w", err)
	}
	hash, err := hasher.Hash(cfg.SeedPassword)
	if err != nil {
		return fmt.Errorf("seed password: %w", err)
	}
	_, err = store.CreateUser(ctx, cfg.SeedUser, cfg.SeedEmail, hash)
	return err
}

func closer(db *sql.DB, logger *slog.Logger) func() {
	return func() {
		if err := db.Close(); err != nil {
			logger.Warn("postgres close failed", "err", err)
		}
	}
}
