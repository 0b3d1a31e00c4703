// Package main is the entry point for the Receiptless API server.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"

	"github.com/receiptless/receiptless/internal/api"
	"github.com/receiptless/receiptless/internal/audit"
	"github.com/receiptless/receiptless/internal/auth"
	"github.com/receiptless/receiptless/internal/config"
	"github.com/receiptless/receiptless/internal/db"
	"github.com/receiptless/receiptless/internal/evidence"
	"github.com/receiptless/receiptless/internal/health"
	"github.com/receiptless/receiptless/internal/merchant"
	"github.com/receiptless/receiptless/internal/middleware"
	"github.com/receiptless/receiptless/internal/proof"
	"github.com/receiptless/receiptless/internal/tracing"
)

const serviceName = "receiptless-api"

func main() {
	configPath := flag.String("config", "", "path to optional YAML config file")
	hashPassword := flag.String("hash-password", "", "print a bcrypt hash for the given password and exit")
	help := flag.Bool("help", false, "display help message")
	flag.Parse()

	if *help {
		fmt.Println("Receiptless API Server")
		fmt.Println()
		fmt.Println("Usage: api [options]")
		fmt.Println()
		fmt.Println("Options:")
		flag.PrintDefaults()
		os.Exit(0)
	}

	// Provisioning helper for ADMIN_PASSWORD_HASH.
	if *hashPassword != "" {
		hash, err := auth.HashPassword(*hashPassword)
		if err != nil {
			fmt.Fprintln(os.Stderr, "failed to hash password:", err)
			os.Exit(1)
		}
		fmt.Println(hash)
		os.Exit(0)
	}

	cfg, errs := config.Load(*configPath)
	if len(errs) > 0 {
		for _, err := range errs {
			fmt.Fprintln(os.Stderr, "config error:", err)
		}
		os.Exit(1)
	}

	logger := middleware.NewLogger(cfg.Env)
	slog.SetDefault(logger)

	if err := run(cfg, logger); err != nil {
		logger.Error("server exited with error", "error", err)
		os.Exit(1)
	}
	logger.Info("server stopped")
}

func run(cfg *config.Config, logger *slog.Logger) error {
	ctx := context.Background()

	tracer, err := tracing.NewProvider(tracing.Config{
		ServiceName:  serviceName,
		Environment:  cfg.Env,
		OTLPEndpoint: cfg.OTLPEndpoint,
		SamplingRate: 1.0,
		InsecureMode: !cfg.IsProduction(),
	})
	if err != nil {
		return fmt.Errorf("init tracing: %w", err)
	}

	conn, err := db.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer conn.Close()

	if err := db.Migrate(ctx, conn, logger); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}

	// Metrics registry for everything the server exports.
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	mwMetrics := middleware.NewMetrics()
	if err := mwMetrics.Register(registry); err != nil {
		return fmt.Errorf("register middleware metrics: %w", err)
	}
	proofMetrics := proof.NewMetrics()
	if err := proofMetrics.Register(registry); err != nil {
		return fmt.Errorf("register proof metrics: %w", err)
	}

	// Redis is optional: it upgrades rate limiting to a shared store and
	// adds a health check.
	var redisClient *redis.Client
	var limitStore middleware.RateLimitStore
	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return fmt.Errorf("parse REDIS_URL: %w", err)
		}
		redisClient = redis.NewClient(opts)
		defer redisClient.Close()
		limitStore = middleware.NewRedisRateLimitStore(redisClient, mwMetrics, logger)
		logger.Info("rate limiting backed by redis")
	} else {
		memStore := middleware.NewInMemoryRateLimitStore()
		go func() {
			ticker := time.NewTicker(time.Minute)
			defer ticker.Stop()
			for range ticker.C {
				memStore.Cleanup()
			}
		}()
		limitStore = memStore
	}

	blobs, err := evidence.NewS3Store(evidence.S3Config{
		Bucket:          cfg.EvidenceBucketName,
		AccessKeyID:     cfg.EvidenceAccessKeyID,
		SecretAccessKey: cfg.EvidenceSecretAccessKey,
		Endpoint:        cfg.EvidenceEndpoint,
	})
	if err != nil {
		return fmt.Errorf("init evidence store: %w", err)
	}

	journal := audit.NewPostgresRepository(conn)
	broadcaster := audit.NewBroadcaster()
	proofs := proof.NewService(
		proof.NewPostgresRepository(conn, logger),
		broadcaster,
		logger,
		proof.WithPublicIDLength(cfg.PublicIDLength),
		proof.WithMetrics(proofMetrics),
	)
	authority := merchant.NewAuthority(merchant.NewPostgresRepository(conn), logger)

	sessionTTL := time.Duration(cfg.SessionTTLHours) * time.Hour
	sessions := auth.NewSessionStore(sessionTTL)
	tokens := auth.NewTokenService(cfg.SessionSecret, sessionTTL)

	checkers := map[string]health.Checker{
		"database": health.NewDBChecker(conn),
	}
	if redisClient != nil {
		checkers["redis"] = health.NewRedisChecker(redisClient)
	}

	mux := api.NewRouter(api.RouterConfig{
		Proofs:    api.NewProofHandlers(proofs, blobs, int64(cfg.EvidenceMaxSizeMB)<<20),
		Merchants: api.NewMerchantHandlers(proofs),
		Admin: api.NewAdminHandlers(api.AdminHandlersConfig{
			Proofs:        proofs,
			Journal:       journal,
			Broadcaster:   broadcaster,
			Authority:     authority,
			Blobs:         blobs,
			Sessions:      sessions,
			Tokens:        tokens,
			AdminUsername: cfg.AdminUsername,
			PasswordHash:  cfg.AdminPasswordHash,
			Logger:        logger,
		}),
		Health:         api.NewHealthHandlers(checkers),
		Authority:      authority,
		Sessions:       sessions,
		Tokens:         tokens,
		Metrics:        mwMetrics,
		RateLimitStore: limitStore,
		LoginLimit:     middleware.DefaultLoginLimit(),
		CreateLimit:    middleware.DefaultCreateLimit(),
		Registry:       registry,
	})

	cors := middleware.CORS(middleware.CORSConfig{
		AllowedOrigins: splitOrigins(cfg.CORSAllowedOrigins),
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: middleware.DefaultCORSHeaders,
		MaxAge:         600,
	})
	globalLimit := middleware.RateLimiter(limitStore, middleware.DefaultGlobalLimit(), middleware.IPKeyFunc())

	// Outer chain: RequestID -> Tracing -> Logging -> HTTPMetrics -> CORS -> global limit.
	handler := middleware.RequestID(
		middleware.Tracing(serviceName)(
			middleware.Logging(logger)(
				middleware.HTTPMetrics(mwMetrics)(
					cors(globalLimit(mux))))))

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("starting server", "port", cfg.Port, "env", cfg.Env)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case sig := <-quit:
		logger.Info("shutting down server...", "signal", sig.String())
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	if err := tracer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("failed to flush traces", "error", err)
	}
	return nil
}

func splitOrigins(raw string) []string {
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
