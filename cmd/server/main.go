package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"signet/internal/audit"
	"signet/internal/cleanup"
	"signet/internal/consent"
	"signet/internal/envelope/handler"
	"signet/internal/envelope/models"
	"signet/internal/envelope/service"
	"signet/internal/envelope/store"
	"signet/internal/idempotency"
	"signet/internal/notification"
	"signet/internal/platform/config"
	"signet/internal/platform/database"
	"signet/internal/platform/httpserver"
	"signet/internal/platform/logger"
	"signet/internal/platform/metrics"
	"signet/internal/platform/middleware"
	"signet/internal/ratelimit"
	"signet/internal/retry"
	"signet/internal/signing"
	"signet/internal/token"
	"signet/internal/tracer"
)

// main wires high-level dependencies, exposes the HTTP router, and keeps the
// server lifecycle small. Business logic lives in internal services packages.
func main() {
	cfg := config.FromEnv()
	log := logger.New(cfg.LogLevel)

	log.Info("initializing signet",
		"addr", cfg.Addr,
		"database", cfg.DatabaseURL != "",
		"signing_provider", cfg.SigningProviderURL != "",
	)

	dbCfg := database.DefaultConfig()
	dbCfg.URL = cfg.DatabaseURL
	pool, err := database.New(dbCfg)
	if err != nil {
		log.Error("database init failed", "error", err)
		os.Exit(1)
	}

	m := metrics.New()
	trc := tracer.NewOTel()

	var (
		envelopeStore store.Store
		auditStore    audit.Store
		idemStore     idempotency.Store
		windowStore   ratelimit.Store
		consentStore  consent.Store
		tokenStore    token.Store
	)
	if pool != nil {
		envelopeStore = store.NewPostgres(pool.DB())
		auditStore = audit.NewPostgres(pool.DB())
		idemStore = idempotency.NewPostgres(pool.DB())
		windowStore = ratelimit.NewPostgres(pool.DB())
		consentStore = consent.NewPostgres(pool.DB())
		tokenStore = token.NewPostgres(pool.DB())
	} else {
		log.Warn("no database configured, using in-memory stores")
		envelopeStore = store.New()
		auditStore = audit.NewInMemoryStore()
		idemStore = idempotency.NewInMemoryStore()
		windowStore = ratelimit.NewInMemoryStore()
		consentStore = consent.NewInMemoryStore()
		tokenStore = token.NewInMemoryStore()
	}

	ledger := audit.NewLedger(auditStore, audit.WithLogger(log), audit.WithMetrics(m))
	guard := idempotency.NewGuard(idemStore,
		idempotency.WithLogger(log),
		idempotency.WithMetrics(m),
		idempotency.WithTTL(cfg.IdempotencyTTL),
	)
	limiter := ratelimit.New(windowStore, ratelimit.WithLogger(log), ratelimit.WithMetrics(m))
	consents := consent.NewService(consentStore, ledger, consent.WithLogger(log))
	tokens := token.NewService(tokenStore, cfg.TokenSigningKey,
		token.WithLogger(log),
		token.WithTTL(cfg.TokenTTL),
	)

	var provider signing.Provider
	if cfg.SigningProviderURL != "" {
		provider = signing.NewHTTPProvider(cfg.SigningProviderURL, nil)
	} else {
		log.Warn("no signing provider configured, using local HMAC signing")
		provider = signing.NewLocalProvider([]byte(cfg.TokenSigningKey))
	}
	policy := retry.NewPolicy(100*time.Millisecond, 5*time.Second, cfg.SigningMaxAttempts, retry.JitterDecorrelated)
	signer := signing.NewService(provider, policy,
		signing.WithLogger(log),
		signing.WithMetrics(m),
		signing.WithTracer(trc),
		signing.WithAttemptTimeout(cfg.SigningTimeout),
	)

	notifier := notification.NewDispatcher(notification.NewLogSink(log),
		notification.WithLogger(log),
		notification.WithMetrics(m),
		notification.WithTracer(trc),
	)

	svc := service.NewService(envelopeStore, ledger, guard, limiter, consents,
		service.WithLogger(log),
		service.WithMetrics(m),
		service.WithTracer(trc),
		service.WithSigner(signer),
		service.WithNotifier(notifier),
		service.WithTokens(tokens),
		service.WithSaveRetries(cfg.SaveRetries),
		service.WithRosterPolicy(models.RosterPolicy(cfg.RosterPolicy)),
		service.WithPartyLimit(cfg.MaxPartiesPerWindow, cfg.PartyWindow),
	)

	router := chi.NewRouter()
	router.Use(middleware.Recovery(log))
	router.Use(middleware.RequestID)
	router.Use(middleware.RequestTime)
	router.Use(middleware.Logger(log))

	router.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if err := pool.Ping(r.Context()); err != nil {
			http.Error(w, "database unreachable", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	})
	router.Handle("/metrics", promhttp.Handler())

	handler.New(svc, tokens, log).Mount(router)

	workerCtx, stopWorkers := context.WithCancel(context.Background())
	worker := cleanup.New(guard, windowStore,
		cleanup.WithLogger(log),
		cleanup.WithMetrics(m),
		cleanup.WithInterval(cfg.CleanupInterval),
	)
	go func() {
		_ = worker.Start(workerCtx)
	}()

	srv := httpserver.New(cfg.Addr, router)

	log.Info("starting http server", "addr", cfg.Addr)

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	// Graceful shutdown on SIGINT
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt)
	<-quit

	log.Info("shutting down server gracefully")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Error("graceful shutdown failed", "error", err)
		os.Exit(1)
	}

	stopWorkers()
	notifier.Drain()
	if err := pool.Close(); err != nil {
		log.Error("database close failed", "error", err)
	}

	log.Info("server stopped")
}
