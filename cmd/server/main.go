package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"

	"github.com/brightpath/backend/internal/clientstate"
	"github.com/brightpath/backend/internal/config"
	"github.com/brightpath/backend/internal/domain"
	"github.com/brightpath/backend/internal/handler"
	"github.com/brightpath/backend/internal/logger"
	"github.com/brightpath/backend/internal/metrics"
	appMiddleware "github.com/brightpath/backend/internal/middleware"
	"github.com/brightpath/backend/internal/notify"
	"github.com/brightpath/backend/internal/repository"
	"github.com/brightpath/backend/internal/service"
	"github.com/brightpath/backend/internal/ws"
	"github.com/brightpath/backend/pkg/backendapi"
	"github.com/brightpath/backend/pkg/crypto"
	"github.com/brightpath/backend/pkg/payment"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config error: %v\n", err)
		os.Exit(1)
	}
	log := logger.New(cfg.LogLevel, cfg.IsDevelopment())

	if err := run(cfg, log); err != nil {
		log.Fatal().Err(err).Msg("server stopped")
	}
}

func run(cfg *config.Config, log zerolog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := domain.ValidateCourseMapping(); err != nil {
		return err
	}
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(propagation.TraceContext{}, propagation.Baggage{}))

	// Initialize database
	db, err := repository.NewDB(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("database: %w", err)
	}
	defer db.Close()

	if err := repository.RunMigrations(ctx, db); err != nil {
		return fmt.Errorf("migrations: %w", err)
	}
	log.Info().Msg("database connected and migrated")

	sealer, err := crypto.NewSealer(cfg.EncryptionKey)
	if err != nil {
		return fmt.Errorf("encryption: %w", err)
	}

	// Client-held state
	var client clientstate.Store
	if cfg.RedisURL != "" {
		rs, err := clientstate.NewRedisStore(ctx, cfg.RedisURL)
		if err != nil {
			return fmt.Errorf("redis: %w", err)
		}
		defer rs.Close()
		client = rs
		log.Info().Msg("client state stored in redis")
	} else {
		client = clientstate.NewMemoryStore()
		log.Warn().Msg("REDIS_URL not set, client state is process-local")
	}

	// Backend API and gateway
	var (
		gateway payment.Gateway
		backend *backendapi.Client
	)
	if cfg.BackendAPIURL != "" {
		backend, err = backendapi.New(cfg.BackendAPIURL, cfg.BackendAPIKey, cfg.BackendTimeout)
		if err != nil {
			return err
		}
		gateway = backend
	} else {
		gateway = payment.NewMockGateway()
		log.Warn().Msg("BACKEND_API_URL not set, using the mock payment gateway")
	}

	var subStore service.SubscriptionStore = repository.NewSubscriptionRepository(db)
	if cfg.SubscriptionStore == config.StoreBackend {
		subStore = backend
	}

	local, err := payment.NewLocalProvider(cfg.LocalCountryCode, cfg.LocalCurrency, cfg.LocalMethods)
	if err != nil {
		return err
	}
	intl := payment.NewInternationalProvider(cfg.PriceIDs)

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)
	hub := notify.NewHub()

	// Initialize services
	sessions := repository.NewPaymentSessionRepository(db, sealer)
	events := repository.NewWebhookEventRepository(db)
	authSvc := service.NewAuthService(cfg.JWTSecret)
	accessSvc := service.NewAccessService(subStore)
	subSvc := service.NewSubscriptionService(subStore, sessions, client, hub, m, logger.Component(log, "subscription"))
	checkoutSvc := service.NewCheckoutService(gateway, local, intl, sessions, client, hub, m,
		logger.Component(log, "checkout"), cfg.PublicAPIURL, cfg.BackendTimeout)
	reconcileSvc := service.NewReconcileService(sessions, events, gateway, subSvc, hub, m,
		logger.Component(log, "webhook"), cfg.BackendTimeout)
	retrier := service.NewProvisioningRetrier(sessions, subSvc, m, logger.Component(log, "retrier"), cfg.ProvisionRetryInterval)
	retrier.Start(ctx)

	// Initialize handlers
	deps := map[string]handler.Pinger{"database": db, "clientState": client}
	if backend != nil {
		deps["backendApi"] = backend
	}
	healthHandler := handler.NewHealthHandler(deps)
	plansHandler := handler.NewPlansHandler()
	paymentHandler := handler.NewPaymentHandler(checkoutSvc, handler.NewOriginPolicy(cfg.CORSOrigins, cfg.AppOrigin))
	webhookHandler := handler.NewWebhookHandler(reconcileSvc)
	subscriptionHandler := handler.NewSubscriptionHandler(subSvc)
	accessHandler := handler.NewAccessHandler(accessSvc)
	adminHandler := handler.NewAdminHandler(subSvc, retrier)
	eventsHandler := ws.NewEventsHandler(authSvc, hub, cfg.AllowedOrigin, logger.Component(log, "events"))

	// Build router
	r := chi.NewRouter()

	// Global middleware
	r.Use(appMiddleware.Logger(log))
	r.Use(appMiddleware.Recovery)
	r.Use(m.Middleware)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS", "PATCH"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", appMiddleware.RequestIDHeader},
		ExposedHeaders:   []string{appMiddleware.RequestIDHeader},
		AllowCredentials: true,
		MaxAge:           300,
	}))
	r.Use(appMiddleware.NewRateLimiter(ctx, cfg.RateLimitRPS, cfg.RateLimitBurst).Middleware())

	// Public routes
	r.Get("/health", healthHandler.Check)
	r.Handle("/metrics", m.Handler())
	r.Get("/api/plans", plansHandler.List)
	r.Get("/api/plans/{id}", plansHandler.Get)
	r.Get("/payment/webhook", webhookHandler.Ack)
	r.Post("/payment/webhook", webhookHandler.Receive)

	// WebSocket event stream (auth via query param)
	r.Get("/api/payment/events", eventsHandler.Handle)

	// Protected API routes
	r.Group(func(r chi.Router) {
		r.Use(appMiddleware.Auth(authSvc))

		r.Group(func(r chi.Router) {
			r.Use(appMiddleware.StrictRateLimiter(ctx))
			r.Post("/api/payment/local", paymentHandler.CreateLocal)
			r.Post("/api/payment/international", paymentHandler.CreateInternational)
		})
		r.Get("/api/payment/session", paymentHandler.GetSession)
		r.Delete("/api/payment/session", paymentHandler.ClearSession)

		r.Post("/api/subscriptions/confirm", subscriptionHandler.Confirm)
		r.Get("/api/subscriptions/current", subscriptionHandler.Current)

		r.Get("/api/courses/access", accessHandler.Check)
		r.Get("/api/courses/accessible", accessHandler.Accessible)

		// Admin routes
		r.Group(func(r chi.Router) {
			r.Use(appMiddleware.AdminOnly)
			r.Post("/api/admin/subscriptions", adminHandler.GrantSubscription)
			r.Get("/api/admin/provisioning", adminHandler.Provisioning)
			r.Post("/api/admin/provisioning/retry", adminHandler.RetryProvisioning)
		})
	})

	addr := fmt.Sprintf("0.0.0.0:%d", cfg.Port)
	server := &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadTimeout:       30 * time.Second,
		ReadHeaderTimeout: 10 * time.Second,
		// WriteTimeout must be 0 for WebSocket connections (they are long-lived)
		IdleTimeout: 120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", addr).Str("store", cfg.SubscriptionStore).Msg("brightpath backend listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	log.Info().Msg("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}
