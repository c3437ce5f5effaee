// Package main is the entry point for the soundlab-api server.
// Identity is issued elsewhere; this service only verifies bearer tokens.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sort"
	"syscall"
	"time"

	"github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/oklog/ulid/v2"
	"github.com/redis/go-redis/v9"

	"github.com/lalrinsangsiama/cultural-sound-lab-sub002/internal/auth"
	"github.com/lalrinsangsiama/cultural-sound-lab-sub002/internal/breaker"
	"github.com/lalrinsangsiama/cultural-sound-lab-sub002/internal/compute"
	"github.com/lalrinsangsiama/cultural-sound-lab-sub002/internal/config"
	"github.com/lalrinsangsiama/cultural-sound-lab-sub002/internal/database"
	"github.com/lalrinsangsiama/cultural-sound-lab-sub002/internal/http/handlers"
	"github.com/lalrinsangsiama/cultural-sound-lab-sub002/internal/http/mw"
	"github.com/lalrinsangsiama/cultural-sound-lab-sub002/internal/http/routes"
	"github.com/lalrinsangsiama/cultural-sound-lab-sub002/internal/idempotency"
	"github.com/lalrinsangsiama/cultural-sound-lab-sub002/internal/logging"
	"github.com/lalrinsangsiama/cultural-sound-lab-sub002/internal/repository"
	"github.com/lalrinsangsiama/cultural-sound-lab-sub002/internal/service"
	"github.com/lalrinsangsiama/cultural-sound-lab-sub002/internal/version"
	"github.com/lalrinsangsiama/cultural-sound-lab-sub002/internal/worker"
)

const defaultRequestTimeout = 30 * time.Second

func main() {
	logger := logging.SetDefault()

	v := version.Get()
	logger.Info("starting soundlab-api",
		"version", v.Version,
		"commit", v.Commit,
		"built", v.Date,
		"go_version", v.GoVersion,
	)

	cfg, err := config.Load()
	if err != nil {
		logger.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	db, err := database.New(context.Background(), database.Options{
		DSN:            cfg.DatabaseURL,
		TursoURL:       cfg.TursoURL,
		TursoAuthToken: cfg.TursoAuthToken,
	})
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer func() { _ = db.Close() }()

	if err := database.Migrate(context.Background(), db, logger); err != nil {
		logger.Error("failed to run migrations", "error", err)
		os.Exit(1)
	}

	repos := repository.NewRepositories(db)

	// Breakers. With Redis configured, state changes are fanned out so every
	// instance (and the admin view) can see what the others observed.
	var publisher *breaker.RedisPublisher
	var redisClient *redis.Client
	registryOpts := []breaker.Option{}
	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			logger.Error("invalid REDIS_URL", "error", err)
			os.Exit(1)
		}
		redisClient = redis.NewClient(opts)
		publisher = breaker.NewRedisPublisher(redisClient, instanceID(), logger)
		registryOpts = append(registryOpts, breaker.WithObserver(publisher))
		logger.Info("breaker state fan-out enabled")
	}
	breakers := breaker.NewRegistry(breaker.NewMetrics(), registryOpts...)

	services, err := service.NewServices(cfg, repos, breakers, logger)
	if err != nil {
		logger.Error("failed to initialize services", "error", err)
		os.Exit(1)
	}
	logger.Info("payment providers configured", "providers", services.Payments.Providers())

	var policyLoader *config.PolicyLoader
	if services.Storage.IsEnabled() && cfg.BreakerPoliciesKey != "" {
		policyLoader = config.NewPolicyLoader(config.S3LoaderConfig{
			Client: services.Storage.Client(),
			Bucket: services.Storage.Bucket(),
			Key:    cfg.BreakerPoliciesKey,
			Logger: logger,
		}, cfg.BreakerPolicies, breakers)
	}

	keys, err := idempotency.Open(cfg.IdempotencyDBPath)
	if err != nil {
		logger.Error("failed to open idempotency store", "error", err, "path", cfg.IdempotencyDBPath)
		os.Exit(1)
	}

	verifier := auth.NewVerifier(cfg.JWTSecret, cfg.JWTIssuer)

	ctx, cancel := context.WithCancel(context.Background())

	poller := worker.New(
		repos.Generation,
		services.Backends,
		breakers,
		services.Status,
		worker.Config{
			PollInterval: cfg.WorkerPollInterval,
			Concurrency:  cfg.WorkerConcurrency,
		},
		logger,
	)
	poller.Start(ctx)

	if policyLoader != nil {
		policyLoader.Start(ctx)
		logger.Info("breaker policy reload enabled", "key", cfg.BreakerPoliciesKey)
	}

	go services.Cleanup.RunScheduledCleanup(ctx, cfg.StaleGenerationAge, cfg.SweepInterval)

	router := chi.NewRouter()

	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(middleware.Logger)
	router.Use(middleware.Recoverer)
	router.Use(mw.ResponseHeaders())
	router.Use(mw.Timeout(mw.TimeoutConfig{
		Default: defaultRequestTimeout,
		Rules: []mw.TimeoutRule{
			// Submission waits on the AI service's own deadline.
			{Method: http.MethodPost, PathPrefix: "/api/v1/generations", Timeout: cfg.AIServiceTimeout + 5*time.Second},
		},
	}))

	router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "Idempotency-Key", "X-Request-ID"},
		ExposedHeaders:   []string{"X-Request-ID", "X-API-Version", "X-RateLimit-Limit", "X-RateLimit-Remaining", "Retry-After"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	router.Use(middleware.RequestSize(1 * 1024 * 1024))
	router.Use(httprate.LimitByIP(100, time.Minute))

	humaConfig := routes.NewHumaConfig(cfg.BaseURL)
	api := humachi.New(router, humaConfig)

	// Routes on the protected sub-routers are documented by the main API's
	// spec via cmd/soundlab-openapi, so these configs serve no docs.
	protectedConfig := routes.NewHumaConfig(cfg.BaseURL)
	protectedConfig.DocsPath = ""
	protectedConfig.OpenAPIPath = ""
	protectedConfig.SchemasPath = ""

	readyChecks := []handlers.ReadinessCheck{
		{Name: "database", Check: db.PingContext},
	}
	if services.Storage.IsEnabled() {
		readyChecks = append(readyChecks, handlers.ReadinessCheck{Name: "storage", Check: services.Storage.Ping})
	}
	backendNames := make([]string, 0, len(services.Backends))
	for name := range services.Backends {
		backendNames = append(backendNames, name)
	}
	sort.Strings(backendNames)
	for _, name := range backendNames {
		if hc, ok := services.Backends[name].(compute.HealthChecker); ok {
			readyChecks = append(readyChecks, handlers.ReadinessCheck{Name: "compute:" + name, Check: hc.Health})
		}
	}

	h := &routes.Handlers{
		HealthCheck: handlers.HealthCheck,
		Livez:       handlers.Livez,
		Readyz:      handlers.NewReadyzHandler(logger, readyChecks...).Readyz,
		Generation:  handlers.NewGenerationHandler(services.Generation, logger),
		License:     handlers.NewLicenseHandler(services.License, logger),
		Payment:     handlers.NewPaymentHandler(services.Payments, keys, cfg.IdempotencyTTL, logger),
	}

	routes.RegisterPublic(api, h)
	routes.DocumentRawEndpoints(api)

	// Provider webhooks and compute callbacks verify their own signatures.
	webhooks := handlers.NewPaymentWebhookHandler(services.Webhooks, logger)
	router.Post("/api/v1/webhooks/stripe", webhooks.HandleStripe)
	router.Post("/api/v1/webhooks/razorpay", webhooks.HandleRazorpay)

	callbacks, err := handlers.NewComputeCallbackHandler(services.Status, cfg.ComputeCallbackSecret, logger)
	if err != nil {
		logger.Error("invalid COMPUTE_CALLBACK_SECRET", "error", err)
		os.Exit(1)
	}
	router.Post("/api/v1/callbacks/compute", callbacks.HandleCallback)
	if cfg.ComputeCallbackSecret == "" {
		logger.Warn("COMPUTE_CALLBACK_SECRET not set - status arrives by polling only")
	}

	router.Get("/api/v1/files/*", handlers.NewFileHandler(services.Storage, logger).ServeFile)

	router.Group(func(r chi.Router) {
		r.Use(mw.Auth(verifier))
		r.Use(mw.RateLimitByUser(cfg.RateLimitPerMinute))

		protectedAPI := humachi.New(r, protectedConfig)
		routes.RegisterProtected(protectedAPI, h)
	})

	if cfg.AdminEnabled {
		var shared handlers.SharedStateReader
		if publisher != nil {
			shared = publisher
		}
		h.Admin = handlers.NewAdminHandler(breakers, shared, services.Webhooks, logger)

		router.Group(func(r chi.Router) {
			r.Use(mw.Auth(verifier))
			r.Use(mw.RequireAdmin())

			adminAPI := humachi.New(r, protectedConfig)
			routes.RegisterAdmin(adminAPI, h)
		})
		logger.Info("admin endpoints enabled")
	}

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: cfg.AIServiceTimeout + 15*time.Second,
		IdleTimeout:  120 * time.Second,
	}

	stopped := make(chan struct{})
	go func() {
		defer close(stopped)
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGTERM, syscall.SIGINT)
		<-sigChan

		logger.Info("shutting down server")

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.WorkerShutdownGracePeriod)
		defer shutdownCancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("server shutdown error", "error", err)
		}

		// Stop background work after in-flight requests have drained.
		cancel()
		poller.Stop()
		if policyLoader != nil {
			policyLoader.Stop()
		}

		if publisher != nil {
			publisher.Close()
		}
		if redisClient != nil {
			_ = redisClient.Close()
		}
		if err := keys.Close(); err != nil {
			logger.Warn("failed to close idempotency store", "error", err)
		}
	}()

	logger.Info("starting server",
		"port", cfg.Port,
		"base_url", cfg.BaseURL,
		"mock_compute", cfg.UseMockCompute(),
		"storage", services.Storage.IsEnabled(),
	)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error("server error", "error", err)
		os.Exit(1)
	}

	<-stopped
	logger.Info("server stopped")
}

// instanceID names this process in breaker state events.
func instanceID() string {
	if host, err := os.Hostname(); err == nil && host != "" {
		return host
	}
	return ulid.Make().String()
}
