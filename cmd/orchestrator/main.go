package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"

	"github.com/vnmchuo/ai-orchestrator/config"
	"github.com/vnmchuo/ai-orchestrator/internal/auth"
	"github.com/vnmchuo/ai-orchestrator/internal/budget"
	"github.com/vnmchuo/ai-orchestrator/internal/cache"
	"github.com/vnmchuo/ai-orchestrator/internal/classify"
	"github.com/vnmchuo/ai-orchestrator/internal/gateway"
	"github.com/vnmchuo/ai-orchestrator/internal/health"
	"github.com/vnmchuo/ai-orchestrator/internal/orchestrator"
	"github.com/vnmchuo/ai-orchestrator/internal/provider"
	"github.com/vnmchuo/ai-orchestrator/internal/provider/claude"
	"github.com/vnmchuo/ai-orchestrator/internal/provider/echo"
	"github.com/vnmchuo/ai-orchestrator/internal/provider/gemini"
	"github.com/vnmchuo/ai-orchestrator/internal/provider/openai"
	"github.com/vnmchuo/ai-orchestrator/internal/registry"
	"github.com/vnmchuo/ai-orchestrator/internal/scoring"
	"github.com/vnmchuo/ai-orchestrator/internal/seeder"
	"github.com/vnmchuo/ai-orchestrator/internal/telemetry"
	"github.com/vnmchuo/ai-orchestrator/internal/worker"
	"github.com/vnmchuo/ai-orchestrator/pkg/ratelimit"
)

func main() {
	// 1. Load config
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	// 2. Init telemetry
	shutdownTracer, err := telemetry.InitTracer("ai-orchestrator", cfg)
	if err != nil {
		log.Fatalf("failed to init tracer: %v", err)
	}
	defer shutdownTracer()

	// 3. Connect PostgreSQL
	ctx := context.Background()
	pool, err := pgxpool.New(ctx, cfg.PostgresDSN)
	if err != nil {
		log.Fatalf("failed to connect postgres: %v", err)
	}
	defer pool.Close()

	if err := pool.Ping(ctx); err != nil {
		log.Fatalf("failed to ping postgres: %v", err)
	}
	if err := seeder.EnsureSchema(ctx, pool); err != nil {
		log.Fatalf("failed to ensure schema: %v", err)
	}
	log.Println("PostgreSQL connected")

	// 4. Connect Redis
	rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	defer rdb.Close()

	if err := rdb.Ping(ctx).Err(); err != nil {
		log.Fatalf("failed to ping redis: %v", err)
	}
	log.Println("Redis connected")

	// 5. Init auth
	authStore := auth.NewPostgresStore(pool)
	authMiddleware := auth.NewMiddleware(authStore, rdb)

	// 6. Init budget tracker with spend persistence
	tracker := budget.NewTracker(budget.WithStore(budget.NewPostgresStore(pool)))

	// 7. Register providers
	reg := registry.New()
	for _, d := range descriptors(cfg) {
		if err := d.Driver.Initialize(ctx); err != nil {
			log.Printf("provider %s not configured, skipping: %v", d.ID, err)
			continue
		}
		if err := reg.Register(d); err != nil {
			log.Fatalf("failed to register provider %s: %v", d.ID, err)
		}
		log.Printf("provider %s registered", d.ID)
	}

	var providerIDs []string
	for _, d := range reg.All() {
		providerIDs = append(providerIDs, d.ID)
	}
	if err := tracker.Rehydrate(ctx, providerIDs); err != nil {
		log.Fatalf("failed to rehydrate spend ledger: %v", err)
	}
	log.Println("spend ledger rehydrated")

	// 8. Init health monitor
	history := classify.NewHistory(cfg.ErrorHistorySize)
	monitor := health.NewMonitor(reg,
		health.WithInterval(cfg.HealthCheckInterval),
		health.WithWindowSize(cfg.MetricsWindowSize),
		health.WithDegradeThreshold(cfg.DegradeThreshold),
	)
	monitorCtx, stopMonitor := context.WithCancel(ctx)
	defer stopMonitor()
	go monitor.Run(monitorCtx)

	// 9. Init scoring engine
	weights := scoring.Weights{
		Performance:      cfg.PerformanceWeight,
		Cost:             cfg.CostWeight,
		ReliabilityShare: cfg.ReliabilityShare,
		SpeedShare:       cfg.SpeedShare,
		CostScale:        cfg.CostScale,
		LiveBlend:        cfg.LiveBlend,
		LanguageBonus:    cfg.LanguageBonus,
		PriorityLow:      0.8,
		PriorityNormal:   1.0,
		PriorityHigh:     1.2,
		PriorityCritical: 1.5,
	}
	engine := scoring.NewEngine(reg, tracker, monitor, weights)

	// 10. Init response cache
	responseCache := cache.New(rdb, cache.WithTTL(cfg.CacheTTL))

	// 11. Init orchestrator
	orch := orchestrator.New(reg, tracker, monitor, engine, responseCache, history, orchestrator.Options{
		MaxRetriesPerProvider: cfg.MaxRetriesPerProvider,
		MaxBackoff:            cfg.MaxBackoff,
		AttemptTimeout:        cfg.AttemptTimeout,
		BackupProvider:        cfg.BackupProvider,
	})

	// 12. Init async job queue
	queue := worker.NewQueue(rdb, orch)
	workerCtx, stopWorker := context.WithCancel(ctx)
	defer stopWorker()
	go func() {
		if err := queue.Process(workerCtx); err != nil && err != context.Canceled {
			log.Printf("worker stopped: %v", err)
		}
	}()

	// 13. Init rate limiter and handler
	limiter := ratelimit.NewLimiter(rdb, cfg.DefaultRateLimitTPM)
	tracer := otel.GetTracerProvider().Tracer("ai-orchestrator")
	handler := gateway.NewHandler(orch, queue, limiter, tracer)

	// 14. Seed test API key if RUN_SEED=true
	if os.Getenv("RUN_SEED") == "true" {
		seeder.SeedTestAPIKey(ctx, authStore)
	}

	// 15. Init Chi router
	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.Logger)
	r.Use(chimiddleware.Recoverer)

	// Public routes
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok","service":"ai-orchestrator"}`))
	})

	// Protected routes
	r.Group(func(r chi.Router) {
		r.Use(authMiddleware)
		r.Post("/v1/execute", handler.HandleExecute)
		r.Get("/v1/metrics", handler.HandleMetrics)
		r.Get("/v1/costs", handler.HandleCosts)
		r.Get("/v1/errors", handler.HandleErrors)
		r.Post("/v1/jobs", handler.HandleEnqueueJob)
		r.Get("/v1/jobs/{id}", handler.HandleGetJob)
	})

	// 16. Graceful shutdown
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 90 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		log.Printf("AI orchestrator starting on port %s", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server error: %v", err)
		}
	}()

	<-quit
	log.Println("Shutting down gracefully...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	stopMonitor()
	stopWorker()
	orch.Close(shutdownCtx)

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Fatalf("forced shutdown: %v", err)
	}
	log.Println("Server stopped")
}

// descriptors builds the provider catalog from config. Cost table values
// are USD per unit of work (tokens for text, encoded audio bytes for speech).
func descriptors(cfg *config.Config) []*registry.Descriptor {
	return []*registry.Descriptor{
		{
			ID: "openai",
			Capabilities: []provider.Capability{
				provider.CapabilityChat,
				provider.CapabilityTranslation,
				provider.CapabilitySpeechToText,
			},
			CostTable: map[provider.Capability]float64{
				provider.CapabilityChat:         0.00000060,
				provider.CapabilityTranslation:  0.00000060,
				provider.CapabilitySpeechToText: 0.00000100,
			},
			BaselineReliability: 0.95,
			BaselineSpeed:       0.85,
			MonthlyBudget:       cfg.OpenAIMonthlyBudget,
			Languages:           []string{"en", "es", "fr", "de"},
			Driver:              openai.New(cfg.OpenAIAPIKey),
		},
		{
			ID: "claude",
			Capabilities: []provider.Capability{
				provider.CapabilityChat,
				provider.CapabilityTranslation,
			},
			CostTable: map[provider.Capability]float64{
				provider.CapabilityChat:        0.00000400,
				provider.CapabilityTranslation: 0.00000400,
			},
			BaselineReliability: 0.97,
			BaselineSpeed:       0.80,
			MonthlyBudget:       cfg.AnthropicMonthlyBudget,
			Languages:           []string{"en", "ja", "fr"},
			Driver:              claude.New(cfg.AnthropicAPIKey),
		},
		{
			ID: "gemini",
			Capabilities: []provider.Capability{
				provider.CapabilityChat,
				provider.CapabilityTranslation,
				provider.CapabilityVision,
			},
			CostTable: map[provider.Capability]float64{
				provider.CapabilityChat:        0.00000015,
				provider.CapabilityTranslation: 0.00000015,
				provider.CapabilityVision:      0.00000030,
			},
			BaselineReliability: 0.90,
			BaselineSpeed:       0.90,
			MonthlyBudget:       cfg.GeminiMonthlyBudget,
			Languages:           []string{"en", "hi", "zh"},
			Driver:              gemini.New(cfg.GeminiAPIKey),
		},
		{
			ID: "echo",
			Capabilities: []provider.Capability{
				provider.CapabilityChat,
				provider.CapabilityTranslation,
				provider.CapabilitySpeechToText,
				provider.CapabilityVision,
			},
			CostTable:           map[provider.Capability]float64{},
			BaselineReliability: 0.1,
			BaselineSpeed:       0.9,
			MonthlyBudget:       1,
			// Kept out of scoring; reachable only through the dispatcher's
			// backup path when no real provider qualifies.
			Status: registry.StatusMaintenance,
			Driver: echo.New(),
		},
	}
}
