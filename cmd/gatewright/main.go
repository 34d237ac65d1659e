package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/gatewright/gatewright/internal/adapter/ghsurface"
	"github.com/gatewright/gatewright/internal/adapter/httpapi"
	"github.com/gatewright/gatewright/internal/adapter/httpcollab"
	"github.com/gatewright/gatewright/internal/adapter/jiratrack"
	gwnats "github.com/gatewright/gatewright/internal/adapter/nats"
	gwotel "github.com/gatewright/gatewright/internal/adapter/otel"
	"github.com/gatewright/gatewright/internal/adapter/postgres"
	"github.com/gatewright/gatewright/internal/adapter/ristretto"
	"github.com/gatewright/gatewright/internal/adapter/ws"
	"github.com/gatewright/gatewright/internal/config"
	"github.com/gatewright/gatewright/internal/domain/workflow"
	"github.com/gatewright/gatewright/internal/logger"
	"github.com/gatewright/gatewright/internal/port/collaborator"
	"github.com/gatewright/gatewright/internal/resilience"
	"github.com/gatewright/gatewright/internal/service"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "fatal:", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}

	log := logger.New(cfg.Logging)
	// slog package-level calls in adapters go through the same handler.
	slog.SetDefault(log)

	log.Info("config loaded",
		"port", cfg.Server.Port,
		"log_level", cfg.Logging.Level,
		"max_concurrent", cfg.Orchestrator.MaxConcurrent,
	)

	ctx := context.Background()

	// --- Infrastructure ---

	pool, err := postgres.NewPool(ctx, cfg.Postgres)
	if err != nil {
		return fmt.Errorf("postgres: %w", err)
	}
	defer pool.Close()
	log.Info("postgres connected")

	if err := postgres.RunMigrations(ctx, cfg.Postgres.DSN); err != nil {
		return fmt.Errorf("migrations: %w", err)
	}
	log.Info("migrations applied")

	queue, err := gwnats.Connect(ctx, cfg.NATS.URL)
	if err != nil {
		return fmt.Errorf("nats: %w", err)
	}
	defer func() { _ = queue.Drain() }()

	identityCache, err := ristretto.New(cfg.Cache.MaxBytes)
	if err != nil {
		return fmt.Errorf("cache: %w", err)
	}

	otelShutdown, err := gwotel.Init(ctx, cfg.Logging.Service)
	if err != nil {
		return fmt.Errorf("otel: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = otelShutdown(shutdownCtx)
	}()

	metrics, err := gwotel.NewMetrics()
	if err != nil {
		return fmt.Errorf("metrics: %w", err)
	}

	// --- Services ---

	hub := ws.NewHub()
	store := postgres.NewStore(pool)
	trackerClient := jiratrack.New(cfg.Tracker)
	surface := ghsurface.New()

	invokers := map[workflow.StepID]collaborator.Invoker{
		workflow.StepQuality:   httpcollab.New(string(workflow.StepQuality), cfg.Steps.Quality.URL),
		workflow.StepPattern:   httpcollab.New(string(workflow.StepPattern), cfg.Steps.Pattern.URL),
		workflow.StepAlignment: httpcollab.New(string(workflow.StepAlignment), cfg.Steps.Alignment.URL),
	}
	breakers := resilience.NewRegistry(cfg.Breaker.MaxFailures, cfg.Breaker.Window, cfg.Breaker.Cooldown)
	retry := resilience.Policy{
		Base:        cfg.Retry.Base,
		MaxDelay:    cfg.Retry.MaxDelay,
		Jitter:      cfg.Retry.Base,
		MaxAttempts: cfg.Retry.MaxAttempts,
	}

	executor := service.NewExecutor(store, invokers, breakers, retry, cfg.Steps, metrics, log)
	tickets := service.NewTicketService(store, trackerClient, queue, identityCache, cfg.Assignment, cfg.Cache.IdentityTTL, retry, metrics, log)
	reporter := service.NewReportService(surface, log)
	coord := service.NewCoordinator(store, executor, tickets, reporter, hub, queue, metrics, log,
		cfg.Orchestrator.MaxConcurrent, cfg.SLA.HumanReviewDeadline)
	slaMonitor := service.NewSLAService(store, coord, hub, cfg.SLA, metrics, log)

	// Background workers.
	workerCtx, stopWorkers := context.WithCancel(ctx)
	defer stopWorkers()

	cancelRetry, err := tickets.StartRetryWorker(workerCtx)
	if err != nil {
		return fmt.Errorf("ticket retry worker: %w", err)
	}
	defer cancelRetry()

	go slaMonitor.StartMonitor(workerCtx)

	// Pick up instances left running by a previous process.
	if err := coord.ResumeActive(ctx, func(id string) {
		go func() {
			if rerr := coord.Run(workerCtx, id); rerr != nil {
				log.Error("resumed workflow failed", "instance_id", id, "error", rerr)
			}
		}()
	}); err != nil {
		return fmt.Errorf("resume active: %w", err)
	}

	// --- HTTP ---

	handlers := &httpapi.Handlers{
		Coordinator: coord,
		Store:       store,
		Hub:         hub,
		Queue:       queue,
	}

	r := chi.NewRouter()
	r.Use(httpapi.CORS(cfg.Server.CORSOrigin))
	r.Use(httpapi.SecurityHeaders)
	r.Use(httpapi.Logger)
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(gwotel.HTTPMiddleware(cfg.Logging.Service))
	r.Use(chimw.Timeout(30 * time.Second))

	httpapi.MountRoutes(r, handlers)

	addr := ":" + cfg.Server.Port
	srv := &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGTERM)

	go func() {
		log.Info("starting server", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("server failed", "error", err)
		}
	}()

	<-done
	log.Info("shutting down server")
	stopWorkers()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	return srv.Shutdown(shutdownCtx)
}
