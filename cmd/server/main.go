package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"

	"lifecycle/internal/domain/audit"
	"lifecycle/internal/domain/hold"
	"lifecycle/internal/domain/job"
	"lifecycle/internal/domain/policy"
	"lifecycle/internal/domain/purge"
	"lifecycle/internal/domain/report"
	"lifecycle/internal/platform/blobstore"
	"lifecycle/internal/platform/config"
	"lifecycle/internal/platform/db"
	"lifecycle/internal/platform/metrics"
	"lifecycle/internal/platform/recordstore"
	"lifecycle/internal/scheduler"
	auditloghandler "lifecycle/internal/transport/http/handlers/auditlog"
	compliancehandler "lifecycle/internal/transport/http/handlers/compliance"
	holdhandler "lifecycle/internal/transport/http/handlers/holds"
	policyhandler "lifecycle/internal/transport/http/handlers/policies"
	runhandler "lifecycle/internal/transport/http/handlers/runs"
	tokenhandler "lifecycle/internal/transport/http/handlers/token"
	"lifecycle/internal/transport/http/middleware"
)

func main() {
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, nil)))

	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		slog.Error("invalid configuration", "err", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := db.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		slog.Error("db connect failed", "err", err)
		os.Exit(1)
	}
	defer pool.Close()

	if cfg.RunMigrations {
		if err := db.Migrate(ctx, pool, cfg.MigrationsDir); err != nil {
			slog.Error("migrations failed", "err", err)
			os.Exit(1)
		}
	}

	policyStore := policy.NewStore(pool)
	holdStore := hold.NewStore(pool)
	guard := hold.NewGuard(holdStore)
	auditLog := audit.New(pool)
	tracker := job.NewTracker(pool)
	locker := job.NewLocker(pool, cfg.LockTTL)
	archiver := blobstore.NewFS(cfg.ArchiveDir)

	registry := purge.NewRegistry()
	for name, table := range cfg.CategoryTables {
		store, err := recordstore.New(pool, table)
		if err != nil {
			slog.Error("invalid category table", "category", name, "table", table, "err", err)
			os.Exit(1)
		}
		if err := registry.Register(purge.Category{Name: name, Store: store}); err != nil {
			slog.Error("category registration failed", "category", name, "err", err)
			os.Exit(1)
		}
	}
	if len(registry.Names()) == 0 {
		slog.Warn("no purge categories configured, runs will have nothing to do")
	}

	collector := metrics.New()
	executor := purge.NewExecutor(policyStore, guard, auditLog, tracker, locker, archiver, registry, purge.Config{
		PageSize:     cfg.PageSize,
		MaxParallel:  cfg.MaxParallel,
		OpTimeout:    cfg.OpTimeout,
		MaxAttempts:  cfg.MaxAttempts,
		RetryBackoff: cfg.RetryBackoff,
		MinRetention: cfg.MinRetention,
	})
	if cfg.MetricsEnabled {
		executor.WithMetrics(collector)
	}

	reporter := report.NewReporter(pool, policyStore, tracker, auditLog, registry, cfg.ReportFailureRate)

	sched := scheduler.New(executor, []scheduler.Class{
		{Name: "hourly", Schedule: cfg.HourlySchedule, Categories: cfg.HourlyCategories},
		{Name: "daily", Schedule: cfg.DailySchedule, Categories: cfg.DailyCategories},
	})
	if err := sched.Start(ctx); err != nil {
		slog.Error("scheduler start failed", "err", err)
		os.Exit(1)
	}
	defer sched.Stop()

	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.Logger)
	router.Use(middleware.Recoverer)
	router.Use(middleware.BodyLimit(1 << 20))

	router.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	router.Get("/readyz", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := pool.Ping(ctx); err != nil {
			http.Error(w, "db not ready", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
	})
	if cfg.MetricsEnabled {
		router.Handle("/metrics", collector.Handler())
	}

	router.Route("/api/v1", func(r chi.Router) {
		token := tokenhandler.NewHandler(cfg.JWTSecret, cfg.OperatorKeyHash, cfg.TokenTTL)
		r.Post("/auth/token", token.HandleIssueToken)

		r.Group(func(r chi.Router) {
			r.Use(middleware.RequireOperator(cfg.JWTSecret))

			policyhandler.NewHandler(policyStore).RegisterRoutes(r)
			holdhandler.NewHandler(holdStore).RegisterRoutes(r)
			runhandler.NewHandler(executor, tracker).RegisterRoutes(r)
			compliancehandler.NewHandler(reporter).RegisterRoutes(r)
			auditloghandler.NewHandler(auditLog).RegisterRoutes(r)
		})
	})

	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			slog.Warn("server shutdown failed", "err", err)
		}
	}()

	slog.Info("lifecycle server listening", "addr", cfg.Addr, "categories", registry.Names())
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		slog.Error("server failed", "err", err)
		os.Exit(1)
	}
}
