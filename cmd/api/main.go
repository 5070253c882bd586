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

	"hotcalls-core/internal/audit"
	"hotcalls-core/internal/auth"
	"hotcalls-core/internal/billing"
	"hotcalls-core/internal/config"
	"hotcalls-core/internal/httpapi"
	"hotcalls-core/internal/schedule"
	"hotcalls-core/pkg/logger"
	"hotcalls-core/pkg/utils"

	"github.com/gin-gonic/gin"
	_ "github.com/jackc/pgx/v5/stdlib"
)

func main() {
	// Root context that cancels on shutdown
	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", "err", err)
		os.Exit(1)
	}

	log := logger.New(cfg.App.Env)
	slog.SetDefault(log)

	if cfg.App.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	loc, err := cfg.ReferenceLocation()
	if err != nil {
		log.Error("timezone init failed", "err", err)
		os.Exit(1)
	}

	authManager, err := auth.NewManager(cfg.Auth)
	if err != nil {
		log.Error("auth init failed", "err", err)
		os.Exit(1)
	}

	db, err := utils.OpenPostgres(rootCtx, "pgx", cfg.PostgresDSN(), utils.PostgresPoolConfig{})
	if err != nil {
		log.Error("postgres init failed", "err", err)
		os.Exit(1)
	}
	defer db.Close()

	rdb, err := utils.OpenRedis(rootCtx, utils.RedisConfig{Addr: cfg.RedisAddr()})
	if err != nil {
		log.Error("redis init failed", "err", err)
		os.Exit(1)
	}
	defer rdb.Close()

	// Services. Postgres is the system of record; redis only carries the
	// live concurrent-call counters.
	auditSvc := audit.NewService(audit.NewPostgresRepo(db))

	scheduleRepo := schedule.NewPostgresRepo(db)
	scheduler := schedule.NewScheduler(scheduleRepo, auditSvc, loc)

	ledger := billing.NewLedger(billing.NewPostgresRepo(db), billing.NewRouteFeatureMap())
	ledger.RegisterLiveCount(billing.FeatureMaxAgents, func(ctx context.Context, workspaceID string) (int64, error) {
		return scheduleRepo.CountAgents(ctx, workspaceID)
	})
	ledger.RegisterLiveCount(billing.FeatureConcurrentCalls, func(ctx context.Context, workspaceID string) (int64, error) {
		return utils.CurrentConcurrency(ctx, rdb, utils.ConcurrencyKey(workspaceID))
	})

	handlers := &httpapi.Handlers{
		Scheduler: scheduler,
		Usage:     ledger,
		Calls:     billing.NewCallGate(rdb, ledger, 0),
	}

	// Gin router
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(logger.Middleware(log))

	registerRoutes(r,
		auth.RequireAccessToken(authManager),
		handlers,
		billing.EnforceQuota(ledger, auditSvc),
	)

	srv := &http.Server{
		Addr:              cfg.HTTPAddr(),
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Info("api listening", "addr", srv.Addr, "env", cfg.App.Env, "timezone", cfg.Schedule.Timezone)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("http server failed", "err", err)
			stop()
		}
	}()

	<-rootCtx.Done()
	log.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("http shutdown failed", "err", err)
	}
	log.Info("shutdown complete")
}
