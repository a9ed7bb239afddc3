// Command server runs the nodeflow workflow engine: worker pool, delay/
// resume scheduler, and the thin trigger/approval/cancel/status HTTP
// surface, all backed by Postgres via uptrace/bun. Grounded on the
// teacher's cmd/server/main.go — flag parsing, config.Load(), graceful
// shutdown via signal channel + httpServer.Shutdown(ctx), and the
// maskDSN helper are kept in the same shape.
package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nodeflow/core/internal/api"
	"github.com/nodeflow/core/internal/config"
	"github.com/nodeflow/core/internal/intake"
	"github.com/nodeflow/core/internal/logging"
	"github.com/nodeflow/core/internal/metrics"
	"github.com/nodeflow/core/internal/nodeexec"
	"github.com/nodeflow/core/internal/queue"
	"github.com/nodeflow/core/internal/sandbox"
	"github.com/nodeflow/core/internal/scheduler"
	"github.com/nodeflow/core/internal/storage/postgres"
	"github.com/nodeflow/core/internal/worker"
)

func main() {
	var (
		port      = flag.String("port", "", "Server port (overrides config)")
		jwtSecret = flag.String("jwt-secret", "", "HS256 secret for the execution status feed; empty disables auth")
	)
	flag.Parse()

	cfg := config.Load()
	if *port != "" {
		cfg.Port = *port
	}

	log := logging.Setup(cfg.LogLevel)
	log.Info().Str("port", cfg.Port).Msg("starting nodeflow engine")

	store, err := postgres.New(cfg.DatabaseDSN)
	if err != nil {
		log.Error().Err(err).Msg("failed to open database")
		os.Exit(1)
	}
	log.Info().Str("dsn", maskDSN(cfg.DatabaseDSN)).Msg("connected to postgres")

	ctx := context.Background()
	if err := store.InitSchema(ctx); err != nil {
		log.Error().Err(err).Msg("failed to initialize schema")
		os.Exit(1)
	}
	log.Info().Msg("schema initialized")

	mc := metrics.New()
	notify := api.NewNotifier(*jwtSecret, log)

	q := queue.New(store, queue.DefaultRetryPolicy(), log, queue.WithMetrics(mc))
	in := intake.New(store, q)

	sandboxPool := sandbox.NewPool(0)
	sandboxLimits := sandbox.Limits{
		CPUTimeout:   time.Duration(cfg.ScriptCPUTimeoutMS) * time.Millisecond,
		MemoryLimitB: uint64(cfg.ScriptMemoryLimitMB) << 20,
	}
	registry := nodeexec.NewDefaultRegistry(nodeexec.Deps{
		Pool:      sandboxPool,
		Limits:    sandboxLimits,
		Approvals: store,
		Outbox:    store,
		LogSink:   "http://localhost:" + cfg.Port + "/v1/internal/log-sink",
	})

	workerCfg := worker.DefaultConfig()
	if cfg.WorkerCount > 0 {
		workerCfg.Workers = cfg.WorkerCount
	}
	workerCfg.Visibility = cfg.LeaseVisibility
	pool := worker.New(workerCfg, store, q, registry, log, worker.WithMetrics(mc), worker.WithNotifier(notify))
	pool.Run(ctx)
	log.Info().Int("workers", workerCfg.Workers).Msg("worker pool started")

	sched := scheduler.New(q, cfg.SchedulerTick, cfg.SchedulerBatch, log, scheduler.WithMetrics(mc))
	sched.Start(ctx)
	log.Info().Dur("tick", cfg.SchedulerTick).Msg("delay/resume scheduler started")

	srv := api.New(in, store, q, mc, notify, log)

	httpServer := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      srv,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Info().Str("address", httpServer.Addr).Msg("listening")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("server failed")
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("shutting down")
	sched.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server forced to shutdown")
		os.Exit(1)
	}
	log.Info().Msg("exited gracefully")
}

// maskDSN masks the password segment of a DSN for safe logging, matching
// the teacher's maskDSN helper.
func maskDSN(dsn string) string {
	if len(dsn) == 0 {
		return ""
	}
	start, end := -1, -1
	for i := 0; i < len(dsn); i++ {
		if dsn[i] == ':' && start == -1 {
			if i+1 < len(dsn) && dsn[i+1] != '/' {
				start = i + 1
			}
		}
		if dsn[i] == '@' && start != -1 {
			end = i
			break
		}
	}
	if start != -1 && end != -1 && end > start {
		return dsn[:start] + "***" + dsn[end:]
	}
	return dsn
}
