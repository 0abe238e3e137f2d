package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	config "clearci/configs"
	"clearci/pkg/coordination"
	"clearci/pkg/coordination/etcd"
	"clearci/pkg/logger"
	tracing "clearci/pkg/observability"
	"clearci/pkg/scheduler"
	"clearci/pkg/storage"
	"clearci/pkg/storage/postgres"
	"clearci/pkg/storage/redis"
	"clearci/pkg/storage/sqlite"
)

func main() {
	cfg := config.LoadConfig()

	if _, err := logger.Init(logger.Config{
		Level:      cfg.LogLevel,
		Encoding:   cfg.LogEncoding,
		OutputPath: "stdout",
		Service:    "clearci-scheduler",
	}); err != nil {
		panic(err)
	}
	defer logger.Sync()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	tracingCfg := tracing.DefaultConfig("clearci-scheduler")
	tracingCfg.Endpoint = cfg.TracingEndpoint
	tracingCfg.Enabled = cfg.TracingEndpoint != ""
	traceProvider, err := tracing.Init(ctx, tracingCfg)
	if err != nil {
		logger.Fatal("initializing tracing", zap.Error(err))
	}
	defer traceProvider.Shutdown(context.Background())

	store, err := openStore(cfg)
	if err != nil {
		logger.Fatal("initializing storage", zap.Error(err))
	}
	defer store.Close()
	logger.Info("database connected", zap.String("driver", cfg.DBDriver))

	queue, err := redis.NewRedisQueue(cfg.RedisAddr())
	if err != nil {
		logger.Fatal("initializing redis queue", zap.Error(err))
	}
	defer queue.Close()

	coord, err := etcd.NewEtcdCoordinator(cfg.EtcdEndpoints, cfg.LeaderElectionTTL)
	if err != nil {
		logger.Fatal("connecting to etcd", zap.Error(err))
	}
	defer coord.Close()

	// The campaign value doubles as this instance's identity. A uuid suffix
	// keeps two schedulers on one host from mistaking each other for
	// themselves.
	hostname, err := os.Hostname()
	if err != nil {
		hostname = "scheduler"
	}
	id := hostname + "-" + uuid.NewString()[:8]

	election := coord.NewElection(coordination.SchedulerElection)

	// Campaign blocks until this instance wins; until then the core runs
	// as a standby and dispatches nothing.
	go func() {
		logger.Info("campaigning for leadership", zap.String("id", id))
		if err := election.Campaign(ctx, id); err != nil && ctx.Err() == nil {
			logger.Error("election campaign failed", zap.Error(err))
		}
	}()

	core := scheduler.NewCore(cfg, id, store, store, queue, coord)
	go core.Run(ctx, election)

	sig := <-sigChan
	logger.Info("shutting down", zap.String("signal", sig.String()))

	cancel()

	// Resign so a standby takes over without waiting for the lease TTL.
	resignCtx, resignCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer resignCancel()
	if err := election.Resign(resignCtx); err != nil {
		logger.Warn("resigning leadership", zap.Error(err))
	}
}

func openStore(cfg *config.Config) (storage.Store, error) {
	if cfg.DBDriver == "sqlite" {
		return sqlite.Open(cfg.SQLitePath)
	}
	return postgres.NewPostgresStore(cfg.DSN())
}
