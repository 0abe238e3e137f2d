package main

import (
	"context"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"go.uber.org/zap"

	config "clearci/configs"
	"clearci/pkg/coordination/etcd"
	"clearci/pkg/executor"
	"clearci/pkg/logger"
	tracing "clearci/pkg/observability"
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
		Service:    "clearci-executor",
	}); err != nil {
		panic(err)
	}
	defer logger.Sync()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigChan
		logger.Info("shutting down", zap.String("signal", sig.String()))
		cancel()
	}()

	tracingCfg := tracing.DefaultConfig("clearci-executor")
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

	logStore, err := openLogStore(cfg)
	if err != nil {
		logger.Fatal("initializing log store", zap.Error(err))
	}

	// Start blocks until the context is cancelled; builds in flight finish
	// their current step before the process exits.
	exec := executor.NewExecutor(cfg, coord, queue, store, logStore)
	exec.Start(ctx)
}

func openStore(cfg *config.Config) (storage.Store, error) {
	if cfg.DBDriver == "sqlite" {
		return sqlite.Open(cfg.SQLitePath)
	}
	return postgres.NewPostgresStore(cfg.DSN())
}

func openLogStore(cfg *config.Config) (storage.LogStore, error) {
	if cfg.LogStoreDriver == "s3" {
		return storage.NewS3LogStore(storage.S3LogStoreConfig{
			Bucket:        cfg.S3Bucket,
			Prefix:        "consoles/",
			Region:        cfg.S3Region,
			Endpoint:      cfg.S3Endpoint,
			LocalCacheDir: filepath.Join(cfg.LocalLogDir, "cache"),
		})
	}
	return storage.NewLocalLogStore(cfg.LocalLogDir)
}
