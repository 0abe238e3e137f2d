package main

import (
	"context"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	config "clearci/configs"
	"clearci/pkg/api"
	"clearci/pkg/auth"
	"clearci/pkg/coordination/etcd"
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
		Service:    "clearci-api",
	}); err != nil {
		panic(err)
	}
	defer logger.Sync()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	tracingCfg := tracing.DefaultConfig("clearci-api")
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

	keys := auth.NewRedisAPIKeyStore(goredis.NewClient(&goredis.Options{
		Addr: cfg.RedisAddr(),
	}))

	server, err := api.NewServer(api.Config{
		Port:        cfg.APIPort,
		JWTSecret:   cfg.JWTSecret,
		JobStore:    store,
		ExecStore:   store,
		Queue:       queue,
		Coordinator: coord,
		LogStore:    logStore,
		APIKeys:     keys,
	})
	if err != nil {
		logger.Fatal("building api server", zap.Error(err))
	}

	go func() {
		if err := server.Start(); err != nil {
			logger.Error("api server stopped", zap.Error(err))
		}
	}()

	sig := <-sigChan
	logger.Info("shutting down", zap.String("signal", sig.String()))

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", zap.Error(err))
	}
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
