package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/hackgods/hospital-transfers/internal/config"
	"github.com/hackgods/hospital-transfers/internal/directory"
	"github.com/hackgods/hospital-transfers/internal/logger"
	redisclient "github.com/hackgods/hospital-transfers/internal/redis"
	"github.com/hackgods/hospital-transfers/internal/store"
)

// staff-indexer periodically rebuilds the hospital+role staff index from the
// user profiles, repairing entries left stale by edits made outside the API.
func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config load error: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.New(cfg.LogLevel, cfg.LogFormat, "staff-indexer")
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger init error: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = log.Sync() }()

	log.Info("staff-indexer starting up",
		zap.String("env", cfg.Env),
		zap.Duration("interval", cfg.IndexInterval),
	)

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rdb, err := redisclient.NewRedisClient(cfg)
	if err != nil {
		log.Fatal("redis connection error", zap.Error(err))
	}
	defer func() {
		if err := rdb.Close(); err != nil {
			log.Warn("error closing redis", zap.Error(err))
		}
	}()
	log.Info("connected to Redis", zap.String("addr", cfg.RedisAddr))

	dir := directory.New(store.NewRedis(rdb, log.Named("store")), log.Named("directory"))

	// Run once at startup
	runOnce(rootCtx, dir, log)

	ticker := time.NewTicker(cfg.IndexInterval)
	defer ticker.Stop()

	for {
		select {
		case <-rootCtx.Done():
			log.Info("shutdown signal received, stopping staff indexer")
			return
		case <-ticker.C:
			runOnce(rootCtx, dir, log)
		}
	}
}

func runOnce(ctx context.Context, dir *directory.Directory, log *zap.Logger) {
	runCtx, cancel := context.WithTimeout(ctx, 20*time.Second)
	defer cancel()

	start := time.Now()
	n, err := dir.RebuildStaffIndex(runCtx)
	if err != nil {
		log.Error("staff index rebuild failed", zap.Int("indexed", n), zap.Error(err))
		return
	}
	log.Info("staff index rebuilt", zap.Int("indexed", n), zap.Duration("took", time.Since(start)))
}
