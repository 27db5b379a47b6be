package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/hackgods/hospital-transfers/internal/api"
	"github.com/hackgods/hospital-transfers/internal/audit"
	"github.com/hackgods/hospital-transfers/internal/config"
	"github.com/hackgods/hospital-transfers/internal/db"
	"github.com/hackgods/hospital-transfers/internal/directory"
	"github.com/hackgods/hospital-transfers/internal/logger"
	"github.com/hackgods/hospital-transfers/internal/metrics"
	"github.com/hackgods/hospital-transfers/internal/notification"
	redisclient "github.com/hackgods/hospital-transfers/internal/redis"
	"github.com/hackgods/hospital-transfers/internal/rooms"
	"github.com/hackgods/hospital-transfers/internal/store"
	"github.com/hackgods/hospital-transfers/internal/timeline"
	"github.com/hackgods/hospital-transfers/internal/transfer"
)

// set with -ldflags "-X main.version=..."
var version = "dev"

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config load error: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.New(cfg.LogLevel, cfg.LogFormat, "api-server")
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger init error: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = log.Sync() }()

	if err := run(cfg, log); err != nil {
		log.Fatal("api-server stopped", zap.Error(err))
	}
}

func run(cfg config.Config, log *zap.Logger) error {
	log.Info("api-server starting up",
		zap.String("env", cfg.Env),
		zap.String("http_port", cfg.HTTPPort),
		zap.String("version", version),
	)

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Redis carries the resolution locks and tokens in every environment.
	rdb, err := redisclient.NewRedisClient(cfg)
	if err != nil {
		return fmt.Errorf("redis connection: %w", err)
	}
	defer func() {
		if err := rdb.Close(); err != nil {
			log.Warn("error closing redis", zap.Error(err))
		}
	}()
	log.Info("connected to Redis", zap.String("addr", cfg.RedisAddr))

	var st store.Store
	if cfg.Env == "test" {
		st = store.NewMemory()
		log.Info("using in-memory record store")
	} else {
		st = store.NewRedis(rdb, log.Named("store"))
	}

	var (
		pgPool   *pgxpool.Pool
		auditLog audit.Log = audit.Nop{}
	)
	if cfg.PostgresDSN != "" {
		pgCtx, cancelPg := context.WithTimeout(rootCtx, 10*time.Second)
		pgPool, err = db.ConnectPostgres(pgCtx, cfg.PostgresDSN)
		cancelPg()
		if err != nil {
			return fmt.Errorf("postgres connection: %w", err)
		}
		defer pgPool.Close()

		pgLog := audit.NewPgLog(pgPool)
		if err := pgLog.EnsureSchema(rootCtx); err != nil {
			return fmt.Errorf("audit schema: %w", err)
		}
		auditLog = pgLog
		log.Info("connected to Postgres, audit trail enabled")
	} else {
		log.Info("POSTGRES_DSN not set, audit trail disabled")
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.New(reg)

	dispatcherOpts := []notification.Option{notification.WithMetrics(m)}
	if cfg.MQTTBroker != "" {
		pub, err := notification.NewMQTTPublisher(cfg)
		if err != nil {
			// Inbox records are authoritative; the broker is only a fan-out.
			log.Warn("mqtt publisher unavailable", zap.String("broker", cfg.MQTTBroker), zap.Error(err))
		} else {
			defer pub.Close()
			dispatcherOpts = append(dispatcherOpts, notification.WithPublisher(pub))
			log.Info("publishing notifications over MQTT", zap.String("broker", cfg.MQTTBroker))
		}
	}

	dir := directory.New(st, log.Named("directory"))
	dispatcher := notification.NewDispatcher(st, log.Named("notification"), dispatcherOpts...)
	tracker := rooms.NewTracker(st, dir, dispatcher, m, log.Named("rooms"))
	recorder := timeline.New(st, log.Named("timeline"))

	svc := transfer.NewService(transfer.Deps{
		Store:     st,
		Directory: dir,
		Rooms:     tracker,
		Notifier:  dispatcher,
		Timeline:  recorder,
		Locker:    redisclient.NewRedisLocker(rdb, cfg.LockTTL),
		Tokens:    redisclient.NewRedisTokenStore(rdb, "resolution:"),
		Audit:     auditLog,
		Metrics:   m,
	}, cfg, log.Named("transfer"))

	router := api.NewRouter(api.RouterConfig{
		Transfers:     svc,
		Rooms:         tracker,
		Notifications: dispatcher,
		Timeline:      recorder,
		Directory:     dir,
		Audit:         auditLog,
		Gatherer:      reg,
		PgPool:        pgPool,
		Redis:         rdb,
		Log:           log.Named("http"),
		Env:           cfg.Env,
		Version:       version,
	})

	srv := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(rootCtx)
	g.Go(func() error {
		log.Info("http server listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down api-server", zap.Duration("timeout", cfg.ShutdownTimeout))

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}
