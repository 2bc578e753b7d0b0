package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/alfredjeanlab/gatekeep/internal/config"
	"github.com/alfredjeanlab/gatekeep/internal/engine"
	"github.com/alfredjeanlab/gatekeep/internal/events"
	"github.com/alfredjeanlab/gatekeep/internal/jobs"
	"github.com/alfredjeanlab/gatekeep/internal/lock"
	"github.com/alfredjeanlab/gatekeep/internal/server"
	"github.com/alfredjeanlab/gatekeep/internal/store"
	"github.com/alfredjeanlab/gatekeep/internal/store/memory"
	"github.com/alfredjeanlab/gatekeep/internal/store/postgres"
	"github.com/alfredjeanlab/gatekeep/internal/telemetry"
)

var serveDebug bool

var serveCmd = &cobra.Command{
	Use:     "serve",
	Short:   "Start the gatekeep HTTP and gRPC servers and background jobs",
	GroupID: "system",
	// Override PersistentPreRunE so we don't create an API client.
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error { return nil },
	RunE: func(cmd *cobra.Command, args []string) error {
		level := slog.LevelInfo
		if serveDebug {
			level = slog.LevelDebug
		}
		logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
		slog.SetDefault(logger)

		cfg, err := config.Load()
		if err != nil {
			return err
		}
		return serve(cmd.Context(), cfg, logger)
	},
}

func init() {
	serveCmd.Flags().BoolVar(&serveDebug, "debug", false, "enable debug logging")
}

func serve(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	tuning := config.DefaultTuning()
	if cfg.TuningFile != "" {
		t, err := config.LoadTuning(cfg.TuningFile)
		if err != nil {
			return err
		}
		tuning = t
		logger.Info("tuning loaded", "file", cfg.TuningFile)
	}

	st, db, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := st.Close(); err != nil {
			logger.Error("error closing store", "err", err)
		}
	}()

	locker, closeLocker, err := newLocker(ctx, cfg, db)
	if err != nil {
		return err
	}
	defer closeLocker()
	logger.Info("job lock", "backend", cfg.LockBackend)

	shutdownTelemetry, err := telemetry.Setup(ctx, telemetry.Config{
		ServiceName:    "gatekeep",
		ServiceVersion: version,
		Endpoint:       cfg.OTLPEndpoint,
		Insecure:       cfg.OTLPInsecure,
	}, logger)
	if err != nil {
		return err
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTelemetry(flushCtx); err != nil {
			logger.Error("telemetry shutdown error", "err", err)
		}
	}()
	instruments, err := telemetry.NewInstruments(nil, nil)
	if err != nil {
		return err
	}

	var publisher events.Publisher
	if cfg.NATSURL != "" {
		pub, err := events.NewNATSPublisher(cfg.NATSURL)
		if err != nil {
			return err
		}
		publisher = pub
		logger.Info("events enabled", "nats_url", cfg.NATSURL)
	} else {
		publisher = &events.NoopPublisher{}
		logger.Info("events disabled (GATEKEEP_NATS_URL not set)")
	}
	defer func() {
		if err := publisher.Close(); err != nil {
			logger.Error("error closing publisher", "err", err)
		}
	}()

	eng, err := engine.New(st,
		engine.WithLocker(locker),
		engine.WithPublisher(publisher),
		engine.WithTuning(tuning),
		engine.WithLogger(logger),
		engine.WithInstruments(instruments),
	)
	if err != nil {
		return err
	}

	// gRPC health.
	grpcServer, health := server.NewGRPCServer(cfg.AuthToken, logger)
	lis, err := net.Listen("tcp", cfg.GRPCAddr)
	if err != nil {
		return err
	}
	go func() {
		logger.Info("gRPC server listening", "addr", cfg.GRPCAddr)
		if err := grpcServer.Serve(lis); err != nil {
			logger.Error("gRPC server error", "err", err)
		}
	}()

	// HTTP API.
	httpServer := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           server.New(eng, logger).NewHTTPHandler(cfg.AuthToken),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		logger.Info("HTTP server listening", "addr", cfg.HTTPAddr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("HTTP server error", "err", err)
		}
	}()

	// Periodic discovery and deduplication.
	var scheduler *jobs.Scheduler
	if cfg.JobInterval > 0 {
		scheduler = jobs.NewScheduler(st, eng, snapshotDestinations(ctx, cfg, logger), cfg.JobInterval, cfg.JobConcurrency, logger)
		scheduler.Start()
		logger.Info("job scheduler started", "interval", cfg.JobInterval, "concurrency", cfg.JobConcurrency)
	}

	// Discovery on check-in announcements.
	var triggerCancel context.CancelFunc
	if cfg.NATSURL != "" {
		sub, err := events.NewNATSSubscriber(cfg.NATSURL)
		if err != nil {
			logger.Error("failed to create trigger subscriber", "err", err)
		} else {
			var triggerCtx context.Context
			triggerCtx, triggerCancel = context.WithCancel(context.Background())
			go func() {
				if err := jobs.NewTrigger(eng, logger).Start(triggerCtx, sub); err != nil {
					logger.Error("trigger subscriber error", "err", err)
				}
				sub.Close()
			}()
		}
	}

	logger.Info("gatekeep server started",
		"version", version,
		"store", cfg.Store,
		"grpc_addr", cfg.GRPCAddr,
		"http_addr", cfg.HTTPAddr,
	)

	sigCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	<-sigCtx.Done()
	logger.Info("shutting down")

	health.Shutdown()
	if triggerCancel != nil {
		triggerCancel()
		logger.Info("trigger subscriber stopped")
	}
	if scheduler != nil {
		scheduler.Stop()
		logger.Info("job scheduler stopped")
	}

	grpcServer.GracefulStop()
	logger.Info("gRPC server stopped")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server shutdown error", "err", err)
	}
	logger.Info("HTTP server stopped")
	return nil
}

// openStore returns the configured store. db is non-nil only for postgres.
func openStore(cfg *config.Config) (store.Store, *sql.DB, error) {
	switch cfg.Store {
	case config.StoreMemory:
		return memory.New(), nil, nil
	case config.StorePostgres:
		pg, err := postgres.New(cfg.DatabaseURL)
		if err != nil {
			return nil, nil, err
		}
		return pg, pg.DB(), nil
	default:
		return nil, nil, fmt.Errorf("unknown store %q", cfg.Store)
	}
}

// newLocker returns the configured job lock and a func releasing its
// resources.
func newLocker(ctx context.Context, cfg *config.Config, db *sql.DB) (lock.Locker, func(), error) {
	switch cfg.LockBackend {
	case config.LockLocal:
		return lock.NewLocal(), func() {}, nil
	case config.LockPostgres:
		if db == nil {
			return nil, nil, fmt.Errorf("postgres lock requires the postgres store")
		}
		return lock.NewPostgres(db), func() {}, nil
	case config.LockRedis:
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		if err := rdb.Ping(ctx).Err(); err != nil {
			rdb.Close()
			return nil, nil, fmt.Errorf("connecting to redis at %s: %w", cfg.RedisAddr, err)
		}
		return lock.NewRedis(rdb, lock.DefaultTTL), func() { rdb.Close() }, nil
	default:
		return nil, nil, fmt.Errorf("unknown lock backend %q", cfg.LockBackend)
	}
}

func snapshotDestinations(ctx context.Context, cfg *config.Config, logger *slog.Logger) []jobs.Destination {
	if cfg.SnapshotS3Bucket == "" {
		return nil
	}
	dest, err := jobs.NewS3Destination(ctx, jobs.S3Config{
		Bucket:   cfg.SnapshotS3Bucket,
		Key:      cfg.SnapshotS3Key,
		Region:   cfg.SnapshotS3Region,
		Endpoint: cfg.SnapshotS3Endpoint,
	})
	if err != nil {
		logger.Error("failed to create S3 snapshot destination", "err", err)
		return nil
	}
	logger.Info("snapshot S3 destination enabled", "bucket", cfg.SnapshotS3Bucket, "key", cfg.SnapshotS3Key)
	return []jobs.Destination{dest}
}
