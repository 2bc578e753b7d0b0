package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Store backends.
const (
	StorePostgres = "postgres"
	StoreMemory   = "memory"
)

// Lock backends.
const (
	LockLocal    = "local"
	LockPostgres = "postgres"
	LockRedis    = "redis"
)

type Config struct {
	Store       string // GATEKEEP_STORE (postgres|memory, default "postgres")
	DatabaseURL string // GATEKEEP_DATABASE_URL (required for postgres)
	GRPCAddr    string // GATEKEEP_GRPC_ADDR (default ":9090")
	HTTPAddr    string // GATEKEEP_HTTP_ADDR (default ":8080")
	NATSURL     string // GATEKEEP_NATS_URL (optional, empty = no events, no trigger)
	AuthToken   string // GATEKEEP_AUTH_TOKEN (optional, empty = auth disabled)

	LockBackend string // GATEKEEP_LOCK_BACKEND (local|postgres|redis, default "local")
	RedisAddr   string // GATEKEEP_REDIS_ADDR (required for redis locks)

	OTLPEndpoint string // GATEKEEP_OTLP_ENDPOINT (optional, empty = no export)
	OTLPInsecure bool   // GATEKEEP_OTLP_INSECURE (default false)

	TuningFile string // GATEKEEP_TUNING_FILE (optional TOML overrides)

	// Job settings
	JobInterval    time.Duration // GATEKEEP_JOB_INTERVAL (default 1m; 0 = disabled)
	JobConcurrency int           // GATEKEEP_JOB_CONCURRENCY (default 4)

	// Snapshot settings
	SnapshotS3Bucket   string // GATEKEEP_SNAPSHOT_S3_BUCKET (enables S3 when set)
	SnapshotS3Endpoint string // GATEKEEP_SNAPSHOT_S3_ENDPOINT (custom endpoint for MinIO)
	SnapshotS3Region   string // GATEKEEP_SNAPSHOT_S3_REGION (default "us-east-1")
	SnapshotS3Key      string // GATEKEEP_SNAPSHOT_S3_KEY (default "gatekeep/gates.jsonl"; "{ts}" expands to the write time)
}

func Load() (*Config, error) {
	c := &Config{
		Store:              envOrDefault("GATEKEEP_STORE", StorePostgres),
		DatabaseURL:        os.Getenv("GATEKEEP_DATABASE_URL"),
		GRPCAddr:           envOrDefault("GATEKEEP_GRPC_ADDR", ":9090"),
		HTTPAddr:           envOrDefault("GATEKEEP_HTTP_ADDR", ":8080"),
		NATSURL:            os.Getenv("GATEKEEP_NATS_URL"),
		AuthToken:          os.Getenv("GATEKEEP_AUTH_TOKEN"),
		LockBackend:        envOrDefault("GATEKEEP_LOCK_BACKEND", LockLocal),
		RedisAddr:          os.Getenv("GATEKEEP_REDIS_ADDR"),
		OTLPEndpoint:       os.Getenv("GATEKEEP_OTLP_ENDPOINT"),
		TuningFile:         os.Getenv("GATEKEEP_TUNING_FILE"),
		SnapshotS3Bucket:   os.Getenv("GATEKEEP_SNAPSHOT_S3_BUCKET"),
		SnapshotS3Endpoint: os.Getenv("GATEKEEP_SNAPSHOT_S3_ENDPOINT"),
		SnapshotS3Region:   envOrDefault("GATEKEEP_SNAPSHOT_S3_REGION", "us-east-1"),
		SnapshotS3Key:      envOrDefault("GATEKEEP_SNAPSHOT_S3_KEY", "gatekeep/gates.jsonl"),
	}

	switch c.Store {
	case StorePostgres:
		if c.DatabaseURL == "" {
			return nil, fmt.Errorf("GATEKEEP_DATABASE_URL is required")
		}
	case StoreMemory:
	default:
		return nil, fmt.Errorf("GATEKEEP_STORE: unknown store %q", c.Store)
	}

	switch c.LockBackend {
	case LockLocal:
	case LockPostgres:
		if c.Store != StorePostgres {
			return nil, fmt.Errorf("GATEKEEP_LOCK_BACKEND=postgres requires GATEKEEP_STORE=postgres")
		}
	case LockRedis:
		if c.RedisAddr == "" {
			return nil, fmt.Errorf("GATEKEEP_REDIS_ADDR is required for redis locks")
		}
	default:
		return nil, fmt.Errorf("GATEKEEP_LOCK_BACKEND: unknown backend %q", c.LockBackend)
	}

	d, err := time.ParseDuration(envOrDefault("GATEKEEP_JOB_INTERVAL", "1m"))
	if err != nil {
		return nil, fmt.Errorf("GATEKEEP_JOB_INTERVAL: %w", err)
	}
	c.JobInterval = d

	n, err := strconv.Atoi(envOrDefault("GATEKEEP_JOB_CONCURRENCY", "4"))
	if err != nil || n < 1 {
		return nil, fmt.Errorf("GATEKEEP_JOB_CONCURRENCY: must be a positive integer")
	}
	c.JobConcurrency = n

	if v := os.Getenv("GATEKEEP_OTLP_INSECURE"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return nil, fmt.Errorf("GATEKEEP_OTLP_INSECURE: %w", err)
		}
		c.OTLPInsecure = b
	}

	return c, nil
}

func envOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
