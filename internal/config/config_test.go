package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

// allEnvVars lists every variable Load reads; they are cleared between tests.
var allEnvVars = []string{
	"GATEKEEP_STORE", "GATEKEEP_DATABASE_URL", "GATEKEEP_GRPC_ADDR", "GATEKEEP_HTTP_ADDR",
	"GATEKEEP_NATS_URL", "GATEKEEP_AUTH_TOKEN", "GATEKEEP_LOCK_BACKEND", "GATEKEEP_REDIS_ADDR",
	"GATEKEEP_OTLP_ENDPOINT", "GATEKEEP_OTLP_INSECURE", "GATEKEEP_TUNING_FILE",
	"GATEKEEP_JOB_INTERVAL", "GATEKEEP_JOB_CONCURRENCY",
	"GATEKEEP_SNAPSHOT_S3_BUCKET", "GATEKEEP_SNAPSHOT_S3_ENDPOINT",
	"GATEKEEP_SNAPSHOT_S3_REGION", "GATEKEEP_SNAPSHOT_S3_KEY",
}

func clearAllEnv(t *testing.T) {
	t.Helper()
	for _, key := range allEnvVars {
		t.Setenv(key, "")
	}
}

func TestLoad(t *testing.T) {
	for _, tc := range []struct {
		name         string
		env          map[string]string
		wantErr      bool
		wantStore    string
		wantGRPCAddr string
		wantHTTPAddr string
		wantLock     string
	}{
		{
			name:    "MissingDatabaseURL",
			env:     map[string]string{},
			wantErr: true,
		},
		{
			name:         "DefaultAddresses",
			env:          map[string]string{"GATEKEEP_DATABASE_URL": "postgres://localhost/gatekeep"},
			wantStore:    StorePostgres,
			wantGRPCAddr: ":9090",
			wantHTTPAddr: ":8080",
			wantLock:     LockLocal,
		},
		{
			name:         "MemoryStoreNeedsNoDatabase",
			env:          map[string]string{"GATEKEEP_STORE": "memory", "GATEKEEP_HTTP_ADDR": ":3000"},
			wantStore:    StoreMemory,
			wantGRPCAddr: ":9090",
			wantHTTPAddr: ":3000",
			wantLock:     LockLocal,
		},
		{
			name:    "UnknownStore",
			env:     map[string]string{"GATEKEEP_STORE": "sqlite"},
			wantErr: true,
		},
		{
			name: "PostgresLockNeedsPostgresStore",
			env: map[string]string{
				"GATEKEEP_STORE":        "memory",
				"GATEKEEP_LOCK_BACKEND": "postgres",
			},
			wantErr: true,
		},
		{
			name: "RedisLockNeedsAddr",
			env: map[string]string{
				"GATEKEEP_STORE":        "memory",
				"GATEKEEP_LOCK_BACKEND": "redis",
			},
			wantErr: true,
		},
		{
			name: "RedisLock",
			env: map[string]string{
				"GATEKEEP_DATABASE_URL": "postgres://db:5432/gatekeep",
				"GATEKEEP_LOCK_BACKEND": "redis",
				"GATEKEEP_REDIS_ADDR":   "localhost:6379",
			},
			wantStore:    StorePostgres,
			wantGRPCAddr: ":9090",
			wantHTTPAddr: ":8080",
			wantLock:     LockRedis,
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			clearAllEnv(t)
			for k, v := range tc.env {
				t.Setenv(k, v)
			}

			cfg, err := Load()
			if tc.wantErr {
				if err == nil {
					t.Fatal("expected error, got nil")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if cfg.Store != tc.wantStore {
				t.Errorf("Store = %q, want %q", cfg.Store, tc.wantStore)
			}
			if cfg.GRPCAddr != tc.wantGRPCAddr {
				t.Errorf("GRPCAddr = %q, want %q", cfg.GRPCAddr, tc.wantGRPCAddr)
			}
			if cfg.HTTPAddr != tc.wantHTTPAddr {
				t.Errorf("HTTPAddr = %q, want %q", cfg.HTTPAddr, tc.wantHTTPAddr)
			}
			if cfg.LockBackend != tc.wantLock {
				t.Errorf("LockBackend = %q, want %q", cfg.LockBackend, tc.wantLock)
			}
		})
	}
}

func TestLoad_JobSettings(t *testing.T) {
	for _, tc := range []struct {
		name            string
		env             map[string]string
		wantErr         bool
		wantInterval    time.Duration
		wantConcurrency int
	}{
		{"Defaults", nil, false, time.Minute, 4},
		{"Custom", map[string]string{"GATEKEEP_JOB_INTERVAL": "30s", "GATEKEEP_JOB_CONCURRENCY": "8"}, false, 30 * time.Second, 8},
		{"Disabled", map[string]string{"GATEKEEP_JOB_INTERVAL": "0s"}, false, 0, 4},
		{"BadInterval", map[string]string{"GATEKEEP_JOB_INTERVAL": "soon"}, true, 0, 0},
		{"BadConcurrency", map[string]string{"GATEKEEP_JOB_CONCURRENCY": "0"}, true, 0, 0},
	} {
		t.Run(tc.name, func(t *testing.T) {
			clearAllEnv(t)
			t.Setenv("GATEKEEP_STORE", "memory")
			for k, v := range tc.env {
				t.Setenv(k, v)
			}
			cfg, err := Load()
			if tc.wantErr {
				if err == nil {
					t.Fatal("expected error, got nil")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if cfg.JobInterval != tc.wantInterval {
				t.Errorf("JobInterval = %v, want %v", cfg.JobInterval, tc.wantInterval)
			}
			if cfg.JobConcurrency != tc.wantConcurrency {
				t.Errorf("JobConcurrency = %d, want %d", cfg.JobConcurrency, tc.wantConcurrency)
			}
		})
	}
}

func TestLoad_SnapshotDefaults(t *testing.T) {
	clearAllEnv(t)
	t.Setenv("GATEKEEP_STORE", "memory")
	t.Setenv("GATEKEEP_SNAPSHOT_S3_BUCKET", "backups")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.SnapshotS3Bucket != "backups" {
		t.Errorf("SnapshotS3Bucket = %q", cfg.SnapshotS3Bucket)
	}
	if cfg.SnapshotS3Region != "us-east-1" {
		t.Errorf("SnapshotS3Region = %q, want us-east-1", cfg.SnapshotS3Region)
	}
	if cfg.SnapshotS3Key != "gatekeep/gates.jsonl" {
		t.Errorf("SnapshotS3Key = %q", cfg.SnapshotS3Key)
	}
}

func TestDefaultTuning_Valid(t *testing.T) {
	if err := DefaultTuning().Validate(); err != nil {
		t.Fatalf("default tuning invalid: %v", err)
	}
}

func TestLoadTuning(t *testing.T) {
	dir := t.TempDir()
	write := func(name, body string) string {
		p := filepath.Join(dir, name)
		if err := os.WriteFile(p, []byte(body), 0o600); err != nil {
			t.Fatal(err)
		}
		return p
	}

	t.Run("EmptyPathUsesDefaults", func(t *testing.T) {
		got, err := LoadTuning("")
		if err != nil {
			t.Fatalf("LoadTuning: %v", err)
		}
		if got.Binding.Standard.MinSamples != 12 {
			t.Errorf("Standard.MinSamples = %d", got.Binding.Standard.MinSamples)
		}
	})

	t.Run("Overrides", func(t *testing.T) {
		p := write("ok.toml", `
z = 2.33

[cluster]
k = 5
max_epsilon_m = 120.0

[binding.standard]
min_confidence = 0.8

[virtual_gate]
cooldown = "10m"
`)
		got, err := LoadTuning(p)
		if err != nil {
			t.Fatalf("LoadTuning: %v", err)
		}
		if got.Z != 2.33 || got.Cluster.K != 5 || got.Cluster.MaxEpsilon != 120 {
			t.Errorf("overrides not applied: z=%v k=%d max=%v", got.Z, got.Cluster.K, got.Cluster.MaxEpsilon)
		}
		if got.Binding.Standard.MinConfidence != 0.8 || got.Binding.Standard.MinSamples != 12 {
			t.Errorf("standard path = %+v", got.Binding.Standard)
		}
		if got.Cluster.MinPts != 4 {
			t.Errorf("untouched MinPts = %d, want default 4", got.Cluster.MinPts)
		}
		if got.VirtualGate.Cooldown != 10*time.Minute {
			t.Errorf("Cooldown = %v", got.VirtualGate.Cooldown)
		}
	})

	t.Run("UnknownKey", func(t *testing.T) {
		p := write("typo.toml", "[cluster]\nepsilon = 3.0\n")
		if _, err := LoadTuning(p); err == nil || !strings.Contains(err.Error(), "unknown key") {
			t.Fatalf("err = %v, want unknown key", err)
		}
	})

	t.Run("Invalid", func(t *testing.T) {
		p := write("bad.toml", "z = -1.0\n[binding]\nmin_scans_for_binding = 0\n")
		if _, err := LoadTuning(p); err == nil {
			t.Fatal("expected validation error")
		}
	})
}
