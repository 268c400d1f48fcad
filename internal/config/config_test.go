package config_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"agent-queue/internal/config"
	"agent-queue/internal/entity"
	"agent-queue/internal/lease"
)

func envFrom(m map[string]string) func(string) string {
	return func(k string) string { return m[k] }
}

func TestLoad_DefaultsWithEnv(t *testing.T) {
	cfg, err := config.Load(envFrom(map[string]string{
		"POSTGRES_DSN":   "postgres://u:p@localhost/db",
		"WORKERS":        "8",
		"LEASE_DURATION": "90s",
	}))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Store.Driver != "postgres" || cfg.Store.DSN != "postgres://u:p@localhost/db" {
		t.Fatalf("unexpected store config: %#v", cfg.Store)
	}
	if cfg.Worker.Slots != 8 {
		t.Fatalf("expected 8 slots, got %d", cfg.Worker.Slots)
	}
	if cfg.Lease.LeaseDuration != 90*time.Second || cfg.Lease.HeartbeatInterval != 20*time.Second {
		t.Fatalf("unexpected lease policy: %#v", cfg.Lease)
	}
	if _, ok := cfg.RetryPolicy().(lease.ExponentialBackoff); !ok {
		t.Fatalf("expected exponential retry by default, got %T", cfg.RetryPolicy())
	}
}

func TestLoad_FileThenEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "queue.yaml")
	body := `
store:
  driver: sqlite
  dsn: /var/lib/queue.db
lease:
  lease_duration: 2m
  heartbeat_interval: 30s
  sweep_interval: 10s
  max_attempts: 5
retry:
  kind: fixed
  base: 45s
routing:
  runtimes:
    gemini: moonmind.jobs.gemini
queue_aliases:
  gemini_legacy: moonmind.jobs.gemini
`
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := config.Load(envFrom(map[string]string{
		"QUEUE_CONFIG": path,
		"STORE_DRIVER": "memory",
	}))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Store.Driver != "memory" || cfg.Store.DSN != "/var/lib/queue.db" {
		t.Fatalf("env must override file driver only: %#v", cfg.Store)
	}
	if cfg.Lease.MaxAttempts != 5 || cfg.Lease.LeaseDuration != 2*time.Minute {
		t.Fatalf("lease not read from file: %#v", cfg.Lease)
	}
	if d := cfg.RetryPolicy().Delay(3); d != 45*time.Second {
		t.Fatalf("fixed retry delay = %s", d)
	}
	if _, ok := cfg.Routing.JobTypes["task"]; !ok {
		t.Fatalf("default job types must survive a partial routing section")
	}

	dc := cfg.Dispatcher()
	if dc.RuntimeQueues[entity.RuntimeGemini] != "moonmind.jobs.gemini" {
		t.Fatalf("runtime queue missing: %#v", dc.RuntimeQueues)
	}
	if got := dc.Aliases.Canonical("GEMINI_LEGACY"); got != "moonmind.jobs.gemini" {
		t.Fatalf("configured alias not applied: %q", got)
	}
	if got := dc.Aliases.Canonical("codex"); got != "moonmind.jobs" {
		t.Fatalf("built-in alias lost: %q", got)
	}
}

func TestLoad_Rejects(t *testing.T) {
	cases := []struct {
		name string
		env  map[string]string
		want string
	}{
		{"missing dsn", map[string]string{}, "dsn is required"},
		{"bad driver", map[string]string{"STORE_DRIVER": "oracle"}, "unknown driver"},
		{"bad int", map[string]string{"STORE_DRIVER": "memory", "WORKERS": "many"}, "WORKERS"},
		{"heartbeat too slow", map[string]string{"STORE_DRIVER": "memory", "HEARTBEAT_INTERVAL": "40s"}, "two heartbeat intervals"},
		{"heartbeat above lease", map[string]string{"STORE_DRIVER": "memory", "HEARTBEAT_INTERVAL": "60s"}, "must be less than lease_duration"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := config.Load(envFrom(tc.env))
			if err == nil || !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("expected error containing %q, got %v", tc.want, err)
			}
		})
	}
}

func TestParse_UnknownKey(t *testing.T) {
	cfg := config.Default()
	if err := config.Parse([]byte("stroe:\n  driver: memory\n"), &cfg); err == nil {
		t.Fatalf("expected unknown key to be rejected")
	}
}

func TestRedactDSN(t *testing.T) {
	cases := map[string]string{
		"postgres://app:s3cret@db:5432/queue?sslmode=disable": "postgres://app:****@db:5432/queue?sslmode=disable",
		"postgres://app@db/queue":                             "postgres://app@db/queue",
		"/var/lib/queue.db":                                   "/var/lib/queue.db",
	}
	for in, want := range cases {
		if got := config.RedactDSN(in); got != want {
			t.Fatalf("RedactDSN(%q) = %q, want %q", in, got, want)
		}
	}
}
