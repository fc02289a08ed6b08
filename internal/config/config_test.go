package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadLayersFileThenEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	yml := `
mode: online
enable_local_auth: false
db_driver: postgres
db_dsn: postgres://exams@db/exams
scheduler:
  backend: redis
  poll_interval: 250ms
  max_attempts: 5
redis:
  addr: redis:6379
  prefix: test:jobs
`
	if err := os.WriteFile(path, []byte(yml), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("REDIS_ADDR", "cache:6380")
	t.Setenv("SCHEDULER_MAX_ATTEMPTS", "3")

	c, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if c.Mode != ModeOnline || c.DBDriver != "postgres" || c.DBDSN != "postgres://exams@db/exams" {
		t.Fatalf("file values not applied: %+v", c)
	}
	if c.Scheduler.PollInterval != 250*time.Millisecond {
		t.Fatalf("poll interval = %v", c.Scheduler.PollInterval)
	}
	if c.Redis.Addr != "cache:6380" || c.Scheduler.MaxAttempts != 3 {
		t.Fatalf("env overrides not applied: %+v", c)
	}
	if c.Redis.Prefix != "test:jobs" {
		t.Fatalf("prefix = %q", c.Redis.Prefix)
	}
	if got := c.CORSOrigins(); len(got) != 1 || got[0] != "https://lms.mindengage.ai" {
		t.Fatalf("online cors = %v", got)
	}
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	c, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if c.Scheduler.Backend != "memory" || c.Scheduler.MaxAttempts != 3 || c.DBDriver != "sqlite" {
		t.Fatalf("unexpected defaults: %+v", c)
	}
}

func TestValidateRejectsUnknownBackend(t *testing.T) {
	t.Setenv("SCHEDULER_BACKEND", "kafka")
	if _, err := Load(""); err == nil {
		t.Fatal("expected validation error")
	}
}

func TestValidateRejectsLocalAuthOnline(t *testing.T) {
	t.Setenv("MODE", "online")
	if _, err := Load(""); err == nil {
		t.Fatal("online mode with local auth should be rejected")
	}
	t.Setenv("ENABLE_LOCAL_AUTH", "false")
	if _, err := Load(""); err != nil {
		t.Fatalf("Load: %v", err)
	}
}
