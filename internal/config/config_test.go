// Copyright (c) 2025 Northbound System
// Author: Nicholas Skitch
package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"QUEUE_NAME", "REDIS_ADDR", "REDIS_DB", "REDIS_PASSWORD", "REDIS_HOST", "REDIS_PORT",
		"JOBHIVE_QUEUE_NAME", "JOBHIVE_REDIS_ADDR", "JOBHIVE_WORKER_LEASE_TTL", "JOBHIVE_WORKER_COUNT",
	} {
		t.Setenv(key, "")
		os.Unsetenv(key)
	}
	// Keep a stray .env in the package directory from leaking in.
	wd, err := os.Getwd()
	if err != nil {
		t.Fatalf("Getwd failed: %v", err)
	}
	if err := os.Chdir(t.TempDir()); err != nil {
		t.Fatalf("Chdir failed: %v", err)
	}
	t.Cleanup(func() { _ = os.Chdir(wd) })
}

func TestLoad_Defaults(t *testing.T) {
	clearEnv(t)

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.QueueName != "job" {
		t.Errorf("QueueName = %s, want job", cfg.QueueName)
	}
	if cfg.Redis.Addr != "127.0.0.1:6379" {
		t.Errorf("Redis.Addr = %s", cfg.Redis.Addr)
	}
	if cfg.Worker.LeaseTTL != 120*time.Second {
		t.Errorf("LeaseTTL = %s, want 2m0s", cfg.Worker.LeaseTTL)
	}
	if cfg.Worker.LeaseTimeout != 2*time.Second {
		t.Errorf("LeaseTimeout = %s, want 2s", cfg.Worker.LeaseTimeout)
	}
	if cfg.Worker.PollInterval != time.Second {
		t.Errorf("PollInterval = %s, want 1s", cfg.Worker.PollInterval)
	}
	if cfg.Runner.DefaultImage != "hello-world" {
		t.Errorf("DefaultImage = %s", cfg.Runner.DefaultImage)
	}
	if cfg.Reaper.Interval != 30*time.Second {
		t.Errorf("Reaper.Interval = %s, want 30s", cfg.Reaper.Interval)
	}
}

func TestLoad_File(t *testing.T) {
	clearEnv(t)

	path := filepath.Join(t.TempDir(), "jobhive.yaml")
	content := `queue_name: builds
redis:
  addr: "redis.internal:6380"
  db: 2
worker:
  count: 4
  lease_ttl: 30s
  poll_interval: 250ms
`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.QueueName != "builds" {
		t.Errorf("QueueName = %s, want builds", cfg.QueueName)
	}
	if cfg.Redis.Addr != "redis.internal:6380" || cfg.Redis.DB != 2 {
		t.Errorf("Redis = %+v", cfg.Redis)
	}
	if cfg.Worker.Count != 4 || cfg.Worker.LeaseTTL != 30*time.Second || cfg.Worker.PollInterval != 250*time.Millisecond {
		t.Errorf("Worker = %+v", cfg.Worker)
	}
}

func TestLoad_Environment(t *testing.T) {
	clearEnv(t)
	t.Setenv("QUEUE_NAME", "legacy")
	t.Setenv("REDIS_HOST", "redis")
	t.Setenv("REDIS_PORT", "6378")
	t.Setenv("JOBHIVE_WORKER_LEASE_TTL", "45s")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.QueueName != "legacy" {
		t.Errorf("QueueName = %s, want legacy", cfg.QueueName)
	}
	if cfg.Redis.Addr != "redis:6378" {
		t.Errorf("Redis.Addr = %s, want redis:6378", cfg.Redis.Addr)
	}
	if cfg.Worker.LeaseTTL != 45*time.Second {
		t.Errorf("LeaseTTL = %s, want 45s", cfg.Worker.LeaseTTL)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	clearEnv(t)
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("expected an error for a missing config file")
	}
}

func TestValidate(t *testing.T) {
	base := Config{
		QueueName: "job",
		Redis:     RedisConfig{Addr: "localhost:6379"},
		Worker:    WorkerConfig{LeaseTTL: time.Minute, LeaseTimeout: 2 * time.Second},
	}
	if err := base.Validate(); err != nil {
		t.Fatalf("valid config rejected: %v", err)
	}

	bad := base
	bad.Worker.LeaseTTL = 0
	if err := bad.Validate(); err == nil {
		t.Error("zero lease ttl accepted")
	}

	for _, timeout := range []time.Duration{0, -time.Second} {
		bad = base
		bad.Worker.LeaseTimeout = timeout
		if err := bad.Validate(); err == nil {
			t.Errorf("lease timeout %s accepted", timeout)
		}
	}

	bad = base
	bad.QueueName = ""
	if err := bad.Validate(); err == nil {
		t.Error("empty queue name accepted")
	}

	bad = base
	bad.Reaper.Interval = -time.Second
	if err := bad.Validate(); err == nil {
		t.Error("negative reaper interval accepted")
	}

	bad = base
	bad.Worker.Count = -1
	if err := bad.Validate(); err == nil {
		t.Error("negative worker count accepted")
	}
}

func TestLegacyRedisAddr(t *testing.T) {
	clearEnv(t)
	if got := legacyRedisAddr(); got != "" {
		t.Errorf("legacyRedisAddr() = %q with no env set", got)
	}
	t.Setenv("REDIS_PORT", "7000")
	if got := legacyRedisAddr(); got != "localhost:7000" {
		t.Errorf("legacyRedisAddr() = %q, want localhost:7000", got)
	}
}
