package coreconfig

import "testing"

func TestFromEnv_Defaults(t *testing.T) {
	cfg := FromEnv(nil)
	if cfg.HTTPHost != "127.0.0.1" {
		t.Fatalf("expected default host 127.0.0.1, got %q", cfg.HTTPHost)
	}
	if cfg.HTTPPort != 8090 {
		t.Fatalf("expected default port 8090, got %d", cfg.HTTPPort)
	}
	if cfg.WorkerPool.PoolSize != 4 {
		t.Fatalf("expected default pool size 4, got %d", cfg.WorkerPool.PoolSize)
	}
	if !cfg.Dispatcher.UseWorkerPoolForDomain {
		t.Fatal("expected UseWorkerPoolForDomain to default true")
	}
}

func TestFromEnv_OverridesFromEnvironment(t *testing.T) {
	t.Setenv("ATLAS_HTTP_PORT", "9999")
	t.Setenv("ATLAS_WORKER_POOL_SIZE", "8")
	t.Setenv("ATLAS_USE_WORKER_POOL_FOR_DOMAIN", "false")

	cfg := FromEnv(nil)
	if cfg.HTTPPort != 9999 {
		t.Fatalf("expected overridden port 9999, got %d", cfg.HTTPPort)
	}
	if cfg.WorkerPool.PoolSize != 8 {
		t.Fatalf("expected overridden pool size 8, got %d", cfg.WorkerPool.PoolSize)
	}
	if cfg.Dispatcher.UseWorkerPoolForDomain {
		t.Fatal("expected UseWorkerPoolForDomain to be overridden to false")
	}
}

func TestFromEnv_InvalidIntFallsBackToDefault(t *testing.T) {
	t.Setenv("ATLAS_HTTP_PORT", "not-a-number")
	cfg := FromEnv(nil)
	if cfg.HTTPPort != 8090 {
		t.Fatalf("expected fallback to default port on invalid value, got %d", cfg.HTTPPort)
	}
}
