// Package coreconfig assembles the atlasd daemon's process-wide settings
// from environment variables, the way internal/sandbox.DefaultConfig reads
// ATLAS2_SANDBOX_MODE et al.: one function that resolves every ATLAS_* knob to
// a typed struct with sane defaults, called once at startup.
//
// This is deliberately separate from internal/config.Manager, which governs
// one CLI user's personal provider/model preferences persisted under their OS
// config directory; coreconfig governs the daemon process itself (listen
// address, pool sizing, concurrency ceilings) and is never written to disk.
package coreconfig

import (
	"log/slog"
	"os"
	"strconv"
	"time"

	"github.com/logqs/atlas2/internal/dispatcher"
	"github.com/logqs/atlas2/internal/workerpool"
)

// Config is the fully-resolved daemon configuration.
type Config struct {
	HTTPHost string
	HTTPPort int

	DBPath string

	Dispatcher dispatcher.Config
	WorkerPool workerpool.Config

	WebSessionProfileDir string
	WebSessionHeadless   bool

	TerminalShell string
}

// FromEnv resolves Config from ATLAS_* environment variables, defaulting
// anything unset the way sandbox.DefaultConfig and workerpool.Config.withDefaults
// do for their own concerns.
func FromEnv(log *slog.Logger) Config {
	if log == nil {
		log = slog.Default()
	}

	cfg := Config{
		HTTPHost: getEnvOrDefault("ATLAS_HTTP_HOST", "127.0.0.1"),
		HTTPPort: getEnvIntOrDefault(log, "ATLAS_HTTP_PORT", 8090),
		DBPath:   getEnvOrDefault("ATLAS_DB_PATH", "atlas.db"),

		Dispatcher: dispatcher.Config{
			MaxAsyncConcurrentChats: getEnvIntOrDefault(log, "ATLAS_MAX_ASYNC_CONCURRENT_CHATS", 100),
			UseWorkerPoolForDomain:  getEnvBoolOrDefault(log, "ATLAS_USE_WORKER_POOL_FOR_DOMAIN", true),
		},
		WorkerPool: workerpool.Config{
			PoolSize:           getEnvIntOrDefault(log, "ATLAS_WORKER_POOL_SIZE", 4),
			MaxParallelSpawn:   getEnvIntOrDefault(log, "ATLAS_WORKER_MAX_PARALLEL_SPAWN", 2),
			SpawnRetryDelay:    getEnvDurationOrDefault(log, "ATLAS_WORKER_SPAWN_RETRY_DELAY", 200*time.Millisecond),
			SpawnRetryDelayMax: getEnvDurationOrDefault(log, "ATLAS_WORKER_SPAWN_RETRY_DELAY_MAX", 5*time.Second),
			SlowStartThreshold: getEnvDurationOrDefault(log, "ATLAS_WORKER_SLOW_START_THRESHOLD", 10*time.Second),
			WorkerInitTimeout:  getEnvDurationOrDefault(log, "ATLAS_WORKER_INIT_TIMEOUT", 40*time.Second),
		},

		WebSessionProfileDir: getEnvOrDefault("ATLAS_WEBSESSION_PROFILE_DIR", "./atlas-web-profile"),
		WebSessionHeadless:   getEnvBoolOrDefault(log, "ATLAS_WEBSESSION_HEADLESS", true),

		TerminalShell: os.Getenv("ATLAS_TERMINAL_SHELL"),
	}

	return cfg
}

func getEnvOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvIntOrDefault(log *slog.Logger, key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		log.Warn("coreconfig: invalid integer env value, using default", "key", key, "value", v, "default", fallback)
		return fallback
	}
	return n
}

func getEnvBoolOrDefault(log *slog.Logger, key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		log.Warn("coreconfig: invalid boolean env value, using default", "key", key, "value", v, "default", fallback)
		return fallback
	}
	return b
}

func getEnvDurationOrDefault(log *slog.Logger, key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		log.Warn("coreconfig: invalid duration env value, using default", "key", key, "value", v, "default", fallback)
		return fallback
	}
	return d
}
