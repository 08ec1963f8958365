// Command atlasd is the core's HTTP-facing daemon: it owns the shared
// store, event bus, rate limiter, async engine, worker pool, and the HTTP
// surface (spec §6), the parent-process mirror of cmd/atlasworker's
// subprocess-side wiring.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/logqs/atlas2/internal/asyncengine"
	"github.com/logqs/atlas2/internal/coreconfig"
	"github.com/logqs/atlas2/internal/dispatcher"
	"github.com/logqs/atlas2/internal/engine"
	"github.com/logqs/atlas2/internal/eventbus"
	"github.com/logqs/atlas2/internal/httpapi"
	"github.com/logqs/atlas2/internal/observability"
	"github.com/logqs/atlas2/internal/providers"
	"github.com/logqs/atlas2/internal/ratelimit"
	"github.com/logqs/atlas2/internal/store"
	"github.com/logqs/atlas2/internal/terminal"
	"github.com/logqs/atlas2/internal/websession"
	"github.com/logqs/atlas2/internal/workerpool"
)

func main() {
	_ = godotenv.Load()
	log := slog.Default()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, log); err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: atlasd: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, log *slog.Logger) error {
	cfg := coreconfig.FromEnv(log)

	st, err := store.Open(ctx, cfg.DBPath)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	bus := eventbus.New(log, 500)

	metrics, shutdownMetrics, err := observability.InitFromEnv(ctx, "atlasd")
	if err != nil {
		return fmt.Errorf("init observability: %w", err)
	}
	defer shutdownMetrics(context.Background())

	globalLimits, _ := ratelimit.GlobalEnvConfig()
	limiter := ratelimit.New(globalLimits, ratelimit.WithMetrics(metrics))

	router := asyncengine.NewStaticRouter(os.Getenv("LLM_PROVIDER"), os.Getenv("LLM_MODEL"))

	llmFor := func(provider string) (engine.LLMClient, error) {
		client, _, err := providers.ResolveLLMClient(ctx, provider, "")
		return client, err
	}

	// Domain-routed turns (e.g. "coder") run exclusively on the worker pool
	// in this process; no DomainExecutor is registered on the in-process
	// async engine here.
	domains := map[string]asyncengine.DomainExecutor{}

	async := asyncengine.New(st, bus, limiter, router, llmFor, domains, log).WithMetrics(metrics)

	exe, err := os.Executable()
	if err != nil {
		return fmt.Errorf("resolve own executable path: %w", err)
	}
	workerBinary := os.Getenv("ATLAS_WORKER_BINARY")
	if workerBinary == "" {
		workerBinary = filepath.Join(filepath.Dir(exe), "atlasworker")
	}
	spawner := workerpool.NewDefaultSpawner(workerBinary, []string{"-db", cfg.DBPath}, log)
	pool := workerpool.New(spawner, cfg.WorkerPool, log)
	if err := pool.Start(ctx); err != nil {
		log.Warn("atlasd: worker pool warmup failed, domain turns may queue until a worker spawns", "err", err)
	}
	defer pool.Close()

	disp := dispatcher.New(st, bus, limiter, async, pool, cfg.Dispatcher, log)

	webSessions := websession.NewManager(cfg.WebSessionProfileDir, cfg.WebSessionHeadless, log)
	terminals := terminal.NewManager(cfg.TerminalShell, log)

	server := httpapi.New(httpapi.Config{
		Host: cfg.HTTPHost, Port: cfg.HTTPPort, Log: log,
		Store: st, Bus: bus, Dispatcher: disp, Async: async, Pool: pool,
		WebSession: webSessions, Terminal: terminals,
	})

	return server.Run(ctx)
}
