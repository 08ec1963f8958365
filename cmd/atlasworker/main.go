// Command atlasworker is the subprocess internal/workerpool.HostSpawner and
// DockerSpawner launch: a long-lived process that serves one chat turn at a
// time over the NDJSON command/event pipe on stdin/stdout (spec §4.4).
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/logqs/atlas2/internal/asyncengine"
	"github.com/logqs/atlas2/internal/coder"
	"github.com/logqs/atlas2/internal/engine"
	"github.com/logqs/atlas2/internal/eventbus"
	"github.com/logqs/atlas2/internal/observability"
	"github.com/logqs/atlas2/internal/providers"
	"github.com/logqs/atlas2/internal/ratelimit"
	"github.com/logqs/atlas2/internal/store"
	"github.com/logqs/atlas2/internal/workerengine"
	"github.com/logqs/atlas2/internal/workerpool"
)

func main() {
	_ = godotenv.Load()
	// Stdout is the NDJSON event pipe; every diagnostic goes to stderr.
	log.SetOutput(os.Stderr)

	dbPath := flag.String("db", os.Getenv("ATLAS_DB_PATH"), "path to the shared chat SQLite database")
	flag.Parse()
	if *dbPath == "" {
		*dbPath = "atlas.db"
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, *dbPath); err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: atlasworker: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, dbPath string) error {
	st, err := store.Open(ctx, dbPath)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	bus := eventbus.New(slog.Default(), 500)

	metrics, shutdownMetrics, err := observability.InitFromEnv(ctx, "atlasworker")
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

	// The coder domain runs inside this subprocess, not the parent atlasd
	// process, so a crashed or runaway agent loop only takes down one worker.
	domains := map[string]asyncengine.DomainExecutor{
		"coder": coder.NewDomainExecutor(),
	}

	async := asyncengine.New(st, bus, limiter, router, llmFor, domains, slog.Default()).WithMetrics(metrics)

	enc := workerpool.NewEventEncoder(os.Stdout)
	dec := workerpool.NewCommandDecoder(os.Stdin)

	eng := workerengine.New(async, bus, st, enc, slog.Default())
	go eng.Run(ctx)

	if err := enc.Encode(workerpool.NewSpawnedEvent(true, "")); err != nil {
		return fmt.Errorf("send spawned handshake: %w", err)
	}

	runner := workerengine.NewRunner(dec, eng, slog.Default())
	return runner.Run(ctx)
}
