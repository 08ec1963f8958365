package workerengine

import (
	"context"
	"errors"
	"io"
	"log/slog"

	"github.com/logqs/atlas2/internal/workerpool"
)

// Runner decodes commands from a parent process and dispatches them to an
// Engine, one goroutine per command so a Stop/Cancel for the active chat can
// still be decoded while a Process command is in flight (mirrors
// cmd/repl/stdio_runner.go's stdioRunner.Run loop).
type Runner struct {
	dec *workerpool.CommandDecoder
	eng *Engine
	log *slog.Logger
}

// NewRunner builds a Runner reading framed commands from dec and dispatching
// them to eng.
func NewRunner(dec *workerpool.CommandDecoder, eng *Engine, log *slog.Logger) *Runner {
	if log == nil {
		log = slog.Default()
	}
	return &Runner{dec: dec, eng: eng, log: log}
}

// Run blocks decoding commands until the parent closes the pipe (io.EOF) or
// ctx is cancelled.
func (r *Runner) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		cmd, err := r.dec.Decode()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}

		go func(c workerpool.Command) {
			if err := r.eng.HandleCommand(ctx, c); err != nil {
				r.log.Error("workerengine: command handling failed", "error", err)
			}
		}(cmd)
	}
}
