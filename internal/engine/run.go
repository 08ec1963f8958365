package engine

import (
	"context"
	"fmt"
)

// stepFn is the signature shared by stepOnce and stepOnceStream: run one
// ReAct cycle, mutating st in place, returning an error only once retries
// (handled internally) are exhausted or a non-retryable failure occurs.
type stepFn func(ctx context.Context, llm LLMClient, reg ToolRegistry, st *State, hooks Hooks, opts ChatOptions) error

// runLoop drives the ReAct loop until completion, max steps, cancellation, or
// a soft-cap/step error. Run and RunStream differ only in which stepFn they
// pass in, so the loop itself lives here once.
func runLoop(ctx context.Context, llm LLMClient, reg ToolRegistry, st *State, hooks Hooks, opts ChatOptions, step stepFn) error {
	st.Step = 0

	for st.Step < st.MaxSteps && !st.Done {
		select {
		case <-ctx.Done():
			return fmt.Errorf("execution cancelled: %w", ctx.Err())
		default:
		}

		if err := checkSoftCaps(st); err != nil {
			hooks.OnSoftCapReached(ctx, st, err)
			return err
		}

		if err := step(ctx, llm, reg, st, hooks, opts); err != nil {
			// the step function handles retries internally; an error here
			// means retries were exhausted or the failure was non-retryable
			return err
		}
		st.Step++
	}
	if st.Done {
		hooks.OnDone(ctx, st)
	}
	return nil
}

// Run executes the ReAct loop to completion using non-streaming chat calls.
// Steps increment only on successful completion; retries are tracked
// separately inside stepOnce.
func Run(ctx context.Context, llm LLMClient, reg ToolRegistry, st *State, hooks Hooks, opts ChatOptions) error {
	return runLoop(ctx, llm, reg, st, hooks, opts, stepOnce)
}

// RunStream executes the ReAct loop using streaming chat calls so hooks see
// incremental text via OnStreamDelta. Opt-in: callers using Run are
// unaffected.
func RunStream(ctx context.Context, llm LLMClient, reg ToolRegistry, st *State, hooks Hooks, opts ChatOptions) error {
	return runLoop(ctx, llm, reg, st, hooks, opts, stepOnceStream)
}
