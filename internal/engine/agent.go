package engine

import (
	"context"

	"github.com/logqs/atlas2/internal/prompts"
)

// Agent represents an agent instance that can run conversations.
type Agent struct {
	llm       LLMClient
	tools     ToolRegistry
	config    AgentConfig
	hooks     Hooks
	prompt    *prompts.Prompt
	lastState *State
}

// freshState builds a State seeded with history, carrying the agent's
// current model/step/budget configuration. Used whenever a new State needs
// to be created from scratch (first run, or Append before any Run call).
func (a *Agent) freshState(history []ChatMessage) *State {
	return &State{
		History:         history,
		Model:           a.config.Model,
		MaxSteps:        a.config.MaxSteps,
		Budget:          a.config.Budget,
		EditToolBlocked: a.config.EnforcePlanning,
		FailureCounts:   make(map[string]int),
		FileReadCache:   make(map[string]bool),
		ToolCallCount:   0,
		MiniPlan:        nil,
	}
}

// Run executes a single user message through the agent.
// It maintains conversation history across multiple calls.
func (a *Agent) Run(ctx context.Context, userMessage string) error {
	var st *State

	// If we have previous state, reuse it (preserving conversation history)
	if a.lastState != nil && len(a.lastState.History) > 0 {
		st = a.freshState(make([]ChatMessage, len(a.lastState.History)))
		st.Totals = a.lastState.Totals // Preserve accumulated token usage
		copy(st.History, a.lastState.History)

		// Preserve file read cache and failure counts from previous run
		if a.lastState.FileReadCache != nil {
			st.FileReadCache = make(map[string]bool)
			for k, v := range a.lastState.FileReadCache {
				st.FileReadCache[k] = v
			}
		}
		if a.lastState.FailureCounts != nil {
			st.FailureCounts = make(map[string]int)
			for k, v := range a.lastState.FailureCounts {
				st.FailureCounts[k] = v
			}
		}
	} else {
		// First run: create new state with system prompt
		st = a.freshState([]ChatMessage{{Role: RoleSystem, Content: a.prompt.Content}})
	}

	// Add user message
	st.Append(ChatMessage{
		Role:    RoleUser,
		Content: userMessage,
	})

	// Build options
	maxOutputTokens := a.config.MaxOutputTokens
	if maxOutputTokens == 0 {
		maxOutputTokens = 8192 // Default fallback if not configured
	}
	opts := ChatOptions{
		MaxOutputTokens:   maxOutputTokens,
		RetryConfig:       a.config.RetryConfig,
		CompressionConfig: a.config.CompressionConfig,
		Stream:            a.config.Streaming,
	}

	// Run engine
	if a.config.Streaming {
		err := RunStream(ctx, a.llm, a.tools, st, a.hooks, opts)
		a.lastState = st
		return err
	}
	err := Run(ctx, a.llm, a.tools, st, a.hooks, opts)
	a.lastState = st
	return err
}

// Append adds a message to the agent's conversation history.
// This allows for multi-turn conversations and external message injection.
// Messages appended here will be preserved in the next Run() call.
func (a *Agent) Append(msg ChatMessage) {
	if a.lastState == nil {
		// Safety check: if prompt is nil, this shouldn't happen for a
		// correctly built agent, but fall back to an empty history rather
		// than panicking on a.prompt.Content.
		if a.prompt == nil {
			a.lastState = a.freshState([]ChatMessage{})
		} else {
			a.lastState = a.freshState([]ChatMessage{{Role: RoleSystem, Content: a.prompt.Content}})
		}
	}

	// Append message to existing history
	a.lastState.Append(msg)
}

// LastState returns the most recent conversation state after Run completes.
// Callers should treat the returned state as read-only.
func (a *Agent) LastState() *State {
	return a.lastState
}

// SetLLM replaces the agent's LLM client and model name at runtime.
// This allows hot-swapping the LLM provider/model without creating a new agent.
// Conversation history is preserved across the swap.
// It takes no lock, so a call that overlaps a running Run is not
// synchronized with it.
func (a *Agent) SetLLM(client LLMClient, modelName string) {
	a.llm = client
	a.config.Model = modelName

	// Update model in lastState if it exists
	if a.lastState != nil {
		a.lastState.Model = modelName
	}
}
