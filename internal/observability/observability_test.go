package observability

import "testing"

func TestNewNoopBuildsWorkingInstruments(t *testing.T) {
	m, err := NewNoop()
	if err != nil {
		t.Fatalf("NewNoop: %v", err)
	}
	if m.Tracer == nil {
		t.Fatal("expected non-nil tracer")
	}
	ctx, span := m.Tracer.Start(t.Context(), "test.span")
	span.End()
	if ctx == nil {
		t.Fatal("expected non-nil context from Start")
	}

	m.LLMRequests.Add(t.Context(), 1)
	m.LLMDuration.Record(t.Context(), 12.5)
	m.ToolExecutions.Add(t.Context(), 1)
	m.RateLimitWaits.Add(t.Context(), 1)
	m.WorkerSpawns.Add(t.Context(), 1)
	m.TokensConsumed.Add(t.Context(), 100)
}
