package ratelimit

import (
	"context"
	"testing"
	"time"
)

func i64(n int64) *int64 { return &n }

func TestCheckAndReserveRespectsRequestLimit(t *testing.T) {
	l := New(Config{RequestsPerMinute: i64(2), TokensPerMinute: i64(1000)}, WithTimeout(50*time.Millisecond))
	ctx := context.Background()

	if err := l.CheckAndReserve(ctx, "openai", "gpt-4o", 10); err != nil {
		t.Fatalf("first reservation should succeed: %v", err)
	}
	if err := l.CheckAndReserve(ctx, "openai", "gpt-4o", 10); err != nil {
		t.Fatalf("second reservation should succeed: %v", err)
	}
	if err := l.CheckAndReserve(ctx, "openai", "gpt-4o", 10); err == nil {
		t.Fatalf("third reservation should time out against requests_per_minute=2")
	}
}

func TestHierarchicalScopeResolution(t *testing.T) {
	l := New(Config{RequestsPerMinute: i64(100)}, WithTimeout(50*time.Millisecond))
	l.SetScopeConfig("openai", "", Config{RequestsPerMinute: i64(1)})

	ctx := context.Background()
	if err := l.CheckAndReserve(ctx, "openai", "gpt-4o", 0); err != nil {
		t.Fatalf("first reservation should succeed: %v", err)
	}
	// The provider-level scope (openai, "") should now deny any model under
	// it, even one the caller has never reserved against directly.
	if err := l.CheckAndReserve(ctx, "openai", "gpt-3.5", 0); err == nil {
		t.Fatalf("provider-level scope should have denied this reservation")
	}
	// A different provider is unaffected.
	if err := l.CheckAndReserve(ctx, "anthropic", "claude", 0); err != nil {
		t.Fatalf("unrelated provider should not be rate limited: %v", err)
	}
}

func TestFinalizeTokensCreditsBackUnusedReservation(t *testing.T) {
	l := New(Config{TokensPerMinute: i64(100)})
	ctx := context.Background()

	if err := l.CheckAndReserve(ctx, "openai", "gpt-4o", 90); err != nil {
		t.Fatalf("reservation should succeed: %v", err)
	}
	// Actual usage was much lower than the estimate; finalize should credit
	// back the difference so a subsequent reservation has room.
	if err := l.FinalizeTokens(ctx, "openai", "gpt-4o", 90, 10); err != nil {
		t.Fatalf("finalize: %v", err)
	}
	if err := l.CheckAndReserve(ctx, "openai", "gpt-4o", 80); err != nil {
		t.Fatalf("reservation after credit-back should succeed: %v", err)
	}
}

func TestConfigValidateRejectsBurstAboveRequestLimit(t *testing.T) {
	cfg := Config{RequestsPerMinute: i64(5), BurstSize: i64(10)}
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected validation error when burst_size > requests_per_minute")
	}
}

func TestMergeModelWins(t *testing.T) {
	base := Config{RequestsPerMinute: i64(10), TokensPerMinute: i64(1000)}
	override := Config{RequestsPerMinute: i64(5)}
	merged := Merge(base, override)
	if *merged.RequestsPerMinute != 5 {
		t.Fatalf("expected override to win, got %d", *merged.RequestsPerMinute)
	}
	if *merged.TokensPerMinute != 1000 {
		t.Fatalf("expected inherited field to survive merge, got %d", *merged.TokensPerMinute)
	}
}
