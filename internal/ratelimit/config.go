package ratelimit

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
)

// Config carries the six window limits plus a burst size for one scope.
// Any field left nil means "inherit from the parent scope"; a field
// explicitly set to 0 means "deny".
type Config struct {
	RequestsPerMinute *int64
	RequestsPerHour   *int64
	RequestsPerDay    *int64
	TokensPerMinute   *int64
	TokensPerHour     *int64
	TokensPerDay      *int64
	BurstSize         *int64
}

// Validate enforces the burst_size <= requests_per_minute invariant when
// both fields are set.
func (c Config) Validate() error {
	if c.BurstSize != nil && c.RequestsPerMinute != nil && *c.BurstSize > *c.RequestsPerMinute {
		return fmt.Errorf("burst_size (%d) must be <= requests_per_minute (%d)", *c.BurstSize, *c.RequestsPerMinute)
	}
	return nil
}

// Merge deep-merges base <- override, with override's non-nil fields
// winning. Used to resolve global ⊕ provider ⊕ model, model winning.
func Merge(base, override Config) Config {
	out := base
	if override.RequestsPerMinute != nil {
		out.RequestsPerMinute = override.RequestsPerMinute
	}
	if override.RequestsPerHour != nil {
		out.RequestsPerHour = override.RequestsPerHour
	}
	if override.RequestsPerDay != nil {
		out.RequestsPerDay = override.RequestsPerDay
	}
	if override.TokensPerMinute != nil {
		out.TokensPerMinute = override.TokensPerMinute
	}
	if override.TokensPerHour != nil {
		out.TokensPerHour = override.TokensPerHour
	}
	if override.TokensPerDay != nil {
		out.TokensPerDay = override.TokensPerDay
	}
	if override.BurstSize != nil {
		out.BurstSize = override.BurstSize
	}
	return out
}

// FieldSource records where a resolved field's value came from, for
// diagnostics (env override, persisted config, or default).
type FieldSource string

const (
	SourceDefault FieldSource = "default"
	SourceEnv     FieldSource = "env"
	SourceConfig  FieldSource = "config"
)

// ResolvedConfig is a Config plus the source of each non-nil field.
type ResolvedConfig struct {
	Config
	Sources map[string]FieldSource
}

// envConfig loads a Config from a JSON blob in an environment variable,
// following the ATLAS_RATE_LIMIT_* / ATLAS_PROVIDER_OPTIONS_<PROVIDER> /
// ATLAS_MODEL_OPTIONS_<PROVIDER>_<MODEL> naming convention (spec §6), in
// the same getEnvOrDefault-style idiom as internal/sandbox/config.go.
func envConfig(name string) (Config, bool) {
	raw := os.Getenv(name)
	if raw == "" {
		return Config{}, false
	}
	var c Config
	if err := json.Unmarshal([]byte(raw), &c); err != nil {
		return Config{}, false
	}
	return c, true
}

// GlobalEnvConfig reads ATLAS_RATE_LIMIT_GLOBAL as a single JSON blob.
func GlobalEnvConfig() (Config, bool) {
	return envConfig("ATLAS_RATE_LIMIT_GLOBAL")
}

// ProviderEnvConfig reads ATLAS_PROVIDER_OPTIONS_<PROVIDER>.
func ProviderEnvConfig(provider string) (Config, bool) {
	return envConfig("ATLAS_PROVIDER_OPTIONS_" + strings.ToUpper(provider))
}

// ModelEnvConfig reads ATLAS_MODEL_OPTIONS_<PROVIDER>_<MODEL>.
func ModelEnvConfig(provider, model string) (Config, bool) {
	key := "ATLAS_MODEL_OPTIONS_" + strings.ToUpper(provider) + "_" + strings.ToUpper(sanitizeModel(model))
	return envConfig(key)
}

func sanitizeModel(model string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		default:
			return '_'
		}
	}, model)
}
