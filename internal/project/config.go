// Package project reads per-repository agent configuration: an optional
// settings file overriding the coder domain's defaults, and a free-form
// rules file appended to the system prompt.
package project

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

const (
	// AgentDir is the per-repo directory holding agent configuration.
	AgentDir = ".atlas2"
	// SettingsFile is the name of the per-repo settings file.
	SettingsFile = "settings.json"
	// RulesFile is the name of the custom rules file appended to the
	// system prompt for this repo.
	RulesFile = "rules"
)

// AgentSettings holds per-repo overrides for the coder domain's defaults.
// A zero value for any field means "use the package default."
type AgentSettings struct {
	MaxPatchLines int `json:"max_patch_lines,omitempty"`
}

func settingsPath(repoRoot string) string {
	return filepath.Join(repoRoot, AgentDir, SettingsFile)
}

func rulesPath(repoRoot string) string {
	return filepath.Join(repoRoot, AgentDir, RulesFile)
}

// SettingsExist reports whether repoRoot has a settings file.
func SettingsExist(repoRoot string) bool {
	_, err := os.Stat(settingsPath(repoRoot))
	return !os.IsNotExist(err)
}

// LoadSettings reads per-repo agent settings. Returns nil and no error if
// the file does not exist.
func LoadSettings(repoRoot string) (*AgentSettings, error) {
	path := settingsPath(repoRoot)
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read agent settings: %w", err)
	}
	var cfg AgentSettings
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse agent settings: %w", err)
	}
	return &cfg, nil
}

// SaveSettings writes per-repo agent settings, creating AgentDir if needed.
func SaveSettings(repoRoot string, cfg *AgentSettings) error {
	dir := filepath.Join(repoRoot, AgentDir)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create %s directory: %w", AgentDir, err)
	}
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal agent settings: %w", err)
	}
	if err := os.WriteFile(settingsPath(repoRoot), data, 0644); err != nil {
		return fmt.Errorf("failed to write agent settings: %w", err)
	}
	return nil
}

// LoadRules reads custom agent rules from AgentDir/rules. Returns an empty
// string and no error if the file does not exist.
func LoadRules(repoRoot string) (string, error) {
	data, err := os.ReadFile(rulesPath(repoRoot))
	if os.IsNotExist(err) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to read rules file: %w", err)
	}
	return string(data), nil
}
