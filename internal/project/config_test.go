package project

import (
	"os"
	"path/filepath"
	"testing"
)

func TestSettingsExist(t *testing.T) {
	tempDir := t.TempDir()

	if SettingsExist(tempDir) {
		t.Error("SettingsExist should return false when settings don't exist")
	}

	agentDir := filepath.Join(tempDir, AgentDir)
	if err := os.MkdirAll(agentDir, 0755); err != nil {
		t.Fatalf("Failed to create agent dir: %v", err)
	}

	settingsPath := filepath.Join(agentDir, SettingsFile)
	if err := os.WriteFile(settingsPath, []byte(`{"max_patch_lines": 500}`), 0644); err != nil {
		t.Fatalf("Failed to write settings file: %v", err)
	}

	if !SettingsExist(tempDir) {
		t.Error("SettingsExist should return true when settings exist")
	}
}

func TestLoadSettings_NotExists(t *testing.T) {
	tempDir := t.TempDir()

	cfg, err := LoadSettings(tempDir)
	if err != nil {
		t.Errorf("LoadSettings should not error when file doesn't exist: %v", err)
	}
	if cfg != nil {
		t.Error("LoadSettings should return nil when file doesn't exist")
	}
}

func TestSaveAndLoadSettings(t *testing.T) {
	tempDir := t.TempDir()

	cfg := &AgentSettings{MaxPatchLines: 750}
	if err := SaveSettings(tempDir, cfg); err != nil {
		t.Fatalf("SaveSettings failed: %v", err)
	}

	agentDir := filepath.Join(tempDir, AgentDir)
	if _, err := os.Stat(agentDir); os.IsNotExist(err) {
		t.Errorf("%s directory should be created", AgentDir)
	}

	loaded, err := LoadSettings(tempDir)
	if err != nil {
		t.Fatalf("LoadSettings failed: %v", err)
	}
	if loaded == nil {
		t.Fatal("LoadSettings returned nil")
	}
	if loaded.MaxPatchLines != 750 {
		t.Errorf("Expected MaxPatchLines=750, got %v", loaded.MaxPatchLines)
	}

	cfg2 := &AgentSettings{MaxPatchLines: 0}
	if err := SaveSettings(tempDir, cfg2); err != nil {
		t.Fatalf("SaveSettings failed: %v", err)
	}

	loaded2, err := LoadSettings(tempDir)
	if err != nil {
		t.Fatalf("LoadSettings failed: %v", err)
	}
	if loaded2.MaxPatchLines != 0 {
		t.Errorf("Expected MaxPatchLines=0, got %v", loaded2.MaxPatchLines)
	}
}

func TestLoadRules_NotExists(t *testing.T) {
	tempDir := t.TempDir()

	rules, err := LoadRules(tempDir)
	if err != nil {
		t.Errorf("LoadRules should not error when file doesn't exist: %v", err)
	}
	if rules != "" {
		t.Errorf("LoadRules should return empty string when file doesn't exist, got: %s", rules)
	}
}

func TestLoadRules(t *testing.T) {
	tempDir := t.TempDir()

	agentDir := filepath.Join(tempDir, AgentDir)
	if err := os.MkdirAll(agentDir, 0755); err != nil {
		t.Fatalf("Failed to create agent dir: %v", err)
	}

	expectedRules := "Always respond in French.\nNever use emojis."
	rulesFilePath := filepath.Join(agentDir, RulesFile)
	if err := os.WriteFile(rulesFilePath, []byte(expectedRules), 0644); err != nil {
		t.Fatalf("Failed to write rules file: %v", err)
	}

	rules, err := LoadRules(tempDir)
	if err != nil {
		t.Fatalf("LoadRules failed: %v", err)
	}
	if rules != expectedRules {
		t.Errorf("Expected rules:\n%s\nGot:\n%s", expectedRules, rules)
	}
}
