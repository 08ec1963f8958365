package execution

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/logqs/atlas2/internal/engine"
	"github.com/logqs/atlas2/internal/sandbox"
)

// MockRunner is a mock implementation of the Runner interface.
type MockRunner struct {
	RunCmdFunc func(ctx context.Context, repoDir, name string, args []string, timeout time.Duration) (sandbox.Result, error)
}

func (m *MockRunner) RunCmd(ctx context.Context, repoDir, name string, args []string, timeout time.Duration) (sandbox.Result, error) {
	if m.RunCmdFunc != nil {
		return m.RunCmdFunc(ctx, repoDir, name, args, timeout)
	}
	return sandbox.Result{}, nil
}

func TestRunCmdImpl(t *testing.T) {
	tests := []struct {
		name           string
		cmd            string
		args           string
		allowed        bool
		mockResult     sandbox.Result
		mockErr        error
		expectedStatus string
		expectedStdout string
	}{
		{
			name:           "Allowed command",
			cmd:            "go",
			args:           "version",
			allowed:        true,
			mockResult:     sandbox.Result{Stdout: "go version 1.20", Code: 0},
			expectedStatus: "", // not checked below; run_cmd reports status "ok" for exit code 0
			expectedStdout: "go version 1.20",
		},
		{
			name:           "Disallowed command",
			cmd:            "forbidden_cmd",
			args:           "--some-arg",
			allowed:        false,
			expectedStdout: "",
		},
		{
			name:           "Git command",
			cmd:            "git",
			args:           "status",
			allowed:        true,
			mockResult:     sandbox.Result{Stdout: "On branch main", Code: 0},
			expectedStdout: "On branch main",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			runner := &MockRunner{
				RunCmdFunc: func(ctx context.Context, repoDir, name string, args []string, timeout time.Duration) (sandbox.Result, error) {
					return tt.mockResult, tt.mockErr
				},
			}

			resultJSON, err := runCmdImpl(context.Background(), runner, "/tmp", tt.cmd, tt.args, 0, 0)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}

			var execResult engine.ExecutionResult
			if err := json.Unmarshal([]byte(resultJSON), &execResult); err != nil {
				t.Fatalf("failed to unmarshal result: %v", err)
			}

			if !tt.allowed {
				if execResult.Stderr == "" {
					t.Error("expected stderr for disallowed command")
				}
				return
			}

			if execResult.Stdout != tt.expectedStdout {
				t.Errorf("expected stdout %q, got %q", tt.expectedStdout, execResult.Stdout)
			}
		})
	}
}

func TestRunBuildImpl(t *testing.T) {
	// A go.mod in the repo root makes workspace.DetectProjectType report a Go
	// project, so runBuildImpl must hand "go build ./..." to the runner.
	repo := t.TempDir()
	if err := os.WriteFile(filepath.Join(repo, "go.mod"), []byte("module example.com/x\n"), 0644); err != nil {
		t.Fatal(err)
	}
	var gotName string
	runner := &MockRunner{RunCmdFunc: func(ctx context.Context, repoDir, name string, args []string, timeout time.Duration) (sandbox.Result, error) {
		gotName = name
		return sandbox.Result{Code: 0}, nil
	}}
	resultJSON, err := runBuildImpl(context.Background(), runner, repo)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var execResult engine.ExecutionResult
	if err := json.Unmarshal([]byte(resultJSON), &execResult); err != nil {
		t.Fatalf("failed to unmarshal result: %v", err)
	}
	if gotName != "go" || execResult.Cmd != "go build ./..." || execResult.Status != "ok" {
		t.Errorf("expected runner call 'go build ./...' with status ok, got name %q result %+v", gotName, execResult)
	}
}
