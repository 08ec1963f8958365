package editing

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/logqs/atlas2/internal/engine"
	"github.com/logqs/atlas2/internal/patch"
	"github.com/logqs/atlas2/internal/project"
)

// defaultPatchBudget bounds what apply_patch will accept before handing a
// diff to internal/patch.Apply. Generous enough for a normal edit, tight
// enough to catch a model trying to rewrite half the repo in one call.
var defaultPatchBudget = patch.DiffBudget{
	MaxFiles:        1,
	MaxTotalLines:   2000,
	MaxLinesPerFile: 2000,
}

// patchBudgetFor returns the default budget, with both line limits replaced
// by any max_patch_lines override in repoRoot's agent settings
// (project.LoadSettings), whether that override is smaller or larger.
func patchBudgetFor(repoRoot string) patch.DiffBudget {
	budget := defaultPatchBudget
	settings, err := project.LoadSettings(repoRoot)
	if err == nil && settings != nil && settings.MaxPatchLines > 0 {
		budget.MaxTotalLines = settings.MaxPatchLines
		budget.MaxLinesPerFile = settings.MaxPatchLines
	}
	return budget
}

// NewApplyPatchTool creates an engine.Tool that validates a unified diff
// against internal/patch's path and size rules, then applies it via
// internal/patch.Apply. When only new_content is given, nothing is validated:
// the content is written to path directly.
func NewApplyPatchTool(repoRoot string) engine.Tool {
	return engine.Tool{
		Name:        "apply_patch",
		Description: "Applies a unified diff to a single file. Validates the target path and change size before writing. Prefer search_replace for small edits; use apply_patch when a model-generated unified diff is the most natural representation of the change.",
		SchemaJSON:  `{"type":"object","properties":{"path":{"type":"string","description":"File path relative to the repo root"},"unified_diff":{"type":"string","description":"Unified diff text to apply"},"new_content":{"type":"string","description":"Full replacement content, used as a fallback if the diff does not apply cleanly"},"rationale":{"type":"string","description":"Why this change is needed"}},"required":["path"]}`,
		Fn: func(ctx context.Context, args map[string]any) (string, error) {
			path, ok := args["path"].(string)
			if !ok || path == "" {
				return "", fmt.Errorf("path must be a non-empty string")
			}
			unifiedDiff, _ := args["unified_diff"].(string)
			newContent, _ := args["new_content"].(string)
			rationale, _ := args["rationale"].(string)

			if unifiedDiff == "" && newContent == "" {
				return "", fmt.Errorf("one of unified_diff or new_content is required")
			}

			if unifiedDiff != "" {
				proposed := patch.ProposedDiff{Target: path, Unified: unifiedDiff, Rationale: rationale}
				if err := patch.ValidateProposedDiff(proposed, patchBudgetFor(repoRoot)); err != nil {
					result := map[string]any{"path": path, "status": "rejected", "error": err.Error()}
					resultJSON, _ := json.Marshal(result)
					return string(resultJSON), nil
				}
			}

			status, err := patch.Apply(ctx, repoRoot, patch.PatchResult{
				Path:        path,
				NewContent:  newContent,
				UnifiedDiff: unifiedDiff,
			})
			if err != nil {
				result := map[string]any{"path": path, "status": "failed", "error": err.Error(), "detail": status}
				resultJSON, _ := json.Marshal(result)
				return string(resultJSON), nil
			}

			result := map[string]any{"path": path, "status": "applied", "detail": status}
			resultJSON, marshalErr := json.Marshal(result)
			if marshalErr != nil {
				return "", fmt.Errorf("failed to marshal result: %w", marshalErr)
			}
			return string(resultJSON), nil
		},
		Retryable: false,
		Metadata: engine.ToolMetadata{
			Version:  "1.0.0",
			Category: "editing",
			Tags:     []string{"write", "side-effect", "diff"},
		},
	}
}
