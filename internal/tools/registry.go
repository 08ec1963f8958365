package tools

import (
	"github.com/logqs/atlas2/internal/engine"
	"github.com/logqs/atlas2/internal/tools/editing"
	"github.com/logqs/atlas2/internal/tools/execution"
	"github.com/logqs/atlas2/internal/tools/filesystem"
	"github.com/logqs/atlas2/internal/tools/reasoning"
	"github.com/logqs/atlas2/internal/tools/search"
)

// NewToolRegistry creates a new engine.ToolRegistry based on the provided ToolSet.
// Each tool comes from the constructor in its subpackage (editing, execution,
// filesystem, reasoning, search), which already returns an engine.Tool.
func NewToolRegistry(repoRoot string, set engine.ToolSet) (engine.ToolRegistry, error) {
	reg := make(engine.ToolRegistry)

	if set.Filesystem {
		reg["read_file"] = filesystem.NewReadFileTool(repoRoot)
		reg["list_files"] = filesystem.NewListFilesTool(repoRoot)
		reg["write_file"] = filesystem.NewWriteFileTool(repoRoot)
		reg["delete_file"] = filesystem.NewDeleteFileTool(repoRoot)
	}

	if set.Search {
		reg["grep"] = search.NewGrepTool(repoRoot)
	}

	if set.Execution {
		reg["run_tests"] = execution.NewRunTestsTool(repoRoot)
		reg["run_build"] = execution.NewRunBuildTool(repoRoot)
		reg["run_cmd"] = execution.NewRunCmdTool(repoRoot)
	}

	if set.Editing {
		reg["search_replace"] = editing.NewSearchReplaceTool(repoRoot)
		reg["write"] = editing.NewWriteTool(repoRoot)
		reg["apply_patch"] = editing.NewApplyPatchTool(repoRoot)
	}

	if set.Meta {
		reg["think"] = reasoning.NewThinkTool()
		reg["respond"] = reasoning.NewRespondTool()
	}

	return reg, nil
}
