package engine

// ToolSet specifies which categories of tools to include in the registry.
type ToolSet struct {
	Filesystem bool // read_file, list_files, write_file, delete_file
	Search     bool // grep
	Execution  bool // run_tests, run_build, run_cmd
	Editing    bool // search_replace, write, apply_patch
	Meta       bool // think (reasoning and thought process), respond (task completion)
}
