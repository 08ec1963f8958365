// Package fastpath builds the system-wrapped tool-result block the router
// prepends to a user message when it resolves a FastPath tool instead of
// routing to a domain or a bare LLM call (spec §6 "FastPath").
package fastpath

import (
	"fmt"
	"strings"
)

// Param is one resolved tool parameter to render inside the wrapper.
type Param struct {
	Name  string
	Value string
}

// FormatToolResult wraps a single resolved tool's output in the
// "<SYSTEM><TOOL_RESULT name=...>...</TOOL_RESULT></SYSTEM>" block and
// appends the original user message, unchanged, after it.
func FormatToolResult(tool string, params []Param, message string) string {
	var b strings.Builder
	b.WriteString("<SYSTEM>\n<TOOL_RESULT name=\"")
	b.WriteString(tool)
	b.WriteString("\">\n")
	for _, p := range params {
		fmt.Fprintf(&b, "<PARAM name=%q>%s</PARAM>\n", p.Name, p.Value)
	}
	b.WriteString("</TOOL_RESULT>\n</SYSTEM>\n")
	b.WriteString(message)
	return b.String()
}
