package fastpath

import "testing"

func TestFormatToolResultWrapsParamsAndMessage(t *testing.T) {
	got := FormatToolResult("read_file", []Param{
		{Name: "path", Value: "main.go"},
		{Name: "lines", Value: "1-20"},
	}, "what does this file do?")

	want := "<SYSTEM>\n" +
		"<TOOL_RESULT name=\"read_file\">\n" +
		"<PARAM name=\"path\">main.go</PARAM>\n" +
		"<PARAM name=\"lines\">1-20</PARAM>\n" +
		"</TOOL_RESULT>\n" +
		"</SYSTEM>\n" +
		"what does this file do?"

	if got != want {
		t.Fatalf("FormatToolResult mismatch:\ngot:  %q\nwant: %q", got, want)
	}
}

func TestFormatToolResultNoParams(t *testing.T) {
	got := FormatToolResult("list_files", nil, "show me the tree")
	if got != "<SYSTEM>\n<TOOL_RESULT name=\"list_files\">\n</TOOL_RESULT>\n</SYSTEM>\nshow me the tree" {
		t.Fatalf("unexpected output: %q", got)
	}
}
