// Package tools implements the MCP tool handlers of indexbridge.
//
// Each tool is a struct holding its dependencies, injected through a
// constructor, with:
//   - Definition() returning the mcp.Tool schema
//   - Handle() processing a request into a result
//
// User-facing failures are returned as error results, never as Go errors,
// so the calling agent can read and act on them.
package tools

import (
	"fmt"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/mark3labs/mcp-go/mcp"
)

// intArg extracts an integer argument from a tool request, returning
// defaultVal if the key is missing or not a number (JSON numbers are float64).
func intArg(req mcp.CallToolRequest, key string, defaultVal int) int {
	v, ok := req.GetArguments()[key].(float64)
	if !ok {
		return defaultVal
	}
	return int(v)
}

// clamp bounds v to [lo, hi], substituting def when v is not positive.
func clamp(v, def, lo, hi int) int {
	if v <= 0 {
		v = def
	}
	return max(lo, min(v, hi))
}

// truncate shortens s to at most n runes, marking the cut.
func truncate(s string, n int) string {
	var r = []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}

// fence wraps code in a markdown code block.
func fence(code string) string {
	return "```\n" + strings.TrimRight(code, "\n") + "\n```\n"
}

// ago renders t relative to now, or "never" for the zero time.
func ago(t time.Time) string {
	if t.IsZero() {
		return "never"
	}
	return humanize.Time(t)
}

func errorf(format string, args ...any) *mcp.CallToolResult {
	return mcp.NewToolResultError(fmt.Sprintf(format, args...))
}
