package tools

import (
	"context"
	"fmt"
	"strings"

	"github.com/HendryAvila/indexbridge/internal/wal"
	"github.com/mark3labs/mcp-go/mcp"
)

// WALFailedTool handles the wal_failed MCP tool.
type WALFailedTool struct {
	wal *wal.WAL
}

// NewWALFailedTool creates a WALFailedTool with its dependencies.
func NewWALFailedTool(w *wal.WAL) *WALFailedTool {
	return &WALFailedTool{wal: w}
}

// Definition returns the MCP tool definition for wal_failed.
func (t *WALFailedTool) Definition() mcp.Tool {
	return mcp.NewTool("wal_failed",
		mcp.WithDescription(
			"List failed index operations recorded in the write-ahead log, oldest first, "+
				"with their last error and whether their content is still available for recovery.",
		),
		mcp.WithNumber("limit",
			mcp.Description("Maximum number of operations to list (default: 20, max: 100)"),
		),
	)
}

// Handle processes the wal_failed tool call.
func (t *WALFailedTool) Handle(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	limit := clamp(intArg(req, "limit", 20), 20, 1, 100)

	failed, err := t.wal.FailedOperations()
	if err != nil {
		return errorf("failed to read failed operations: %v", err), nil
	}

	var b strings.Builder
	b.WriteString("## Failed Operations\n\n")
	if len(failed) == 0 {
		b.WriteString("No failed operations.\n")
		return mcp.NewToolResultText(b.String()), nil
	}

	var shown = failed
	if len(shown) > limit {
		shown = shown[:limit]
	}
	for _, rec := range shown {
		fmt.Fprintf(&b, "- `%s` %s `%s` (%s)\n", rec.ID, rec.Operation, rec.File, ago(rec.Timestamp))
		if rec.Error != "" {
			fmt.Fprintf(&b, "  - error: %s\n", truncate(rec.Error, 200))
		}
		if _, ok := t.wal.Content(rec.ID); !ok {
			b.WriteString("  - content unavailable: cannot be recovered, resolve with `wal_resolve`\n")
		}
	}
	fmt.Fprintf(&b, "\n**Showing:** %d of %d\n", len(shown), len(failed))
	return mcp.NewToolResultText(b.String()), nil
}
