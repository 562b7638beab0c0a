package tools

import (
	"context"
	"fmt"
	"strings"

	"github.com/HendryAvila/indexbridge/internal/wal"
	"github.com/mark3labs/mcp-go/mcp"
)

// ResolveTool handles the wal_resolve MCP tool.
type ResolveTool struct {
	wal *wal.WAL
}

// NewResolveTool creates a ResolveTool with its dependencies.
func NewResolveTool(w *wal.WAL) *ResolveTool {
	return &ResolveTool{wal: w}
}

// Definition returns the MCP tool definition for wal_resolve.
func (t *ResolveTool) Definition() mcp.Tool {
	return mcp.NewTool("wal_resolve",
		mcp.WithDescription(
			"Mark a failed write-ahead log operation as resolved so recovery stops retrying it. "+
				"Use for operations whose content is gone, or that were fixed by re-indexing the file.",
		),
		mcp.WithString("id",
			mcp.Required(),
			mcp.Description("Operation id, as listed by wal_failed"),
		),
		mcp.WithString("note",
			mcp.Description("Why the operation was resolved, recorded in place of its error"),
		),
	)
}

// Handle processes the wal_resolve tool call.
func (t *ResolveTool) Handle(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id := strings.TrimSpace(req.GetString("id", ""))
	if id == "" {
		return mcp.NewToolResultError("'id' is required"), nil
	}
	note := req.GetString("note", "")

	ok, err := t.wal.Resolve(id, note)
	if err != nil {
		return errorf("failed to resolve %s: %v", id, err), nil
	}
	if !ok {
		return errorf("operation %s not found", id), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("Operation `%s` resolved.", id)), nil
}
