package tools

import (
	"context"
	"fmt"
	"strings"

	"github.com/HendryAvila/indexbridge/internal/wal"
	"github.com/dustin/go-humanize"
	"github.com/mark3labs/mcp-go/mcp"
)

// WALStatsTool handles the wal_stats MCP tool.
type WALStatsTool struct {
	wal *wal.WAL
}

// NewWALStatsTool creates a WALStatsTool with its dependencies.
func NewWALStatsTool(w *wal.WAL) *WALStatsTool {
	return &WALStatsTool{wal: w}
}

// Definition returns the MCP tool definition for wal_stats.
func (t *WALStatsTool) Definition() mcp.Tool {
	return mcp.NewTool("wal_stats",
		mcp.WithDescription(
			"Show write-ahead log statistics: operations by status, the oldest "+
				"pending operation, and the size of the journaled content.",
		),
	)
}

// Handle processes the wal_stats tool call.
func (t *WALStatsTool) Handle(_ context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	stats, err := t.wal.Statistics()
	if err != nil {
		return errorf("failed to read wal statistics: %v", err), nil
	}

	var b strings.Builder
	b.WriteString("## WAL Statistics\n\n")
	fmt.Fprintf(&b, "- **Total operations**: %d\n", stats.Total)
	fmt.Fprintf(&b, "- **Pending**: %d\n", stats.Pending)
	fmt.Fprintf(&b, "- **Success**: %d\n", stats.Success)
	fmt.Fprintf(&b, "- **Failed**: %d\n", stats.Failed)

	if files, size, err := t.wal.ContentStore().Size(); err == nil {
		fmt.Fprintf(&b, "- **Journaled content**: %d file(s), %s\n", files, humanize.Bytes(uint64(size)))
	}

	if stats.Pending > 0 {
		if pending, err := t.wal.PendingOperations(); err == nil && len(pending) > 0 {
			var oldest = pending[0]
			fmt.Fprintf(&b, "\nOldest pending operation: `%s` (%s `%s`, %s). "+
				"Pending operations older than a few seconds were interrupted and are not retried automatically.\n",
				oldest.ID, oldest.Operation, oldest.File, ago(oldest.Timestamp))
		}
	}
	if stats.Failed > 0 {
		b.WriteString("\nUse `wal_failed` to list failed operations.\n")
	}
	return mcp.NewToolResultText(b.String()), nil
}
