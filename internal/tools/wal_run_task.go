package tools

import (
	"context"
	"fmt"

	"github.com/HendryAvila/indexbridge/internal/tasks"
	"github.com/mark3labs/mcp-go/mcp"
)

// TaskRunner runs a named maintenance task to completion.
type TaskRunner interface {
	RunNow(ctx context.Context, name string) error
}

// RunTaskTool handles the wal_run_task MCP tool.
type RunTaskTool struct {
	runner TaskRunner
	stats  *WALStatsTool
}

// NewRunTaskTool creates a RunTaskTool. The WAL statistics are reported
// after each run.
func NewRunTaskTool(r TaskRunner, stats *WALStatsTool) *RunTaskTool {
	return &RunTaskTool{runner: r, stats: stats}
}

// Definition returns the MCP tool definition for wal_run_task.
func (t *RunTaskTool) Definition() mcp.Tool {
	return mcp.NewTool("wal_run_task",
		mcp.WithDescription(
			"Run a write-ahead log maintenance task immediately instead of waiting for its schedule. "+
				"wal_recovery retries failed operations; wal_cleanup purges old successful operations.",
		),
		mcp.WithString("task",
			mcp.Required(),
			mcp.Description("Task to run"),
			mcp.Enum(tasks.RecoveryName, tasks.CleanupName),
		),
	)
}

// Handle processes the wal_run_task tool call.
func (t *RunTaskTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	name := req.GetString("task", "")
	if name == "" {
		return mcp.NewToolResultError("'task' is required"), nil
	}
	if err := t.runner.RunNow(ctx, name); err != nil {
		return errorf("task %q failed: %v", name, err), nil
	}

	var text = fmt.Sprintf("Task `%s` completed.\n\n", name)
	if t.stats != nil {
		if res, _ := t.stats.Handle(ctx, req); res != nil && !res.IsError {
			text += resultBody(res)
		}
	}
	return mcp.NewToolResultText(text), nil
}

// resultBody returns the text of the first content item of r.
func resultBody(r *mcp.CallToolResult) string {
	if len(r.Content) == 0 {
		return ""
	}
	if tc, ok := r.Content[0].(mcp.TextContent); ok {
		return tc.Text
	}
	return ""
}
