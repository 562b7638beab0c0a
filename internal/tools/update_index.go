package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/HendryAvila/indexbridge/internal/indexer"
	"github.com/mark3labs/mcp-go/mcp"
)

// Applier applies file changes to the indexes.
type Applier interface {
	Apply(ctx context.Context, changes []indexer.FileChange) indexer.Result
}

// UpdateIndexTool handles the update_code_index MCP tool.
type UpdateIndexTool struct {
	applier Applier
}

// NewUpdateIndexTool creates an UpdateIndexTool with its dependencies.
func NewUpdateIndexTool(a Applier) *UpdateIndexTool {
	return &UpdateIndexTool{applier: a}
}

// Definition returns the MCP tool definition for update_code_index.
func (t *UpdateIndexTool) Definition() mcp.Tool {
	return mcp.NewTool("update_code_index",
		mcp.WithDescription(
			"Incrementally update the vector and graph code indexes with file changes. "+
				"Every change is journaled before it is applied; changes that fail are "+
				"retried in the background from the journal.",
		),
		mcp.WithArray("files",
			mcp.Required(),
			mcp.Description("List of file changes"),
			mcp.Items(map[string]any{
				"type": "object",
				"properties": map[string]any{
					"path":    map[string]any{"type": "string"},
					"content": map[string]any{"type": "string"},
					"status": map[string]any{
						"type": "string",
						"enum": []string{indexer.StatusAdded, indexer.StatusModified, indexer.StatusDeleted},
					},
					"hash": map[string]any{"type": "string"},
				},
				"required": []string{"path", "status"},
			}),
		),
	)
}

// Handle processes the update_code_index tool call.
func (t *UpdateIndexTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	raw, ok := req.GetArguments()["files"]
	if !ok {
		return mcp.NewToolResultError("'files' is required"), nil
	}
	// Round-trip through JSON to decode the untyped argument.
	data, err := json.Marshal(raw)
	if err != nil {
		return errorf("invalid 'files': %v", err), nil
	}
	var changes []indexer.FileChange
	if err := json.Unmarshal(data, &changes); err != nil {
		return errorf("invalid 'files': %v", err), nil
	}
	if len(changes) == 0 {
		return mcp.NewToolResultError("'files' must list at least one change"), nil
	}

	var res = t.applier.Apply(ctx, changes)
	return mcp.NewToolResultText(formatApplyResult(res)), nil
}

func formatApplyResult(r indexer.Result) string {
	var b strings.Builder
	b.WriteString("## Code Index Updated\n\n")
	fmt.Fprintf(&b, "- **Files processed**: %d\n", r.FilesProcessed)
	fmt.Fprintf(&b, "- **Upserted**: %d\n", r.Upserted)
	fmt.Fprintf(&b, "- **Deleted**: %d\n", r.Deleted)
	fmt.Fprintf(&b, "- **Failed**: %d\n", r.Failed)
	if r.Untracked > 0 {
		fmt.Fprintf(&b, "- **Untracked** (journal unavailable): %d\n", r.Untracked)
	}

	if r.Failed == 0 {
		return b.String()
	}
	b.WriteString("\n### Failures\n\n")
	for _, f := range r.Files {
		if f.Error == "" {
			continue
		}
		switch {
		case f.Retryable:
			fmt.Fprintf(&b, "- `%s`: %s (journaled as `%s`, will be retried)\n", f.Path, f.Error, f.WALID)
		case f.WALID != "":
			fmt.Fprintf(&b, "- `%s`: %s (journaled as `%s` without content, so it will NOT be retried: "+
				"re-send this change, or clear it with `wal_resolve` once handled)\n", f.Path, f.Error, f.WALID)
		default:
			fmt.Fprintf(&b, "- `%s`: %s\n", f.Path, f.Error)
		}
	}
	return b.String()
}
