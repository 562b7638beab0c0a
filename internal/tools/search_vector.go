package tools

import (
	"context"
	"fmt"
	"strings"

	"github.com/HendryAvila/indexbridge/internal/index"
	"github.com/mark3labs/mcp-go/mcp"
)

// SearchVectorTool handles the search_vector_db MCP tool.
type SearchVectorTool struct {
	vector     index.VectorIndex
	collection string
	userID     string
}

// NewSearchVectorTool creates a SearchVectorTool searching collection on
// behalf of userID.
func NewSearchVectorTool(v index.VectorIndex, collection, userID string) *SearchVectorTool {
	return &SearchVectorTool{vector: v, collection: collection, userID: userID}
}

// Definition returns the MCP tool definition for search_vector_db.
func (t *SearchVectorTool) Definition() mcp.Tool {
	return mcp.NewTool("search_vector_db",
		mcp.WithDescription(
			"Semantic search over indexed code. Returns the files whose content is "+
				"most similar to the query, with the best matching snippet of each.",
		),
		mcp.WithString("query",
			mcp.Required(),
			mcp.Description("Search query to find semantically similar code"),
		),
		mcp.WithNumber("limit",
			mcp.Description("Maximum number of files to return (default: 10, max: 50)"),
		),
	)
}

// Handle processes the search_vector_db tool call.
func (t *SearchVectorTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	query := strings.TrimSpace(req.GetString("query", ""))
	if query == "" {
		return mcp.NewToolResultError("'query' is required"), nil
	}
	limit := clamp(intArg(req, "limit", 10), 10, 1, 50)

	hits, err := t.vector.Search(ctx, t.collection, query, t.userID, limit)
	if err != nil {
		return errorf("vector search failed: %v", err), nil
	}

	var b strings.Builder
	fmt.Fprintf(&b, "## Vector Search: %q\n\n", query)
	if len(hits) == 0 {
		b.WriteString("No matching code found.\n")
		return mcp.NewToolResultText(b.String()), nil
	}
	for i, h := range hits {
		fmt.Fprintf(&b, "### %d. `%s` (lines %d-%d, score %.3f)\n\n", i+1, h.File, h.StartLine, h.EndLine, h.Score)
		b.WriteString(fence(h.Snippet))
		b.WriteString("\n")
	}
	fmt.Fprintf(&b, "**Total:** %d file(s)\n", len(hits))
	return mcp.NewToolResultText(b.String()), nil
}
