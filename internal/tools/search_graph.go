package tools

import (
	"context"
	"fmt"
	"strings"

	"github.com/HendryAvila/indexbridge/internal/index"
	"github.com/mark3labs/mcp-go/mcp"
)

// SearchGraphTool handles the search_graph_db MCP tool.
type SearchGraphTool struct {
	graph  index.GraphIndex
	userID string
}

// NewSearchGraphTool creates a SearchGraphTool searching on behalf of userID.
func NewSearchGraphTool(g index.GraphIndex, userID string) *SearchGraphTool {
	return &SearchGraphTool{graph: g, userID: userID}
}

// Definition returns the MCP tool definition for search_graph_db.
func (t *SearchGraphTool) Definition() mcp.Tool {
	return mcp.NewTool("search_graph_db",
		mcp.WithDescription(
			"Search code entities (files, functions, methods, classes, types, modules) by name, "+
				"and show the relationships of the best match: what it defines, imports, "+
				"calls, and is called by.",
		),
		mcp.WithString("query",
			mcp.Required(),
			mcp.Description("Search query matched against entity names"),
		),
		mcp.WithNumber("limit",
			mcp.Description("Maximum number of entities to return (default: 10, max: 50)"),
		),
		mcp.WithNumber("depth",
			mcp.Description("How many levels of relationships to expand around the best match (default: 1, max: 5)"),
		),
	)
}

// Handle processes the search_graph_db tool call.
func (t *SearchGraphTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	query := strings.TrimSpace(req.GetString("query", ""))
	if query == "" {
		return mcp.NewToolResultError("'query' is required"), nil
	}
	limit := clamp(intArg(req, "limit", 10), 10, 1, 50)
	depth := clamp(intArg(req, "depth", 1), 1, 1, 5)

	nodes, err := t.graph.Search(ctx, query, t.userID, limit)
	if err != nil {
		return errorf("graph search failed: %v", err), nil
	}

	var b strings.Builder
	fmt.Fprintf(&b, "## Graph Search: %q\n\n", query)
	if len(nodes) == 0 {
		b.WriteString("No matching entities found.\n")
		return mcp.NewToolResultText(b.String()), nil
	}
	for _, n := range nodes {
		fmt.Fprintf(&b, "- #%d %s\n", n.ID, describeNode(n))
	}

	sg, err := t.graph.Neighbors(ctx, nodes[0].ID, depth)
	if err != nil {
		fmt.Fprintf(&b, "\n_Relationships unavailable: %v_\n", err)
		return mcp.NewToolResultText(b.String()), nil
	}
	b.WriteString("\n")
	b.WriteString(formatSubgraph(sg))
	return mcp.NewToolResultText(b.String()), nil
}

func describeNode(n index.Node) string {
	var s = fmt.Sprintf("[%s] `%s`", n.Kind, n.Name)
	if n.File != "" && n.File != n.Name {
		s += fmt.Sprintf(" in `%s`", n.File)
		if n.Line > 0 {
			s += fmt.Sprintf(":%d", n.Line)
		}
	}
	return s
}

// formatSubgraph renders the edges of sg from the point of view of its root.
func formatSubgraph(sg *index.Subgraph) string {
	var b strings.Builder
	fmt.Fprintf(&b, "### Relationships of #%d %s\n\n", sg.Root.ID, describeNode(sg.Root))
	if len(sg.Edges) == 0 {
		b.WriteString("No relationships found.\n")
		return b.String()
	}

	var byID = map[int64]index.Node{sg.Root.ID: sg.Root}
	for _, n := range sg.Nodes {
		byID[n.ID] = n
	}
	var label = func(id int64) string {
		if n, ok := byID[id]; ok {
			return fmt.Sprintf("`%s`", n.Name)
		}
		return fmt.Sprintf("#%d", id)
	}
	for _, e := range sg.Edges {
		fmt.Fprintf(&b, "- %s %s %s\n", label(e.From), e.Type, label(e.To))
	}
	fmt.Fprintf(&b, "\n**Total:** %d connected entities across %d level(s)\n", len(sg.Nodes), sg.Depth)
	return b.String()
}
