// Package index defines the collaborators the indexing pipeline mutates:
// a vector index holding embedded file content and a graph index holding
// the code entities of each file and the edges between them.
//
// Both are keyed by file path and scoped by a user id. Implementations
// live in the vectordb and graphdb subpackages.
package index

import "context"

// Document status values recorded with upserted documents.
const (
	StatusAdded     = "added"
	StatusModified  = "modified"
	StatusRecovered = "recovered"
)

// Document is one file's content submitted to a VectorIndex.
type Document struct {
	File    string `json:"file"`
	Content string `json:"content"`
	Status  string `json:"status"`
}

// Hit is a VectorIndex search result: the best matching chunk of a file.
type Hit struct {
	File      string  `json:"file"`
	Chunk     int     `json:"chunk"`
	StartLine int     `json:"start_line"`
	EndLine   int     `json:"end_line"`
	Score     float64 `json:"score"`
	Snippet   string  `json:"snippet"`
}

// Node is a GraphIndex vertex.
type Node struct {
	ID   int64  `json:"id"`
	File string `json:"file,omitempty"`
	Kind string `json:"kind"`
	Name string `json:"name"`
	Line int    `json:"line,omitempty"`
}

// Edge is a typed, directed GraphIndex edge.
type Edge struct {
	From int64  `json:"from"`
	To   int64  `json:"to"`
	Type string `json:"type"`
}

// Subgraph is the neighbourhood of Root reached by a bounded traversal.
type Subgraph struct {
	Root  Node   `json:"root"`
	Nodes []Node `json:"nodes"`
	Edges []Edge `json:"edges"`
	Depth int    `json:"depth"`
}

// VectorIndex stores file content for semantic search.
type VectorIndex interface {
	// Upsert replaces the indexed content of each document's file and
	// returns the number of documents written.
	Upsert(ctx context.Context, collection string, docs []Document, userID string) (int, error)
	// Delete drops every file and returns how many had indexed content.
	Delete(ctx context.Context, collection string, files []string, userID string) (int, error)
	Search(ctx context.Context, collection, query, userID string, limit int) ([]Hit, error)
}

// GraphIndex stores the code structure of files.
type GraphIndex interface {
	// Update re-parses files from contents, replacing their nodes, and
	// returns the number of nodes written.
	Update(ctx context.Context, files []string, contents map[string]string, userID string) (int, error)
	// DeleteNodes drops the nodes of files and returns how many were removed.
	DeleteNodes(ctx context.Context, files []string, userID string) (int, error)
	Search(ctx context.Context, query, userID string, limit int) ([]Node, error)
	Neighbors(ctx context.Context, nodeID int64, depth int) (*Subgraph, error)
}
