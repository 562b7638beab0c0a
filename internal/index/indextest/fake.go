// Package indextest provides in-memory index.VectorIndex and
// index.GraphIndex implementations with injectable failures, for testing
// components which mutate the indexes.
package indextest

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/HendryAvila/indexbridge/internal/index"
	"github.com/pkg/errors"
)

// Failer injects errors. While FailN is positive each call fails with Err
// and decrements it; a negative FailN fails every call.
type Failer struct {
	FailN int
	Err   error
	Calls int
}

func (f *Failer) next() error {
	f.Calls++
	if f.FailN == 0 {
		return nil
	} else if f.FailN > 0 {
		f.FailN--
	}
	return f.Err
}

// Vector is an in-memory index.VectorIndex keyed by file.
type Vector struct {
	mu      sync.Mutex
	Failer  Failer
	Docs    map[string]index.Document
	Deleted []string
}

var _ index.VectorIndex = (*Vector)(nil)

// NewVector returns an empty Vector.
func NewVector() *Vector { return &Vector{Docs: map[string]index.Document{}} }

// FailWith makes the next n calls fail with err (every call if n < 0).
func (v *Vector) FailWith(n int, err error) {
	v.mu.Lock()
	v.Failer.FailN, v.Failer.Err = n, err
	v.mu.Unlock()
}

// Doc returns the indexed document of file.
func (v *Vector) Doc(file string) (index.Document, bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	d, ok := v.Docs[file]
	return d, ok
}

func (v *Vector) Upsert(_ context.Context, _ string, docs []index.Document, _ string) (int, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if err := v.Failer.next(); err != nil {
		return 0, err
	}
	for _, d := range docs {
		v.Docs[d.File] = d
	}
	return len(docs), nil
}

func (v *Vector) Delete(_ context.Context, _ string, files []string, _ string) (int, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if err := v.Failer.next(); err != nil {
		return 0, err
	}
	var n int
	for _, f := range files {
		if _, ok := v.Docs[f]; ok {
			n++
		}
		delete(v.Docs, f)
		v.Deleted = append(v.Deleted, f)
	}
	return n, nil
}

// Search returns a hit for each document whose content contains query.
func (v *Vector) Search(_ context.Context, _, query, _ string, limit int) ([]index.Hit, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if err := v.Failer.next(); err != nil {
		return nil, err
	}
	var hits []index.Hit
	for _, d := range v.Docs {
		if strings.Contains(d.Content, query) {
			hits = append(hits, index.Hit{File: d.File, StartLine: 1, Score: 1, Snippet: d.Content})
		}
	}
	sort.Slice(hits, func(i, j int) bool { return hits[i].File < hits[j].File })
	if limit > 0 && len(hits) > limit {
		hits = hits[:limit]
	}
	return hits, nil
}

// Graph is an in-memory index.GraphIndex holding one node per file.
type Graph struct {
	mu      sync.Mutex
	Failer  Failer
	Files   map[string]string
	Deleted []string
	ids     map[string]int64
}

var _ index.GraphIndex = (*Graph)(nil)

// NewGraph returns an empty Graph.
func NewGraph() *Graph {
	return &Graph{Files: map[string]string{}, ids: map[string]int64{}}
}

// FailWith makes the next n calls fail with err (every call if n < 0).
func (g *Graph) FailWith(n int, err error) {
	g.mu.Lock()
	g.Failer.FailN, g.Failer.Err = n, err
	g.mu.Unlock()
}

// Has reports whether file is indexed.
func (g *Graph) Has(file string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	_, ok := g.Files[file]
	return ok
}

func (g *Graph) Update(_ context.Context, files []string, contents map[string]string, _ string) (int, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.Failer.next(); err != nil {
		return 0, err
	}
	for _, f := range files {
		g.Files[f] = contents[f]
		if _, ok := g.ids[f]; !ok {
			g.ids[f] = int64(len(g.ids) + 1)
		}
	}
	return len(files), nil
}

func (g *Graph) DeleteNodes(_ context.Context, files []string, _ string) (int, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.Failer.next(); err != nil {
		return 0, err
	}
	var n int
	for _, f := range files {
		if _, ok := g.Files[f]; ok {
			n++
		}
		delete(g.Files, f)
		g.Deleted = append(g.Deleted, f)
	}
	return n, nil
}

// Search returns the file node of each file whose path contains query.
func (g *Graph) Search(_ context.Context, query, _ string, limit int) ([]index.Node, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.Failer.next(); err != nil {
		return nil, err
	}
	var nodes []index.Node
	for f := range g.Files {
		if strings.Contains(f, query) {
			nodes = append(nodes, index.Node{ID: g.ids[f], File: f, Kind: "file", Name: f})
		}
	}
	sort.Slice(nodes, func(i, j int) bool { return nodes[i].ID < nodes[j].ID })
	if limit > 0 && len(nodes) > limit {
		nodes = nodes[:limit]
	}
	return nodes, nil
}

// Neighbors returns a Subgraph holding just the node, which has no edges.
func (g *Graph) Neighbors(_ context.Context, nodeID int64, _ int) (*index.Subgraph, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.Failer.next(); err != nil {
		return nil, err
	}
	for f, id := range g.ids {
		if id == nodeID {
			return &index.Subgraph{Root: index.Node{ID: id, File: f, Kind: "file", Name: f}}, nil
		}
	}
	return nil, errNotFound
}

var errNotFound = errors.New("node not found")
