package graphdb

import (
	"context"
	"testing"

	"github.com/HendryAvila/indexbridge/internal/index"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newTestStore creates a Store backed by a temp directory for isolation.
func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

const usersPy = `import db

def load_user(user_id):
    return fetch_row(user_id)

def fetch_row(key):
    return db.query(key)
`

const handlersPy = `from app import users

def handle(req):
    return load_user(req.id)
`

func findNode(t *testing.T, s *Store, name, userID string) index.Node {
	t.Helper()
	nodes, err := s.Search(context.Background(), name, userID, 20)
	require.NoError(t, err)
	for _, n := range nodes {
		if n.Name == name {
			return n
		}
	}
	t.Fatalf("node %q not found in %+v", name, nodes)
	return index.Node{}
}

func hasEdge(sg *index.Subgraph, from, to int64, typ string) bool {
	for _, e := range sg.Edges {
		if e.From == from && e.To == to && e.Type == typ {
			return true
		}
	}
	return false
}

func TestUpdateBuildsGraph(t *testing.T) {
	var s = newTestStore(t)
	var ctx = context.Background()

	n, err := s.Update(ctx, []string{"users.py"}, map[string]string{"users.py": usersPy}, "alice")
	require.NoError(t, err)
	assert.Equal(t, 3, n) // File node plus two functions.

	var file = findNode(t, s, "users.py", "alice")
	assert.Equal(t, KindFile, file.Kind)

	var load = findNode(t, s, "load_user", "alice")
	assert.Equal(t, "function", load.Kind)
	assert.Equal(t, 3, load.Line)
	var fetch = findNode(t, s, "fetch_row", "alice")

	sg, err := s.Neighbors(ctx, file.ID, 1)
	require.NoError(t, err)
	assert.Equal(t, file, sg.Root)
	assert.Equal(t, 1, sg.Depth)
	assert.True(t, hasEdge(sg, file.ID, load.ID, EdgeDefines))
	assert.True(t, hasEdge(sg, file.ID, fetch.ID, EdgeDefines))

	var mod = findNode(t, s, "db", "alice")
	assert.Equal(t, KindModule, mod.Kind)
	assert.True(t, hasEdge(sg, file.ID, mod.ID, EdgeImports))

	sg, err = s.Neighbors(ctx, load.ID, 1)
	require.NoError(t, err)
	assert.True(t, hasEdge(sg, load.ID, fetch.ID, EdgeCalls))
}

func TestCallsResolveAcrossFilesInAnyOrder(t *testing.T) {
	var s = newTestStore(t)
	var ctx = context.Background()

	// The caller is indexed before the callee exists.
	_, err := s.Update(ctx, []string{"handlers.py"}, map[string]string{"handlers.py": handlersPy}, "u")
	require.NoError(t, err)
	_, err = s.Update(ctx, []string{"users.py"}, map[string]string{"users.py": usersPy}, "u")
	require.NoError(t, err)

	var handle = findNode(t, s, "handle", "u")
	var load = findNode(t, s, "load_user", "u")

	sg, err := s.Neighbors(ctx, handle.ID, 1)
	require.NoError(t, err)
	assert.True(t, hasEdge(sg, handle.ID, load.ID, EdgeCalls))
}

func TestUpdateReplacesFileNodes(t *testing.T) {
	var s = newTestStore(t)
	var ctx = context.Background()

	_, err := s.Update(ctx, []string{"users.py"}, map[string]string{"users.py": usersPy}, "u")
	require.NoError(t, err)
	_, err = s.Update(ctx, []string{"users.py"}, map[string]string{"users.py": "def only():\n    pass\n"}, "u")
	require.NoError(t, err)

	nodes, err := s.Search(ctx, "load_user", "u", 10)
	require.NoError(t, err)
	assert.Empty(t, nodes)

	st, err := s.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, Stats{Nodes: 2, Edges: 1, Files: 1}, st) // The unused "db" module is pruned.
}

func TestUpdateWithoutContentIndexesFileOnly(t *testing.T) {
	var s = newTestStore(t)

	n, err := s.Update(context.Background(), []string{"notes/readme.md"}, nil, "u")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestDeleteNodes(t *testing.T) {
	var s = newTestStore(t)
	var ctx = context.Background()

	_, err := s.Update(ctx, []string{"users.py", "handlers.py"},
		map[string]string{"users.py": usersPy, "handlers.py": handlersPy}, "u")
	require.NoError(t, err)

	removed, err := s.DeleteNodes(ctx, []string{"users.py", "missing.py"}, "u")
	require.NoError(t, err)
	assert.Equal(t, 3, removed)

	var handle = findNode(t, s, "handle", "u")
	sg, err := s.Neighbors(ctx, handle.ID, 1)
	require.NoError(t, err)
	for _, e := range sg.Edges {
		assert.NotEqual(t, EdgeCalls, e.Type, "calls into deleted file must cascade")
	}

	// Calls re-link when the callee file returns.
	_, err = s.Update(ctx, []string{"users.py"}, map[string]string{"users.py": usersPy}, "u")
	require.NoError(t, err)
	var load = findNode(t, s, "load_user", "u")
	sg, err = s.Neighbors(ctx, handle.ID, 1)
	require.NoError(t, err)
	assert.True(t, hasEdge(sg, handle.ID, load.ID, EdgeCalls))
}

func TestSearchIsScopedByUser(t *testing.T) {
	var s = newTestStore(t)
	var ctx = context.Background()

	_, err := s.Update(ctx, []string{"users.py"}, map[string]string{"users.py": usersPy}, "alice")
	require.NoError(t, err)

	nodes, err := s.Search(ctx, "load", "bob", 10)
	require.NoError(t, err)
	assert.Empty(t, nodes)

	nodes, err = s.Search(ctx, "load", "alice", 10)
	require.NoError(t, err)
	require.Len(t, nodes, 1)
	assert.Equal(t, "load_user", nodes[0].Name)
}

func TestSearchEmptyQuery(t *testing.T) {
	var s = newTestStore(t)
	nodes, err := s.Search(context.Background(), `  "" `, "u", 10)
	require.NoError(t, err)
	assert.Empty(t, nodes)
}

func TestNeighborsDepth(t *testing.T) {
	var s = newTestStore(t)
	var ctx = context.Background()

	_, err := s.Update(ctx, []string{"users.py"}, map[string]string{"users.py": usersPy}, "u")
	require.NoError(t, err)
	var fetch = findNode(t, s, "fetch_row", "u")

	// fetch_row -> users.py -> db at depth 2.
	sg, err := s.Neighbors(ctx, fetch.ID, 1)
	require.NoError(t, err)
	for _, n := range sg.Nodes {
		assert.NotEqual(t, KindModule, n.Kind)
	}

	sg, err = s.Neighbors(ctx, fetch.ID, 0)
	require.NoError(t, err)
	assert.Equal(t, 2, sg.Depth)
	var kinds = map[string]bool{}
	for _, n := range sg.Nodes {
		kinds[n.Kind] = true
	}
	assert.True(t, kinds[KindModule])
}

func TestNeighborsUnknownNode(t *testing.T) {
	var s = newTestStore(t)
	_, err := s.Neighbors(context.Background(), 42, 2)
	assert.Equal(t, ErrNodeNotFound, errors.Cause(err))
}

func TestEscapeLike(t *testing.T) {
	assert.Equal(t, `a\_b\%c\\`, escapeLike(`a_b%c\`))
}
