package vectordb

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/HendryAvila/indexbridge/internal/index"
	"github.com/HendryAvila/indexbridge/internal/index/embed"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newTestStore creates a Store backed by a temp directory for isolation.
func newTestStore(t *testing.T, chunkLines int) *Store {
	t.Helper()
	s, err := New(Config{Dir: t.TempDir(), ChunkLines: chunkLines, Embedder: embed.NewHashEmbedder(128)})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestUpsertAndSearch(t *testing.T) {
	var s = newTestStore(t, 40)
	var ctx = context.Background()

	n, err := s.Upsert(ctx, "code", []index.Document{
		{File: "users.py", Content: "def load_user(user_id):\n    return db.get_user(user_id)\n", Status: index.StatusAdded},
		{File: "charts.py", Content: "def render_axis(svg):\n    svg.draw_labels()\n", Status: index.StatusAdded},
	}, "alice")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	hits, err := s.Search(ctx, "code", "load user", "alice", 10)
	require.NoError(t, err)
	require.NotEmpty(t, hits)
	assert.Equal(t, "users.py", hits[0].File)
	assert.Equal(t, 1, hits[0].StartLine)
	assert.Contains(t, hits[0].Snippet, "load_user")

	// Other users and collections are isolated.
	hits, err = s.Search(ctx, "code", "load user", "bob", 10)
	require.NoError(t, err)
	assert.Empty(t, hits)
	hits, err = s.Search(ctx, "other", "load user", "alice", 10)
	require.NoError(t, err)
	assert.Empty(t, hits)
}

func TestUpsertReplacesFileChunks(t *testing.T) {
	var s = newTestStore(t, 2)
	var ctx = context.Background()

	_, err := s.Upsert(ctx, "code", []index.Document{{File: "a.go", Content: "l1\nl2\nl3\nl4\nl5\n"}}, "u")
	require.NoError(t, err)
	st, err := s.Stats(ctx, "code", "u")
	require.NoError(t, err)
	assert.Equal(t, Stats{Files: 1, Chunks: 3}, st)

	_, err = s.Upsert(ctx, "code", []index.Document{{File: "a.go", Content: "only\n"}}, "u")
	require.NoError(t, err)
	st, err = s.Stats(ctx, "code", "u")
	require.NoError(t, err)
	assert.Equal(t, Stats{Files: 1, Chunks: 1}, st)
}

func TestDelete(t *testing.T) {
	var s = newTestStore(t, 40)
	var ctx = context.Background()

	_, err := s.Upsert(ctx, "code", []index.Document{
		{File: "a.py", Content: "alpha"},
		{File: "b.py", Content: "beta"},
	}, "u")
	require.NoError(t, err)

	n, err := s.Delete(ctx, "code", []string{"a.py", "missing.py"}, "u")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	st, err := s.Stats(ctx, "code", "u")
	require.NoError(t, err)
	assert.Equal(t, Stats{Files: 1, Chunks: 1}, st)
}

func TestSearchLimitAndBestChunk(t *testing.T) {
	var s = newTestStore(t, 1)
	var ctx = context.Background()

	var docs []index.Document
	for i := 0; i < 5; i++ {
		docs = append(docs, index.Document{
			File:    fmt.Sprintf("f%d.py", i),
			Content: "unrelated filler\nparse config file\n",
		})
	}
	_, err := s.Upsert(ctx, "code", docs, "u")
	require.NoError(t, err)

	hits, err := s.Search(ctx, "code", "parse config", "u", 3)
	require.NoError(t, err)
	require.Len(t, hits, 3)
	for _, h := range hits {
		assert.Equal(t, 2, h.StartLine)
	}
}

func TestSearchEmptyQuery(t *testing.T) {
	var s = newTestStore(t, 40)
	hits, err := s.Search(context.Background(), "code", "   ", "u", 5)
	require.NoError(t, err)
	assert.Empty(t, hits)
}

func TestSplitChunks(t *testing.T) {
	assert.Nil(t, splitChunks("  \n", 10))

	var chunks = splitChunks("a\nb\nc\n", 2)
	require.Len(t, chunks, 2)
	assert.Equal(t, chunk{start: 1, end: 2, text: "a\nb"}, chunks[0])
	assert.Equal(t, chunk{start: 3, end: 3, text: "c"}, chunks[1])
}

func TestVectorEncoding(t *testing.T) {
	var v = []float32{0, 1.5, -2.25, 1e-7}
	assert.Equal(t, v, decodeVector(encodeVector(v)))
	assert.Len(t, encodeVector(v), 16)
}

func TestSnippetTruncates(t *testing.T) {
	var long = strings.Repeat("x", snippetMaxRunes+10)
	assert.Len(t, snippet(long), snippetMaxRunes+3)
	assert.Equal(t, "short", snippet("short"))
}
