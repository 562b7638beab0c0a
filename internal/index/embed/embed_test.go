package embed

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTokenize(t *testing.T) {
	assert.Equal(t,
		[]string{"parsehttprequest", "parse", "http", "request"},
		Tokenize("parseHTTPRequest"))
	assert.Equal(t,
		[]string{"load_user", "load", "user", "x"},
		Tokenize("load_user(x)"))
	assert.Equal(t, []string{"hello", "world"}, Tokenize("Hello, world!"))
	assert.Empty(t, Tokenize("  ()  "))
}

func TestHashEmbedderIsNormalizedAndDeterministic(t *testing.T) {
	var e = NewHashEmbedder(64)
	require.Equal(t, 64, e.Dimensions())

	var a = e.Embed("func loadUser(id string) (*User, error)")
	var b = e.Embed("func loadUser(id string) (*User, error)")
	assert.Equal(t, a, b)

	var norm float64
	for _, x := range a {
		norm += float64(x) * float64(x)
	}
	assert.InDelta(t, 1.0, math.Sqrt(norm), 1e-5)
}

func TestHashEmbedderRanksRelatedText(t *testing.T) {
	var e = NewHashEmbedder(256)

	var query = e.Embed("load user")
	var related = e.Embed("def load_user(user_id): return db.get_user(user_id)")
	var unrelated = e.Embed("render the chart axis labels in svg")

	assert.Greater(t, Cosine(query, related), Cosine(query, unrelated))
}

func TestEmbedEmptyText(t *testing.T) {
	var v = NewHashEmbedder(8).Embed("")
	assert.Equal(t, make([]float32, 8), v)
	assert.Equal(t, 0.0, Cosine(v, v))
}
