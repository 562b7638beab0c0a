// Package embed turns text into fixed-size vectors for the vector index.
package embed

import (
	"math"
	"strings"
	"unicode"

	"github.com/spaolacci/murmur3"
)

// Embedder maps text to a vector of Dimensions() components.
type Embedder interface {
	Dimensions() int
	Embed(text string) []float32
}

// HashEmbedder is a feature-hashing embedder. Each token of the text is
// hashed into a signed bucket; the resulting vector is L2-normalized, so
// the dot product of two embeddings is their cosine similarity. It is
// deterministic and needs no model.
type HashEmbedder struct {
	dims int
}

// NewHashEmbedder returns a HashEmbedder of dims dimensions.
func NewHashEmbedder(dims int) *HashEmbedder {
	if dims <= 0 {
		dims = 256
	}
	return &HashEmbedder{dims: dims}
}

func (e *HashEmbedder) Dimensions() int { return e.dims }

func (e *HashEmbedder) Embed(text string) []float32 {
	var vec = make([]float32, e.dims)
	for _, tok := range Tokenize(text) {
		var h = murmur3.Sum64([]byte(tok))
		var bucket = h % uint64(e.dims)
		if h>>63 == 1 {
			vec[bucket] -= 1
		} else {
			vec[bucket] += 1
		}
	}
	Normalize(vec)
	return vec
}

// Normalize scales v to unit length in place. A zero vector is unchanged.
func Normalize(v []float32) {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	if sum == 0 {
		return
	}
	var inv = float32(1 / math.Sqrt(sum))
	for i := range v {
		v[i] *= inv
	}
}

// Cosine returns the cosine similarity of a and b, which must be of equal
// length. Zero vectors have similarity 0.
func Cosine(a, b []float32) float64 {
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

// Tokenize splits text on non-alphanumerics, lower-cases the words, and
// additionally emits the camelCase and snake_case parts of identifiers:
// "parseHTTPRequest" yields "parsehttprequest", "parse", "http", "request".
func Tokenize(text string) []string {
	var words = strings.FieldsFunc(text, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r) && r != '_'
	})

	var out []string
	for _, w := range words {
		var parts = splitIdentifier(w)
		var whole = strings.ToLower(strings.Trim(w, "_"))
		if whole != "" {
			out = append(out, whole)
		}
		if len(parts) > 1 {
			out = append(out, parts...)
		}
	}
	return out
}

func splitIdentifier(w string) []string {
	var parts []string
	var runes = []rune(w)
	var start = 0

	var flush = func(end int) {
		if end > start {
			parts = append(parts, strings.ToLower(string(runes[start:end])))
		}
		start = end
	}

	for i := 0; i < len(runes); i++ {
		var r = runes[i]
		if r == '_' {
			flush(i)
			start = i + 1
			continue
		}
		if i == start || !unicode.IsUpper(r) {
			continue
		}
		var prev = runes[i-1]
		var nextLower = i+1 < len(runes) && unicode.IsLower(runes[i+1])
		// Boundary before an upper after a lower ("parseHTTP"), and before
		// the last upper of an acronym followed by a lower ("HTTPRequest").
		if unicode.IsLower(prev) || unicode.IsDigit(prev) || (unicode.IsUpper(prev) && nextLower) {
			flush(i)
		}
	}
	flush(len(runes))
	return parts
}
