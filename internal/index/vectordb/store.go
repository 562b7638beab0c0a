// Package vectordb is a SQLite-backed index.VectorIndex. Files are split
// into windows of lines, each embedded and stored as a little-endian
// float32 blob. Search ranks every chunk in the collection by cosine
// similarity to the query and reports the best chunk of each file.
package vectordb

import (
	"context"
	"database/sql"
	"encoding/binary"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/HendryAvila/indexbridge/internal/index"
	"github.com/HendryAvila/indexbridge/internal/index/embed"
	"github.com/HendryAvila/indexbridge/internal/index/sqlitedb"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

const (
	dbName          = "vectors.db"
	defaultLimit    = 10
	maxLimit        = 100
	snippetMaxRunes = 300
)

// Config configures a Store.
type Config struct {
	Dir        string
	ChunkLines int
	Embedder   embed.Embedder
}

// Store implements index.VectorIndex.
type Store struct {
	db       *sql.DB
	chunk    int
	embedder embed.Embedder
}

var _ index.VectorIndex = (*Store)(nil)

// New opens, and if needed creates, the vector database in cfg.Dir.
func New(cfg Config) (*Store, error) {
	if cfg.ChunkLines <= 0 {
		cfg.ChunkLines = 40
	}
	if cfg.Embedder == nil {
		cfg.Embedder = embed.NewHashEmbedder(0)
	}
	db, err := sqlitedb.Open(cfg.Dir, dbName)
	if err != nil {
		return nil, errors.WithMessage(err, "vectordb")
	}
	var s = &Store{db: db, chunk: cfg.ChunkLines, embedder: cfg.Embedder}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, errors.WithMessage(err, "vectordb: migration")
	}
	return s, nil
}

// Close closes the underlying database.
func (s *Store) Close() error { return s.db.Close() }

func (s *Store) migrate() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS chunks (
			collection TEXT    NOT NULL,
			user_id    TEXT    NOT NULL,
			file       TEXT    NOT NULL,
			chunk      INTEGER NOT NULL,
			start_line INTEGER NOT NULL,
			end_line   INTEGER NOT NULL,
			content    TEXT    NOT NULL,
			vector     BLOB    NOT NULL,
			dims       INTEGER NOT NULL,
			status     TEXT    NOT NULL,
			updated_at TEXT    NOT NULL,
			PRIMARY KEY (collection, user_id, file, chunk)
		);

		CREATE INDEX IF NOT EXISTS idx_chunks_owner ON chunks(collection, user_id);
	`)
	return err
}

// Upsert replaces the chunks of each document's file in one transaction.
func (s *Store) Upsert(ctx context.Context, collection string, docs []index.Document, userID string) (int, error) {
	if len(docs) == 0 {
		return 0, nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, errors.WithMessage(err, "vectordb: begin")
	}
	defer func() { _ = tx.Rollback() }()

	insert, err := tx.PrepareContext(ctx, `
		INSERT INTO chunks (collection, user_id, file, chunk, start_line, end_line, content, vector, dims, status, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return 0, errors.WithMessage(err, "vectordb: prepare")
	}
	defer insert.Close()

	var now = time.Now().UTC().Format(time.RFC3339)
	for _, doc := range docs {
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM chunks WHERE collection = ? AND user_id = ? AND file = ?`,
			collection, userID, doc.File); err != nil {
			return 0, errors.WithMessagef(err, "vectordb: clearing %s", doc.File)
		}
		for i, c := range splitChunks(doc.Content, s.chunk) {
			var vec = s.embedder.Embed(doc.File + "\n" + c.text)
			if _, err := insert.ExecContext(ctx,
				collection, userID, doc.File, i, c.start, c.end, c.text,
				encodeVector(vec), len(vec), doc.Status, now,
			); err != nil {
				return 0, errors.WithMessagef(err, "vectordb: inserting %s#%d", doc.File, i)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, errors.WithMessage(err, "vectordb: commit")
	}
	log.WithFields(log.Fields{"collection": collection, "documents": len(docs)}).Debug("vectordb: upserted")
	return len(docs), nil
}

// Delete removes files and returns the number which had chunks.
func (s *Store) Delete(ctx context.Context, collection string, files []string, userID string) (int, error) {
	var removed int
	for _, f := range files {
		res, err := s.db.ExecContext(ctx,
			`DELETE FROM chunks WHERE collection = ? AND user_id = ? AND file = ?`,
			collection, userID, f)
		if err != nil {
			return removed, errors.WithMessagef(err, "vectordb: deleting %s", f)
		}
		if n, _ := res.RowsAffected(); n > 0 {
			removed++
		}
	}
	return removed, nil
}

// Search returns files ordered by the similarity of their best chunk.
// Files with no positive similarity are omitted.
func (s *Store) Search(ctx context.Context, collection, query, userID string, limit int) ([]index.Hit, error) {
	if limit <= 0 {
		limit = defaultLimit
	} else if limit > maxLimit {
		limit = maxLimit
	}
	if strings.TrimSpace(query) == "" {
		return nil, nil
	}
	var q = s.embedder.Embed(query)

	rows, err := s.db.QueryContext(ctx, `
		SELECT file, chunk, start_line, end_line, content, vector, dims
		FROM chunks WHERE collection = ? AND user_id = ?`, collection, userID)
	if err != nil {
		return nil, errors.WithMessage(err, "vectordb: search")
	}
	defer func() { _ = rows.Close() }()

	var best = make(map[string]index.Hit)
	for rows.Next() {
		var h index.Hit
		var blob []byte
		var dims int
		if err := rows.Scan(&h.File, &h.Chunk, &h.StartLine, &h.EndLine, &h.Snippet, &blob, &dims); err != nil {
			return nil, errors.WithMessage(err, "vectordb: scanning chunk")
		}
		if dims != len(q) {
			continue // Embedded with a different dimensionality.
		}
		if h.Score = embed.Cosine(q, decodeVector(blob)); h.Score <= 0 {
			continue
		}
		if prev, ok := best[h.File]; !ok || h.Score > prev.Score {
			h.Snippet = snippet(h.Snippet)
			best[h.File] = h
		}
	}
	if err := rows.Err(); err != nil {
		return nil, errors.WithMessage(err, "vectordb: search")
	}

	var hits = make([]index.Hit, 0, len(best))
	for _, h := range best {
		hits = append(hits, h)
	}
	sort.Slice(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		return hits[i].File < hits[j].File
	})
	if len(hits) > limit {
		hits = hits[:limit]
	}
	return hits, nil
}

// Stats holds aggregate counts for a collection.
type Stats struct {
	Files  int `json:"files"`
	Chunks int `json:"chunks"`
}

// Stats counts the files and chunks indexed for collection and userID.
func (s *Store) Stats(ctx context.Context, collection, userID string) (Stats, error) {
	var st Stats
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(DISTINCT file), COUNT(*) FROM chunks WHERE collection = ? AND user_id = ?`,
		collection, userID).Scan(&st.Files, &st.Chunks)
	return st, errors.WithMessage(err, "vectordb: stats")
}

type chunk struct {
	start, end int
	text       string
}

// splitChunks cuts content into windows of n lines. Line numbers are
// 1-based and inclusive. Blank content yields no chunks.
func splitChunks(content string, n int) []chunk {
	if strings.TrimSpace(content) == "" {
		return nil
	}
	var lines = strings.Split(strings.TrimRight(content, "\n"), "\n")
	var out []chunk
	for i := 0; i < len(lines); i += n {
		var end = min(i+n, len(lines))
		out = append(out, chunk{
			start: i + 1,
			end:   end,
			text:  strings.Join(lines[i:end], "\n"),
		})
	}
	return out
}

func snippet(s string) string {
	var r = []rune(s)
	if len(r) <= snippetMaxRunes {
		return s
	}
	return string(r[:snippetMaxRunes]) + "..."
}

func encodeVector(v []float32) []byte {
	var b = make([]byte, 4*len(v))
	for i, x := range v {
		binary.LittleEndian.PutUint32(b[4*i:], math.Float32bits(x))
	}
	return b
}

func decodeVector(b []byte) []float32 {
	var v = make([]float32, len(b)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[4*i:]))
	}
	return v
}
