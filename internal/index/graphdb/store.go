// Package graphdb is a SQLite-backed index.GraphIndex.
//
// Each indexed file becomes a "file" node which "defines" one node per
// function, method, class or type, and "imports" shared "module" nodes.
// Call sites become "calls" edges, resolved by name against every entity
// of the same user, so a call into a file indexed later is linked once
// that file arrives. Node names are searchable through FTS5.
package graphdb

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/HendryAvila/indexbridge/internal/index"
	"github.com/HendryAvila/indexbridge/internal/index/parser"
	"github.com/HendryAvila/indexbridge/internal/index/sqlitedb"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

// Node kinds beyond the parser's entity kinds.
const (
	KindFile   = "file"
	KindModule = "module"
)

// Edge types.
const (
	EdgeDefines = "defines"
	EdgeImports = "imports"
	EdgeCalls   = "calls"
)

const (
	dbName       = "graph.db"
	defaultLimit = 10
	maxLimit     = 100
	defaultDepth = 2
	maxDepth     = 5
)

// ErrNodeNotFound is returned by Neighbors for an unknown node id.
var ErrNodeNotFound = errors.New("node not found")

// Store implements index.GraphIndex.
type Store struct {
	db *sql.DB
}

var _ index.GraphIndex = (*Store)(nil)

// Stats holds aggregate graph counts.
type Stats struct {
	Nodes int `json:"nodes"`
	Edges int `json:"edges"`
	Files int `json:"files"`
}

// New opens, and if needed creates, the graph database in dir.
func New(dir string) (*Store, error) {
	db, err := sqlitedb.Open(dir, dbName)
	if err != nil {
		return nil, errors.WithMessage(err, "graphdb")
	}
	var s = &Store{db: db}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, errors.WithMessage(err, "graphdb: migration")
	}
	return s, nil
}

// Close closes the underlying database.
func (s *Store) Close() error { return s.db.Close() }

func (s *Store) migrate() error {
	if _, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS nodes (
			id         INTEGER PRIMARY KEY AUTOINCREMENT,
			user_id    TEXT    NOT NULL,
			file       TEXT    NOT NULL DEFAULT '',
			kind       TEXT    NOT NULL,
			name       TEXT    NOT NULL,
			line       INTEGER NOT NULL DEFAULT 0,
			updated_at TEXT    NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_nodes_file ON nodes(user_id, file);
		CREATE INDEX IF NOT EXISTS idx_nodes_name ON nodes(user_id, name);
		CREATE UNIQUE INDEX IF NOT EXISTS idx_nodes_module ON nodes(user_id, name) WHERE kind = 'module';

		CREATE TABLE IF NOT EXISTS edges (
			from_id INTEGER NOT NULL,
			to_id   INTEGER NOT NULL,
			type    TEXT    NOT NULL,
			FOREIGN KEY (from_id) REFERENCES nodes(id) ON DELETE CASCADE,
			FOREIGN KEY (to_id)   REFERENCES nodes(id) ON DELETE CASCADE,
			PRIMARY KEY (from_id, to_id, type)
		);

		CREATE INDEX IF NOT EXISTS idx_edges_to ON edges(to_id);

		-- Call names per entity, kept so calls resolve against files indexed later.
		CREATE TABLE IF NOT EXISTS call_sites (
			from_id INTEGER NOT NULL,
			name    TEXT    NOT NULL,
			FOREIGN KEY (from_id) REFERENCES nodes(id) ON DELETE CASCADE,
			PRIMARY KEY (from_id, name)
		);

		CREATE VIRTUAL TABLE IF NOT EXISTS nodes_fts USING fts5(
			name,
			file,
			kind,
			content='nodes',
			content_rowid='id'
		);
	`); err != nil {
		return err
	}

	// Create FTS triggers (idempotent)
	var name string
	err := s.db.QueryRow(
		"SELECT name FROM sqlite_master WHERE type='trigger' AND name='nodes_fts_insert'",
	).Scan(&name)

	if err == sql.ErrNoRows {
		_, err = s.db.Exec(`
			CREATE TRIGGER nodes_fts_insert AFTER INSERT ON nodes BEGIN
				INSERT INTO nodes_fts(rowid, name, file, kind)
				VALUES (new.id, new.name, new.file, new.kind);
			END;

			CREATE TRIGGER nodes_fts_delete AFTER DELETE ON nodes BEGIN
				INSERT INTO nodes_fts(nodes_fts, rowid, name, file, kind)
				VALUES ('delete', old.id, old.name, old.file, old.kind);
			END;

			CREATE TRIGGER nodes_fts_update AFTER UPDATE ON nodes BEGIN
				INSERT INTO nodes_fts(nodes_fts, rowid, name, file, kind)
				VALUES ('delete', old.id, old.name, old.file, old.kind);
				INSERT INTO nodes_fts(rowid, name, file, kind)
				VALUES (new.id, new.name, new.file, new.kind);
			END;
		`)
	}
	return err
}

// Update replaces the nodes of each file with those parsed from its
// entry in contents. A file absent from contents is indexed as a bare
// file node. Each file is written in its own transaction.
func (s *Store) Update(ctx context.Context, files []string, contents map[string]string, userID string) (int, error) {
	var written int
	for _, file := range files {
		n, err := s.updateFile(ctx, file, contents[file], userID)
		if err != nil {
			return written, errors.WithMessagef(err, "graphdb: updating %s", file)
		}
		written += n
	}
	if err := s.resolveCalls(ctx, userID); err != nil {
		return written, errors.WithMessage(err, "graphdb: resolving calls")
	}
	log.WithFields(log.Fields{"files": len(files), "nodes": written}).Debug("graphdb: updated")
	return written, nil
}

func (s *Store) updateFile(ctx context.Context, file, content, userID string) (int, error) {
	var parsed = parser.Parse(file, content)
	var now = time.Now().UTC().Format(time.RFC3339)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM nodes WHERE user_id = ? AND file = ?`, userID, file); err != nil {
		return 0, err
	}

	fileID, err := insertNode(ctx, tx, userID, file, KindFile, file, 0, now)
	if err != nil {
		return 0, err
	}
	var written = 1

	for _, e := range parsed.Entities {
		id, err := insertNode(ctx, tx, userID, file, e.Kind, e.Name, e.Line, now)
		if err != nil {
			return 0, err
		}
		written++
		if err := insertEdge(ctx, tx, fileID, id, EdgeDefines); err != nil {
			return 0, err
		}
		for _, call := range e.Calls {
			if _, err := tx.ExecContext(ctx,
				`INSERT OR IGNORE INTO call_sites (from_id, name) VALUES (?, ?)`, id, call); err != nil {
				return 0, err
			}
		}
	}

	for _, imp := range parsed.Imports {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO nodes (user_id, file, kind, name, updated_at) VALUES (?, '', ?, ?, ?)
			ON CONFLICT DO NOTHING`, userID, KindModule, imp, now); err != nil {
			return 0, err
		}
		var modID int64
		if err := tx.QueryRowContext(ctx,
			`SELECT id FROM nodes WHERE user_id = ? AND kind = ? AND name = ?`,
			userID, KindModule, imp).Scan(&modID); err != nil {
			return 0, err
		}
		if err := insertEdge(ctx, tx, fileID, modID, EdgeImports); err != nil {
			return 0, err
		}
	}

	if err := pruneModules(ctx, tx, userID); err != nil {
		return 0, err
	}
	return written, tx.Commit()
}

// resolveCalls links every recorded call site of userID to the entities
// it names. A call "Add" matches both "Add" and qualified "Store.Add".
func (s *Store) resolveCalls(ctx context.Context, userID string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO edges (from_id, to_id, type)
		SELECT c.from_id, n.id, ?
		FROM call_sites c
		JOIN nodes src ON src.id = c.from_id AND src.user_id = ?
		JOIN nodes n ON n.user_id = src.user_id
			AND n.kind NOT IN (?, ?)
			AND n.id != c.from_id
			AND (n.name = c.name OR substr(n.name, -length(c.name) - 1) = '.' || c.name)`,
		EdgeCalls, userID, KindFile, KindModule)
	return err
}

// DeleteNodes removes every node of files. Their edges cascade.
func (s *Store) DeleteNodes(ctx context.Context, files []string, userID string) (int, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, errors.WithMessage(err, "graphdb: begin")
	}
	defer func() { _ = tx.Rollback() }()

	var removed int64
	for _, f := range files {
		res, err := tx.ExecContext(ctx, `DELETE FROM nodes WHERE user_id = ? AND file = ?`, userID, f)
		if err != nil {
			return 0, errors.WithMessagef(err, "graphdb: deleting %s", f)
		}
		n, _ := res.RowsAffected()
		removed += n
	}
	if err := pruneModules(ctx, tx, userID); err != nil {
		return 0, errors.WithMessage(err, "graphdb: pruning modules")
	}
	if err := tx.Commit(); err != nil {
		return 0, errors.WithMessage(err, "graphdb: commit")
	}
	return int(removed), nil
}

// Search finds nodes of userID whose name, file or kind matches query.
// Query words match as prefixes. If FTS rejects the query, Search falls
// back to a substring match on names.
func (s *Store) Search(ctx context.Context, query, userID string, limit int) ([]index.Node, error) {
	if limit <= 0 {
		limit = defaultLimit
	} else if limit > maxLimit {
		limit = maxLimit
	}
	var fts = sqlitedb.SanitizeFTS(query, true)
	if fts == "" {
		return nil, nil
	}

	nodes, err := s.queryNodes(ctx, `
		SELECT n.id, n.file, n.kind, n.name, n.line
		FROM nodes_fts fts
		JOIN nodes n ON n.id = fts.rowid
		WHERE nodes_fts MATCH ? AND n.user_id = ?
		ORDER BY fts.rank LIMIT ?`, fts, userID, limit)
	if err == nil {
		return nodes, nil
	}

	log.WithFields(log.Fields{"query": query, "err": err}).Warn("graphdb: fts search failed; using LIKE")
	nodes, err = s.queryNodes(ctx, `
		SELECT id, file, kind, name, line FROM nodes
		WHERE user_id = ? AND name LIKE ? ESCAPE '\'
		ORDER BY name LIMIT ?`, userID, "%"+escapeLike(strings.TrimSpace(query))+"%", limit)
	return nodes, errors.WithMessage(err, "graphdb: search")
}

// Neighbors traverses edges in both directions from nodeID, breadth
// first, up to depth hops. Depth defaults to 2 and is capped at 5.
func (s *Store) Neighbors(ctx context.Context, nodeID int64, depth int) (*index.Subgraph, error) {
	if depth <= 0 {
		depth = defaultDepth
	} else if depth > maxDepth {
		depth = maxDepth
	}

	root, err := s.node(ctx, nodeID)
	if err != nil {
		return nil, err
	}

	type queueItem struct {
		id    int64
		depth int
	}
	var (
		visited = map[int64]bool{nodeID: true}
		queue   = []queueItem{{id: nodeID}}
		seen    = map[index.Edge]bool{}
		out     = &index.Subgraph{Root: *root}
	)

	for len(queue) > 0 {
		var current = queue[0]
		queue = queue[1:]
		if current.depth >= depth {
			continue
		}

		edges, err := s.edgesOf(ctx, current.id)
		if err != nil {
			return nil, errors.WithMessagef(err, "graphdb: edges of %d", current.id)
		}
		for _, e := range edges {
			if !seen[e] {
				seen[e] = true
				out.Edges = append(out.Edges, e)
			}
			var other = e.To
			if other == current.id {
				other = e.From
			}
			if visited[other] {
				continue
			}
			visited[other] = true

			n, err := s.node(ctx, other)
			if errors.Cause(err) == ErrNodeNotFound {
				continue
			} else if err != nil {
				return nil, err
			}
			out.Nodes = append(out.Nodes, *n)
			if current.depth+1 > out.Depth {
				out.Depth = current.depth + 1
			}
			queue = append(queue, queueItem{id: other, depth: current.depth + 1})
		}
	}
	return out, nil
}

// Stats counts nodes, edges and indexed files across all users.
func (s *Store) Stats(ctx context.Context) (Stats, error) {
	var st Stats
	err := s.db.QueryRowContext(ctx, `
		SELECT
			(SELECT COUNT(*) FROM nodes),
			(SELECT COUNT(*) FROM edges),
			(SELECT COUNT(*) FROM nodes WHERE kind = ?)`, KindFile,
	).Scan(&st.Nodes, &st.Edges, &st.Files)
	return st, errors.WithMessage(err, "graphdb: stats")
}

// ─── Helpers ─────────────────────────────────────────────────────────────────

func insertNode(ctx context.Context, tx *sql.Tx, userID, file, kind, name string, line int, now string) (int64, error) {
	res, err := tx.ExecContext(ctx,
		`INSERT INTO nodes (user_id, file, kind, name, line, updated_at) VALUES (?, ?, ?, ?, ?, ?)`,
		userID, file, kind, name, line, now)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

func insertEdge(ctx context.Context, tx *sql.Tx, from, to int64, typ string) error {
	_, err := tx.ExecContext(ctx,
		`INSERT OR IGNORE INTO edges (from_id, to_id, type) VALUES (?, ?, ?)`, from, to, typ)
	return err
}

// pruneModules drops module nodes no file imports any longer.
func pruneModules(ctx context.Context, tx *sql.Tx, userID string) error {
	_, err := tx.ExecContext(ctx, `
		DELETE FROM nodes WHERE user_id = ? AND kind = ?
		AND id NOT IN (SELECT to_id FROM edges WHERE type = ?)`,
		userID, KindModule, EdgeImports)
	return err
}

func (s *Store) node(ctx context.Context, id int64) (*index.Node, error) {
	var n index.Node
	err := s.db.QueryRowContext(ctx,
		`SELECT id, file, kind, name, line FROM nodes WHERE id = ?`, id,
	).Scan(&n.ID, &n.File, &n.Kind, &n.Name, &n.Line)
	if err == sql.ErrNoRows {
		return nil, errors.WithMessagef(ErrNodeNotFound, "node %d", id)
	} else if err != nil {
		return nil, errors.WithMessagef(err, "graphdb: node %d", id)
	}
	return &n, nil
}

// edgesOf reads all edges touching id. Rows are drained before return,
// leaving the connection free for the caller.
func (s *Store) edgesOf(ctx context.Context, id int64) ([]index.Edge, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT from_id, to_id, type FROM edges WHERE from_id = ?
		UNION
		SELECT from_id, to_id, type FROM edges WHERE to_id = ?
		ORDER BY type, from_id, to_id`, id, id)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []index.Edge
	for rows.Next() {
		var e index.Edge
		if err := rows.Scan(&e.From, &e.To, &e.Type); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *Store) queryNodes(ctx context.Context, query string, args ...any) ([]index.Node, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []index.Node
	for rows.Next() {
		var n index.Node
		if err := rows.Scan(&n.ID, &n.File, &n.Kind, &n.Name, &n.Line); err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}
