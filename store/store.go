package store

import (
	"context"
	"database/sql"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"
	"time"

	sqlite_vec "github.com/asg017/sqlite-vec-go-bindings/cgo"
	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"github.com/bbiangul/rhizome/graph"
)

func init() {
	sqlite_vec.Auto()
}

// ErrNotFound is returned when a reading id does not exist.
var ErrNotFound = errors.New("store: reading not found")

// Reading is one archived session: the narrative, the final graph, every
// round checkpoint and the synthesis.
type Reading struct {
	ID          string             `json:"id"`
	Kind        string             `json:"kind"`
	Question    string             `json:"question"`
	Narrative   string             `json:"narrative"`
	Mode        string             `json:"mode"`
	Synthesis   string             `json:"synthesis"`
	ElapsedMs   int64              `json:"elapsed_ms"`
	CreatedAt   time.Time          `json:"created_at"`
	Nodes       []graph.Node       `json:"nodes"`
	Edges       []graph.Edge       `json:"edges"`
	Checkpoints []graph.Checkpoint `json:"checkpoints"`
}

// Summary is the list view of a reading.
type Summary struct {
	ID        string    `json:"id"`
	Kind      string    `json:"kind"`
	Question  string    `json:"question"`
	Mode      string    `json:"mode"`
	NodeCount int       `json:"node_count"`
	EdgeCount int       `json:"edge_count"`
	CreatedAt time.Time `json:"created_at"`
}

// NodeMatch is a node returned by SimilarNodes.
type NodeMatch struct {
	ReadingID string     `json:"reading_id"`
	Question  string     `json:"question"`
	Node      graph.Node `json:"node"`
	Score     float64    `json:"score"`
}

// Stats holds row counts.
type Stats struct {
	Readings    int `json:"readings"`
	Nodes       int `json:"nodes"`
	Edges       int `json:"edges"`
	Checkpoints int `json:"checkpoints"`
	Embeddings  int `json:"embeddings"`
}

// Store wraps the SQLite database holding the readings archive.
type Store struct {
	db           *sql.DB
	embeddingDim int
}

// New opens (or creates) a SQLite database at the given path and
// initialises the schema including sqlite-vec and FTS5 virtual tables.
func New(dbPath string, embeddingDim int) (*Store, error) {
	dir := filepath.Dir(dbPath)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("creating db directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_foreign_keys=on&_busy_timeout=30000")
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	if _, err := db.Exec(schemaSQL(embeddingDim)); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	db.SetMaxOpenConns(4)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(30 * time.Minute)

	s := &Store{db: db, embeddingDim: embeddingDim}

	if err := s.Migrate(context.Background()); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return s, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// DB returns the underlying *sql.DB for advanced queries.
func (s *Store) DB() *sql.DB {
	return s.db
}

// EmbeddingDim returns the configured embedding dimension.
func (s *Store) EmbeddingDim() int {
	return s.embeddingDim
}

// --- Reading operations ---

// SaveReading archives r in a single transaction and returns its id. An
// empty ID is replaced by a new UUID and a zero CreatedAt by the current
// time; both are written back to r.
func (s *Store) SaveReading(ctx context.Context, r *Reading) (string, error) {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now().UTC()
	}

	err := s.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO readings (id, kind, question, narrative, mode, synthesis, elapsed_ms, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		`, r.ID, r.Kind, r.Question, r.Narrative, r.Mode, r.Synthesis, r.ElapsedMs,
			r.CreatedAt.UTC().Format(time.RFC3339Nano)); err != nil {
			return fmt.Errorf("inserting reading: %w", err)
		}

		nodeStmt, err := tx.PrepareContext(ctx,
			"INSERT INTO nodes (reading_id, position, node_id, label, node_type) VALUES (?, ?, ?, ?, ?)")
		if err != nil {
			return err
		}
		defer nodeStmt.Close()
		for i, n := range r.Nodes {
			if _, err := nodeStmt.ExecContext(ctx, r.ID, i, string(n.ID), n.Label, string(n.Type)); err != nil {
				return fmt.Errorf("inserting node %d: %w", i, err)
			}
		}

		edgeStmt, err := tx.PrepareContext(ctx,
			"INSERT INTO edges (reading_id, position, from_node, to_node, relationship) VALUES (?, ?, ?, ?, ?)")
		if err != nil {
			return err
		}
		defer edgeStmt.Close()
		for i, e := range r.Edges {
			if _, err := edgeStmt.ExecContext(ctx, r.ID, i, string(e.From), string(e.To), e.Relationship); err != nil {
				return fmt.Errorf("inserting edge %d: %w", i, err)
			}
		}

		for _, cp := range r.Checkpoints {
			snapshot, err := json.Marshal(snapshot{Nodes: cp.Nodes, Edges: cp.Edges})
			if err != nil {
				return fmt.Errorf("encoding checkpoint %d: %w", cp.Round, err)
			}
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO checkpoints (reading_id, round, insights, node_count, edge_count, snapshot)
				VALUES (?, ?, ?, ?, ?, ?)
			`, r.ID, cp.Round, cp.Insights, cp.NodeCount, cp.EdgeCount, string(snapshot)); err != nil {
				return fmt.Errorf("inserting checkpoint %d: %w", cp.Round, err)
			}
		}
		return nil
	})
	if err != nil {
		return "", err
	}
	return r.ID, nil
}

type snapshot struct {
	Nodes []graph.Node `json:"nodes"`
	Edges []graph.Edge `json:"edges"`
}

// GetReading loads a reading with its graph and checkpoints.
func (s *Store) GetReading(ctx context.Context, id string) (*Reading, error) {
	r := &Reading{ID: id}
	var created string
	err := s.db.QueryRowContext(ctx, `
		SELECT kind, question, narrative, mode, synthesis, elapsed_ms, created_at
		FROM readings WHERE id = ?
	`, id).Scan(&r.Kind, &r.Question, &r.Narrative, &r.Mode, &r.Synthesis, &r.ElapsedMs, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	if r.CreatedAt, err = time.Parse(time.RFC3339Nano, created); err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}

	if r.Nodes, err = s.nodes(ctx, id); err != nil {
		return nil, err
	}
	if r.Edges, err = s.edges(ctx, id); err != nil {
		return nil, err
	}
	if r.Checkpoints, err = s.checkpoints(ctx, id); err != nil {
		return nil, err
	}
	return r, nil
}

func (s *Store) nodes(ctx context.Context, readingID string) ([]graph.Node, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT node_id, label, node_type FROM nodes WHERE reading_id = ? ORDER BY position", readingID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	nodes := []graph.Node{}
	for rows.Next() {
		var n graph.Node
		if err := rows.Scan(&n.ID, &n.Label, &n.Type); err != nil {
			return nil, err
		}
		nodes = append(nodes, n)
	}
	return nodes, rows.Err()
}

func (s *Store) edges(ctx context.Context, readingID string) ([]graph.Edge, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT from_node, to_node, relationship FROM edges WHERE reading_id = ? ORDER BY position", readingID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	edges := []graph.Edge{}
	for rows.Next() {
		var e graph.Edge
		if err := rows.Scan(&e.From, &e.To, &e.Relationship); err != nil {
			return nil, err
		}
		edges = append(edges, e)
	}
	return edges, rows.Err()
}

func (s *Store) checkpoints(ctx context.Context, readingID string) ([]graph.Checkpoint, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT round, insights, node_count, edge_count, snapshot
		FROM checkpoints WHERE reading_id = ? ORDER BY round
	`, readingID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	cps := []graph.Checkpoint{}
	for rows.Next() {
		var (
			cp  graph.Checkpoint
			raw string
		)
		if err := rows.Scan(&cp.Round, &cp.Insights, &cp.NodeCount, &cp.EdgeCount, &raw); err != nil {
			return nil, err
		}
		var snap snapshot
		if err := json.Unmarshal([]byte(raw), &snap); err != nil {
			return nil, fmt.Errorf("decoding checkpoint %d: %w", cp.Round, err)
		}
		cp.Nodes, cp.Edges = snap.Nodes, snap.Edges
		if cp.Nodes == nil {
			cp.Nodes = []graph.Node{}
		}
		if cp.Edges == nil {
			cp.Edges = []graph.Edge{}
		}
		cps = append(cps, cp)
	}
	return cps, rows.Err()
}

const summaryColumns = `
	r.id, r.kind, r.question, r.mode, r.created_at,
	(SELECT COUNT(*) FROM nodes n WHERE n.reading_id = r.id),
	(SELECT COUNT(*) FROM edges e WHERE e.reading_id = r.id)`

// ListReadings returns readings newest first.
func (s *Store) ListReadings(ctx context.Context, limit, offset int) ([]Summary, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+summaryColumns+`
		FROM readings r
		ORDER BY r.created_at DESC, r.rowid DESC
		LIMIT ? OFFSET ?
	`, limit, offset)
	if err != nil {
		return nil, err
	}
	return scanSummaries(rows)
}

// SearchReadings runs a full-text query over questions, narratives and
// syntheses, best match first.
func (s *Store) SearchReadings(ctx context.Context, query string, limit int) ([]Summary, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+summaryColumns+`
		FROM readings_fts f
		JOIN readings r ON r.rowid = f.rowid
		WHERE readings_fts MATCH ?
		ORDER BY f.rank
		LIMIT ?
	`, query, limit)
	if err != nil {
		return nil, err
	}
	return scanSummaries(rows)
}

// GetSummaries returns the summaries of the given readings in the order
// of ids. Unknown ids are skipped.
func (s *Store) GetSummaries(ctx context.Context, ids []string) ([]Summary, error) {
	if len(ids) == 0 {
		return []Summary{}, nil
	}
	placeholders := strings.Repeat("?,", len(ids))
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+summaryColumns+`
		FROM readings r
		WHERE r.id IN (`+placeholders[:len(placeholders)-1]+`)
	`, args...)
	if err != nil {
		return nil, err
	}
	found, err := scanSummaries(rows)
	if err != nil {
		return nil, err
	}

	byID := make(map[string]Summary, len(found))
	for _, sm := range found {
		byID[sm.ID] = sm
	}
	out := make([]Summary, 0, len(found))
	for _, id := range ids {
		if sm, ok := byID[id]; ok {
			out = append(out, sm)
		}
	}
	return out, nil
}

func scanSummaries(rows *sql.Rows) ([]Summary, error) {
	defer rows.Close()

	out := []Summary{}
	for rows.Next() {
		var (
			sm      Summary
			created string
		)
		if err := rows.Scan(&sm.ID, &sm.Kind, &sm.Question, &sm.Mode, &created, &sm.NodeCount, &sm.EdgeCount); err != nil {
			return nil, err
		}
		t, err := time.Parse(time.RFC3339Nano, created)
		if err != nil {
			return nil, fmt.Errorf("parsing created_at: %w", err)
		}
		sm.CreatedAt = t
		out = append(out, sm)
	}
	return out, rows.Err()
}

// DeleteReading removes a reading, its graph, checkpoints and node
// embeddings.
func (s *Store) DeleteReading(ctx context.Context, id string) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		// vec0 tables do not take part in foreign keys.
		if _, err := tx.ExecContext(ctx, `
			DELETE FROM vec_nodes WHERE node_rowid IN (
				SELECT id FROM nodes WHERE reading_id = ?
			)
		`, id); err != nil {
			return fmt.Errorf("deleting node embeddings: %w", err)
		}
		res, err := tx.ExecContext(ctx, "DELETE FROM readings WHERE id = ?", id)
		if err != nil {
			return fmt.Errorf("deleting reading: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		return nil
	})
}

// --- Embedding operations ---

// InsertNodeEmbeddings stores one embedding per node of a reading, in node
// order.
func (s *Store) InsertNodeEmbeddings(ctx context.Context, readingID string, embeddings [][]float32) error {
	rows, err := s.db.QueryContext(ctx,
		"SELECT id FROM nodes WHERE reading_id = ? ORDER BY position", readingID)
	if err != nil {
		return err
	}
	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return err
		}
		ids = append(ids, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}
	if len(ids) != len(embeddings) {
		return fmt.Errorf("reading %s has %d nodes but %d embeddings were given", readingID, len(ids), len(embeddings))
	}

	return s.inTx(ctx, func(tx *sql.Tx) error {
		for i, id := range ids {
			if _, err := tx.ExecContext(ctx,
				"INSERT OR REPLACE INTO vec_nodes (node_rowid, embedding) VALUES (?, ?)",
				id, serializeFloat32(embeddings[i])); err != nil {
				return fmt.Errorf("inserting embedding for node %d: %w", id, err)
			}
		}
		return nil
	})
}

// SimilarNodes performs a KNN search over node embeddings across all
// readings.
func (s *Store) SimilarNodes(ctx context.Context, queryEmbedding []float32, k int) ([]NodeMatch, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT v.distance, n.reading_id, r.question, n.node_id, n.label, n.node_type
		FROM vec_nodes v
		JOIN nodes n ON n.id = v.node_rowid
		JOIN readings r ON r.id = n.reading_id
		WHERE v.embedding MATCH ? AND k = ?
		ORDER BY v.distance
	`, serializeFloat32(queryEmbedding), k)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []NodeMatch
	for rows.Next() {
		var (
			m        NodeMatch
			distance float64
		)
		if err := rows.Scan(&distance, &m.ReadingID, &m.Question, &m.Node.ID, &m.Node.Label, &m.Node.Type); err != nil {
			return nil, err
		}
		m.Score = 1.0 - distance
		results = append(results, m)
	}
	return results, rows.Err()
}

// Stats returns row counts of the archive.
func (s *Store) Stats(ctx context.Context) (*Stats, error) {
	stats := &Stats{}
	queries := []struct {
		query string
		dest  *int
	}{
		{"SELECT COUNT(*) FROM readings", &stats.Readings},
		{"SELECT COUNT(*) FROM nodes", &stats.Nodes},
		{"SELECT COUNT(*) FROM edges", &stats.Edges},
		{"SELECT COUNT(*) FROM checkpoints", &stats.Checkpoints},
		{"SELECT COUNT(*) FROM vec_nodes", &stats.Embeddings},
	}
	for _, q := range queries {
		if err := s.db.QueryRowContext(ctx, q.query).Scan(q.dest); err != nil {
			return nil, fmt.Errorf("counting %s: %w", q.query, err)
		}
	}
	return stats, nil
}

// --- helpers ---

func (s *Store) inTx(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit()
}

// serializeFloat32 converts a float32 slice to little-endian bytes for sqlite-vec.
func serializeFloat32(v []float32) []byte {
	buf := make([]byte, len(v)*4)
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}
