package store

import "fmt"

// schemaSQL returns the DDL for all tables. embeddingDim controls the
// vec0 virtual table dimension.
func schemaSQL(embeddingDim int) string {
	return fmt.Sprintf(`
-- One row per completed reading + mapping session
CREATE TABLE IF NOT EXISTS readings (
    id TEXT PRIMARY KEY,
    kind TEXT NOT NULL DEFAULT '',
    question TEXT NOT NULL DEFAULT '',
    narrative TEXT NOT NULL,
    mode TEXT NOT NULL,
    synthesis TEXT NOT NULL DEFAULT '',
    elapsed_ms INTEGER NOT NULL DEFAULT 0,
    created_at TEXT NOT NULL
);

-- Final graph nodes, in insertion order
CREATE TABLE IF NOT EXISTS nodes (
    id INTEGER PRIMARY KEY,
    reading_id TEXT NOT NULL REFERENCES readings(id) ON DELETE CASCADE,
    position INTEGER NOT NULL,
    node_id TEXT NOT NULL,
    label TEXT NOT NULL,
    node_type TEXT NOT NULL DEFAULT ''
);

-- Final graph edges, in insertion order. from/to are soft references.
CREATE TABLE IF NOT EXISTS edges (
    id INTEGER PRIMARY KEY,
    reading_id TEXT NOT NULL REFERENCES readings(id) ON DELETE CASCADE,
    position INTEGER NOT NULL,
    from_node TEXT NOT NULL,
    to_node TEXT NOT NULL,
    relationship TEXT NOT NULL DEFAULT ''
);

-- Per-round snapshots
CREATE TABLE IF NOT EXISTS checkpoints (
    reading_id TEXT NOT NULL REFERENCES readings(id) ON DELETE CASCADE,
    round INTEGER NOT NULL,
    insights TEXT NOT NULL DEFAULT '',
    node_count INTEGER NOT NULL,
    edge_count INTEGER NOT NULL,
    snapshot JSON NOT NULL,
    PRIMARY KEY (reading_id, round)
);

-- Node label embeddings via sqlite-vec
CREATE VIRTUAL TABLE IF NOT EXISTS vec_nodes USING vec0(
    node_rowid INTEGER PRIMARY KEY,
    embedding float[%d]
);

-- Full-text search over readings via FTS5
CREATE VIRTUAL TABLE IF NOT EXISTS readings_fts USING fts5(
    question,
    narrative,
    synthesis,
    content='readings',
    content_rowid='rowid',
    tokenize='porter unicode61'
);

CREATE TRIGGER IF NOT EXISTS readings_ai AFTER INSERT ON readings BEGIN
    INSERT INTO readings_fts(rowid, question, narrative, synthesis) VALUES (new.rowid, new.question, new.narrative, new.synthesis);
END;
CREATE TRIGGER IF NOT EXISTS readings_ad AFTER DELETE ON readings BEGIN
    INSERT INTO readings_fts(readings_fts, rowid, question, narrative, synthesis) VALUES ('delete', old.rowid, old.question, old.narrative, old.synthesis);
END;
CREATE TRIGGER IF NOT EXISTS readings_au AFTER UPDATE ON readings BEGIN
    INSERT INTO readings_fts(readings_fts, rowid, question, narrative, synthesis) VALUES ('delete', old.rowid, old.question, old.narrative, old.synthesis);
    INSERT INTO readings_fts(rowid, question, narrative, synthesis) VALUES (new.rowid, new.question, new.narrative, new.synthesis);
END;

CREATE INDEX IF NOT EXISTS idx_nodes_reading ON nodes(reading_id, position);
CREATE INDEX IF NOT EXISTS idx_edges_reading ON edges(reading_id, position);
`, embeddingDim)
}
