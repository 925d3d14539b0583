package store

import (
	"fmt"
)

type migration struct {
	Version     int
	Description string
	SQL         string
}

var migrations = []migration{
	{
		Version:     1,
		Description: "memories: scored memory records with lifecycle state",
		SQL: `
CREATE TABLE memories (
    id                      TEXT PRIMARY KEY,
    content                 TEXT NOT NULL,
    memory_type             TEXT NOT NULL CHECK (memory_type IN ('factual', 'preference', 'behavioral', 'relational', 'contextual')),
    key_entities            TEXT,

    -- Scoring
    base_importance_score   REAL NOT NULL,
    llm_importance_score    REAL,
    user_score_adjustment   INTEGER NOT NULL DEFAULT 0 CHECK (user_score_adjustment BETWEEN -3 AND 3),
    final_importance_score  REAL NOT NULL,
    score_source            TEXT NOT NULL CHECK (score_source IN ('rule', 'llm', 'user_modified')),

    -- Provenance
    user_rated              INTEGER NOT NULL DEFAULT 0,
    user_rated_at           INTEGER,
    llm_processed           INTEGER NOT NULL DEFAULT 0,
    llm_processed_at        INTEGER,

    -- Access bookkeeping
    created_at              INTEGER NOT NULL,
    last_accessed_at        INTEGER,
    access_count            INTEGER NOT NULL DEFAULT 0,

    -- Weak back-reference to at most one source
    source_type             TEXT CHECK (source_type IN ('conversation', 'entry')),
    source_id               TEXT,

    -- Lifecycle: a single state column makes invalid flag combinations
    -- unrepresentable. Permanent deletion removes the row.
    state                   TEXT NOT NULL DEFAULT 'active' CHECK (state IN ('active', 'marked_for_deletion', 'archived')),
    marked_for_deletion_at  INTEGER,
    deletion_reason         TEXT,
    archived_at             INTEGER
);

CREATE UNIQUE INDEX idx_memories_active_content ON memories(content) WHERE state = 'active';
CREATE INDEX idx_memories_state        ON memories(state);
CREATE INDEX idx_memories_final_score  ON memories(final_importance_score DESC);
CREATE INDEX idx_memories_unrated      ON memories(state, user_rated);
CREATE INDEX idx_memories_unprocessed  ON memories(state, llm_processed, user_rated);
`,
	},
	{
		Version:     2,
		Description: "memory_vectors: embedding vectors for semantic retrieval",
		SQL: `
CREATE TABLE memory_vectors (
    memory_id  TEXT PRIMARY KEY,
    embedding  BLOB NOT NULL,
    model      TEXT NOT NULL,
    dimensions INTEGER NOT NULL,
    created_at INTEGER NOT NULL,
    FOREIGN KEY (memory_id) REFERENCES memories(id) ON DELETE CASCADE
);
`,
	},
}

func (db *DB) migrate() error {
	// Create schema_versions table if it doesn't exist
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_versions (
			version     INTEGER PRIMARY KEY,
			description TEXT NOT NULL,
			applied_at  INTEGER NOT NULL DEFAULT (strftime('%s', 'now') * 1000)
		)
	`)
	if err != nil {
		return fmt.Errorf("create schema_versions: %w", err)
	}

	for _, m := range migrations {
		var count int
		err := db.QueryRow("SELECT COUNT(*) FROM schema_versions WHERE version = ?", m.Version).Scan(&count)
		if err != nil {
			return fmt.Errorf("check migration %d: %w", m.Version, err)
		}
		if count > 0 {
			continue
		}

		tx, err := db.Begin()
		if err != nil {
			return fmt.Errorf("begin migration %d: %w", m.Version, err)
		}

		if _, err := tx.Exec(m.SQL); err != nil {
			tx.Rollback()
			return fmt.Errorf("migration %d (%s): %w", m.Version, m.Description, err)
		}

		if _, err := tx.Exec(
			"INSERT INTO schema_versions (version, description) VALUES (?, ?)",
			m.Version, m.Description,
		); err != nil {
			tx.Rollback()
			return fmt.Errorf("record migration %d: %w", m.Version, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration %d: %w", m.Version, err)
		}
	}

	return nil
}

// SchemaVersion returns the current schema version.
func (db *DB) SchemaVersion() (int, error) {
	var version int
	err := db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_versions").Scan(&version)
	return version, err
}
