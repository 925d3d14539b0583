package store

import (
	"testing"
)

func TestOpenMemory(t *testing.T) {
	db, err := OpenMemory()
	if err != nil {
		t.Fatalf("OpenMemory: %v", err)
	}
	defer db.Close()

	if db.Path != ":memory:" {
		t.Errorf("Path = %q, want :memory:", db.Path)
	}
}

func TestSchemaVersion(t *testing.T) {
	db, err := OpenMemory()
	if err != nil {
		t.Fatalf("OpenMemory: %v", err)
	}
	defer db.Close()

	v, err := db.SchemaVersion()
	if err != nil {
		t.Fatalf("SchemaVersion: %v", err)
	}
	if v != 2 {
		t.Errorf("SchemaVersion = %d, want 2", v)
	}
}

func TestTablesExist(t *testing.T) {
	db, err := OpenMemory()
	if err != nil {
		t.Fatalf("OpenMemory: %v", err)
	}
	defer db.Close()

	tables := []string{"schema_versions", "memories", "memory_vectors"}
	for _, table := range tables {
		var name string
		err := db.QueryRow(
			"SELECT name FROM sqlite_master WHERE type='table' AND name=?", table,
		).Scan(&name)
		if err != nil {
			t.Errorf("table %q not found: %v", table, err)
		}
	}
}

func TestMemoriesConstraints(t *testing.T) {
	db, err := OpenMemory()
	if err != nil {
		t.Fatalf("OpenMemory: %v", err)
	}
	defer db.Close()

	// Valid insert
	_, err = db.Exec(`
		INSERT INTO memories (id, content, memory_type, base_importance_score, final_importance_score, score_source, created_at)
		VALUES ('m1', 'test content', 'factual', 5.0, 5.0, 'rule', 1000)
	`)
	if err != nil {
		t.Fatalf("valid insert failed: %v", err)
	}

	// Invalid memory_type
	_, err = db.Exec(`
		INSERT INTO memories (id, content, memory_type, base_importance_score, final_importance_score, score_source, created_at)
		VALUES ('m2', 'other content', 'invalid', 5.0, 5.0, 'rule', 1000)
	`)
	if err == nil {
		t.Error("expected error for invalid memory_type, got nil")
	}

	// Invalid score_source
	_, err = db.Exec(`
		INSERT INTO memories (id, content, memory_type, base_importance_score, final_importance_score, score_source, created_at)
		VALUES ('m3', 'more content', 'factual', 5.0, 5.0, 'oracle', 1000)
	`)
	if err == nil {
		t.Error("expected error for invalid score_source, got nil")
	}

	// Invalid lifecycle state
	_, err = db.Exec(`
		INSERT INTO memories (id, content, memory_type, base_importance_score, final_importance_score, score_source, created_at, state)
		VALUES ('m4', 'yet more', 'factual', 5.0, 5.0, 'rule', 1000, 'limbo')
	`)
	if err == nil {
		t.Error("expected error for invalid state, got nil")
	}

	// Adjustment outside [-3,3]
	_, err = db.Exec(`
		INSERT INTO memories (id, content, memory_type, base_importance_score, final_importance_score, score_source, created_at, user_score_adjustment)
		VALUES ('m5', 'and more', 'factual', 5.0, 5.0, 'rule', 1000, 4)
	`)
	if err == nil {
		t.Error("expected error for out-of-range adjustment, got nil")
	}
}

func TestActiveContentUnique(t *testing.T) {
	db, err := OpenMemory()
	if err != nil {
		t.Fatalf("OpenMemory: %v", err)
	}
	defer db.Close()

	_, err = db.Exec(`
		INSERT INTO memories (id, content, memory_type, base_importance_score, final_importance_score, score_source, created_at)
		VALUES ('m1', 'dup content', 'factual', 5.0, 5.0, 'rule', 1000)
	`)
	if err != nil {
		t.Fatalf("first insert: %v", err)
	}

	// A second active row with identical content must violate the
	// partial unique index.
	_, err = db.Exec(`
		INSERT INTO memories (id, content, memory_type, base_importance_score, final_importance_score, score_source, created_at)
		VALUES ('m2', 'dup content', 'factual', 5.0, 5.0, 'rule', 1000)
	`)
	if err == nil {
		t.Error("expected unique violation for duplicate active content")
	}

	// But an archived row with the same content is fine.
	_, err = db.Exec(`
		INSERT INTO memories (id, content, memory_type, base_importance_score, final_importance_score, score_source, created_at, state, archived_at)
		VALUES ('m3', 'dup content', 'factual', 5.0, 5.0, 'rule', 1000, 'archived', 2000)
	`)
	if err != nil {
		t.Errorf("archived duplicate should be allowed: %v", err)
	}
}

func TestMigrationsIdempotent(t *testing.T) {
	db, err := OpenMemory()
	if err != nil {
		t.Fatalf("OpenMemory: %v", err)
	}
	defer db.Close()

	// Running migrate again should be a no-op
	if err := db.migrate(); err != nil {
		t.Fatalf("second migrate: %v", err)
	}

	v, err := db.SchemaVersion()
	if err != nil {
		t.Fatalf("SchemaVersion: %v", err)
	}
	if v != 2 {
		t.Errorf("SchemaVersion after re-migrate = %d, want 2", v)
	}
}

func TestWALMode(t *testing.T) {
	db, err := OpenMemory()
	if err != nil {
		t.Fatalf("OpenMemory: %v", err)
	}
	defer db.Close()

	var mode string
	err = db.QueryRow("PRAGMA journal_mode").Scan(&mode)
	if err != nil {
		t.Fatalf("PRAGMA journal_mode: %v", err)
	}
	// In-memory databases may use "memory" mode instead of WAL
	if mode != "wal" && mode != "memory" {
		t.Errorf("journal_mode = %q, want wal or memory", mode)
	}
}

func TestForeignKeysEnabled(t *testing.T) {
	db, err := OpenMemory()
	if err != nil {
		t.Fatalf("OpenMemory: %v", err)
	}
	defer db.Close()

	var fk int
	err = db.QueryRow("PRAGMA foreign_keys").Scan(&fk)
	if err != nil {
		t.Fatalf("PRAGMA foreign_keys: %v", err)
	}
	if fk != 1 {
		t.Errorf("foreign_keys = %d, want 1", fk)
	}
}
