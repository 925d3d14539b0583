package store

import (
	"math"
	"testing"
)

func TestVectorRoundTrip(t *testing.T) {
	db := testDB(t)
	id := insertTestMemory(t, db, "embedded memory", 5)

	vec := []float64{0.1, -0.5, 0.25, 1.0}
	if err := db.SaveVector(id, vec, "test-model"); err != nil {
		t.Fatalf("SaveVector: %v", err)
	}

	got, err := db.GetVector(id)
	if err != nil {
		t.Fatalf("GetVector: %v", err)
	}
	if got == nil {
		t.Fatal("vector not found")
	}
	if got.Model != "test-model" || got.Dimensions != 4 {
		t.Errorf("model=%q dims=%d", got.Model, got.Dimensions)
	}
	for i := range vec {
		if math.Abs(got.Embedding[i]-vec[i]) > 1e-12 {
			t.Errorf("embedding[%d] = %v, want %v", i, got.Embedding[i], vec[i])
		}
	}
}

func TestSaveVectorReplaces(t *testing.T) {
	db := testDB(t)
	id := insertTestMemory(t, db, "re-embedded memory", 5)

	db.SaveVector(id, []float64{1, 2}, "model-a")
	if err := db.SaveVector(id, []float64{3, 4, 5}, "model-b"); err != nil {
		t.Fatalf("second SaveVector: %v", err)
	}

	got, _ := db.GetVector(id)
	if got.Model != "model-b" || got.Dimensions != 3 {
		t.Errorf("replace failed: model=%q dims=%d", got.Model, got.Dimensions)
	}
}

func TestVectorMissing(t *testing.T) {
	db := testDB(t)
	got, err := db.GetVector("no-such-memory")
	if err != nil {
		t.Fatalf("GetVector: %v", err)
	}
	if got != nil {
		t.Error("expected nil for missing vector")
	}
}

func TestVectorCascadeOnPurge(t *testing.T) {
	db := testDB(t)
	id := insertTestMemory(t, db, "purged with vector", 2)
	db.SaveVector(id, []float64{0.5, 0.5}, "test-model")

	db.Exec("UPDATE memories SET state = 'archived', archived_at = 1000, user_score_adjustment = -3 WHERE id = ?", id)
	if _, err := db.PurgeArchived(testNow); err != nil {
		t.Fatalf("PurgeArchived: %v", err)
	}

	got, _ := db.GetVector(id)
	if got != nil {
		t.Error("vector survived permanent delete")
	}
}

func TestAllVectors(t *testing.T) {
	db := testDB(t)
	a := insertTestMemory(t, db, "vec a", 5)
	b := insertTestMemory(t, db, "vec b", 5)
	db.SaveVector(a, []float64{1, 0}, "test-model")
	db.SaveVector(b, []float64{0, 1}, "test-model")

	vecs, err := db.AllVectors()
	if err != nil {
		t.Fatalf("AllVectors: %v", err)
	}
	if len(vecs) != 2 {
		t.Errorf("got %d vectors, want 2", len(vecs))
	}
}
