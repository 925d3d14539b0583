package store

import (
	"testing"
	"time"
)

func testDB(t *testing.T) *DB {
	t.Helper()
	db, err := OpenMemory()
	if err != nil {
		t.Fatalf("OpenMemory: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

var testNow = time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)

func insertTestMemory(t *testing.T, db *DB, content string, score float64) string {
	t.Helper()
	id, deduped, err := db.Insert(Candidate{
		Content:    content,
		MemoryType: "preference",
		Score:      score,
		Source:     SourceRule,
	}, testNow)
	if err != nil {
		t.Fatalf("Insert: %v", err)
	}
	if deduped {
		t.Fatalf("unexpected dedup for fresh content %q", content)
	}
	return id
}

func TestInsertAndGet(t *testing.T) {
	db := testDB(t)

	id, deduped, err := db.Insert(Candidate{
		Content:     "I prefer tea over coffee",
		MemoryType:  "preference",
		KeyEntities: []string{"tea", "coffee"},
		Score:       4.0,
		Source:      SourceRule,
		SourceType:  "conversation",
		SourceID:    "conv-1",
	}, testNow)
	if err != nil {
		t.Fatalf("Insert: %v", err)
	}
	if deduped {
		t.Error("fresh insert reported as dedup")
	}

	m, err := db.GetByID(id)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if m == nil {
		t.Fatal("memory not found after insert")
	}
	if m.Content != "I prefer tea over coffee" {
		t.Errorf("content = %q", m.Content)
	}
	if m.BaseScore != 4.0 || m.FinalScore != 4.0 {
		t.Errorf("scores = %v/%v, want 4.0/4.0", m.BaseScore, m.FinalScore)
	}
	if m.ScoreSource != SourceRule {
		t.Errorf("score source = %q, want rule", m.ScoreSource)
	}
	if m.State != StateActive {
		t.Errorf("state = %q, want active", m.State)
	}
	if m.AccessCount != 0 {
		t.Errorf("access count = %d, want 0", m.AccessCount)
	}
	if len(m.KeyEntities) != 2 {
		t.Errorf("entities = %v", m.KeyEntities)
	}
	if m.SourceType != "conversation" || m.SourceID != "conv-1" {
		t.Errorf("source = %q/%q", m.SourceType, m.SourceID)
	}
}

func TestInsertDedupIdempotence(t *testing.T) {
	db := testDB(t)

	first := insertTestMemory(t, db, "I prefer tea over coffee", 4.0)

	id, deduped, err := db.Insert(Candidate{
		Content:    "I prefer tea over coffee",
		MemoryType: "preference",
		Score:      9.0, // must not overwrite the stored score
		Source:     SourceRule,
	}, testNow.Add(time.Hour))
	if err != nil {
		t.Fatalf("duplicate Insert: %v", err)
	}
	if !deduped {
		t.Error("duplicate insert not reported as dedup")
	}
	if id != first {
		t.Errorf("dedup returned id %s, want %s", id, first)
	}

	m, _ := db.GetByID(first)
	if m.AccessCount != 1 {
		t.Errorf("access count = %d, want 1", m.AccessCount)
	}
	if m.LastAccessedAt == nil {
		t.Fatal("last_accessed_at not set by dedup bump")
	}
	if m.FinalScore != 4.0 || m.BaseScore != 4.0 {
		t.Errorf("dedup changed score: %v/%v", m.BaseScore, m.FinalScore)
	}

	var count int
	db.QueryRow("SELECT COUNT(*) FROM memories").Scan(&count)
	if count != 1 {
		t.Errorf("row count = %d, want 1", count)
	}
}

func TestInsertValidation(t *testing.T) {
	db := testDB(t)

	_, _, err := db.Insert(Candidate{Content: "x", MemoryType: "bogus", Score: 5, Source: SourceRule}, testNow)
	if err == nil {
		t.Error("expected error for invalid memory type")
	}

	_, _, err = db.Insert(Candidate{Content: "x", MemoryType: "factual", Score: 5, Source: ScoreSource("oracle")}, testNow)
	if err == nil {
		t.Error("expected error for invalid score source")
	}
}

func TestGetByIDMissing(t *testing.T) {
	db := testDB(t)
	m, err := db.GetByID("01JXXXXXXXXXXXXXXXXXXXXXXX")
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if m != nil {
		t.Error("expected nil for missing memory")
	}
}

func TestTouch(t *testing.T) {
	db := testDB(t)
	a := insertTestMemory(t, db, "memory a", 5)
	b := insertTestMemory(t, db, "memory b", 5)

	if err := db.Touch([]string{a, b}, testNow.Add(time.Minute)); err != nil {
		t.Fatalf("Touch: %v", err)
	}

	for _, id := range []string{a, b} {
		m, _ := db.GetByID(id)
		if m.AccessCount != 1 {
			t.Errorf("access count for %s = %d, want 1", id, m.AccessCount)
		}
		if m.LastAccessedAt == nil {
			t.Errorf("last_accessed_at for %s not set", id)
		}
	}
}

func TestUnprocessedOrderAndFilters(t *testing.T) {
	db := testDB(t)
	older := insertTestMemory(t, db, "older memory", 5)
	newer := insertTestMemory(t, db, "newer memory", 5)
	rated := insertTestMemory(t, db, "rated memory", 5)

	// Backdate the first so creation order is deterministic.
	db.Exec("UPDATE memories SET created_at = created_at - 10000 WHERE id = ?", older)
	if _, err := db.ApplyRating(rated, 1, 6.0, testNow); err != nil {
		t.Fatalf("ApplyRating: %v", err)
	}

	got, err := db.Unprocessed(10)
	if err != nil {
		t.Fatalf("Unprocessed: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("got %d unprocessed, want 2 (rated excluded)", len(got))
	}
	if got[0].ID != older || got[1].ID != newer {
		t.Errorf("order = %s, %s; want oldest first", got[0].ID, got[1].ID)
	}
}

func TestApplyRating(t *testing.T) {
	db := testDB(t)
	id := insertTestMemory(t, db, "rate me", 4.0)

	ok, err := db.ApplyRating(id, -3, 1.0, testNow)
	if err != nil {
		t.Fatalf("ApplyRating: %v", err)
	}
	if !ok {
		t.Fatal("ApplyRating reported no rows")
	}

	m, _ := db.GetByID(id)
	if m.UserAdjustment != -3 {
		t.Errorf("adjustment = %d, want -3", m.UserAdjustment)
	}
	if m.FinalScore != 1.0 {
		t.Errorf("final = %v, want 1.0", m.FinalScore)
	}
	if !m.UserRated || m.UserRatedAt == nil {
		t.Error("user_rated flags not set")
	}
	if m.ScoreSource != SourceUserModified {
		t.Errorf("score source = %q, want user_modified", m.ScoreSource)
	}
}

func TestApplyLLMScoreGuardedByUserRated(t *testing.T) {
	db := testDB(t)
	id := insertTestMemory(t, db, "score me", 4.0)

	ok, err := db.ApplyLLMScore(id, 7.0, 7.0, testNow)
	if err != nil {
		t.Fatalf("ApplyLLMScore: %v", err)
	}
	if !ok {
		t.Fatal("first ApplyLLMScore should succeed")
	}

	m, _ := db.GetByID(id)
	if m.LLMScore == nil || *m.LLMScore != 7.0 {
		t.Errorf("llm score = %v, want 7.0", m.LLMScore)
	}
	if !m.LLMProcessed || m.LLMProcessedAt == nil {
		t.Error("llm_processed flags not set")
	}
	if m.ScoreSource != SourceLLM {
		t.Errorf("score source = %q, want llm", m.ScoreSource)
	}

	// Once the user has rated, the conditional write must lose.
	if _, err := db.ApplyRating(id, 2, 9.0, testNow); err != nil {
		t.Fatalf("ApplyRating: %v", err)
	}
	ok, err = db.ApplyLLMScore(id, 3.0, 3.0, testNow)
	if err != nil {
		t.Fatalf("ApplyLLMScore after rating: %v", err)
	}
	if ok {
		t.Error("ApplyLLMScore overwrote a user-rated memory")
	}
	m, _ = db.GetByID(id)
	if m.FinalScore != 9.0 || m.ScoreSource != SourceUserModified {
		t.Errorf("user rating clobbered: final=%v source=%q", m.FinalScore, m.ScoreSource)
	}
}

func TestLifecycleTransitions(t *testing.T) {
	db := testDB(t)
	id := insertTestMemory(t, db, "doomed memory", 2.0)

	ok, err := db.MarkForDeletion(id, "low importance and inactive", testNow)
	if err != nil {
		t.Fatalf("MarkForDeletion: %v", err)
	}
	if !ok {
		t.Fatal("mark reported no rows")
	}

	// Marking again is a no-op: the state guard fails.
	ok, _ = db.MarkForDeletion(id, "again", testNow)
	if ok {
		t.Error("second mark should not match")
	}

	m, _ := db.GetByID(id)
	if m.State != StateMarked || m.MarkedForDeletionAt == nil || m.DeletionReason == "" {
		t.Errorf("marked memory: state=%q markedAt=%v reason=%q", m.State, m.MarkedForDeletionAt, m.DeletionReason)
	}

	// Archive after the cooling-off window.
	later := testNow.AddDate(0, 0, 15)
	n, err := db.ArchiveMarked(later.AddDate(0, 0, -14), later)
	if err != nil {
		t.Fatalf("ArchiveMarked: %v", err)
	}
	if n != 1 {
		t.Fatalf("archived %d, want 1", n)
	}
	m, _ = db.GetByID(id)
	if m.State != StateArchived || m.ArchivedAt == nil {
		t.Errorf("archive not applied: state=%q", m.State)
	}

	// Purge requires the minimum adjustment; set it directly since
	// ApplyRating only touches active rows.
	db.Exec("UPDATE memories SET user_score_adjustment = -3, user_rated = 1 WHERE id = ?", id)

	final := later.AddDate(0, 0, 31)
	n, err = db.PurgeArchived(final.AddDate(0, 0, -30))
	if err != nil {
		t.Fatalf("PurgeArchived: %v", err)
	}
	if n != 1 {
		t.Fatalf("purged %d, want 1", n)
	}
	m, _ = db.GetByID(id)
	if m != nil {
		t.Error("memory still present after permanent delete")
	}
}

func TestRescueResetsAdjustment(t *testing.T) {
	db := testDB(t)
	id := insertTestMemory(t, db, "save me", 6.0)

	db.ApplyRating(id, -3, 3.0, testNow)
	db.MarkForDeletion(id, "low importance and inactive", testNow)

	ok, err := db.Rescue(id, testNow.Add(time.Hour))
	if err != nil {
		t.Fatalf("Rescue: %v", err)
	}
	if !ok {
		t.Fatal("rescue reported no rows")
	}

	m, _ := db.GetByID(id)
	if m.State != StateActive {
		t.Errorf("state = %q, want active", m.State)
	}
	if m.UserAdjustment != 0 {
		t.Errorf("adjustment = %d, want 0", m.UserAdjustment)
	}
	if m.MarkedForDeletionAt != nil || m.DeletionReason != "" {
		t.Error("deletion flags not cleared")
	}
	if m.FinalScore != 6.0 {
		t.Errorf("final = %v, want base 6.0 restored", m.FinalScore)
	}

	// Rescuing an active memory is a no-op.
	ok, _ = db.Rescue(id, testNow)
	if ok {
		t.Error("rescue of active memory should not match")
	}
}

func TestRescueFromArchived(t *testing.T) {
	db := testDB(t)
	id := insertTestMemory(t, db, "archived but wanted", 5.0)
	db.ApplyRating(id, -3, 2.0, testNow)
	db.MarkForDeletion(id, "low importance and inactive", testNow)
	db.ArchiveMarked(testNow, testNow.AddDate(0, 0, 15))

	ok, err := db.Rescue(id, testNow.AddDate(0, 0, 16))
	if err != nil {
		t.Fatalf("Rescue: %v", err)
	}
	if !ok {
		t.Fatal("rescue from archived failed")
	}
	m, _ := db.GetByID(id)
	if m.State != StateActive || m.ArchivedAt != nil {
		t.Errorf("archived flags not cleared: state=%q", m.State)
	}
}

func TestMemoryStats(t *testing.T) {
	db := testDB(t)

	db.Insert(Candidate{Content: "fact one", MemoryType: "factual", Score: 5, Source: SourceRule}, testNow)
	db.Insert(Candidate{Content: "pref one", MemoryType: "preference", Score: 4, Source: SourceRule}, testNow)
	id, _, _ := db.Insert(Candidate{Content: "pref two", MemoryType: "preference", Score: 4, Source: SourceRule}, testNow)
	db.ApplyRating(id, 1, 5.0, testNow)
	db.Touch([]string{id}, testNow)

	st, err := db.MemoryStats()
	if err != nil {
		t.Fatalf("MemoryStats: %v", err)
	}
	if st.Total != 3 {
		t.Errorf("total = %d, want 3", st.Total)
	}
	if st.ByType["preference"] != 2 || st.ByType["factual"] != 1 {
		t.Errorf("by type = %v", st.ByType)
	}
	if st.ByScoreSource["rule"] != 2 || st.ByScoreSource["user_modified"] != 1 {
		t.Errorf("by source = %v", st.ByScoreSource)
	}
	if st.UnratedCount != 2 {
		t.Errorf("unrated = %d, want 2", st.UnratedCount)
	}
	if len(st.MostAccessed) == 0 || st.MostAccessed[0].Content != "pref two" {
		t.Errorf("most accessed = %v", st.MostAccessed)
	}
}
