package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
)

// ScoreSource tags the provenance of a memory's current score.
// The set is closed; every write site matches exhaustively.
type ScoreSource string

const (
	SourceRule         ScoreSource = "rule"
	SourceLLM          ScoreSource = "llm"
	SourceUserModified ScoreSource = "user_modified"
)

// Valid reports whether s is one of the three known sources.
func (s ScoreSource) Valid() bool {
	switch s {
	case SourceRule, SourceLLM, SourceUserModified:
		return true
	}
	return false
}

// State is a memory's lifecycle state. Permanently deleted memories
// have no state; their row is gone.
type State string

const (
	StateActive   State = "active"
	StateMarked   State = "marked_for_deletion"
	StateArchived State = "archived"
)

// validTypes defines the allowed memory types.
var validTypes = map[string]bool{
	"factual": true, "preference": true, "behavioral": true,
	"relational": true, "contextual": true,
}

// ValidMemoryType reports whether t is an allowed memory type.
func ValidMemoryType(t string) bool {
	return validTypes[t]
}

// Memory is a stored memory record. Timestamps are UnixMilli.
type Memory struct {
	ID          string   `json:"id"`
	Content     string   `json:"content"`
	MemoryType  string   `json:"memory_type"`
	KeyEntities []string `json:"key_entities,omitempty"`

	BaseScore      float64     `json:"base_importance_score"`
	LLMScore       *float64    `json:"llm_importance_score,omitempty"`
	UserAdjustment int         `json:"user_score_adjustment"`
	FinalScore     float64     `json:"final_importance_score"`
	ScoreSource    ScoreSource `json:"score_source"`

	UserRated      bool   `json:"user_rated"`
	UserRatedAt    *int64 `json:"user_rated_at,omitempty"`
	LLMProcessed   bool   `json:"llm_processed"`
	LLMProcessedAt *int64 `json:"llm_processed_at,omitempty"`

	CreatedAt      int64  `json:"created_at"`
	LastAccessedAt *int64 `json:"last_accessed_at,omitempty"`
	AccessCount    int    `json:"access_count"`

	SourceType string `json:"source_type,omitempty"`
	SourceID   string `json:"source_id,omitempty"`

	State               State  `json:"state"`
	MarkedForDeletionAt *int64 `json:"marked_for_deletion_at,omitempty"`
	DeletionReason      string `json:"deletion_reason,omitempty"`
	ArchivedAt          *int64 `json:"archived_at,omitempty"`
}

// LastActivity returns the more recent of creation and last access.
func (m *Memory) LastActivity() int64 {
	if m.LastAccessedAt != nil && *m.LastAccessedAt > m.CreatedAt {
		return *m.LastAccessedAt
	}
	return m.CreatedAt
}

// Candidate is the input to Insert: an extracted memory with its
// initial score and provenance.
type Candidate struct {
	Content     string
	MemoryType  string
	KeyEntities []string
	Score       float64
	Source      ScoreSource
	SourceType  string // "conversation", "entry", or ""
	SourceID    string
}

const memoryColumns = `id, content, memory_type, key_entities,
	base_importance_score, llm_importance_score, user_score_adjustment, final_importance_score, score_source,
	user_rated, user_rated_at, llm_processed, llm_processed_at,
	created_at, last_accessed_at, access_count,
	source_type, source_id,
	state, marked_for_deletion_at, deletion_reason, archived_at`

// Insert stores a candidate as a new active memory, or bumps the
// access count of an existing active memory with identical content.
// The dedup check and the insert run in one transaction; the partial
// unique index on active content backstops a lost race, which is then
// resolved as an access bump rather than an error.
func (db *DB) Insert(c Candidate, now time.Time) (string, bool, error) {
	if !ValidMemoryType(c.MemoryType) {
		return "", false, fmt.Errorf("invalid memory type %q", c.MemoryType)
	}
	if !c.Source.Valid() {
		return "", false, fmt.Errorf("invalid score source %q", c.Source)
	}

	nowMs := now.UnixMilli()

	tx, err := db.Begin()
	if err != nil {
		return "", false, fmt.Errorf("begin insert: %w", err)
	}
	defer tx.Rollback()

	var existingID string
	err = tx.QueryRow(
		"SELECT id FROM memories WHERE content = ? AND state = 'active'",
		c.Content,
	).Scan(&existingID)
	if err != nil && err != sql.ErrNoRows {
		return "", false, fmt.Errorf("dedup check: %w", err)
	}
	if err == nil {
		if _, err := tx.Exec(
			"UPDATE memories SET access_count = access_count + 1, last_accessed_at = ? WHERE id = ?",
			nowMs, existingID,
		); err != nil {
			return "", false, fmt.Errorf("bump duplicate: %w", err)
		}
		if err := tx.Commit(); err != nil {
			return "", false, fmt.Errorf("commit bump: %w", err)
		}
		return existingID, true, nil
	}

	id := ulid.Make().String()
	entities, err := json.Marshal(c.KeyEntities)
	if err != nil {
		return "", false, fmt.Errorf("marshal entities: %w", err)
	}

	_, err = tx.Exec(`
		INSERT INTO memories (id, content, memory_type, key_entities,
			base_importance_score, final_importance_score, score_source,
			created_at, access_count, source_type, source_id, state)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, 0, NULLIF(?, ''), NULLIF(?, ''), 'active')
	`, id, c.Content, c.MemoryType, string(entities),
		c.Score, c.Score, string(c.Source),
		nowMs, c.SourceType, c.SourceID)
	if err != nil {
		tx.Rollback()
		// Duplicate-content race: another writer won. Treat the loss
		// as an access bump on the winner.
		if strings.Contains(err.Error(), "UNIQUE") {
			return db.bumpByContent(c.Content, nowMs)
		}
		return "", false, fmt.Errorf("insert memory: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return "", false, fmt.Errorf("commit insert: %w", err)
	}
	return id, false, nil
}

func (db *DB) bumpByContent(content string, nowMs int64) (string, bool, error) {
	var id string
	err := db.QueryRow(
		"SELECT id FROM memories WHERE content = ? AND state = 'active'", content,
	).Scan(&id)
	if err != nil {
		return "", false, fmt.Errorf("resolve duplicate: %w", err)
	}
	if _, err := db.Exec(
		"UPDATE memories SET access_count = access_count + 1, last_accessed_at = ? WHERE id = ?",
		nowMs, id,
	); err != nil {
		return "", false, fmt.Errorf("bump duplicate: %w", err)
	}
	return id, true, nil
}

// GetByID returns a memory in any lifecycle state, or nil if the row
// is gone (never stored or permanently deleted).
func (db *DB) GetByID(id string) (*Memory, error) {
	row := db.QueryRow("SELECT "+memoryColumns+" FROM memories WHERE id = ?", id)
	m, err := scanMemory(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get memory %s: %w", id, err)
	}
	return m, nil
}

// Touch records a retrieval hit on each given memory.
func (db *DB) Touch(ids []string, now time.Time) error {
	if len(ids) == 0 {
		return nil
	}
	placeholders := make([]string, len(ids))
	args := make([]any, 0, len(ids)+1)
	args = append(args, now.UnixMilli())
	for i, id := range ids {
		placeholders[i] = "?"
		args = append(args, id)
	}
	_, err := db.Exec(fmt.Sprintf(
		"UPDATE memories SET access_count = access_count + 1, last_accessed_at = ? WHERE id IN (%s)",
		strings.Join(placeholders, ",")), args...)
	if err != nil {
		return fmt.Errorf("touch memories: %w", err)
	}
	return nil
}

// Active returns active memories ordered by final score, then access
// count. A non-positive limit returns all active memories.
func (db *DB) Active(limit int) ([]Memory, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := db.Query("SELECT "+memoryColumns+` FROM memories
		WHERE state = 'active'
		ORDER BY final_importance_score DESC, access_count DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list active: %w", err)
	}
	defer rows.Close()
	return scanMemories(rows)
}

// GetByIDs returns memories for the given ids, in no particular order.
func (db *DB) GetByIDs(ids []string) ([]Memory, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	placeholders := make([]string, len(ids))
	args := make([]any, len(ids))
	for i, id := range ids {
		placeholders[i] = "?"
		args[i] = id
	}
	rows, err := db.Query(fmt.Sprintf(
		"SELECT %s FROM memories WHERE id IN (%s)",
		memoryColumns, strings.Join(placeholders, ",")), args...)
	if err != nil {
		return nil, fmt.Errorf("get memories by ids: %w", err)
	}
	defer rows.Close()
	return scanMemories(rows)
}

// Unrated returns active memories the user has not rated yet, highest
// current score first.
func (db *DB) Unrated(limit int) ([]Memory, error) {
	rows, err := db.Query("SELECT "+memoryColumns+` FROM memories
		WHERE state = 'active' AND user_rated = 0
		ORDER BY final_importance_score DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list unrated: %w", err)
	}
	defer rows.Close()
	return scanMemories(rows)
}

// Unprocessed returns active memories awaiting their first LLM scoring
// pass, oldest-created first.
func (db *DB) Unprocessed(limit int) ([]Memory, error) {
	rows, err := db.Query("SELECT "+memoryColumns+` FROM memories
		WHERE state = 'active' AND llm_processed = 0 AND user_rated = 0
		ORDER BY created_at ASC
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list unprocessed: %w", err)
	}
	defer rows.Close()
	return scanMemories(rows)
}

// ApplyRating applies a user adjustment. The only write path that sets
// score_source to user_modified.
func (db *DB) ApplyRating(id string, adjustment int, final float64, now time.Time) (bool, error) {
	res, err := db.Exec(`
		UPDATE memories SET user_score_adjustment = ?, final_importance_score = ?,
			score_source = 'user_modified', user_rated = 1, user_rated_at = ?
		WHERE id = ? AND state = 'active'
	`, adjustment, final, now.UnixMilli(), id)
	if err != nil {
		return false, fmt.Errorf("apply rating: %w", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// ApplyLLMScore records an LLM importance judgment. The user_rated
// guard is re-checked here, at write time, so a rating that landed
// after the batch selected this memory is never clobbered.
func (db *DB) ApplyLLMScore(id string, score, final float64, now time.Time) (bool, error) {
	res, err := db.Exec(`
		UPDATE memories SET llm_importance_score = ?, final_importance_score = ?,
			score_source = 'llm', llm_processed = 1, llm_processed_at = ?
		WHERE id = ? AND state = 'active' AND user_rated = 0
	`, score, final, now.UnixMilli(), id)
	if err != nil {
		return false, fmt.Errorf("apply llm score: %w", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// PruneCandidates returns active memories matching the coarse mark
// pre-filter: user-rated at the minimum adjustment, rarely accessed,
// created before createdBefore and inactive since activityBefore.
// The authoritative composite-score gate is applied by the caller.
func (db *DB) PruneCandidates(createdBefore, activityBefore time.Time) ([]Memory, error) {
	rows, err := db.Query("SELECT "+memoryColumns+` FROM memories
		WHERE state = 'active'
			AND user_rated = 1
			AND user_score_adjustment = -3
			AND access_count < 3
			AND created_at <= ?
			AND MAX(COALESCE(last_accessed_at, created_at), created_at) <= ?
	`, createdBefore.UnixMilli(), activityBefore.UnixMilli())
	if err != nil {
		return nil, fmt.Errorf("prune candidates: %w", err)
	}
	defer rows.Close()
	return scanMemories(rows)
}

// MarkForDeletion flags a single active memory. The transition is one
// statement: it either fully applies or leaves the row untouched.
func (db *DB) MarkForDeletion(id, reason string, now time.Time) (bool, error) {
	res, err := db.Exec(`
		UPDATE memories SET state = 'marked_for_deletion', marked_for_deletion_at = ?, deletion_reason = ?
		WHERE id = ? AND state = 'active'
	`, now.UnixMilli(), reason, id)
	if err != nil {
		return false, fmt.Errorf("mark for deletion: %w", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// ArchiveMarked archives memories that have been marked for deletion
// since markedBefore or earlier. Idempotent.
func (db *DB) ArchiveMarked(markedBefore, now time.Time) (int, error) {
	res, err := db.Exec(`
		UPDATE memories SET state = 'archived', archived_at = ?
		WHERE state = 'marked_for_deletion' AND marked_for_deletion_at <= ?
	`, now.UnixMilli(), markedBefore.UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("archive marked: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// PurgeArchived permanently deletes memories archived since
// archivedBefore or earlier that are still at the minimum user
// adjustment. The only irreversible transition.
func (db *DB) PurgeArchived(archivedBefore time.Time) (int, error) {
	res, err := db.Exec(`
		DELETE FROM memories
		WHERE state = 'archived' AND user_score_adjustment = -3 AND archived_at <= ?
	`, archivedBefore.UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("purge archived: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// Rescue returns a marked or archived memory to active, clearing the
// deletion flags, resetting the user adjustment to zero, and restoring
// the final score to the authoritative base. One statement, so the
// transition is all-or-nothing. Returns false for active memories and
// for rows that no longer exist.
func (db *DB) Rescue(id string, now time.Time) (bool, error) {
	res, err := db.Exec(`
		UPDATE memories SET state = 'active',
			marked_for_deletion_at = NULL, deletion_reason = NULL, archived_at = NULL,
			user_score_adjustment = 0,
			final_importance_score = MIN(10.0, MAX(1.0, COALESCE(llm_importance_score, base_importance_score))),
			user_rated_at = ?
		WHERE id = ? AND state IN ('marked_for_deletion', 'archived')
	`, now.UnixMilli(), id)
	if err != nil {
		return false, fmt.Errorf("rescue: %w", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// MostAccessed is one entry of the stats most-accessed list.
type MostAccessed struct {
	Content     string `json:"content"`
	AccessCount int    `json:"access_count"`
}

// Stats summarizes the active memory population.
type Stats struct {
	Total         int            `json:"total"`
	ByType        map[string]int `json:"by_type"`
	ByScoreSource map[string]int `json:"by_score_source"`
	UnratedCount  int            `json:"unrated_count"`
	MostAccessed  []MostAccessed `json:"most_accessed"`
}

// MemoryStats returns counts over active memories.
func (db *DB) MemoryStats() (*Stats, error) {
	st := &Stats{
		ByType:        make(map[string]int),
		ByScoreSource: make(map[string]int),
	}

	if err := db.QueryRow("SELECT COUNT(*) FROM memories WHERE state = 'active'").Scan(&st.Total); err != nil {
		return nil, fmt.Errorf("count total: %w", err)
	}
	if err := db.QueryRow("SELECT COUNT(*) FROM memories WHERE state = 'active' AND user_rated = 0").Scan(&st.UnratedCount); err != nil {
		return nil, fmt.Errorf("count unrated: %w", err)
	}

	rows, err := db.Query("SELECT memory_type, COUNT(*) FROM memories WHERE state = 'active' GROUP BY memory_type")
	if err != nil {
		return nil, fmt.Errorf("count by type: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var t string
		var n int
		if err := rows.Scan(&t, &n); err != nil {
			return nil, fmt.Errorf("scan type count: %w", err)
		}
		st.ByType[t] = n
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	srcRows, err := db.Query("SELECT score_source, COUNT(*) FROM memories WHERE state = 'active' GROUP BY score_source")
	if err != nil {
		return nil, fmt.Errorf("count by source: %w", err)
	}
	defer srcRows.Close()
	for srcRows.Next() {
		var s string
		var n int
		if err := srcRows.Scan(&s, &n); err != nil {
			return nil, fmt.Errorf("scan source count: %w", err)
		}
		st.ByScoreSource[s] = n
	}
	if err := srcRows.Err(); err != nil {
		return nil, err
	}

	accRows, err := db.Query(`
		SELECT content, access_count FROM memories
		WHERE state = 'active' ORDER BY access_count DESC LIMIT 5`)
	if err != nil {
		return nil, fmt.Errorf("most accessed: %w", err)
	}
	defer accRows.Close()
	for accRows.Next() {
		var ma MostAccessed
		if err := accRows.Scan(&ma.Content, &ma.AccessCount); err != nil {
			return nil, fmt.Errorf("scan most accessed: %w", err)
		}
		st.MostAccessed = append(st.MostAccessed, ma)
	}
	return st, accRows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMemory(row rowScanner) (*Memory, error) {
	var m Memory
	var entities sql.NullString
	var llmScore sql.NullFloat64
	var userRated, llmProcessed int
	var userRatedAt, llmProcessedAt, lastAccessedAt, markedAt, archivedAt sql.NullInt64
	var sourceType, sourceID, deletionReason sql.NullString
	var scoreSource, state string

	err := row.Scan(&m.ID, &m.Content, &m.MemoryType, &entities,
		&m.BaseScore, &llmScore, &m.UserAdjustment, &m.FinalScore, &scoreSource,
		&userRated, &userRatedAt, &llmProcessed, &llmProcessedAt,
		&m.CreatedAt, &lastAccessedAt, &m.AccessCount,
		&sourceType, &sourceID,
		&state, &markedAt, &deletionReason, &archivedAt)
	if err != nil {
		return nil, err
	}

	if entities.Valid && entities.String != "" {
		if err := json.Unmarshal([]byte(entities.String), &m.KeyEntities); err != nil {
			return nil, fmt.Errorf("unmarshal entities: %w", err)
		}
	}
	if llmScore.Valid {
		m.LLMScore = &llmScore.Float64
	}
	m.ScoreSource = ScoreSource(scoreSource)
	m.State = State(state)
	m.UserRated = userRated != 0
	m.LLMProcessed = llmProcessed != 0
	if userRatedAt.Valid {
		m.UserRatedAt = &userRatedAt.Int64
	}
	if llmProcessedAt.Valid {
		m.LLMProcessedAt = &llmProcessedAt.Int64
	}
	if lastAccessedAt.Valid {
		m.LastAccessedAt = &lastAccessedAt.Int64
	}
	if markedAt.Valid {
		m.MarkedForDeletionAt = &markedAt.Int64
	}
	if archivedAt.Valid {
		m.ArchivedAt = &archivedAt.Int64
	}
	m.SourceType = sourceType.String
	m.SourceID = sourceID.String
	m.DeletionReason = deletionReason.String
	return &m, nil
}

func scanMemories(rows *sql.Rows) ([]Memory, error) {
	var memories []Memory
	for rows.Next() {
		m, err := scanMemory(rows)
		if err != nil {
			return nil, fmt.Errorf("scan memory: %w", err)
		}
		memories = append(memories, *m)
	}
	return memories, rows.Err()
}
