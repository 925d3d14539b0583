package engine

import (
	"context"
	"log"
	"sort"
	"strings"

	"github.com/Beereal295/echo-memory/internal/store"
)

// Retrieval ranks by semantic similarity first, stored importance
// second.
const (
	similarityWeight = 0.7
	importanceWeight = 0.3

	defaultRetrieveLimit = 5
)

// SearchResult is a retrieved memory with its ranking components.
type SearchResult struct {
	ScoredMemory
	Similarity float64 `json:"similarity"`
	Combined   float64 `json:"combined_score"`
}

// Retrieve returns the active memories most relevant to query,
// ranked by combined similarity and importance. Every returned memory
// gets an access bump. Falls back to importance ordering when no
// embedder or no vectors are available.
func (e *Engine) Retrieve(ctx context.Context, query string, limit int) ([]SearchResult, error) {
	if limit <= 0 {
		limit = defaultRetrieveLimit
	}
	if e.Embedder == nil {
		return e.retrieveByImportance(limit)
	}

	vectors, err := e.DB.AllVectors()
	if err != nil {
		return nil, err
	}
	if len(vectors) == 0 {
		return e.retrieveByImportance(limit)
	}

	queryVec, err := e.Embedder.Embed(ctx, query)
	if err != nil {
		log.Printf("retrieve: embed query: %v", err)
		return e.retrieveByImportance(limit)
	}

	ids := make([]string, 0, len(vectors))
	for _, v := range vectors {
		ids = append(ids, v.MemoryID)
	}
	mems, err := e.DB.GetByIDs(ids)
	if err != nil {
		return nil, err
	}
	byID := make(map[string]*store.Memory, len(mems))
	for i := range mems {
		if mems[i].State == store.StateActive {
			byID[mems[i].ID] = &mems[i]
		}
	}

	var results []SearchResult
	for _, v := range vectors {
		m, ok := byID[v.MemoryID]
		if !ok {
			continue
		}
		sim := CosineSimilarity(queryVec, v.Embedding)
		results = append(results, SearchResult{
			ScoredMemory: e.Score(m),
			Similarity:   sim,
			Combined:     sim*similarityWeight + m.FinalScore/10.0*importanceWeight,
		})
	}

	sort.Slice(results, func(i, j int) bool {
		return results[i].Combined > results[j].Combined
	})
	if len(results) > limit {
		results = results[:limit]
	}

	e.touchResults(results)
	return results, nil
}

// retrieveByImportance is the non-semantic fallback ordering.
func (e *Engine) retrieveByImportance(limit int) ([]SearchResult, error) {
	mems, err := e.DB.Active(limit)
	if err != nil {
		return nil, err
	}
	results := make([]SearchResult, 0, len(mems))
	for i := range mems {
		results = append(results, SearchResult{
			ScoredMemory: e.Score(&mems[i]),
			Combined:     mems[i].FinalScore / 10.0 * importanceWeight,
		})
	}
	e.touchResults(results)
	return results, nil
}

func (e *Engine) touchResults(results []SearchResult) {
	if len(results) == 0 {
		return
	}
	ids := make([]string, len(results))
	for i := range results {
		ids[i] = results[i].ID
	}
	if err := e.DB.Touch(ids, e.now()); err != nil {
		log.Printf("retrieve: touch: %v", err)
	}
}

// contextGroups orders the type headings used by FormatForContext.
var contextGroups = []struct {
	memType string
	heading string
}{
	{"factual", "Personal Facts"},
	{"preference", "Preferences"},
	{"behavioral", "Habits & Patterns"},
	{"relational", "Relationships"},
	{"contextual", "Context"},
}

// FormatForContext renders retrieved memories as a compact prompt
// block, grouped by type. Empty groups are omitted; an empty result
// set renders as an empty string.
func FormatForContext(results []SearchResult) string {
	if len(results) == 0 {
		return ""
	}

	byType := make(map[string][]string)
	for _, r := range results {
		byType[r.MemoryType] = append(byType[r.MemoryType], r.Content)
	}

	var b strings.Builder
	for _, g := range contextGroups {
		contents := byType[g.memType]
		if len(contents) == 0 {
			continue
		}
		if b.Len() > 0 {
			b.WriteString("\n")
		}
		b.WriteString(g.heading)
		b.WriteString(":\n")
		for _, c := range contents {
			b.WriteString("- ")
			b.WriteString(c)
			b.WriteString("\n")
		}
	}
	return b.String()
}
