package engine

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/Beereal295/echo-memory/internal/config"
	"github.com/Beereal295/echo-memory/internal/llm"
	"github.com/Beereal295/echo-memory/internal/metrics"
	"github.com/Beereal295/echo-memory/internal/scoring"
	"github.com/Beereal295/echo-memory/internal/store"
)

// Journal entries are deliberate writing, so extractions from them
// start half again as important as conversational asides.
const entrySourceMultiplier = 1.5

// ErrInvalidAdjustment is returned by Rate for adjustments outside
// the [-3, 3] band.
var ErrInvalidAdjustment = errors.New("adjustment out of range [-3, 3]")

// Engine orchestrates extraction, scoring, lifecycle, and retrieval.
type Engine struct {
	DB        *store.DB
	Judge     llm.Client
	Embedder  Embedder
	Extractor Extractor

	cfg    config.Config
	now    func() time.Time
	stopCh chan struct{}
}

// New creates an Engine over the given store. judge may be nil; the
// engine then runs on rule scores alone.
func New(db *store.DB, judge llm.Client, cfg config.Config) *Engine {
	return &Engine{
		DB:        db,
		Judge:     judge,
		Extractor: NewRuleExtractor(),
		cfg:       cfg,
		now:       time.Now,
		stopCh:    make(chan struct{}),
	}
}

// SetEmbedder configures the embedding provider.
func (e *Engine) SetEmbedder(emb Embedder) {
	e.Embedder = emb
}

// ExtractAndStore runs the extractor over text and persists each
// candidate. sourceType must be "conversation" or "entry". Returns the
// ids of all stored or re-touched memories; individual store failures
// are logged and skipped rather than aborting the batch.
func (e *Engine) ExtractAndStore(ctx context.Context, text, sourceType, sourceID string) ([]string, error) {
	if sourceType != "conversation" && sourceType != "entry" {
		return nil, fmt.Errorf("invalid source type %q", sourceType)
	}

	var ids []string
	for _, c := range e.Extractor.Extract(text) {
		score := c.Score
		if sourceType == "entry" {
			score = scoring.Clamp(score * entrySourceMultiplier)
		}

		id, dedup, err := e.DB.Insert(store.Candidate{
			Content:     c.Content,
			MemoryType:  c.MemoryType,
			KeyEntities: c.KeyEntities,
			Score:       score,
			Source:      store.SourceRule,
			SourceType:  sourceType,
			SourceID:    sourceID,
		}, e.now())
		if err != nil {
			log.Printf("extract: store %q: %v", c.Content, err)
			continue
		}
		ids = append(ids, id)

		if dedup {
			metrics.MemoriesDeduplicated.Inc()
			continue
		}
		metrics.MemoriesStored.Inc()

		// Embedding is best-effort and must not block the caller.
		go e.embedMemory(id, c.Content)
	}
	return ids, nil
}

// embedMemory generates and stores a vector for one memory.
func (e *Engine) embedMemory(id, content string) {
	if e.Embedder == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	vec, err := e.Embedder.Embed(ctx, content)
	if err != nil {
		metrics.EmbeddingFailures.Inc()
		log.Printf("embed %s: %v", id, err)
		return
	}
	if err := e.DB.SaveVector(id, vec, e.Embedder.Model()); err != nil {
		metrics.EmbeddingFailures.Inc()
		log.Printf("save vector %s: %v", id, err)
	}
}

// EmbedMissing embeds active memories that have no vector yet or
// whose vector came from a different model. Returns how many were
// embedded.
func (e *Engine) EmbedMissing(ctx context.Context) (int, error) {
	if e.Embedder == nil {
		return 0, nil
	}

	memories, err := e.DB.Active(0)
	if err != nil {
		return 0, fmt.Errorf("list active: %w", err)
	}

	embedded := 0
	for i := range memories {
		m := &memories[i]
		existing, err := e.DB.GetVector(m.ID)
		if err != nil {
			log.Printf("embed missing: get vector %s: %v", m.ID, err)
			continue
		}
		if existing != nil && existing.Model == e.Embedder.Model() {
			continue
		}

		vec, err := e.Embedder.Embed(ctx, m.Content)
		if err != nil {
			metrics.EmbeddingFailures.Inc()
			log.Printf("embed missing: %s: %v", m.ID, err)
			continue
		}
		if err := e.DB.SaveVector(m.ID, vec, e.Embedder.Model()); err != nil {
			log.Printf("embed missing: save %s: %v", m.ID, err)
			continue
		}
		embedded++
	}
	return embedded, nil
}

// ScoredMemory is a memory annotated with its live effective score
// and the component breakdown behind it.
type ScoredMemory struct {
	store.Memory
	Effective float64           `json:"effective_score"`
	Breakdown scoring.Breakdown `json:"score_breakdown"`
}

// scoringInputs maps a stored memory onto the scoring model.
func scoringInputs(m *store.Memory) scoring.Inputs {
	in := scoring.Inputs{
		BaseScore:      m.BaseScore,
		LLMScore:       m.LLMScore,
		UserAdjustment: m.UserAdjustment,
		UserRated:      m.UserRated,
		CreatedAt:      time.UnixMilli(m.CreatedAt),
		AccessCount:    m.AccessCount,
	}
	if m.LastAccessedAt != nil {
		t := time.UnixMilli(*m.LastAccessedAt)
		in.LastAccessedAt = &t
	}
	return in
}

// Score computes the live effective score for a memory.
func (e *Engine) Score(m *store.Memory) ScoredMemory {
	eff, bd := scoring.Effective(scoringInputs(m), e.now())
	return ScoredMemory{Memory: *m, Effective: eff, Breakdown: bd}
}

// Unrated returns active memories awaiting a user rating, annotated
// with their live scores so a review UI can show why each one ranks
// where it does.
func (e *Engine) Unrated(limit int) ([]ScoredMemory, error) {
	mems, err := e.DB.Unrated(limit)
	if err != nil {
		return nil, err
	}
	out := make([]ScoredMemory, 0, len(mems))
	for i := range mems {
		out = append(out, e.Score(&mems[i]))
	}
	return out, nil
}

// Rate applies a user importance adjustment in [-3, 3]. A user rating
// is authoritative: it pins the adjustment and blocks later judge
// overwrites. Returns false if the memory is missing or not active.
func (e *Engine) Rate(id string, adjustment int) (bool, error) {
	if adjustment < -3 || adjustment > 3 {
		return false, fmt.Errorf("rate %d: %w", adjustment, ErrInvalidAdjustment)
	}

	m, err := e.DB.GetByID(id)
	if err != nil {
		return false, err
	}
	if m == nil || m.State != store.StateActive {
		return false, nil
	}

	base := m.BaseScore
	if m.LLMScore != nil {
		base = *m.LLMScore
	}
	final := scoring.Clamp(base + float64(adjustment))
	return e.DB.ApplyRating(id, adjustment, final, e.now())
}

// Rescue pulls a memory out of the deletion pipeline: back to active,
// adjustment reset, lifecycle markers cleared. Returns false if the
// memory is already active or gone.
func (e *Engine) Rescue(id string) (bool, error) {
	ok, err := e.DB.Rescue(id, e.now())
	if err != nil {
		return false, err
	}
	if ok {
		metrics.Rescues.Inc()
		log.Printf("rescue: %s restored to active", id)
	}
	return ok, nil
}

// Stats returns store-level statistics.
func (e *Engine) Stats() (*store.Stats, error) {
	return e.DB.MemoryStats()
}

// StartTimers launches the background rescoring and pruning loops.
// Rescoring runs once immediately, then on its interval; pruning only
// on its interval, so a restart cannot double-sweep.
func (e *Engine) StartTimers() {
	go func() {
		e.runRescoreBatch()

		rescore := time.NewTicker(e.cfg.Scheduler.RescoreInterval)
		prune := time.NewTicker(e.cfg.Scheduler.PruneInterval)
		defer rescore.Stop()
		defer prune.Stop()

		for {
			select {
			case <-rescore.C:
				e.runRescoreBatch()
			case <-prune.C:
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
				if res, err := e.RunPruningSweep(ctx); err != nil {
					log.Printf("pruning sweep: %v", err)
				} else if res.Marked+res.Archived+res.Deleted > 0 {
					log.Printf("pruning sweep: marked=%d archived=%d deleted=%d", res.Marked, res.Archived, res.Deleted)
				}
				cancel()
			case <-e.stopCh:
				return
			}
		}
	}()
}

func (e *Engine) runRescoreBatch() {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()
	if n, err := e.ProcessBatch(ctx, e.cfg.Scheduler.RescoreBatchSize); err != nil {
		log.Printf("rescore batch: %v", err)
	} else if n > 0 {
		log.Printf("rescore: processed %d memories", n)
	}
}

// Stop shuts down the engine's background goroutines.
func (e *Engine) Stop() {
	close(e.stopCh)
}
