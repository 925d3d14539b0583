package engine

import (
	"context"
	"log"

	"github.com/Beereal295/echo-memory/internal/llm"
	"github.com/Beereal295/echo-memory/internal/metrics"
	"github.com/Beereal295/echo-memory/internal/scoring"
)

// defaultJudgeScore is written when the judge replies but the reply
// cannot be parsed as a score. Mid-scale keeps the memory visible
// until a user or a later judge pass says otherwise.
const defaultJudgeScore = 5.0

// ProcessBatch re-scores up to maxN unprocessed memories through the
// LLM judge, oldest first. Judge transport errors skip the memory so
// a later batch retries it; unparseable replies consume the attempt
// and record the mid-scale default. Returns how many memories were
// scored.
func (e *Engine) ProcessBatch(ctx context.Context, maxN int) (int, error) {
	if e.Judge == nil {
		return 0, nil
	}

	batch, err := e.DB.Unprocessed(maxN)
	if err != nil {
		return 0, err
	}

	processed := 0
	for i := range batch {
		select {
		case <-ctx.Done():
			return processed, ctx.Err()
		default:
		}

		m := &batch[i]
		score, ok := e.judgeScore(ctx, m.Content, m.MemoryType, m.KeyEntities)
		if !ok {
			metrics.RescoreSkipped.Inc()
			continue
		}

		final := scoring.Clamp(score + float64(m.UserAdjustment))
		applied, err := e.DB.ApplyLLMScore(m.ID, score, final, e.now())
		if err != nil {
			log.Printf("rescore: apply %s: %v", m.ID, err)
			metrics.RescoreSkipped.Inc()
			continue
		}
		if !applied {
			// Rated or pruned between read and write; their score wins.
			metrics.RescoreSkipped.Inc()
			continue
		}
		metrics.RescoreProcessed.Inc()
		processed++
	}
	return processed, nil
}

// judgeScore asks the judge for an importance score. The bool is
// false only when the judge could not be reached; a garbled reply
// still yields a (default) score.
func (e *Engine) judgeScore(ctx context.Context, content, memoryType string, entities []string) (float64, bool) {
	callCtx, cancel := context.WithTimeout(ctx, e.cfg.LLM.JudgeTimeout)
	defer cancel()

	resp, err := e.Judge.Complete(callCtx, llm.ImportancePrompt(content, memoryType, entities, e.cfg.Rubric))
	if err != nil {
		log.Printf("rescore: judge: %v", err)
		return 0, false
	}

	score, ok := llm.ParseScore(resp.Content)
	if !ok {
		metrics.RescoreParseDefaults.Inc()
		log.Printf("rescore: unparseable judge reply %q, using default", resp.Content)
		return defaultJudgeScore, true
	}
	return score, true
}
