package engine

import (
	"context"
	"log"

	"github.com/Beereal295/echo-memory/internal/metrics"
	"github.com/Beereal295/echo-memory/internal/scoring"
)

// Lifecycle thresholds. A memory is only marked when the user has
// rejected it (-3), it is barely accessed, old, long inactive, and
// its live effective score still sits at the bottom of the scale.
const (
	pruneMinAgeDays        = 30
	pruneInactiveDays      = 60
	pruneScoreGate         = 2.0
	archiveAfterMarkDays   = 14
	deleteAfterArchiveDays = 30

	deletionReason = "low importance and inactive"
)

// SweepResult reports what one pruning sweep did at each stage.
type SweepResult struct {
	Marked   int `json:"marked"`
	Archived int `json:"archived"`
	Deleted  int `json:"deleted"`
}

// RunPruningSweep advances the deletion pipeline one step: mark
// qualifying active memories, archive memories marked long enough ago,
// and purge memories archived long enough ago. Each stage only moves
// memories that entered the previous stage on an earlier sweep, so
// repeated sweeps are safe and nothing jumps the waiting periods.
func (e *Engine) RunPruningSweep(ctx context.Context) (SweepResult, error) {
	var res SweepResult
	now := e.now()

	cands, err := e.DB.PruneCandidates(
		now.AddDate(0, 0, -pruneMinAgeDays),
		now.AddDate(0, 0, -pruneInactiveDays),
	)
	if err != nil {
		return res, err
	}

	for i := range cands {
		select {
		case <-ctx.Done():
			return res, ctx.Err()
		default:
		}

		m := &cands[i]
		eff, _ := scoring.Effective(scoringInputs(m), now)
		if eff > pruneScoreGate {
			continue
		}

		ok, err := e.DB.MarkForDeletion(m.ID, deletionReason, now)
		if err != nil {
			log.Printf("prune: mark %s: %v", m.ID, err)
			continue
		}
		if ok {
			res.Marked++
		}
	}
	metrics.PruneMarked.Add(float64(res.Marked))

	archived, err := e.DB.ArchiveMarked(now.AddDate(0, 0, -archiveAfterMarkDays), now)
	if err != nil {
		return res, err
	}
	res.Archived = archived
	metrics.PruneArchived.Add(float64(archived))

	deleted, err := e.DB.PurgeArchived(now.AddDate(0, 0, -deleteAfterArchiveDays))
	if err != nil {
		return res, err
	}
	res.Deleted = deleted
	metrics.PruneDeleted.Add(float64(deleted))

	return res, nil
}
