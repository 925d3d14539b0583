// Package scoring computes effective importance scores for memories.
// All functions are pure: they take a snapshot of a memory's scoring
// fields plus a clock value and return numbers, no I/O.
package scoring

import (
	"math"
	"time"
)

// Score bounds and tuning constants.
const (
	MinScore = 1.0
	MaxScore = 10.0

	// Recency decay: no decay for the first week of inactivity, then
	// 0.1 points per week, floored at -3.0 total.
	decayGraceDays = 7.0
	decayPerWeek   = 0.1
	maxDecay       = 3.0

	// Frequency boost: ln(access+1) * 0.5 capped at 2.0, weighted by
	// how recently the memory was last accessed (100% at day 0 down
	// to a 20% floor at day 30+).
	boostPerLogAccess = 0.5
	maxBoost          = 2.0
	boostRampDays     = 30.0
	boostWeightFloor  = 0.2

	// User-rated memories decay at half speed and earn boosts at 1.5x.
	ratedDecayFactor = 0.5
	ratedBoostFactor = 1.5
)

// Inputs is the snapshot of a memory's scoring fields.
type Inputs struct {
	BaseScore      float64
	LLMScore       *float64
	UserAdjustment int
	UserRated      bool
	CreatedAt      time.Time
	LastAccessedAt *time.Time
	AccessCount    int
}

// Breakdown explains how an effective score was composed, so callers
// can surface a ranking decision without recomputation.
type Breakdown struct {
	Base           float64 `json:"base"`
	UserAdjustment float64 `json:"user_adjustment"`
	RecencyDecay   float64 `json:"recency_decay"`
	FrequencyBoost float64 `json:"frequency_boost"`
	Score          float64 `json:"score"`
}

// referenceTime returns the more recent of created/last-accessed.
func referenceTime(in Inputs) time.Time {
	if in.LastAccessedAt != nil && in.LastAccessedAt.After(in.CreatedAt) {
		return *in.LastAccessedAt
	}
	return in.CreatedAt
}

// RecencyDecay returns the (non-positive) decay for a memory at the
// given instant. Zero within the grace period.
func RecencyDecay(in Inputs, now time.Time) float64 {
	days := now.Sub(referenceTime(in)).Hours() / 24
	if days <= decayGraceDays {
		return 0
	}
	weeksInactive := (days - decayGraceDays) / 7
	return -math.Min(maxDecay, weeksInactive*decayPerWeek)
}

// FrequencyBoost returns the (non-negative) access boost for a memory
// at the given instant. Zero for never-accessed memories.
func FrequencyBoost(in Inputs, now time.Time) float64 {
	if in.AccessCount == 0 {
		return 0
	}
	raw := math.Min(maxBoost, math.Log(float64(in.AccessCount)+1)*boostPerLogAccess)

	daysSinceAccess := now.Sub(referenceTime(in)).Hours() / 24
	weight := math.Max(boostWeightFloor, 1-daysSinceAccess/boostRampDays)
	return raw * weight
}

// Effective composes the authoritative score: base (LLM if present,
// else rule), user adjustment, decay, and boost, clamped to [1,10].
func Effective(in Inputs, now time.Time) (float64, Breakdown) {
	base := in.BaseScore
	if in.LLMScore != nil {
		base = *in.LLMScore
	}

	decay := RecencyDecay(in, now)
	boost := FrequencyBoost(in, now)
	if in.UserRated {
		decay *= ratedDecayFactor
		boost *= ratedBoostFactor
	}

	score := Clamp(base + float64(in.UserAdjustment) + decay + boost)
	return score, Breakdown{
		Base:           base,
		UserAdjustment: float64(in.UserAdjustment),
		RecencyDecay:   decay,
		FrequencyBoost: boost,
		Score:          score,
	}
}

// Clamp bounds a score to [MinScore, MaxScore].
func Clamp(score float64) float64 {
	if score < MinScore {
		return MinScore
	}
	if score > MaxScore {
		return MaxScore
	}
	return score
}
