package flips

import (
	"time"

	"albionflip/internal/normalize"
)

// Tier names a parameter set in the relaxation ladder.
type Tier struct {
	Name   string
	Params Params
}

// Floor tier bounds. Looser than any sane user setting, still not "anything".
const (
	floorMinProfit = 1
	floorMinROI    = 0.01
	floorMaxAge    = 168 * time.Hour
)

// DefaultLadder builds the relaxation ladder for base: the caller's exact
// settings, then a widened freshness window, then the item filter lifted,
// then a fixed floor. Each step keeps everything the previous step loosened.
func DefaultLadder(base Params) []Tier {
	relaxedAge := base.MaxAge * 7
	if base.MaxAge == 0 {
		relaxedAge = floorMaxAge
	}

	wider := base
	wider.MaxAge = relaxedAge

	allItems := wider
	allItems.Items = nil

	floor := allItems
	floor.MinProfit = floorMinProfit
	floor.MinROI = floorMinROI
	if floor.MaxAge < floorMaxAge {
		floor.MaxAge = floorMaxAge
	}

	return []Tier{
		{Name: "strict", Params: base},
		{Name: "relaxed-age", Params: wider},
		{Name: "all-items", Params: allItems},
		{Name: "floor", Params: floor},
	}
}

// TierAttempt records what one ladder step produced.
type TierAttempt struct {
	Name       string
	Candidates int
	Stats      DropStats
}

// LadderResult is the outcome of a full ladder run.
type LadderResult struct {
	// Winner is the name of the first tier that produced candidates, or
	// empty when every tier came up dry.
	Winner     string
	Candidates []Candidate
	Attempts   []TierAttempt
}

// RunLadder computes candidates tier by tier, stopping at the first tier
// that yields any. Later tiers are not attempted once one wins; the attempt
// log still explains what each tried tier rejected.
func RunLadder(quotes []normalize.Quote, tiers []Tier, now time.Time) LadderResult {
	var result LadderResult
	for _, tier := range tiers {
		cands, stats := Compute(quotes, tier.Params, now)
		result.Attempts = append(result.Attempts, TierAttempt{
			Name:       tier.Name,
			Candidates: len(cands),
			Stats:      stats,
		})
		if len(cands) > 0 {
			result.Winner = tier.Name
			result.Candidates = cands
			return result
		}
	}
	return result
}
