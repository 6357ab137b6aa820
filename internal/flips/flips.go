// Package flips derives cross-location trade candidates from canonical
// market quotes.
package flips

import (
	"sort"
	"time"

	"albionflip/internal/normalize"
)

// Params bound a single computation pass.
type Params struct {
	// MinProfit is the smallest acceptable absolute spread in silver.
	MinProfit int64
	// MinROI is the smallest acceptable spread relative to the buy price.
	MinROI float64
	// MaxAge drops quotes whose observation is older than this; 0 disables.
	MaxAge time.Duration
	// Items restricts the pass to these item ids; empty means all.
	Items []string
	// SourceLocations restricts where a flip may buy; empty means anywhere.
	// A sell-only venue like the Black Market belongs in DestLocations but
	// not here.
	SourceLocations []string
	// DestLocations restricts where a flip may sell; empty means anywhere.
	DestLocations []string
	// Qualities restricts the pass to these quality levels; empty means all.
	Qualities []int
	// MaxResults truncates the ranked output; 0 means unlimited.
	MaxResults int
}

// DropStats counts why quotes and pairings were rejected. The counters are
// what an operator reads when a pass comes back empty.
type DropStats struct {
	Stale             int
	NoBuy             int
	NoSell            int
	SameLocation      int
	NonPositiveSpread int
	BelowMinProfit    int
	BelowMinROI       int
}

// Candidate is one directed buy-here sell-there opportunity.
type Candidate struct {
	ItemID         string
	Quality        int
	BuyLocation    string
	SellLocation   string
	BuyPrice       int64
	SellPrice      int64
	Spread         int64
	ROI            float64
	BuyObservedAt  time.Time
	SellObservedAt time.Time
}

type groupKey struct {
	itemID  string
	quality int
}

func stringSet(values []string) map[string]bool {
	if len(values) == 0 {
		return nil
	}
	set := make(map[string]bool, len(values))
	for _, v := range values {
		set[v] = true
	}
	return set
}

func intSet(values []int) map[int]bool {
	if len(values) == 0 {
		return nil
	}
	set := make(map[int]bool, len(values))
	for _, v := range values {
		set[v] = true
	}
	return set
}

// Compute derives candidates from quotes under p. Quotes are grouped by
// (item, quality); within a group every source location holding sell orders
// is a possible buy point and every destination location holding buy orders
// a possible sell point. When a location contributes several quotes, the buy
// side keeps the highest ask and the sell side the lowest bid, so the
// estimate never flatters the trade. Because each side collapses to a single
// price per location, every directed (item, quality, buy, sell) pair yields
// at most one candidate.
func Compute(quotes []normalize.Quote, p Params, now time.Time) ([]Candidate, DropStats) {
	var stats DropStats

	allowed := stringSet(p.Items)
	sources := stringSet(p.SourceLocations)
	dests := stringSet(p.DestLocations)
	qualities := intSet(p.Qualities)

	type side struct {
		price    int64
		observed time.Time
	}
	buys := map[groupKey]map[string]side{}
	sells := map[groupKey]map[string]side{}

	for _, q := range quotes {
		if allowed != nil && !allowed[q.ItemID] {
			continue
		}
		if qualities != nil && !qualities[q.Quality] {
			continue
		}
		if p.MaxAge > 0 && now.Sub(q.ObservedAt) > p.MaxAge {
			stats.Stale++
			continue
		}
		key := groupKey{itemID: q.ItemID, quality: q.Quality}
		if sources == nil || sources[q.Location] {
			if q.Ask > 0 {
				m := buys[key]
				if m == nil {
					m = map[string]side{}
					buys[key] = m
				}
				if cur, ok := m[q.Location]; !ok || q.Ask > cur.price {
					m[q.Location] = side{price: q.Ask, observed: q.ObservedAt}
				}
			} else {
				stats.NoBuy++
			}
		}
		if dests == nil || dests[q.Location] {
			if q.Bid > 0 {
				m := sells[key]
				if m == nil {
					m = map[string]side{}
					sells[key] = m
				}
				if cur, ok := m[q.Location]; !ok || q.Bid < cur.price {
					m[q.Location] = side{price: q.Bid, observed: q.ObservedAt}
				}
			} else {
				stats.NoSell++
			}
		}
	}

	var out []Candidate
	for key, groupBuys := range buys {
		groupSells, ok := sells[key]
		if !ok {
			continue
		}
		for buyLoc, buy := range groupBuys {
			for sellLoc, sell := range groupSells {
				if buyLoc == sellLoc {
					stats.SameLocation++
					continue
				}
				spread := sell.price - buy.price
				if spread <= 0 {
					stats.NonPositiveSpread++
					continue
				}
				if spread < p.MinProfit {
					stats.BelowMinProfit++
					continue
				}
				roi := float64(spread) / float64(buy.price)
				if roi < p.MinROI {
					stats.BelowMinROI++
					continue
				}
				out = append(out, Candidate{
					ItemID:         key.itemID,
					Quality:        key.quality,
					BuyLocation:    buyLoc,
					SellLocation:   sellLoc,
					BuyPrice:       buy.price,
					SellPrice:      sell.price,
					Spread:         spread,
					ROI:            roi,
					BuyObservedAt:  buy.observed,
					SellObservedAt: sell.observed,
				})
			}
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].ROI != out[j].ROI {
			return out[i].ROI > out[j].ROI
		}
		if out[i].Spread != out[j].Spread {
			return out[i].Spread > out[j].Spread
		}
		if out[i].ItemID != out[j].ItemID {
			return out[i].ItemID < out[j].ItemID
		}
		if out[i].BuyLocation != out[j].BuyLocation {
			return out[i].BuyLocation < out[j].BuyLocation
		}
		return out[i].SellLocation < out[j].SellLocation
	})
	if p.MaxResults > 0 && len(out) > p.MaxResults {
		out = out[:p.MaxResults]
	}
	return out, stats
}
