// Package normalize turns raw upstream price rows into canonical per-market
// quotes: one quote per (item, location, quality), stale data cut, duplicate
// rows merged.
package normalize

import (
	"time"

	"albionflip/internal/aodp"
)

// Key identifies one market: an item at one location in one quality.
type Key struct {
	ItemID   string
	Location string
	Quality  int
}

// Quote is the canonical view of one market. Ask is the lowest sell order,
// Bid the highest buy order; zero means no order on that side. ObservedAt is
// the freshest of the two sides' observation times.
type Quote struct {
	ItemID     string
	Location   string
	Quality    int
	Ask        int64
	Bid        int64
	ObservedAt time.Time
}

func (q Quote) Key() Key {
	return Key{ItemID: q.ItemID, Location: q.Location, Quality: q.Quality}
}

// Spread is Bid-Ask within a single market. Informational only; flips are
// computed across locations, not from this.
func (q Quote) Spread() int64 { return q.Bid - q.Ask }

// ROI is Spread relative to Ask, or 0 when there is no ask.
func (q Quote) ROI() float64 {
	if q.Ask <= 0 {
		return 0
	}
	return float64(q.Spread()) / float64(q.Ask)
}

// FromRecord lifts one raw row into a quote without any filtering.
func FromRecord(rec aodp.RawRecord) Quote {
	observed := rec.SellPriceMinDate
	if rec.BuyPriceMaxDate.After(observed) {
		observed = rec.BuyPriceMaxDate
	}
	return Quote{
		ItemID:     rec.ItemID,
		Location:   rec.City,
		Quality:    rec.Quality,
		Ask:        rec.SellPriceMin,
		Bid:        rec.BuyPriceMax,
		ObservedAt: observed,
	}
}

// Merge combines two quotes for the same market: best ask, best bid,
// freshest timestamp. Commutative and associative, so rows can arrive in any
// order and in any grouping.
func Merge(a, b Quote) Quote {
	out := a
	if b.Ask > 0 && (out.Ask == 0 || b.Ask < out.Ask) {
		out.Ask = b.Ask
	}
	if b.Bid > out.Bid {
		out.Bid = b.Bid
	}
	if b.ObservedAt.After(out.ObservedAt) {
		out.ObservedAt = b.ObservedAt
	}
	return out
}

// Canonicalize converts raw rows into canonical quotes. Rows whose freshest
// side is older than maxAge before now are dropped and counted; maxAge 0
// disables the cut. Output order follows first appearance of each market.
func Canonicalize(records []aodp.RawRecord, maxAge time.Duration, now time.Time) ([]Quote, int) {
	var (
		byKey = make(map[Key]int, len(records))
		out   = make([]Quote, 0, len(records))
		stale int
	)
	for _, rec := range records {
		q := FromRecord(rec)
		if maxAge > 0 && now.Sub(q.ObservedAt) > maxAge {
			stale++
			continue
		}
		if i, ok := byKey[q.Key()]; ok {
			out[i] = Merge(out[i], q)
			continue
		}
		byKey[q.Key()] = len(out)
		out = append(out, q)
	}
	return out, stale
}
