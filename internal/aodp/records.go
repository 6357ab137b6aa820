package aodp

import (
	"encoding/json"
	"fmt"
	"time"
)

// RawRecord is one row of the prices endpoint, as the upstream reports it.
// Zero prices mean "no order on that side"; zero dates mean "never observed".
type RawRecord struct {
	ItemID           string
	City             string
	Quality          int
	SellPriceMin     int64
	SellPriceMax     int64
	BuyPriceMin      int64
	BuyPriceMax      int64
	SellPriceMinDate time.Time
	BuyPriceMaxDate  time.Time
}

// The upstream emits timestamps without a zone; they are UTC.
const recordTimeLayout = "2006-01-02T15:04:05"

type rawRecordJSON struct {
	ItemID           string `json:"item_id"`
	City             string `json:"city"`
	Quality          int    `json:"quality"`
	SellPriceMin     int64  `json:"sell_price_min"`
	SellPriceMax     int64  `json:"sell_price_max"`
	BuyPriceMin      int64  `json:"buy_price_min"`
	BuyPriceMax      int64  `json:"buy_price_max"`
	SellPriceMinDate string `json:"sell_price_min_date"`
	BuyPriceMaxDate  string `json:"buy_price_max_date"`
}

// ParseRecords decodes a prices response body. Rows missing an item id or a
// city are dropped rather than guessed at; the count of dropped rows is
// returned alongside the good ones. Malformed JSON is an error.
func ParseRecords(body []byte) ([]RawRecord, int, error) {
	var rows []rawRecordJSON
	if err := json.Unmarshal(body, &rows); err != nil {
		return nil, 0, fmt.Errorf("decoding prices response: %w", err)
	}

	var records = make([]RawRecord, 0, len(rows))
	var dropped int
	for _, row := range rows {
		if row.ItemID == "" || row.City == "" {
			dropped++
			continue
		}
		records = append(records, RawRecord{
			ItemID:           row.ItemID,
			City:             row.City,
			Quality:          row.Quality,
			SellPriceMin:     row.SellPriceMin,
			SellPriceMax:     row.SellPriceMax,
			BuyPriceMin:      row.BuyPriceMin,
			BuyPriceMax:      row.BuyPriceMax,
			SellPriceMinDate: parseRecordTime(row.SellPriceMinDate),
			BuyPriceMaxDate:  parseRecordTime(row.BuyPriceMaxDate),
		})
	}
	return records, dropped, nil
}

func parseRecordTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, err := time.ParseInLocation(recordTimeLayout, s, time.UTC)
	if err != nil {
		return time.Time{}
	}
	return t
}
