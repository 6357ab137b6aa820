package store

import (
	"time"

	"github.com/google/uuid"
)

// Scan is one completed fetch cycle.
type Scan struct {
	ID           string    `gorm:"column:id;primaryKey"`
	Server       string    `gorm:"column:server"`
	StartedAt    time.Time `gorm:"column:started_at"`
	FinishedAt   time.Time `gorm:"column:finished_at"`
	QuoteCount   int       `gorm:"column:quote_count"`
	FailedChunks int       `gorm:"column:failed_chunks"`
	DroppedItems int       `gorm:"column:dropped_items"`
}

// TableName sets the table name for the Scan model.
func (Scan) TableName() string {
	return "scans"
}

// NewScan starts a scan row for the given game server.
func NewScan(server string) Scan {
	return Scan{
		ID:        uuid.NewString(),
		Server:    server,
		StartedAt: time.Now().UTC(),
	}
}

// Price is one canonical quote captured by a scan.
type Price struct {
	ID         uint      `gorm:"column:id;primaryKey;autoIncrement"`
	ScanID     string    `gorm:"column:scan_id;index"`
	ItemID     string    `gorm:"column:item_id;index"`
	Location   string    `gorm:"column:location"`
	Quality    int       `gorm:"column:quality"`
	Ask        int64     `gorm:"column:ask"`
	Bid        int64     `gorm:"column:bid"`
	ObservedAt time.Time `gorm:"column:observed_at"`
}

// TableName sets the table name for the Price model.
func (Price) TableName() string {
	return "prices"
}

// Flip is one candidate kept from a scan's flip computation.
type Flip struct {
	ID           uint    `gorm:"column:id;primaryKey;autoIncrement"`
	ScanID       string  `gorm:"column:scan_id;index"`
	Tier         string  `gorm:"column:tier"`
	ItemID       string  `gorm:"column:item_id"`
	Quality      int     `gorm:"column:quality"`
	BuyLocation  string  `gorm:"column:buy_location"`
	SellLocation string  `gorm:"column:sell_location"`
	BuyPrice     int64   `gorm:"column:buy_price"`
	SellPrice    int64   `gorm:"column:sell_price"`
	Spread       int64   `gorm:"column:spread"`
	ROI          float64 `gorm:"column:roi"`
}

// TableName sets the table name for the Flip model.
func (Flip) TableName() string {
	return "flips"
}
