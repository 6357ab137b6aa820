// Package store persists scans, the prices they captured and the flips they
// produced, in a local sqlite database. Persistence is optional; callers
// with no store path simply never open one.
package store

import (
	"context"
	"fmt"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"albionflip/internal/flips"
	"albionflip/internal/normalize"
)

// Store wraps the database handle.
type Store struct {
	db *gorm.DB
}

// Open opens (creating if needed) the sqlite database at path and ensures
// the schema exists.
func Open(path string) (*Store, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if err := db.AutoMigrate(&Scan{}, &Price{}, &Flip{}); err != nil {
		return nil, fmt.Errorf("migrating schema: %w", err)
	}
	return &Store{db: db}, nil
}

// SaveScan writes the scan row and its captured quotes in one transaction.
func (s *Store) SaveScan(ctx context.Context, scan Scan, quotes []normalize.Quote) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&scan).Error; err != nil {
			return fmt.Errorf("saving scan: %w", err)
		}
		if len(quotes) == 0 {
			return nil
		}
		prices := make([]Price, len(quotes))
		for i, q := range quotes {
			prices[i] = Price{
				ScanID:     scan.ID,
				ItemID:     q.ItemID,
				Location:   q.Location,
				Quality:    q.Quality,
				Ask:        q.Ask,
				Bid:        q.Bid,
				ObservedAt: q.ObservedAt,
			}
		}
		if err := tx.CreateInBatches(prices, 500).Error; err != nil {
			return fmt.Errorf("saving prices: %w", err)
		}
		return nil
	})
}

// SaveFlips writes the kept candidates of one flip computation.
func (s *Store) SaveFlips(ctx context.Context, scanID, tier string, candidates []flips.Candidate) error {
	if len(candidates) == 0 {
		return nil
	}
	rows := make([]Flip, len(candidates))
	for i, c := range candidates {
		rows[i] = Flip{
			ScanID:       scanID,
			Tier:         tier,
			ItemID:       c.ItemID,
			Quality:      c.Quality,
			BuyLocation:  c.BuyLocation,
			SellLocation: c.SellLocation,
			BuyPrice:     c.BuyPrice,
			SellPrice:    c.SellPrice,
			Spread:       c.Spread,
			ROI:          c.ROI,
		}
	}
	if err := s.db.WithContext(ctx).CreateInBatches(rows, 500).Error; err != nil {
		return fmt.Errorf("saving flips: %w", err)
	}
	return nil
}

// RecentScans lists scans newest first.
func (s *Store) RecentScans(ctx context.Context, limit int) ([]Scan, error) {
	var scans []Scan
	err := s.db.WithContext(ctx).
		Order("started_at desc").
		Limit(limit).
		Find(&scans).Error
	if err != nil {
		return nil, fmt.Errorf("listing scans: %w", err)
	}
	return scans, nil
}

// ScanPrices returns the quotes captured by one scan.
func (s *Store) ScanPrices(ctx context.Context, scanID string) ([]Price, error) {
	var prices []Price
	err := s.db.WithContext(ctx).
		Where("scan_id = ?", scanID).
		Find(&prices).Error
	if err != nil {
		return nil, fmt.Errorf("loading scan prices: %w", err)
	}
	return prices, nil
}

// ScanFlips returns the candidates kept by one scan's flip computation.
func (s *Store) ScanFlips(ctx context.Context, scanID string) ([]Flip, error) {
	var rows []Flip
	err := s.db.WithContext(ctx).
		Where("scan_id = ?", scanID).
		Order("roi desc").
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("loading scan flips: %w", err)
	}
	return rows, nil
}
