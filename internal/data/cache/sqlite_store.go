package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"github.com/point10890-crypto/closing-bet-sub002/internal/data/interfaces"
)

const sqliteBatchSize = 500

// CandleModel is one cached candle row. Timestamps are stored as unix nanoseconds
// so they round-trip exactly regardless of driver time handling.
type CandleModel struct {
	ID        uint    `gorm:"primaryKey"`
	Symbol    string  `gorm:"size:32;not null;uniqueIndex:candle_key_ts,priority:1"`
	Timeframe string  `gorm:"size:8;not null;uniqueIndex:candle_key_ts,priority:2"`
	Source    string  `gorm:"size:32;not null;uniqueIndex:candle_key_ts,priority:3"`
	TsNs      int64   `gorm:"not null;uniqueIndex:candle_key_ts,priority:4"`
	Open      float64 `gorm:"not null"`
	High      float64 `gorm:"not null"`
	Low       float64 `gorm:"not null"`
	Close     float64 `gorm:"not null"`
	Volume    float64 `gorm:"not null;default:0"`
}

func (CandleModel) TableName() string {
	return "cached_candles"
}

// SeriesModel holds per-key metadata: the content hash and last write time
type SeriesModel struct {
	Symbol    string `gorm:"primaryKey;size:32"`
	Timeframe string `gorm:"primaryKey;size:8"`
	Source    string `gorm:"primaryKey;size:32"`
	Hash      string `gorm:"size:64;not null"`
	UpdatedNs int64  `gorm:"not null"`
}

func (SeriesModel) TableName() string {
	return "cached_series"
}

// SQLiteStore persists cache entries in a SQLite database through gorm
type SQLiteStore struct {
	db *gorm.DB
}

// OpenSQLite opens (or creates) a SQLite database and migrates the cache tables
func OpenSQLite(dsn string) (*SQLiteStore, error) {
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite %s: %w", dsn, err)
	}
	return NewSQLiteStore(db)
}

// NewSQLiteStore wraps an open gorm handle and migrates the cache tables
func NewSQLiteStore(db *gorm.DB) (*SQLiteStore, error) {
	if err := db.AutoMigrate(&SeriesModel{}, &CandleModel{}); err != nil {
		return nil, fmt.Errorf("failed to migrate cache tables: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

func keyWhere(key interfaces.CacheKey) (string, []interface{}) {
	return "symbol = ? AND timeframe = ? AND source = ?",
		[]interface{}{key.Symbol, string(key.Timeframe), key.Source}
}

// Put replaces every row of the key inside one transaction
func (s *SQLiteStore) Put(ctx context.Context, entry interfaces.CacheEntry) error {
	key := entry.Key
	where, args := keyWhere(key)

	rows := make([]CandleModel, 0, len(entry.Candles))
	for _, c := range entry.Candles {
		rows = append(rows, CandleModel{
			Symbol:    key.Symbol,
			Timeframe: string(key.Timeframe),
			Source:    key.Source,
			TsNs:      c.Timestamp.UnixNano(),
			Open:      c.Open,
			High:      c.High,
			Low:       c.Low,
			Close:     c.Close,
			Volume:    c.Volume,
		})
	}

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where(where, args...).Delete(&CandleModel{}).Error; err != nil {
			return fmt.Errorf("failed to clear candles: %w", err)
		}
		if len(rows) > 0 {
			if err := tx.CreateInBatches(&rows, sqliteBatchSize).Error; err != nil {
				return fmt.Errorf("failed to insert candles: %w", err)
			}
		}
		meta := SeriesModel{
			Symbol:    key.Symbol,
			Timeframe: string(key.Timeframe),
			Source:    key.Source,
			Hash:      entry.Hash,
			UpdatedNs: entry.UpdatedAt.UnixNano(),
		}
		return tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "symbol"}, {Name: "timeframe"}, {Name: "source"}},
			DoUpdates: clause.AssignmentColumns([]string{"hash", "updated_ns"}),
		}).Create(&meta).Error
	})
}

// Get reads the series for a key in timestamp order
func (s *SQLiteStore) Get(ctx context.Context, key interfaces.CacheKey) (*interfaces.CacheEntry, error) {
	where, args := keyWhere(key)
	db := s.db.WithContext(ctx)

	var meta SeriesModel
	if err := db.Where(where, args...).Take(&meta).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to read series metadata: %w", err)
	}

	var rows []CandleModel
	if err := db.Where(where, args...).Order("ts_ns ASC").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to read candles: %w", err)
	}

	series := make(interfaces.Series, 0, len(rows))
	for _, r := range rows {
		series = append(series, interfaces.Candle{
			Timestamp: time.Unix(0, r.TsNs).UTC(),
			Open:      r.Open,
			High:      r.High,
			Low:       r.Low,
			Close:     r.Close,
			Volume:    r.Volume,
		})
	}

	return &interfaces.CacheEntry{
		Key:       key,
		Candles:   series,
		Hash:      meta.Hash,
		UpdatedAt: time.Unix(0, meta.UpdatedNs).UTC(),
	}, nil
}

// Delete removes all rows of a key
func (s *SQLiteStore) Delete(ctx context.Context, key interfaces.CacheKey) error {
	where, args := keyWhere(key)
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Where(where, args...).Delete(&SeriesModel{})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrNotFound
		}
		return tx.Where(where, args...).Delete(&CandleModel{}).Error
	})
}

// Keys lists every key with stored metadata
func (s *SQLiteStore) Keys(ctx context.Context) ([]interfaces.CacheKey, error) {
	var metas []SeriesModel
	if err := s.db.WithContext(ctx).Order("source, timeframe, symbol").Find(&metas).Error; err != nil {
		return nil, fmt.Errorf("failed to list cache keys: %w", err)
	}
	keys := make([]interfaces.CacheKey, 0, len(metas))
	for _, m := range metas {
		keys = append(keys, interfaces.CacheKey{
			Symbol:    m.Symbol,
			Timeframe: interfaces.Timeframe(m.Timeframe),
			Source:    m.Source,
		})
	}
	return keys, nil
}

// Close releases the underlying database handle
func (s *SQLiteStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
