package db

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/point10890-crypto/closing-bet-sub002/internal/data/interfaces"
	"github.com/point10890-crypto/closing-bet-sub002/internal/data/pit"
)

// UniverseStore implements interfaces.UniverseStore with dual persistence (file + database).
// Files are always written; the database copy is best effort.
type UniverseStore struct {
	manager *Manager
	files   *pit.Store
}

// NewUniverseStore creates a universe store with optional database persistence
func NewUniverseStore(manager *Manager, files *pit.Store) *UniverseStore {
	return &UniverseStore{manager: manager, files: files}
}

func (s *UniverseStore) dbEnabled() bool {
	return s.manager != nil && s.manager.IsEnabled() && s.manager.Repository() != nil
}

// Save stores the snapshot to file and, when enabled, to the database
func (s *UniverseStore) Save(ctx context.Context, snapshot interfaces.UniverseSnapshot) error {
	fileErr := s.files.Save(ctx, snapshot)
	if fileErr != nil && !errors.Is(fileErr, pit.ErrSnapshotExists) {
		return fileErr
	}

	if s.dbEnabled() {
		if err := s.manager.Repository().Universe.Save(ctx, snapshot); err != nil && !errors.Is(err, pit.ErrSnapshotExists) {
			log.Warn().Err(err).
				Str("source", snapshot.Source).
				Time("date", snapshot.Date).
				Msg("Failed to store universe snapshot to database")
		}
	}

	return fileErr
}

// Get reads from the database first and falls back to file
func (s *UniverseStore) Get(ctx context.Context, date time.Time, source string) (*interfaces.UniverseSnapshot, error) {
	if s.dbEnabled() {
		snapshot, err := s.manager.Repository().Universe.Get(ctx, date, source)
		if err == nil {
			return snapshot, nil
		}
		if !errors.Is(err, pit.ErrSnapshotNotFound) {
			log.Warn().Err(err).Str("source", source).Msg("Database universe read failed, using file store")
		}
	}
	return s.files.Get(ctx, date, source)
}

// GetNearest searches outward from target across both backends
func (s *UniverseStore) GetNearest(ctx context.Context, target time.Time, source string, maxDays int) (*interfaces.UniverseSnapshot, error) {
	return pit.GetNearest(ctx, s, target, source, maxDays)
}
