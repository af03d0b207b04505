package pit

import (
	"compress/gzip"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/point10890-crypto/closing-bet-sub002/internal/data/interfaces"
)

const dateLayout = "2006-01-02"

// DefaultMaxDays bounds the nearest-snapshot search when callers pass zero
const DefaultMaxDays = 7

var (
	// ErrSnapshotExists is returned when saving over an existing (date, source) snapshot
	ErrSnapshotExists = errors.New("universe snapshot already exists")
	// ErrSnapshotNotFound is returned when no snapshot matches the requested date window
	ErrSnapshotNotFound = errors.New("universe snapshot not found")
)

// Store implements interfaces.UniverseStore for point-in-time universe snapshots.
// Snapshots are immutable, append-only, and used to keep backtests free of survivorship bias.
// Path: {baseDir}/{source}/{date}.json.gz
type Store struct {
	baseDir string
	now     func() time.Time
}

// NewStore creates a new PIT store with the specified base directory
func NewStore(baseDir string) *Store {
	return &Store{baseDir: baseDir, now: time.Now}
}

// NewSnapshot builds a snapshot for the calendar day of date
func NewSnapshot(date time.Time, source string, symbols []string, metadata map[string]string) interfaces.UniverseSnapshot {
	return interfaces.UniverseSnapshot{
		Date:     Day(date),
		Source:   source,
		Symbols:  append([]string(nil), symbols...),
		Metadata: metadata,
	}
}

// Day truncates a timestamp to its UTC calendar day
func Day(ts time.Time) time.Time {
	y, m, d := ts.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func (s *Store) path(date time.Time, source string) (string, error) {
	if err := validSource(source); err != nil {
		return "", err
	}
	return filepath.Join(s.baseDir, source, Day(date).Format(dateLayout)+".json.gz"), nil
}

// validSource rejects sources that are not a single directory name
func validSource(source string) error {
	if source == "" || source == "." || source == ".." || strings.ContainsAny(source, `/\`) {
		return fmt.Errorf("invalid snapshot source %q", source)
	}
	return nil
}

// Save stores a snapshot. Existing snapshots are never overwritten.
func (s *Store) Save(ctx context.Context, snapshot interfaces.UniverseSnapshot) error {
	snapshot.Date = Day(snapshot.Date)
	if snapshot.CreatedAt.IsZero() {
		snapshot.CreatedAt = s.now().UTC()
	}

	filePath, err := s.path(snapshot.Date, snapshot.Source)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(filePath), 0755); err != nil {
		return fmt.Errorf("failed to create PIT directory: %w", err)
	}

	// O_EXCL keeps the store append-only even with concurrent writers
	file, err := os.OpenFile(filePath, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
	if err != nil {
		if errors.Is(err, fs.ErrExist) {
			log.Debug().Str("file", filePath).Msg("PIT snapshot already exists, skipping")
			return fmt.Errorf("%s %s: %w", snapshot.Source, snapshot.Date.Format(dateLayout), ErrSnapshotExists)
		}
		return fmt.Errorf("failed to create PIT file %s: %w", filePath, err)
	}
	defer file.Close()

	gzWriter := gzip.NewWriter(file)
	encoder := json.NewEncoder(gzWriter)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(snapshot); err != nil {
		gzWriter.Close()
		os.Remove(filePath)
		return fmt.Errorf("failed to encode PIT snapshot: %w", err)
	}
	if err := gzWriter.Close(); err != nil {
		os.Remove(filePath)
		return fmt.Errorf("failed to flush PIT snapshot: %w", err)
	}

	log.Debug().Str("source", snapshot.Source).Str("date", snapshot.Date.Format(dateLayout)).
		Int("symbols", len(snapshot.Symbols)).Msg("PIT snapshot stored")
	return nil
}

// Get retrieves the snapshot for an exact date and source
func (s *Store) Get(ctx context.Context, date time.Time, source string) (*interfaces.UniverseSnapshot, error) {
	filePath, err := s.path(date, source)
	if err != nil {
		return nil, err
	}
	file, err := os.Open(filePath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%s %s: %w", source, Day(date).Format(dateLayout), ErrSnapshotNotFound)
		}
		return nil, fmt.Errorf("failed to open PIT snapshot: %w", err)
	}
	defer file.Close()

	gzReader, err := gzip.NewReader(file)
	if err != nil {
		return nil, fmt.Errorf("failed to create gzip reader: %w", err)
	}
	defer gzReader.Close()

	var snapshot interfaces.UniverseSnapshot
	if err := json.NewDecoder(gzReader).Decode(&snapshot); err != nil {
		return nil, fmt.Errorf("failed to decode PIT snapshot: %w", err)
	}
	return &snapshot, nil
}

// GetNearest finds the snapshot closest to target within maxDays
func (s *Store) GetNearest(ctx context.Context, target time.Time, source string, maxDays int) (*interfaces.UniverseSnapshot, error) {
	return GetNearest(ctx, s, target, source, maxDays)
}

// Dates lists the snapshot dates stored for a source in ascending order
func (s *Store) Dates(source string) ([]time.Time, error) {
	if err := validSource(source); err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(filepath.Join(s.baseDir, source))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return []time.Time{}, nil
		}
		return nil, fmt.Errorf("failed to read PIT source directory: %w", err)
	}

	dates := make([]time.Time, 0, len(entries))
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, ".json.gz") {
			continue
		}
		date, err := time.Parse(dateLayout, strings.TrimSuffix(name, ".json.gz"))
		if err != nil {
			log.Warn().Str("file", name).Err(err).Msg("Failed to parse PIT date")
			continue
		}
		dates = append(dates, date)
	}
	sort.Slice(dates, func(i, j int) bool { return dates[i].Before(dates[j]) })
	return dates, nil
}

// SearchOffsets returns the day offsets searched around a target date: 0, +1, -1, +2, -2, ...
func SearchOffsets(maxDays int) []int {
	offsets := []int{0}
	for d := 1; d <= maxDays; d++ {
		offsets = append(offsets, d, -d)
	}
	return offsets
}

// GetNearest searches outward from target so weekend and holiday gaps still resolve to a snapshot.
// A non-positive maxDays uses DefaultMaxDays.
func GetNearest(ctx context.Context, store interfaces.UniverseStore, target time.Time, source string, maxDays int) (*interfaces.UniverseSnapshot, error) {
	if maxDays <= 0 {
		maxDays = DefaultMaxDays
	}
	day := Day(target)

	for _, offset := range SearchOffsets(maxDays) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		snapshot, err := store.Get(ctx, day.AddDate(0, 0, offset), source)
		if err == nil {
			if offset != 0 {
				log.Debug().Str("source", source).Str("target", day.Format(dateLayout)).
					Int("offset_days", offset).Msg("Using nearest PIT snapshot")
			}
			return snapshot, nil
		}
		if !errors.Is(err, ErrSnapshotNotFound) {
			return nil, err
		}
	}

	return nil, fmt.Errorf("%s within %d days of %s: %w", source, maxDays, day.Format(dateLayout), ErrSnapshotNotFound)
}
