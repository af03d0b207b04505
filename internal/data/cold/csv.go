// Package cold reads historical candle files for import into the reproducibility cache.
package cold

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/point10890-crypto/closing-bet-sub002/internal/data/interfaces"
)

var requiredColumns = []string{"timestamp", "open", "high", "low", "close", "volume"}

// CSVReader parses OHLCV candles from CSV files
type CSVReader struct {
	dateFormats []string // Support multiple date formats
	strict      bool
}

// NewCSVReader creates a reader that skips malformed rows
func NewCSVReader() *CSVReader {
	return &CSVReader{
		dateFormats: []string{
			time.RFC3339,
			"2006-01-02 15:04:05",
			"2006-01-02T15:04:05Z",
			"2006-01-02",
		},
	}
}

// Strict makes malformed rows fail the whole read
func (r *CSVReader) Strict() *CSVReader {
	r.strict = true
	return r
}

// LoadFile reads a candle file. Files ending in .json hold a JSON array of candles; anything else is CSV.
func (r *CSVReader) LoadFile(filePath string) (interfaces.Series, error) {
	file, err := os.Open(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open candle file: %w", err)
	}
	defer file.Close()

	if strings.EqualFold(filepath.Ext(filePath), ".json") {
		var series interfaces.Series
		if err := json.NewDecoder(file).Decode(&series); err != nil {
			return nil, fmt.Errorf("failed to decode %s: %w", filePath, err)
		}
		return finish(series)
	}
	return r.Read(file)
}

// Read parses CSV candles with a header row. Rows are sorted by timestamp and must not repeat one.
func (r *CSVReader) Read(in io.Reader) (interfaces.Series, error) {
	csvReader := csv.NewReader(in)
	csvReader.TrimLeadingSpace = true

	header, err := csvReader.Read()
	if err != nil {
		return nil, fmt.Errorf("failed to read CSV header: %w", err)
	}

	columnMap := r.mapColumns(header)
	for _, col := range requiredColumns {
		if _, ok := columnMap[col]; !ok {
			return nil, fmt.Errorf("CSV missing required %q column", col)
		}
	}

	var series interfaces.Series
	line := 1
	for {
		record, err := csvReader.Read()
		if err == io.EOF {
			break
		}
		line++
		if err != nil {
			return nil, fmt.Errorf("failed to read CSV row %d: %w", line, err)
		}

		candle, err := r.parseRecord(record, columnMap)
		if err != nil {
			if r.strict {
				return nil, fmt.Errorf("row %d: %w", line, err)
			}
			log.Warn().Int("row", line).Err(err).Msg("Skipping malformed candle row")
			continue
		}
		series = append(series, candle)
	}

	return finish(series)
}

func finish(series interfaces.Series) (interfaces.Series, error) {
	sort.SliceStable(series, func(i, j int) bool { return series[i].Timestamp.Before(series[j].Timestamp) })
	if err := series.Validate(); err != nil {
		return nil, err
	}
	return series, nil
}

// mapColumns creates a mapping from column names to indices
func (r *CSVReader) mapColumns(header []string) map[string]int {
	columnMap := make(map[string]int)
	for i, column := range header {
		columnMap[r.normalizeColumnName(column)] = i
	}
	return columnMap
}

// normalizeColumnName converts common vendor column names to the standard ones
func (r *CSVReader) normalizeColumnName(column string) string {
	column = strings.ToLower(strings.TrimSpace(column))
	switch column {
	case "ts", "time", "date", "datetime", "timestamp_utc":
		return "timestamp"
	case "o":
		return "open"
	case "h":
		return "high"
	case "l":
		return "low"
	case "c", "adj_close":
		return "close"
	case "v", "vol", "base_volume":
		return "volume"
	default:
		return column
	}
}

func (r *CSVReader) parseRecord(record []string, columnMap map[string]int) (interfaces.Candle, error) {
	field := func(name string) (string, error) {
		idx := columnMap[name]
		if idx >= len(record) {
			return "", fmt.Errorf("%s column out of range", name)
		}
		return strings.TrimSpace(record[idx]), nil
	}

	raw, err := field("timestamp")
	if err != nil {
		return interfaces.Candle{}, err
	}
	ts, err := r.parseTimestamp(raw)
	if err != nil {
		return interfaces.Candle{}, err
	}

	values := make([]float64, 0, 5)
	for _, name := range requiredColumns[1:] {
		raw, err := field(name)
		if err != nil {
			return interfaces.Candle{}, err
		}
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return interfaces.Candle{}, fmt.Errorf("invalid %s %q: %w", name, raw, err)
		}
		values = append(values, v)
	}

	return interfaces.Candle{
		Timestamp: ts,
		Open:      values[0],
		High:      values[1],
		Low:       values[2],
		Close:     values[3],
		Volume:    values[4],
	}, nil
}

// parseTimestamp handles multiple timestamp formats, returned in UTC
func (r *CSVReader) parseTimestamp(timestampStr string) (time.Time, error) {
	for _, format := range r.dateFormats {
		if t, err := time.Parse(format, timestampStr); err == nil {
			return t.UTC(), nil
		}
	}

	if unixTime, err := strconv.ParseInt(timestampStr, 10, 64); err == nil {
		if unixTime > 1e12 { // Milliseconds
			return time.UnixMilli(unixTime).UTC(), nil
		}
		return time.Unix(unixTime, 0).UTC(), nil
	}

	return time.Time{}, fmt.Errorf("failed to parse timestamp: %s", timestampStr)
}
