package macro

import (
	"context"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// FileSource reads a snapshot from a YAML or JSON file on every fetch
type FileSource struct {
	path string
}

// NewFileSource creates a source backed by path
func NewFileSource(path string) *FileSource {
	return &FileSource{path: path}
}

func (f *FileSource) Name() string { return "file:" + f.path }

type snapshotFile struct {
	Timestamp string             `yaml:"timestamp"`
	Source    string             `yaml:"source"`
	Values    map[string]float64 `yaml:"values"`
}

// Fetch parses the file. A missing timestamp falls back to the file modification time.
func (f *FileSource) Fetch(ctx context.Context) (*Snapshot, error) {
	data, err := os.ReadFile(f.path)
	if err != nil {
		return nil, fmt.Errorf("read macro snapshot: %w", err)
	}

	var raw snapshotFile
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse macro snapshot %s: %w", f.path, err)
	}

	snap := &Snapshot{Source: raw.Source, Values: raw.Values}
	if raw.Timestamp != "" {
		ts, err := time.Parse(time.RFC3339, raw.Timestamp)
		if err != nil {
			return nil, fmt.Errorf("parse macro snapshot timestamp %q: %w", raw.Timestamp, err)
		}
		snap.Timestamp = ts.UTC()
	} else if info, err := os.Stat(f.path); err == nil {
		snap.Timestamp = info.ModTime().UTC()
	}
	if snap.Source == "" {
		snap.Source = f.Name()
	}
	return snap, nil
}
