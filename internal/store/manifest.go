package store

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// Data directory layout.
const (
	ManifestFile = "manifest.json"
	TableFile    = "nutrient_lookup.csv"
	IndexDir     = "index.bleve"
)

// SchemaVersion is bumped whenever the data directory layout changes.
const SchemaVersion = 1

// Manifest describes a data directory built by the importer.
type Manifest struct {
	BuildTime      time.Time        `json:"build_time"`
	Source         string           `json:"source"`
	RowCount       int64            `json:"row_count"`
	RecordCount    int64            `json:"record_count"`
	IndexedCount   int64            `json:"indexed_count"`
	SkippedCount   int64            `json:"skipped_count"`
	DuplicateCount int64            `json:"duplicate_count"`
	SchemaVersion  int              `json:"schema_version"`
	SkipReasons    map[string]int64 `json:"skip_reasons,omitempty"`
}

// ReadManifest loads dataDir/manifest.json.
func ReadManifest(dataDir string) (*Manifest, error) {
	data, err := os.ReadFile(filepath.Join(dataDir, ManifestFile))
	if err != nil {
		return nil, err
	}
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("decode manifest: %w", err)
	}
	if m.SchemaVersion != SchemaVersion {
		return &m, fmt.Errorf("manifest schema version %d, want %d", m.SchemaVersion, SchemaVersion)
	}
	return &m, nil
}

// WriteManifest writes m to dataDir/manifest.json via a temporary file so
// readers never see a partial manifest.
func WriteManifest(dataDir string, m *Manifest) error {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return err
	}
	tmp := filepath.Join(dataDir, ManifestFile+".tmp")
	if err := os.WriteFile(tmp, append(data, '\n'), 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, filepath.Join(dataDir, ManifestFile))
}
