// Package importer turns a raw nutrient dataset into a data directory the
// server can load: the cleaned reference table, its search index and a
// manifest.
package importer

import (
	"compress/gzip"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/korjavin/productinsight/internal/nutrient"
	"github.com/korjavin/productinsight/internal/search"
	"github.com/korjavin/productinsight/internal/store"
)

// Import reads the dataset at srcPath (CSV, optionally gzip-compressed),
// drops unusable and implausible rows, and writes the table, a fresh Bleve
// index and manifest.json into outputDir. An existing index is replaced.
func Import(srcPath, outputDir string, verbose bool) (*store.Manifest, error) {
	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		return nil, fmt.Errorf("create output dir: %w", err)
	}

	r, err := openSource(srcPath)
	if err != nil {
		return nil, err
	}
	defer r.Close()

	start := time.Now()
	loaded, report, err := nutrient.Load(r)
	if err != nil {
		return nil, fmt.Errorf("load dataset: %w", err)
	}

	skipReasons := report.SkipReasons
	if skipReasons == nil {
		skipReasons = make(map[string]int64)
	}
	skipped := int64(report.Skipped)
	records := make([]nutrient.Record, 0, loaded.Len())
	for _, rec := range loaded.Records() {
		if reason := checkRecord(rec); reason != "" {
			skipped++
			skipReasons[reason]++
			if verbose {
				slog.Debug("skipping implausible record", "name", rec.Name, "reason", reason)
			}
			continue
		}
		records = append(records, rec)
	}
	table, err := nutrient.NewTable(records)
	if err != nil {
		return nil, fmt.Errorf("all rows rejected: %w", err)
	}
	if verbose {
		slog.Info("dataset parsed",
			"rows", report.Rows,
			"records", table.Len(),
			"skipped", skipped,
			"elapsed", time.Since(start).Round(time.Millisecond),
		)
	}

	if err := writeTable(filepath.Join(outputDir, store.TableFile), table.Records()); err != nil {
		return nil, err
	}

	indexPath := filepath.Join(outputDir, store.IndexDir)
	if err := os.RemoveAll(indexPath); err != nil {
		return nil, fmt.Errorf("remove old index: %w", err)
	}
	idx, err := search.Create(indexPath, table)
	if err != nil {
		return nil, err
	}
	indexed, err := idx.DocCount()
	if cerr := idx.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return nil, fmt.Errorf("finish index: %w", err)
	}

	m := &store.Manifest{
		BuildTime:      time.Now().UTC(),
		Source:         srcPath,
		RowCount:       int64(report.Rows),
		RecordCount:    int64(table.Len()),
		IndexedCount:   int64(indexed),
		SkippedCount:   skipped,
		DuplicateCount: int64(report.Duplicates),
		SchemaVersion:  store.SchemaVersion,
		SkipReasons:    skipReasons,
	}
	if err := store.WriteManifest(outputDir, m); err != nil {
		return nil, fmt.Errorf("write manifest: %w", err)
	}
	return m, nil
}

type gzipFile struct {
	*gzip.Reader
	f *os.File
}

func (g gzipFile) Close() error {
	return errors.Join(g.Reader.Close(), g.f.Close())
}

func openSource(path string) (io.ReadCloser, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open dataset: %w", err)
	}
	if !strings.HasSuffix(path, ".gz") {
		return f, nil
	}
	gz, err := gzip.NewReader(f)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("open gzip reader: %w", err)
	}
	return gzipFile{Reader: gz, f: f}, nil
}

// writeTable replaces path atomically.
func writeTable(path string, records []nutrient.Record) error {
	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("create table: %w", err)
	}
	if err := nutrient.WriteCSV(f, records); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("write table: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("close table: %w", err)
	}
	return os.Rename(tmp, path)
}
