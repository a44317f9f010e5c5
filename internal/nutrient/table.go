package nutrient

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"strconv"
	"strings"
)

// ErrDataLoad reports that the reference dataset is missing, malformed or
// has no usable rows. It is fatal at startup.
var ErrDataLoad = errors.New("nutrient data load failed")

const (
	colName         = "shrt_desc"
	colBaseline     = "health_score"
	colCarcinogenic = "is_carcinogenic"
	colPreservative = "is_harmful_preservative"
)

// Table is the immutable nutrient reference table. It keeps the records in
// dataset order for the fallback scans and an index on the normalized name
// for exact lookups.
type Table struct {
	records []Record
	keys    []string
	index   map[string]int
}

// LoadReport summarises a successful load.
type LoadReport struct {
	Rows        int              `json:"rows"`
	Loaded      int              `json:"loaded"`
	Skipped     int              `json:"skipped"`
	Duplicates  int              `json:"duplicates"`
	SkipReasons map[string]int64 `json:"skip_reasons,omitempty"`
}

// NewTable builds a table from records already in memory. When two records
// normalize to the same key the first one keeps the index slot.
func NewTable(records []Record) (*Table, error) {
	if len(records) == 0 {
		return nil, fmt.Errorf("%w: no records", ErrDataLoad)
	}
	t := &Table{
		records: make([]Record, len(records)),
		keys:    make([]string, len(records)),
		index:   make(map[string]int, len(records)),
	}
	copy(t.records, records)
	for i, r := range t.records {
		key := Normalize(r.Name)
		t.keys[i] = key
		if _, dup := t.index[key]; dup || key == "" {
			continue
		}
		t.index[key] = i
	}
	return t, nil
}

// LoadFile opens path and loads it with Load.
func LoadFile(path string) (*Table, LoadReport, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, LoadReport{}, fmt.Errorf("%w: open dataset: %w", ErrDataLoad, err)
	}
	defer f.Close()
	return Load(f)
}

// Load parses a CSV dataset with a header row. Empty numeric cells read as
// zero; rows with no name or an unparseable number are skipped and counted.
func Load(r io.Reader) (*Table, LoadReport, error) {
	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if err != nil {
		return nil, LoadReport{}, fmt.Errorf("%w: read header: %w", ErrDataLoad, err)
	}
	cols, err := resolveColumns(header)
	if err != nil {
		return nil, LoadReport{}, err
	}

	report := LoadReport{SkipReasons: make(map[string]int64)}
	var records []Record
	seen := make(map[string]struct{})
	for {
		row, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, LoadReport{}, fmt.Errorf("%w: parse csv: %w", ErrDataLoad, err)
		}
		report.Rows++

		rec, reason := parseRow(row, cols)
		if reason != "" {
			report.Skipped++
			report.SkipReasons[reason]++
			continue
		}
		key := Normalize(rec.Name)
		if _, ok := seen[key]; ok {
			report.Duplicates++
		}
		seen[key] = struct{}{}
		records = append(records, rec)
	}

	if len(records) == 0 {
		return nil, report, fmt.Errorf("%w: no usable rows (%d read)", ErrDataLoad, report.Rows)
	}
	report.Loaded = len(records)

	t, err := NewTable(records)
	if err != nil {
		return nil, report, err
	}
	return t, report, nil
}

type columns struct {
	name         int
	features     [FeatureCount]int
	baseline     int
	carcinogenic int
	preservative int
}

func resolveColumns(header []string) (columns, error) {
	pos := make(map[string]int, len(header))
	for i, h := range header {
		pos[strings.ToLower(strings.TrimSpace(h))] = i
	}
	find := func(name string) (int, error) {
		i, ok := pos[name]
		if !ok {
			return 0, fmt.Errorf("%w: missing column %q", ErrDataLoad, name)
		}
		return i, nil
	}

	var c columns
	var err error
	if c.name, err = find(colName); err != nil {
		return c, err
	}
	for i, f := range FeatureNames {
		if c.features[i], err = find(f); err != nil {
			return c, err
		}
	}
	if c.carcinogenic, err = find(colCarcinogenic); err != nil {
		return c, err
	}
	if c.preservative, err = find(colPreservative); err != nil {
		return c, err
	}
	c.baseline = -1
	if i, ok := pos[colBaseline]; ok {
		c.baseline = i
	}
	return c, nil
}

// parseRow converts a CSV row. A non-empty reason means the row is unusable.
func parseRow(row []string, c columns) (Record, string) {
	cell := func(i int) string {
		if i < 0 || i >= len(row) {
			return ""
		}
		return strings.TrimSpace(row[i])
	}

	rec := Record{Name: cell(c.name)}
	if rec.Name == "" {
		return Record{}, "empty_name"
	}
	for i, col := range c.features {
		v, ok := parseNumber(cell(col))
		if !ok {
			return Record{}, "bad_number"
		}
		rec.Features[i] = v
	}
	rec.Carcinogenic = parseFlag(cell(c.carcinogenic))
	rec.HarmfulPreservative = parseFlag(cell(c.preservative))

	if s := cell(c.baseline); s != "" {
		v, ok := parseNumber(s)
		if !ok {
			return Record{}, "bad_health_score"
		}
		rec.BaselineScore = v
		rec.HasBaseline = true
	}
	return rec, ""
}

func parseNumber(s string) (float64, bool) {
	if s == "" {
		return 0, true
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, false
	}
	return v, true
}

func parseFlag(s string) bool {
	switch strings.ToLower(s) {
	case "true", "1", "yes":
		return true
	}
	return false
}

// Len returns the number of records.
func (t *Table) Len() int { return len(t.records) }

// Records returns the records in dataset order. The slice is shared; callers
// must not modify it.
func (t *Table) Records() []Record { return t.records }

// Record returns the record at position i in dataset order.
func (t *Table) Record(i int) Record { return t.records[i] }

// Lookup finds a record by an already normalized key.
func (t *Table) Lookup(key string) (Record, bool) {
	i, ok := t.index[key]
	if !ok {
		return Record{}, false
	}
	return t.records[i], true
}
