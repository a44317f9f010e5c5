// Package search is the full-text index behind the ingredient search screen.
// Documents are the reference table's records, keyed by row position.
package search

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/simple"
	"github.com/blevesearch/bleve/v2/mapping"

	"github.com/korjavin/productinsight/internal/nutrient"
)

const (
	nameField = "name_folded"
	batchSize = 1000

	DefaultLimit = 20
	MaxLimit     = 100
)

type doc struct {
	NameFolded string `json:"name_folded"`
}

// Hit is one search result.
type Hit struct {
	Name                string   `json:"name"`
	Relevance           float64  `json:"relevance"`
	BaselineScore       *float64 `json:"baselineScore,omitempty"`
	Carcinogenic        bool     `json:"carcinogenic"`
	HarmfulPreservative bool     `json:"harmfulPreservative"`
}

// Index pairs a Bleve index with the table its documents point into.
type Index struct {
	idx   bleve.Index
	table *nutrient.Table
}

// Create builds a fresh on-disk index at path from t. path must not exist.
func Create(path string, t *nutrient.Table) (*Index, error) {
	idx, err := bleve.New(path, newMapping())
	if err != nil {
		return nil, fmt.Errorf("create bleve index: %w", err)
	}
	ix := &Index{idx: idx, table: t}
	if err := ix.build(); err != nil {
		_ = idx.Close()
		return nil, err
	}
	return ix, nil
}

// NewMemOnly builds an in-memory index from t.
func NewMemOnly(t *nutrient.Table) (*Index, error) {
	idx, err := bleve.NewMemOnly(newMapping())
	if err != nil {
		return nil, fmt.Errorf("create bleve index: %w", err)
	}
	ix := &Index{idx: idx, table: t}
	if err := ix.build(); err != nil {
		_ = idx.Close()
		return nil, err
	}
	return ix, nil
}

// Open opens an index built by Create and checks it covers t.
func Open(path string, t *nutrient.Table) (*Index, error) {
	idx, err := bleve.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open bleve index: %w", err)
	}
	n, err := idx.DocCount()
	if err != nil {
		_ = idx.Close()
		return nil, fmt.Errorf("bleve doc count: %w", err)
	}
	if want := indexable(t); int(n) != want {
		_ = idx.Close()
		return nil, fmt.Errorf("bleve index has %d documents, table has %d indexable records", n, want)
	}
	return &Index{idx: idx, table: t}, nil
}

// indexable counts the records build indexes: those whose name survives
// normalization.
func indexable(t *nutrient.Table) int {
	n := 0
	for _, rec := range t.Records() {
		if nutrient.Normalize(rec.Name) != "" {
			n++
		}
	}
	return n
}

func (ix *Index) build() error {
	b := ix.idx.NewBatch()
	for i, rec := range ix.table.Records() {
		name := nutrient.Normalize(rec.Name)
		if name == "" {
			continue
		}
		if err := b.Index(strconv.Itoa(i), doc{NameFolded: name}); err != nil {
			return fmt.Errorf("bleve batch index: %w", err)
		}
		if b.Size() >= batchSize {
			if err := ix.idx.Batch(b); err != nil {
				return fmt.Errorf("bleve batch commit: %w", err)
			}
			b = ix.idx.NewBatch()
		}
	}
	if b.Size() > 0 {
		if err := ix.idx.Batch(b); err != nil {
			return fmt.Errorf("bleve batch commit: %w", err)
		}
	}
	return nil
}

// DocCount returns the number of indexed records.
func (ix *Index) DocCount() (uint64, error) {
	return ix.idx.DocCount()
}

// Close releases the index.
func (ix *Index) Close() error {
	return ix.idx.Close()
}

// Search ranks records by name against q: exact phrase first, then prefix,
// then per-token fuzzy matches. limit is clamped to [1, MaxLimit].
func (ix *Index) Search(q string, limit int) ([]Hit, error) {
	if limit <= 0 {
		limit = DefaultLimit
	}
	if limit > MaxLimit {
		limit = MaxLimit
	}

	folded := nutrient.Normalize(q)
	if folded == "" {
		return []Hit{}, nil
	}

	boolQ := bleve.NewBooleanQuery()

	phraseQ := bleve.NewMatchPhraseQuery(folded)
	phraseQ.SetField(nameField)
	phraseQ.SetBoost(10)
	boolQ.AddShould(phraseQ)

	prefixQ := bleve.NewPrefixQuery(folded)
	prefixQ.SetField(nameField)
	prefixQ.SetBoost(5)
	boolQ.AddShould(prefixQ)

	// Short tokens fuzz into noise.
	for _, token := range strings.Fields(folded) {
		if len(token) < 4 {
			continue
		}
		fuzzyQ := bleve.NewFuzzyQuery(token)
		fuzzyQ.SetField(nameField)
		fuzzyQ.Fuzziness = 1
		if len(token) >= 8 {
			fuzzyQ.Fuzziness = 2
		}
		boolQ.AddShould(fuzzyQ)
	}

	res, err := ix.idx.Search(bleve.NewSearchRequestOptions(boolQ, limit, 0, false))
	if err != nil {
		return nil, fmt.Errorf("bleve search: %w", err)
	}

	hits := make([]Hit, 0, len(res.Hits))
	for _, h := range res.Hits {
		i, err := strconv.Atoi(h.ID)
		if err != nil || i < 0 || i >= ix.table.Len() {
			continue
		}
		rec := ix.table.Record(i)
		hit := Hit{
			Name:                rec.Name,
			Relevance:           h.Score,
			Carcinogenic:        rec.Carcinogenic,
			HarmfulPreservative: rec.HarmfulPreservative,
		}
		if rec.HasBaseline {
			score := rec.BaselineScore
			hit.BaselineScore = &score
		}
		hits = append(hits, hit)
	}
	return hits, nil
}

func newMapping() mapping.IndexMapping {
	im := bleve.NewIndexMapping()

	textField := bleve.NewTextFieldMapping()
	textField.Analyzer = simple.Name
	textField.Store = false

	docMapping := bleve.NewDocumentMapping()
	docMapping.AddFieldMappingsAt(nameField, textField)

	im.DefaultMapping = docMapping
	return im
}
