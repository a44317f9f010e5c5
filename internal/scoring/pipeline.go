// Package scoring turns a list of ingredient names into a health score: each
// name is matched against the nutrient reference table, matched records are
// standardized and scored by the model, and the aggregate is penalized for
// hazardous ingredients.
package scoring

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"runtime"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/korjavin/productinsight/internal/inference"
	"github.com/korjavin/productinsight/internal/metrics"
	"github.com/korjavin/productinsight/internal/nutrient"
	"github.com/korjavin/productinsight/internal/scaler"
)

// Penalty multipliers applied to the aggregate score, carcinogen first.
const (
	CarcinogenPenalty   = 0.1
	PreservativePenalty = 0.5
)

// Pipeline scores ingredient lists. It only reads the table and the model,
// so one Pipeline serves concurrent requests.
type Pipeline struct {
	table   *nutrient.Table
	model   inference.Model
	scaler  *scaler.Scaler
	workers int
	logger  *slog.Logger

	scoreHist    *metrics.Histogram
	inferHist    *metrics.Histogram
	stages       map[nutrient.Stage]*metrics.Counter
	unrecognized *metrics.Counter
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithWorkers bounds concurrent model calls per request. Values below 1 are
// ignored.
func WithWorkers(n int) Option {
	return func(p *Pipeline) {
		if n > 0 {
			p.workers = n
		}
	}
}

// WithLogger sets the logger; the default is slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(p *Pipeline) {
		if l != nil {
			p.logger = l
		}
	}
}

// WithScaler replaces the shipped standardization tables.
func WithScaler(s *scaler.Scaler) Option {
	return func(p *Pipeline) {
		if s != nil {
			p.scaler = s
		}
	}
}

// WithMetrics records request latency, model latency and match outcomes in
// reg.
func WithMetrics(reg *metrics.Registry) Option {
	return func(p *Pipeline) {
		p.scoreHist = reg.Register("score", metrics.BucketsScore)
		p.inferHist = reg.Register("inference", metrics.BucketsScore)
		for _, s := range []nutrient.Stage{nutrient.StageExact, nutrient.StageSubstring, nutrient.StageToken} {
			p.stages[s] = reg.Counter("match_" + s.String())
		}
		p.unrecognized = reg.Counter("match_none")
	}
}

// New builds a Pipeline over a loaded table and an initialised model.
func New(table *nutrient.Table, model inference.Model, opts ...Option) (*Pipeline, error) {
	if table == nil {
		return nil, errors.New("scoring: nil table")
	}
	if model == nil {
		return nil, errors.New("scoring: nil model")
	}
	p := &Pipeline{
		table:   table,
		model:   model,
		scaler:  scaler.Default(),
		workers: runtime.GOMAXPROCS(0),
		logger:  slog.Default(),
		stages:  map[nutrient.Stage]*metrics.Counter{},
	}
	WithMetrics(nil)(p)
	for _, opt := range opts {
		opt(p)
	}
	if p.scaler.Dim() != nutrient.VectorLen {
		return nil, fmt.Errorf("%w: scaler expects %d features, records carry %d",
			scaler.ErrDimensionMismatch, p.scaler.Dim(), nutrient.VectorLen)
	}
	return p, nil
}

// Table returns the reference table the pipeline matches against.
func (p *Pipeline) Table() *nutrient.Table { return p.table }

// ComputeHealthScore scores names. Any scaler or model failure aborts the
// request; no partial result is returned.
func (p *Pipeline) ComputeHealthScore(ctx context.Context, names []string) (Result, error) {
	defer p.scoreHist.Since(time.Now())

	res := newResult()
	var matched []nutrient.Record
	for _, name := range names {
		rec, stage, ok := nutrient.Match(name, p.table)
		if !ok {
			p.unrecognized.Inc()
			res.UnrecognizedIngredients = append(res.UnrecognizedIngredients, name)
			continue
		}
		p.stages[stage].Inc()
		matched = append(matched, rec)
		res.RecognizedIngredients = append(res.RecognizedIngredients, rec.Name)
		if rec.Carcinogenic {
			res.HarmfulFlags.Carcinogenic = append(res.HarmfulFlags.Carcinogenic, name)
		}
		if rec.HarmfulPreservative {
			res.HarmfulFlags.Preservative = append(res.HarmfulFlags.Preservative, name)
		}
	}

	if len(matched) == 0 {
		p.logger.Debug("no ingredients recognized", "inputs", len(names))
		return res, nil
	}

	// The last vector is the element-wise sum of all matched records.
	vectors := make([][]float64, 0, len(matched)+1)
	total := make([]float64, nutrient.VectorLen)
	for _, rec := range matched {
		v := rec.Vector()
		for i, x := range v {
			total[i] += x
		}
		vectors = append(vectors, v)
	}
	vectors = append(vectors, total)

	scores, err := p.inferAll(ctx, vectors)
	if err != nil {
		return Result{}, err
	}

	for i, rec := range matched {
		res.IngredientScores = append(res.IngredientScores, IngredientScore{
			Name:  rec.Name,
			Score: clamp01(scores[i]),
		})
	}

	overall := scores[len(matched)]
	if len(res.HarmfulFlags.Carcinogenic) > 0 {
		overall *= CarcinogenPenalty
	}
	if len(res.HarmfulFlags.Preservative) > 0 {
		overall *= PreservativePenalty
	}
	res.OverallHealthScore = clamp01(overall)

	p.logger.Debug("scored ingredients",
		"inputs", len(names),
		"recognized", len(matched),
		"score", res.OverallHealthScore,
	)
	return res, nil
}

// inferAll scores every vector, calling the model once per distinct vector.
// Distinct vectors are scored concurrently up to p.workers at a time.
func (p *Pipeline) inferAll(ctx context.Context, vectors [][]float64) ([]float64, error) {
	slot := make([]int, len(vectors))
	seen := make(map[string]int, len(vectors))
	var distinct [][]float64
	for i, v := range vectors {
		k := vectorKey(v)
		j, ok := seen[k]
		if !ok {
			j = len(distinct)
			seen[k] = j
			distinct = append(distinct, v)
		}
		slot[i] = j
	}

	out := make([]float64, len(distinct))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.workers)
	for j, v := range distinct {
		g.Go(func() error {
			y, err := p.infer(gctx, v)
			if err != nil {
				return err
			}
			out[j] = y
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	scores := make([]float64, len(vectors))
	for i, j := range slot {
		scores[i] = out[j]
	}
	return scores, nil
}

func (p *Pipeline) infer(ctx context.Context, raw []float64) (float64, error) {
	scaled, err := p.scaler.Scale(raw)
	if err != nil {
		return 0, err
	}
	start := time.Now()
	y, err := p.model.Infer(ctx, scaled)
	p.inferHist.Since(start)
	switch {
	case err == nil:
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded),
		errors.Is(err, inference.ErrInference), errors.Is(err, inference.ErrModelUnavailable):
		return 0, err
	default:
		return 0, fmt.Errorf("%w: %w", inference.ErrInference, err)
	}
	if math.IsNaN(y) || math.IsInf(y, 0) {
		return 0, fmt.Errorf("%w: non-finite output %v", inference.ErrInference, y)
	}
	return y, nil
}

// vectorKey is an exact bitwise key for v.
func vectorKey(v []float64) string {
	b := make([]byte, 8*len(v))
	for i, x := range v {
		binary.LittleEndian.PutUint64(b[8*i:], math.Float64bits(x))
	}
	return string(b)
}

func clamp01(v float64) float64 {
	return math.Max(0, math.Min(1, v))
}
