package scoring

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/korjavin/productinsight/internal/inference"
	"github.com/korjavin/productinsight/internal/metrics"
	"github.com/korjavin/productinsight/internal/nutrient"
	"github.com/korjavin/productinsight/internal/scaler"
	"github.com/korjavin/productinsight/internal/textparse"
)

func record(name string, water float64, carcinogenic, preservative bool) nutrient.Record {
	r := nutrient.Record{Name: name, Carcinogenic: carcinogenic, HarmfulPreservative: preservative}
	r.Features[0] = water
	return r
}

func testTable(t *testing.T) *nutrient.Table {
	t.Helper()
	table, err := nutrient.NewTable([]nutrient.Record{
		record("Water", 100, false, false),
		record("Sugar", 20, false, false),
		record("OIL,PALM", 40, true, false),
		record("Sodium benzoate", 60, false, true),
		record("Salt", 30, false, false),
	})
	require.NoError(t, err)
	return table
}

// identityScaler hands raw vectors to the model unchanged.
func identityScaler(t *testing.T) *scaler.Scaler {
	t.Helper()
	ones := make([]float64, nutrient.VectorLen)
	for i := range ones {
		ones[i] = 1
	}
	s, err := scaler.New(make([]float64, nutrient.VectorLen), ones)
	require.NoError(t, err)
	return s
}

// countingModel returns water_g/100 and counts calls.
type countingModel struct {
	calls atomic.Int64
}

func (m *countingModel) Infer(_ context.Context, v []float64) (float64, error) {
	m.calls.Add(1)
	return v[0] / 100, nil
}

func constModel(v float64) inference.Model {
	return inference.Func(func(context.Context, []float64) (float64, error) { return v, nil })
}

func newPipeline(t *testing.T, model inference.Model, opts ...Option) *Pipeline {
	t.Helper()
	p, err := New(testTable(t), model, append([]Option{WithScaler(identityScaler(t))}, opts...)...)
	require.NoError(t, err)
	return p
}

func TestComputeHealthScore_EmptyInput(t *testing.T) {
	m := &countingModel{}
	p := newPipeline(t, m)

	res, err := p.ComputeHealthScore(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, 0.0, res.OverallHealthScore)
	assert.Empty(t, res.IngredientScores)
	assert.Empty(t, res.RecognizedIngredients)
	assert.Empty(t, res.UnrecognizedIngredients)
	assert.Zero(t, m.calls.Load())

	body, err := json.Marshal(res)
	require.NoError(t, err)
	assert.JSONEq(t, `{
		"overallHealthScore": 0,
		"ingredientScores": [],
		"harmfulFlags": {"carcinogenic": [], "preservative": []},
		"unrecognizedIngredients": [],
		"recognizedIngredients": []
	}`, string(body))
}

func TestComputeHealthScore_AllUnmatched(t *testing.T) {
	m := &countingModel{}
	p := newPipeline(t, m)

	res, err := p.ComputeHealthScore(context.Background(), []string{"unobtainium", "", "xyzzy"})
	require.NoError(t, err)
	assert.Equal(t, 0.0, res.OverallHealthScore)
	assert.Equal(t, []string{"unobtainium", "", "xyzzy"}, res.UnrecognizedIngredients)
	assert.Empty(t, res.RecognizedIngredients)
	assert.Empty(t, res.IngredientScores)
	assert.Zero(t, m.calls.Load())
}

func TestComputeHealthScore_FromLabelText(t *testing.T) {
	p := newPipeline(t, constModel(0.7))

	names := textparse.Parse("Ingredients: Water, Sugar, Unknownite")
	res, err := p.ComputeHealthScore(context.Background(), names)
	require.NoError(t, err)

	assert.Equal(t, []string{"Water", "Sugar"}, res.RecognizedIngredients)
	assert.Equal(t, []string{"unknownite"}, res.UnrecognizedIngredients)
	assert.Equal(t, []IngredientScore{{"Water", 0.7}, {"Sugar", 0.7}}, res.IngredientScores)
	assert.InDelta(t, 0.7, res.OverallHealthScore, 1e-12)
	assert.Empty(t, res.HarmfulFlags.Carcinogenic)
	assert.Empty(t, res.HarmfulFlags.Preservative)
	assert.Equal(t, RankB, RankFor(res.OverallHealthScore))
}

func TestComputeHealthScore_ScoresKeepInputOrder(t *testing.T) {
	p := newPipeline(t, &countingModel{}, WithWorkers(4))

	res, err := p.ComputeHealthScore(context.Background(), []string{"sugar", "water", "salt"})
	require.NoError(t, err)
	assert.Equal(t, []IngredientScore{{"Sugar", 0.2}, {"Water", 1}, {"Salt", 0.3}}, res.IngredientScores)
	// (20+100+30)/100 clamps to 1.
	assert.Equal(t, 1.0, res.OverallHealthScore)
}

func TestComputeHealthScore_HazardPenalties(t *testing.T) {
	tests := []struct {
		name  string
		names []string
		want  float64
		carc  []string
		pres  []string
	}{
		{"clean", []string{"water"}, 0.8, nil, nil},
		{"carcinogen", []string{"water", "Palm Oil!"}, 0.08, []string{"Palm Oil!"}, nil},
		{"preservative", []string{"water", "sodium benzoate"}, 0.4, nil, []string{"sodium benzoate"}},
		{"both", []string{"Palm Oil!", "sodium benzoate"}, 0.04, []string{"Palm Oil!"}, []string{"sodium benzoate"}},
		{"repeated carcinogen penalised once", []string{"palm", "palm oil"}, 0.08, []string{"palm", "palm oil"}, nil},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			p := newPipeline(t, constModel(0.8))
			res, err := p.ComputeHealthScore(context.Background(), tc.names)
			require.NoError(t, err)
			assert.InDelta(t, tc.want, res.OverallHealthScore, 1e-12)
			if tc.carc == nil {
				tc.carc = []string{}
			}
			if tc.pres == nil {
				tc.pres = []string{}
			}
			assert.Equal(t, tc.carc, res.HarmfulFlags.Carcinogenic)
			assert.Equal(t, tc.pres, res.HarmfulFlags.Preservative)
		})
	}
}

func TestComputeHealthScore_CarcinogenNeverRaisesScore(t *testing.T) {
	for _, raw := range []float64{0, 0.05, 0.5, 0.99, 1, 4} {
		p := newPipeline(t, constModel(raw))
		clean, err := p.ComputeHealthScore(context.Background(), []string{"water", "salt"})
		require.NoError(t, err)
		flagged, err := p.ComputeHealthScore(context.Background(), []string{"water", "salt", "oil palm"})
		require.NoError(t, err)
		assert.LessOrEqual(t, flagged.OverallHealthScore, clean.OverallHealthScore, "raw %v", raw)
	}
}

func TestComputeHealthScore_Clamps(t *testing.T) {
	for _, tc := range []struct {
		raw, want float64
	}{
		{3.5, 1},
		{-2, 0},
		{0.25, 0.25},
	} {
		p := newPipeline(t, constModel(tc.raw))
		res, err := p.ComputeHealthScore(context.Background(), []string{"water", "sugar"})
		require.NoError(t, err)
		assert.Equal(t, tc.want, res.OverallHealthScore)
		for _, s := range res.IngredientScores {
			assert.GreaterOrEqual(t, s.Score, 0.0)
			assert.LessOrEqual(t, s.Score, 1.0)
		}
	}
}

func TestComputeHealthScore_Idempotent(t *testing.T) {
	p := newPipeline(t, &countingModel{}, WithWorkers(3))
	names := []string{"salt", "Palm Oil!", "unknownite", "water"}

	first, err := p.ComputeHealthScore(context.Background(), names)
	require.NoError(t, err)
	second, err := p.ComputeHealthScore(context.Background(), names)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestComputeHealthScore_InfersEachDistinctVectorOnce(t *testing.T) {
	tests := []struct {
		name  string
		names []string
		calls int64
	}{
		// The aggregate of a single ingredient is the ingredient itself.
		{"single", []string{"water"}, 1},
		{"repeated", []string{"sugar", "Sugar", "SUGAR"}, 2},
		{"distinct", []string{"water", "sugar"}, 3},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			m := &countingModel{}
			p := newPipeline(t, m)
			res, err := p.ComputeHealthScore(context.Background(), tc.names)
			require.NoError(t, err)
			assert.Len(t, res.IngredientScores, len(tc.names))
			assert.Equal(t, tc.calls, m.calls.Load())
		})
	}
}

func TestComputeHealthScore_WorkerLimit(t *testing.T) {
	var active, peak atomic.Int64
	model := inference.Func(func(context.Context, []float64) (float64, error) {
		n := active.Add(1)
		for {
			old := peak.Load()
			if n <= old || peak.CompareAndSwap(old, n) {
				break
			}
		}
		time.Sleep(5 * time.Millisecond)
		active.Add(-1)
		return 0.5, nil
	})
	p := newPipeline(t, model, WithWorkers(2))

	_, err := p.ComputeHealthScore(context.Background(), []string{"water", "sugar", "salt", "sodium benzoate"})
	require.NoError(t, err)
	assert.LessOrEqual(t, peak.Load(), int64(2))
}

func TestComputeHealthScore_ModelErrorAborts(t *testing.T) {
	rt := inference.NewRuntime()
	require.NoError(t, rt.Load(context.Background(), func(context.Context) (inference.Model, error) {
		return inference.Func(func(_ context.Context, v []float64) (float64, error) {
			if v[0] == 20 {
				return 0, errors.New("bad tensor")
			}
			return 0.5, nil
		}), nil
	}))
	p := newPipeline(t, rt)

	res, err := p.ComputeHealthScore(context.Background(), []string{"water", "sugar"})
	assert.ErrorIs(t, err, inference.ErrInference)
	assert.Equal(t, Result{}, res)
}

func TestComputeHealthScore_BareModelErrorIsInference(t *testing.T) {
	p := newPipeline(t, inference.Func(func(context.Context, []float64) (float64, error) {
		return 0, errors.New("bad tensor")
	}))

	_, err := p.ComputeHealthScore(context.Background(), []string{"water"})
	assert.ErrorIs(t, err, inference.ErrInference)
	assert.ErrorContains(t, err, "bad tensor")
}

func TestComputeHealthScore_CancelNotWrapped(t *testing.T) {
	p := newPipeline(t, inference.Func(func(context.Context, []float64) (float64, error) {
		return 0, context.Canceled
	}))

	_, err := p.ComputeHealthScore(context.Background(), []string{"water"})
	assert.ErrorIs(t, err, context.Canceled)
	assert.NotErrorIs(t, err, inference.ErrInference)
}

func TestComputeHealthScore_ModelNotLoaded(t *testing.T) {
	p := newPipeline(t, inference.NewRuntime())
	_, err := p.ComputeHealthScore(context.Background(), []string{"water"})
	assert.ErrorIs(t, err, inference.ErrModelUnavailable)
}

func TestComputeHealthScore_NonFiniteOutput(t *testing.T) {
	p := newPipeline(t, constModel(math.Inf(1)))
	_, err := p.ComputeHealthScore(context.Background(), []string{"water"})
	assert.ErrorIs(t, err, inference.ErrInference)
}

func TestComputeHealthScore_DefaultScaler(t *testing.T) {
	p, err := New(testTable(t), constModel(0.5))
	require.NoError(t, err)
	res, err := p.ComputeHealthScore(context.Background(), []string{"water"})
	require.NoError(t, err)
	assert.Equal(t, 0.5, res.OverallHealthScore)
}

func TestComputeHealthScore_Metrics(t *testing.T) {
	reg := metrics.NewRegistry()
	p := newPipeline(t, constModel(0.5), WithMetrics(reg))

	_, err := p.ComputeHealthScore(context.Background(), []string{"water", "sugars", "Palm Oil!", "nothing here"})
	require.NoError(t, err)

	rep := reg.Snapshot()
	assert.Equal(t, int64(1), rep.Counters["match_exact"])
	assert.Equal(t, int64(1), rep.Counters["match_substring"])
	assert.Equal(t, int64(1), rep.Counters["match_token"])
	assert.Equal(t, int64(1), rep.Counters["match_none"])
	assert.Equal(t, int64(1), rep.Latency["score"].Total)
	assert.Equal(t, int64(4), rep.Latency["inference"].Total)
}

func TestNew_Validation(t *testing.T) {
	table := testTable(t)

	_, err := New(nil, constModel(0))
	assert.Error(t, err)
	_, err = New(table, nil)
	assert.Error(t, err)

	narrow, err := scaler.New([]float64{0}, []float64{1})
	require.NoError(t, err)
	_, err = New(table, constModel(0), WithScaler(narrow))
	assert.ErrorIs(t, err, scaler.ErrDimensionMismatch)
}

func TestRankFor(t *testing.T) {
	tests := []struct {
		score float64
		want  Rank
	}{
		{1, RankA},
		{0.8, RankA},
		{0.7999, RankB},
		{0.6, RankB},
		{0.5999, RankC},
		{0.4, RankC},
		{0.3999, RankD},
		{0.2, RankD},
		{0.1999, RankE},
		{0, RankE},
		{math.NaN(), RankE},
	}
	for _, tc := range tests {
		assert.Equal(t, tc.want, RankFor(tc.score), "score %v", tc.score)
		assert.True(t, tc.want.Valid())
	}
	assert.False(t, Rank("F").Valid())
}

func TestComputeHealthScore_Concurrent(t *testing.T) {
	p := newPipeline(t, &countingModel{}, WithWorkers(2))
	want, err := p.ComputeHealthScore(context.Background(), []string{"water", "salt"})
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			got, err := p.ComputeHealthScore(context.Background(), []string{"water", "salt"})
			assert.NoError(t, err)
			assert.Equal(t, want, got)
		}()
	}
	wg.Wait()
}
