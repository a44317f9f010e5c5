package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/korjavin/productinsight/internal/history"
	"github.com/korjavin/productinsight/internal/inference"
	"github.com/korjavin/productinsight/internal/metrics"
	"github.com/korjavin/productinsight/internal/nutrient"
	"github.com/korjavin/productinsight/internal/ocr"
	"github.com/korjavin/productinsight/internal/scoring"
	"github.com/korjavin/productinsight/internal/search"
	"github.com/korjavin/productinsight/internal/store"
)

const testKey = "test-key"

var pngBytes = []byte("\x89PNG\r\n\x1a\n fake image body")

type env struct {
	srv     *httptest.Server
	handler *Handler
}

func newEnv(t *testing.T, model inference.Model, rec ocr.Recognizer) *env {
	t.Helper()

	table, err := nutrient.NewTable([]nutrient.Record{
		{Name: "Water"},
		{Name: "Sugar", BaselineScore: 0.3, HasBaseline: true},
		{Name: "Oil, palm", Carcinogenic: true},
	})
	require.NoError(t, err)

	p, err := scoring.New(table, model)
	require.NoError(t, err)
	svc := scoring.NewService(func(context.Context) (*scoring.Pipeline, error) { return p, nil })

	idx, err := search.NewMemOnly(table)
	require.NoError(t, err)
	t.Cleanup(func() { idx.Close() })

	hist, err := history.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { hist.Close() })

	images, err := store.Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { images.Close() })

	h := &Handler{
		Scoring: svc,
		Index:   func() *search.Index { return idx },
		OCR:     rec,
		History: hist,
		Images:  images,
		Metrics: metrics.NewRegistry(),
	}
	mux := http.NewServeMux()
	RegisterRoutes(mux, []string{testKey}, h)
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return &env{srv: srv, handler: h}
}

func constModel(v float64) inference.Model {
	return inference.Func(func(context.Context, []float64) (float64, error) { return v, nil })
}

func (e *env) do(t *testing.T, method, path, contentType string, body io.Reader) *http.Response {
	t.Helper()
	req, err := http.NewRequest(method, e.srv.URL+path, body)
	require.NoError(t, err)
	req.Header.Set("X-API-Key", testKey)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	resp, err := e.srv.Client().Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decode(t *testing.T, resp *http.Response, v any) {
	t.Helper()
	require.NoError(t, json.NewDecoder(resp.Body).Decode(v))
}

func multipartBody(t *testing.T, files map[string][]byte, fields map[string]string) (string, *bytes.Buffer) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for name, data := range files {
		fw, err := mw.CreateFormFile(name, name+".png")
		require.NoError(t, err)
		_, err = fw.Write(data)
		require.NoError(t, err)
	}
	for k, v := range fields {
		require.NoError(t, mw.WriteField(k, v))
	}
	require.NoError(t, mw.Close())
	return mw.FormDataContentType(), &buf
}

func TestHealth(t *testing.T) {
	e := newEnv(t, constModel(0.5), nil)
	resp, err := http.Get(e.srv.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var body map[string]any
	decode(t, resp, &body)
	assert.Contains(t, []any{"initializing", "ok"}, body["status"])
}

func TestHealth_LoadError(t *testing.T) {
	e := newEnv(t, constModel(0.5), nil)
	e.handler.Scoring = scoring.NewService(func(context.Context) (*scoring.Pipeline, error) {
		return nil, errors.New("dataset missing")
	})
	_, _ = e.handler.Scoring.Pipeline(context.Background())

	resp, err := http.Get(e.srv.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	var body map[string]any
	decode(t, resp, &body)
	assert.Equal(t, "error", body["status"])
	assert.Contains(t, body["error"], "dataset missing")
}

func TestScore(t *testing.T) {
	e := newEnv(t, constModel(0.9), nil)
	resp := e.do(t, http.MethodPost, "/api/v1/score", "application/json",
		strings.NewReader(`{"ingredients":["water","palm oil","mystery"]}`))
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body struct {
		OverallHealthScore      float64
		Rank                    string
		RecognizedIngredients   []string
		UnrecognizedIngredients []string
		HarmfulFlags            struct{ Carcinogenic []string }
	}
	decode(t, resp, &body)
	assert.InDelta(t, 0.09, body.OverallHealthScore, 1e-9)
	assert.Equal(t, "E", body.Rank)
	assert.Equal(t, []string{"Water", "Oil, palm"}, body.RecognizedIngredients)
	assert.Equal(t, []string{"mystery"}, body.UnrecognizedIngredients)
	assert.Equal(t, []string{"palm oil"}, body.HarmfulFlags.Carcinogenic)
}

func TestScore_BadRequests(t *testing.T) {
	e := newEnv(t, constModel(0.9), nil)
	for _, body := range []string{`not json`, `{"ingredients":"water"}`, `{"unknown":1}`} {
		resp := e.do(t, http.MethodPost, "/api/v1/score", "application/json", strings.NewReader(body))
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode, body)
	}
}

func TestScore_Unauthorized(t *testing.T) {
	e := newEnv(t, constModel(0.9), nil)
	resp, err := http.Post(e.srv.URL+"/api/v1/score", "application/json", strings.NewReader(`{"ingredients":[]}`))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestScore_ErrorMapping(t *testing.T) {
	tests := []struct {
		name  string
		model inference.Model
		want  int
	}{
		{"inference failure", inference.Func(func(context.Context, []float64) (float64, error) {
			return 0, fmt.Errorf("%w: shape", inference.ErrInference)
		}), http.StatusBadGateway},
		{"plain model error", inference.Func(func(context.Context, []float64) (float64, error) {
			return 0, errors.New("bad tensor")
		}), http.StatusBadGateway},
		{"model not loaded", inference.NewRuntime(), http.StatusServiceUnavailable},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			e := newEnv(t, tc.model, nil)
			resp := e.do(t, http.MethodPost, "/api/v1/score", "application/json",
				strings.NewReader(`{"ingredients":["water"]}`))
			assert.Equal(t, tc.want, resp.StatusCode)
		})
	}
}

func TestScoreText(t *testing.T) {
	e := newEnv(t, constModel(0.7), nil)
	resp := e.do(t, http.MethodPost, "/api/v1/score/text", "application/json",
		strings.NewReader(`{"text":"Ingredients: Water, Sugar, Unknownite"}`))
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body struct {
		Ingredients             []string
		OverallHealthScore      float64
		Rank                    string
		UnrecognizedIngredients []string
	}
	decode(t, resp, &body)
	assert.Equal(t, []string{"water", "sugar", "unknownite"}, body.Ingredients)
	assert.InDelta(t, 0.7, body.OverallHealthScore, 1e-9)
	assert.Equal(t, "B", body.Rank)
	assert.Equal(t, []string{"unknownite"}, body.UnrecognizedIngredients)
}

func TestAnalyzeScan(t *testing.T) {
	e := newEnv(t, constModel(0.85), ocr.Static("INGREDIENTS: sugar, water"))
	ct, body := multipartBody(t, map[string][]byte{"ocr": pngBytes}, nil)
	resp := e.do(t, http.MethodPost, "/api/v1/scans/analyze", ct, body)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var out struct {
		Text        string
		Ingredients []string
		Rank        string
	}
	decode(t, resp, &out)
	assert.Equal(t, "INGREDIENTS: sugar, water", out.Text)
	assert.Equal(t, []string{"sugar", "water"}, out.Ingredients)
	assert.Equal(t, "A", out.Rank)
}

func TestAnalyzeScan_MissingImage(t *testing.T) {
	e := newEnv(t, constModel(0.85), ocr.Static(""))
	ct, body := multipartBody(t, nil, map[string]string{"rank": "A"})
	resp := e.do(t, http.MethodPost, "/api/v1/scans/analyze", ct, body)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestScanLifecycle(t *testing.T) {
	e := newEnv(t, constModel(0.5), nil)
	cover := append([]byte(nil), pngBytes...)
	label := []byte("\xff\xd8\xff\xe0 jpeg label")

	ct, body := multipartBody(t, map[string][]byte{"cover": cover, "ocr": label}, map[string]string{"rank": "C"})
	resp := e.do(t, http.MethodPost, "/api/v1/scans", ct, body)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var saved history.Scan
	decode(t, resp, &saved)
	assert.Equal(t, "C", saved.Rank)
	assert.True(t, store.ValidRef(saved.CoverImageRef))

	resp = e.do(t, http.MethodGet, "/api/v1/scans", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var list struct{ Scans []history.Scan }
	decode(t, resp, &list)
	require.Len(t, list.Scans, 1)
	assert.Equal(t, saved.ID, list.Scans[0].ID)

	resp = e.do(t, http.MethodGet, fmt.Sprintf("/api/v1/scans/%d/images/ocr", saved.ID), "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "image/jpeg", resp.Header.Get("Content-Type"))
	got, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, label, got)

	resp = e.do(t, http.MethodGet, fmt.Sprintf("/api/v1/scans/%d/images/thumbnail", saved.ID), "", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp = e.do(t, http.MethodDelete, fmt.Sprintf("/api/v1/scans/%d", saved.ID), "", nil)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	_, err = e.handler.Images.Get(saved.CoverImageRef)
	assert.ErrorIs(t, err, store.ErrNotFound)

	resp = e.do(t, http.MethodDelete, fmt.Sprintf("/api/v1/scans/%d", saved.ID), "", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	resp = e.do(t, http.MethodGet, "/api/v1/scans/abc/images/cover", "", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestSaveScan_Validation(t *testing.T) {
	e := newEnv(t, constModel(0.5), nil)

	ct, body := multipartBody(t, map[string][]byte{"cover": pngBytes, "ocr": pngBytes}, map[string]string{"rank": "Z"})
	resp := e.do(t, http.MethodPost, "/api/v1/scans", ct, body)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	ct, body = multipartBody(t, map[string][]byte{"cover": pngBytes}, map[string]string{"rank": "A"})
	resp = e.do(t, http.MethodPost, "/api/v1/scans", ct, body)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	big := bytes.Repeat([]byte{1}, maxImageSize+1)
	ct, body = multipartBody(t, map[string][]byte{"cover": big, "ocr": pngBytes}, map[string]string{"rank": "A"})
	resp = e.do(t, http.MethodPost, "/api/v1/scans", ct, body)
	assert.Equal(t, http.StatusRequestEntityTooLarge, resp.StatusCode)

	n, err := e.handler.Images.Count()
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestSearchIngredients(t *testing.T) {
	e := newEnv(t, constModel(0.5), nil)

	resp := e.do(t, http.MethodGet, "/api/v1/ingredients/search?q=sugr&limit=5", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var body struct{ Results []search.Hit }
	decode(t, resp, &body)
	require.NotEmpty(t, body.Results)
	assert.Equal(t, "Sugar", body.Results[0].Name)
	require.NotNil(t, body.Results[0].BaselineScore)
	assert.Equal(t, 0.3, *body.Results[0].BaselineScore)

	resp = e.do(t, http.MethodGet, "/api/v1/ingredients/search", "", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	report := e.handler.Metrics.Snapshot()
	assert.Equal(t, int64(1), report.Latency["search"].Total)
}

func TestMetricsEndpoint(t *testing.T) {
	e := newEnv(t, constModel(0.5), nil)
	e.handler.Metrics.Counter("match_exact").Add(3)

	resp, err := http.Get(e.srv.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	var rep metrics.Report
	decode(t, resp, &rep)
	assert.Equal(t, int64(3), rep.Counters["match_exact"])
}
