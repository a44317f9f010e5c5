package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/korjavin/productinsight/internal/history"
	"github.com/korjavin/productinsight/internal/inference"
	"github.com/korjavin/productinsight/internal/metrics"
	"github.com/korjavin/productinsight/internal/middleware"
	"github.com/korjavin/productinsight/internal/ocr"
	"github.com/korjavin/productinsight/internal/scaler"
	"github.com/korjavin/productinsight/internal/scoring"
	"github.com/korjavin/productinsight/internal/search"
	"github.com/korjavin/productinsight/internal/store"
	"github.com/korjavin/productinsight/internal/textparse"
)

const (
	maxJSONBody  = 1 << 20
	maxImageSize = 10 << 20
)

// Handler holds dependencies for HTTP handlers.
type Handler struct {
	Scoring  *scoring.Service
	Index    func() *search.Index
	OCR      ocr.Recognizer
	History  *history.Store
	Images   *store.BlobStore
	Manifest *store.Manifest
	Metrics  *metrics.Registry
	Logger   *slog.Logger

	searchHist *metrics.Histogram
}

func (h *Handler) logger(r *http.Request) *slog.Logger {
	l := h.Logger
	if l == nil {
		l = slog.Default()
	}
	return l.With("request_id", middleware.RequestID(r.Context()))
}

// Health reports initialisation state with manifest metadata.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	status := h.Scoring.Status()
	resp := map[string]any{"status": status}
	if err := h.Scoring.Err(); err != nil {
		resp["error"] = err.Error()
	}
	if h.Manifest != nil {
		resp["schema_version"] = h.Manifest.SchemaVersion
		resp["build_time"] = h.Manifest.BuildTime
		resp["record_count"] = h.Manifest.RecordCount
	}
	code := http.StatusOK
	if status == scoring.StatusError {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, resp)
}

// MetricsReport serves the latency and counter snapshot.
func (h *Handler) MetricsReport(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.Metrics.Snapshot())
}

type scoreResponse struct {
	scoring.Result
	Rank scoring.Rank `json:"rank"`
}

type scoreRequest struct {
	Ingredients []string `json:"ingredients"`
}

// Score scores an explicit ingredient list.
func (h *Handler) Score(w http.ResponseWriter, r *http.Request) {
	var req scoreRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	resp, ok := h.score(w, r, req.Ingredients)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

type textRequest struct {
	Text string `json:"text"`
}

type textResponse struct {
	Ingredients []string `json:"ingredients"`
	scoreResponse
}

// ScoreText parses label text and scores the ingredients found.
func (h *Handler) ScoreText(w http.ResponseWriter, r *http.Request) {
	var req textRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	names := textparse.Parse(req.Text)
	resp, ok := h.score(w, r, names)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, textResponse{Ingredients: names, scoreResponse: resp})
}

// score runs the pipeline and writes the error response itself on failure.
func (h *Handler) score(w http.ResponseWriter, r *http.Request, names []string) (scoreResponse, bool) {
	p, err := h.Scoring.Pipeline(r.Context())
	if err != nil {
		h.writeScoreError(w, r, err)
		return scoreResponse{}, false
	}
	res, err := p.ComputeHealthScore(r.Context(), names)
	if err != nil {
		h.writeScoreError(w, r, err)
		return scoreResponse{}, false
	}
	return scoreResponse{Result: res, Rank: scoring.RankFor(res.OverallHealthScore)}, true
}

func (h *Handler) writeScoreError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		writeError(w, http.StatusServiceUnavailable, "scoring timed out, try again")
	case errors.Is(err, scoring.ErrNotReady), errors.Is(err, inference.ErrModelUnavailable):
		h.logger(r).Warn("scoring unavailable", "error", err)
		writeError(w, http.StatusServiceUnavailable, "scoring is not available yet")
	case errors.Is(err, inference.ErrInference):
		h.logger(r).Error("inference failed", "error", err)
		writeError(w, http.StatusBadGateway, "scoring failed, try again")
	case errors.Is(err, scaler.ErrDimensionMismatch):
		h.logger(r).Error("scoring misconfigured", "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
	default:
		h.logger(r).Error("scoring failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
	}
}

// SearchIngredients looks up reference records by name.
func (h *Handler) SearchIngredients(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query().Get("q")
	if q == "" {
		writeError(w, http.StatusBadRequest, "missing query parameter 'q'")
		return
	}
	limit := queryInt(r, "limit", search.DefaultLimit)

	// The index is published together with the pipeline.
	if _, err := h.Scoring.Pipeline(r.Context()); err != nil {
		h.writeScoreError(w, r, err)
		return
	}
	idx := h.Index()
	if idx == nil {
		writeError(w, http.StatusServiceUnavailable, "search index unavailable")
		return
	}

	start := time.Now()
	hits, err := idx.Search(q, limit)
	h.searchHist.Since(start)
	if err != nil {
		h.logger(r).Error("search failed", "query", q, "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"results": hits})
}

func queryInt(r *http.Request, name string, def int) int {
	if s := r.URL.Query().Get(name); s != "" {
		if n, err := strconv.Atoi(s); err == nil && n >= 0 {
			return n
		}
	}
	return def
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxJSONBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
			return false
		}
		writeError(w, http.StatusBadRequest, "invalid JSON body: "+err.Error())
		return false
	}
	return true
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("failed to encode response", "error", err)
	}
}
