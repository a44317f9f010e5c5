package api

import (
	"net/http"

	"github.com/korjavin/productinsight/internal/auth"
	"github.com/korjavin/productinsight/internal/metrics"
)

// RegisterRoutes registers all HTTP routes on the given mux.
func RegisterRoutes(mux *http.ServeMux, apiKeys []string, h *Handler) {
	h.searchHist = h.Metrics.Register("search", metrics.BucketsSearch)
	protected := auth.APIKeyMiddleware(apiKeys)
	handle := func(pattern string, fn http.HandlerFunc) {
		mux.Handle(pattern, protected(fn))
	}

	// Public
	mux.HandleFunc("GET /health", h.Health)
	mux.HandleFunc("GET /metrics", h.MetricsReport)

	// Protected: X-API-Key header or api_key query param
	handle("POST /api/v1/score", h.Score)
	handle("POST /api/v1/score/text", h.ScoreText)
	handle("GET /api/v1/ingredients/search", h.SearchIngredients)
	handle("POST /api/v1/scans/analyze", h.AnalyzeScan)
	handle("POST /api/v1/scans", h.SaveScan)
	handle("GET /api/v1/scans", h.ListScans)
	handle("GET /api/v1/scans/{id}/images/{kind}", h.ScanImage)
	handle("DELETE /api/v1/scans/{id}", h.DeleteScan)
}
