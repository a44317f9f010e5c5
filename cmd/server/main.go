package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/korjavin/productinsight/internal/api"
	"github.com/korjavin/productinsight/internal/config"
	"github.com/korjavin/productinsight/internal/history"
	"github.com/korjavin/productinsight/internal/inference"
	"github.com/korjavin/productinsight/internal/metrics"
	"github.com/korjavin/productinsight/internal/middleware"
	"github.com/korjavin/productinsight/internal/ocr"
	"github.com/korjavin/productinsight/internal/scoring"
	"github.com/korjavin/productinsight/internal/search"
	"github.com/korjavin/productinsight/internal/store"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	cfg, err := config.Load(os.Getenv)
	if err != nil {
		slog.Error("invalid configuration", "error", err)
		os.Exit(1)
	}
	if len(cfg.APIKeys) == 0 {
		slog.Warn("API_KEYS not set, all requests will be accepted without authentication")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	manifest, err := store.ReadManifest(cfg.DataDir)
	if err != nil {
		slog.Warn("manifest not found or unreadable", "error", err)
		manifest = nil
	} else {
		slog.Info("manifest loaded",
			"schema_version", manifest.SchemaVersion,
			"record_count", manifest.RecordCount,
			"build_time", manifest.BuildTime,
		)
	}

	if err := os.MkdirAll(cfg.ScanDir, 0o755); err != nil {
		slog.Error("failed to create scan dir", "dir", cfg.ScanDir, "error", err)
		os.Exit(1)
	}
	hist, err := history.Open(filepath.Join(cfg.ScanDir, "scans.db"))
	if err != nil {
		slog.Error("failed to open scan history", "error", err)
		os.Exit(1)
	}
	defer hist.Close()

	images, err := store.Open(cfg.ScanDir)
	if err != nil {
		slog.Error("failed to open image store", "error", err)
		os.Exit(1)
	}
	defer images.Close()

	reg := metrics.NewRegistry()
	rt := inference.NewRuntime()
	defer rt.Close()

	var index atomic.Pointer[search.Index]
	defer func() {
		if idx := index.Load(); idx != nil {
			idx.Close()
		}
	}()

	svc := scoring.NewService(func(ctx context.Context) (*scoring.Pipeline, error) {
		p, err := scoring.Open(ctx, scoring.Source{
			TablePath: cfg.TablePath(),
			Model: inference.Config{
				Path:       cfg.ModelPath,
				ORTLibrary: cfg.ORTLibrary,
			},
		}, rt, logger,
			scoring.WithWorkers(cfg.InferenceWorkers),
			scoring.WithMetrics(reg),
		)
		if err != nil {
			return nil, err
		}
		index.Store(openIndex(cfg.DataDir, p))
		return p, nil
	})
	svc.Start(ctx)

	var recognizer ocr.Recognizer
	if cfg.OCRURL != "" {
		recognizer = ocr.NewHTTPRecognizer(cfg.OCRURL, cfg.OCRRPS, nil)
	} else {
		slog.Warn("OCR_URL not set, image analysis will score an empty label")
	}

	h := &api.Handler{
		Scoring:  svc,
		Index:    index.Load,
		OCR:      recognizer,
		History:  hist,
		Images:   images,
		Manifest: manifest,
		Metrics:  reg,
		Logger:   logger,
	}
	mux := http.NewServeMux()
	api.RegisterRoutes(mux, cfg.APIKeys, h)

	// Middleware chain (outer to inner): Logging → CORS → RateLimit → mux
	handler := middleware.Chain(
		mux,
		middleware.Logging(logger),
		middleware.CORS(cfg.CORSOrigins),
		middleware.RateLimit(ctx, cfg.RateLimitRPS, cfg.RateLimitBurst),
	)

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      handler,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		slog.Info("server starting", "port", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("server failed", "error", err)
			os.Exit(1)
		}
	}()

	<-ctx.Done()

	slog.Info("shutting down server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server forced to shutdown", "error", err)
	}

	slog.Info("server exited")
}

// openIndex opens the importer-built index, rebuilding it in memory when it
// is missing or out of step with the table.
func openIndex(dataDir string, p *scoring.Pipeline) *search.Index {
	idx, err := search.Open(filepath.Join(dataDir, store.IndexDir), p.Table())
	if err == nil {
		return idx
	}
	slog.Warn("search index unusable, building in memory", "error", err)
	idx, err = search.NewMemOnly(p.Table())
	if err != nil {
		slog.Error("search index build failed", "error", err)
		return nil
	}
	return idx
}
