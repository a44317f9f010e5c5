package scoring

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/korjavin/productinsight/internal/inference"
	"github.com/korjavin/productinsight/internal/nutrient"
)

// Status is the initialisation state reported by the health endpoint.
type Status string

const (
	StatusInitializing Status = "initializing"
	StatusOK           Status = "ok"
	StatusError        Status = "error"
)

// ErrNotReady wraps the cause when the pipeline failed to initialise.
var ErrNotReady = errors.New("scoring pipeline unavailable")

// Service owns the one-time construction of a Pipeline. Concurrent callers
// wait for the same load; a failed load is not retried.
type Service struct {
	load func(context.Context) (*Pipeline, error)

	once sync.Once
	done chan struct{}
	p    *Pipeline
	err  error
}

// NewService wraps load. Nothing runs until Start or Pipeline is called.
func NewService(load func(context.Context) (*Pipeline, error)) *Service {
	return &Service{load: load, done: make(chan struct{})}
}

// Start launches the load in the background. Later calls are no-ops.
// Cancelling ctx after the load finished has no effect.
func (s *Service) Start(ctx context.Context) {
	s.once.Do(func() {
		go func() {
			defer close(s.done)
			p, err := s.load(ctx)
			if err == nil && p == nil {
				err = errors.New("loader returned no pipeline")
			}
			if err != nil {
				s.err = fmt.Errorf("%w: %w", ErrNotReady, err)
				return
			}
			s.p = p
		}()
	})
}

// Pipeline blocks until initialisation completes or ctx is done. It starts
// the load if nobody has.
func (s *Service) Pipeline(ctx context.Context) (*Pipeline, error) {
	s.Start(context.WithoutCancel(ctx))
	select {
	case <-s.done:
		return s.p, s.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Status reports the state without blocking.
func (s *Service) Status() Status {
	select {
	case <-s.done:
		if s.err != nil {
			return StatusError
		}
		return StatusOK
	default:
		return StatusInitializing
	}
}

// Err returns the load failure, if any, once initialisation is over.
func (s *Service) Err() error {
	select {
	case <-s.done:
		return s.err
	default:
		return nil
	}
}

// Source names the files a Pipeline is built from.
type Source struct {
	TablePath string
	Model     inference.Config
}

// Open loads the reference table, loads the model into rt and builds a
// Pipeline over both. rt must be fresh.
func Open(ctx context.Context, src Source, rt *inference.Runtime, logger *slog.Logger, opts ...Option) (*Pipeline, error) {
	if logger == nil {
		logger = slog.Default()
	}
	start := time.Now()

	table, report, err := nutrient.LoadFile(src.TablePath)
	if err != nil {
		return nil, err
	}
	logger.Info("nutrient table loaded",
		"path", src.TablePath,
		"rows", report.Rows,
		"records", table.Len(),
		"skipped", report.Skipped,
		"duplicates", report.Duplicates,
	)

	if err := rt.Load(ctx, inference.LoaderFor(src.Model)); err != nil {
		return nil, err
	}
	logger.Info("scoring model loaded", "path", src.Model.Path)

	p, err := New(table, rt, append([]Option{WithLogger(logger)}, opts...)...)
	if err != nil {
		return nil, err
	}
	logger.Info("scoring pipeline ready", "elapsed", time.Since(start))
	return p, nil
}
