// Package inference runs the pre-trained health model on scaled feature
// vectors. The model is an opaque scalar function behind Model; Runtime owns
// its one-time initialisation.
package inference

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"sync"
)

var (
	// ErrModelUnavailable is returned when inference is requested before the
	// model finished loading. Callers wait for initialisation and retry.
	ErrModelUnavailable = errors.New("scoring model not loaded")

	// ErrInference wraps failures of the model call itself, including
	// outputs of an unexpected shape.
	ErrInference = errors.New("inference failed")

	// ErrAlreadyLoaded is returned by a second Runtime.Load; mid-session
	// reloads are not supported.
	ErrAlreadyLoaded = errors.New("scoring model already loaded")
)

// Model maps a scaled feature vector to a scalar score. Implementations must
// be deterministic and safe for concurrent use.
type Model interface {
	Infer(ctx context.Context, scaled []float64) (float64, error)
}

// Loader produces a ready model.
type Loader func(ctx context.Context) (Model, error)

// Runtime holds the process-wide model handle.
type Runtime struct {
	mu      sync.RWMutex
	started bool
	model   Model
}

// NewRuntime returns an empty runtime; call Load before Infer.
func NewRuntime() *Runtime {
	return &Runtime{}
}

// Load runs load exactly once. A failed load is not retried.
func (r *Runtime) Load(ctx context.Context, load Loader) error {
	r.mu.Lock()
	if r.started {
		r.mu.Unlock()
		return ErrAlreadyLoaded
	}
	r.started = true
	r.mu.Unlock()

	m, err := load(ctx)
	if err != nil {
		return fmt.Errorf("load model: %w", err)
	}
	if m == nil {
		return fmt.Errorf("load model: loader returned no model")
	}

	r.mu.Lock()
	r.model = m
	r.mu.Unlock()
	return nil
}

// Ready reports whether a model is loaded.
func (r *Runtime) Ready() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.model != nil
}

// Infer delegates to the loaded model.
func (r *Runtime) Infer(ctx context.Context, scaled []float64) (float64, error) {
	r.mu.RLock()
	m := r.model
	r.mu.RUnlock()
	if m == nil {
		return 0, ErrModelUnavailable
	}

	y, err := m.Infer(ctx, scaled)
	switch {
	case err == nil:
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return 0, err
	case errors.Is(err, ErrInference):
		return 0, err
	default:
		return 0, fmt.Errorf("%w: %w", ErrInference, err)
	}
	if math.IsNaN(y) || math.IsInf(y, 0) {
		return 0, fmt.Errorf("%w: non-finite output %v", ErrInference, y)
	}
	return y, nil
}

// Close releases the model if it holds native resources.
func (r *Runtime) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if c, ok := r.model.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

// Func adapts a plain function to Model.
type Func func(ctx context.Context, scaled []float64) (float64, error)

// Infer calls f.
func (f Func) Infer(ctx context.Context, scaled []float64) (float64, error) {
	return f(ctx, scaled)
}
