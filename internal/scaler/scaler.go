// Package scaler standardizes raw nutrient vectors with fixed per-feature
// statistics computed offline from the training corpus.
package scaler

import (
	"errors"
	"fmt"
)

// ErrDimensionMismatch reports a vector whose length disagrees with the
// constant tables. It signals drift between the dataset columns and the
// scaler configuration, not a recoverable runtime condition.
var ErrDimensionMismatch = errors.New("feature dimension mismatch")

// Scale returns (raw[i]-means[i])/scales[i] for every index.
func Scale(raw, means, scales []float64) ([]float64, error) {
	if len(raw) != len(means) || len(raw) != len(scales) {
		return nil, fmt.Errorf("%w: got %d features, means %d, scales %d",
			ErrDimensionMismatch, len(raw), len(means), len(scales))
	}
	out := make([]float64, len(raw))
	for i, v := range raw {
		out[i] = (v - means[i]) / scales[i]
	}
	return out, nil
}

// Scaler binds a pair of constant tables.
type Scaler struct {
	means  []float64
	scales []float64
}

// New validates the tables: equal, non-zero length and no zero scale.
func New(means, scales []float64) (*Scaler, error) {
	if len(means) == 0 || len(means) != len(scales) {
		return nil, fmt.Errorf("%w: means %d, scales %d", ErrDimensionMismatch, len(means), len(scales))
	}
	for i, s := range scales {
		if s == 0 {
			return nil, fmt.Errorf("scaler: zero scale at index %d", i)
		}
	}
	sc := &Scaler{
		means:  make([]float64, len(means)),
		scales: make([]float64, len(scales)),
	}
	copy(sc.means, means)
	copy(sc.scales, scales)
	return sc, nil
}

// Default returns the scaler shipped with the health model.
func Default() *Scaler {
	s, err := New(Means[:], Scales[:])
	if err != nil {
		panic(err)
	}
	return s
}

// Dim is the expected vector length.
func (s *Scaler) Dim() int { return len(s.means) }

// Scale standardizes raw against the bound tables.
func (s *Scaler) Scale(raw []float64) ([]float64, error) {
	return Scale(raw, s.means, s.scales)
}
