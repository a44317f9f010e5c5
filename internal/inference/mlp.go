package inference

import (
	"context"
	"fmt"
	"math"
	"os"

	"github.com/goccy/go-yaml"
)

// Layer is one dense layer: out = activation(W·in + b), W stored row-major
// as [outputs][inputs].
type Layer struct {
	Weights    [][]float64 `yaml:"weights"`
	Bias       []float64   `yaml:"bias"`
	Activation string      `yaml:"activation"`
}

// MLP is a small feed-forward network evaluated in-process. It is the
// serialized form of the health regressor when ONNX Runtime is not
// available.
type MLP struct {
	Name   string  `yaml:"name"`
	Layers []Layer `yaml:"layers"`
}

// LoadMLP reads and validates a YAML model file.
func LoadMLP(path string) (*MLP, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read model: %w", err)
	}
	return ParseMLP(data)
}

// ParseMLP decodes and validates a YAML model document.
func ParseMLP(data []byte) (*MLP, error) {
	var m MLP
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("decode model: %w", err)
	}
	if err := m.validate(); err != nil {
		return nil, err
	}
	return &m, nil
}

func (m *MLP) validate() error {
	if len(m.Layers) == 0 {
		return fmt.Errorf("model %q: no layers", m.Name)
	}
	prev := 0
	for i, l := range m.Layers {
		if len(l.Weights) == 0 {
			return fmt.Errorf("model %q layer %d: empty weights", m.Name, i)
		}
		in := len(l.Weights[0])
		if in == 0 {
			return fmt.Errorf("model %q layer %d: zero-width weights", m.Name, i)
		}
		for j, row := range l.Weights {
			if len(row) != in {
				return fmt.Errorf("model %q layer %d: row %d has %d weights, want %d", m.Name, i, j, len(row), in)
			}
		}
		if i > 0 && in != prev {
			return fmt.Errorf("model %q layer %d: takes %d inputs, previous layer emits %d", m.Name, i, in, prev)
		}
		if len(l.Bias) != len(l.Weights) {
			return fmt.Errorf("model %q layer %d: %d biases for %d outputs", m.Name, i, len(l.Bias), len(l.Weights))
		}
		if _, ok := activations[l.Activation]; !ok {
			return fmt.Errorf("model %q layer %d: unknown activation %q", m.Name, i, l.Activation)
		}
		prev = len(l.Weights)
	}
	if prev != 1 {
		return fmt.Errorf("model %q: output width %d, want 1", m.Name, prev)
	}
	return nil
}

// InputDim is the width of the first layer.
func (m *MLP) InputDim() int {
	return len(m.Layers[0].Weights[0])
}

// Infer evaluates the network.
func (m *MLP) Infer(ctx context.Context, scaled []float64) (float64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if len(scaled) != m.InputDim() {
		return 0, fmt.Errorf("%w: input width %d, model expects %d", ErrInference, len(scaled), m.InputDim())
	}

	x := scaled
	for _, l := range m.Layers {
		act := activations[l.Activation]
		out := make([]float64, len(l.Weights))
		for j, row := range l.Weights {
			sum := l.Bias[j]
			for k, w := range row {
				sum += w * x[k]
			}
			out[j] = act(sum)
		}
		x = out
	}
	return x[0], nil
}

var activations = map[string]func(float64) float64{
	"":        identity,
	"linear":  identity,
	"relu":    func(v float64) float64 { return math.Max(0, v) },
	"sigmoid": func(v float64) float64 { return 1 / (1 + math.Exp(-v)) },
	"tanh":    math.Tanh,
}

func identity(v float64) float64 { return v }
