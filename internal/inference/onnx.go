package inference

import (
	"context"
	"fmt"
	"sync"

	ort "github.com/yalue/onnxruntime_go"
)

// ONNXConfig locates an exported health model and the ONNX Runtime shared
// library.
type ONNXConfig struct {
	LibraryPath string
	ModelPath   string
	InputName   string
	OutputName  string
}

var (
	ortOnce sync.Once
	ortErr  error
)

func initORT(libraryPath string) error {
	ortOnce.Do(func() {
		if libraryPath != "" {
			ort.SetSharedLibraryPath(libraryPath)
		}
		if !ort.IsInitialized() {
			ortErr = ort.InitializeEnvironment()
		}
	})
	return ortErr
}

// ONNXModel runs a Dense(1) regressor exported to ONNX. The input tensor is
// [1, N] float32 and the output [1, 1] float32.
type ONNXModel struct {
	session *ort.DynamicAdvancedSession
}

// OpenONNX initialises the runtime environment (once per process) and
// creates a session for cfg.ModelPath.
func OpenONNX(cfg ONNXConfig) (*ONNXModel, error) {
	if cfg.InputName == "" {
		cfg.InputName = "input"
	}
	if cfg.OutputName == "" {
		cfg.OutputName = "output"
	}
	if err := initORT(cfg.LibraryPath); err != nil {
		return nil, fmt.Errorf("init onnxruntime: %w", err)
	}
	session, err := ort.NewDynamicAdvancedSession(cfg.ModelPath,
		[]string{cfg.InputName}, []string{cfg.OutputName}, nil)
	if err != nil {
		return nil, fmt.Errorf("create onnx session: %w", err)
	}
	return &ONNXModel{session: session}, nil
}

// Infer runs one forward pass.
func (m *ONNXModel) Infer(ctx context.Context, scaled []float64) (float64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	data := make([]float32, len(scaled))
	for i, v := range scaled {
		data[i] = float32(v)
	}
	input, err := ort.NewTensor(ort.NewShape(1, int64(len(data))), data)
	if err != nil {
		return 0, fmt.Errorf("%w: input tensor: %w", ErrInference, err)
	}
	defer input.Destroy()

	output, err := ort.NewEmptyTensor[float32](ort.NewShape(1, 1))
	if err != nil {
		return 0, fmt.Errorf("%w: output tensor: %w", ErrInference, err)
	}
	defer output.Destroy()

	if err := m.session.Run([]ort.Value{input}, []ort.Value{output}); err != nil {
		return 0, fmt.Errorf("%w: %w", ErrInference, err)
	}
	out := output.GetData()
	if len(out) != 1 {
		return 0, fmt.Errorf("%w: expected a single output, got %d", ErrInference, len(out))
	}
	return float64(out[0]), nil
}

// Close destroys the session.
func (m *ONNXModel) Close() error {
	return m.session.Destroy()
}
