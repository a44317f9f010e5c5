package inference

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
)

// Config selects and locates the health model.
type Config struct {
	// Path is a .yaml/.yml MLP file or an .onnx export.
	Path string
	// ORTLibrary is the onnxruntime shared library, used for .onnx models.
	ORTLibrary string
	InputName  string
	OutputName string
}

// Open loads the model described by cfg. The file extension picks the
// runtime.
func Open(cfg Config) (Model, error) {
	switch strings.ToLower(filepath.Ext(cfg.Path)) {
	case ".yaml", ".yml":
		return LoadMLP(cfg.Path)
	case ".onnx":
		return OpenONNX(ONNXConfig{
			LibraryPath: cfg.ORTLibrary,
			ModelPath:   cfg.Path,
			InputName:   cfg.InputName,
			OutputName:  cfg.OutputName,
		})
	case "":
		return nil, fmt.Errorf("model path is empty")
	}
	return nil, fmt.Errorf("unsupported model format %q", filepath.Ext(cfg.Path))
}

// LoaderFor returns a Loader that opens cfg.
func LoaderFor(cfg Config) Loader {
	return func(context.Context) (Model, error) {
		return Open(cfg)
	}
}
