package onnxruntime

import (
	"context"
	"fmt"

	"github.com/amikos-tech/onnx-predictor/ort"
)

// InitializeWithBootstrap resolves the shared library with
// ort.EnsureSharedLibrary, downloading it when allowed, and initializes the
// environment from it. It returns the library path that was loaded.
func InitializeWithBootstrap(ctx context.Context, opts ...ort.BootstrapOption) (string, error) {
	path, err := ort.EnsureSharedLibrary(ctx, opts...)
	if err != nil {
		return "", fmt.Errorf("failed to resolve onnxruntime library: %w", err)
	}
	if err := Initialize(path); err != nil {
		return "", err
	}
	return path, nil
}
