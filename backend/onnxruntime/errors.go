// Package onnxruntime implements predictor.Runtime on top of the ONNX Runtime
// C API. It requires cgo; without cgo every entry point returns
// ErrCGORequired.
package onnxruntime

import "errors"

var (
	// ErrCGORequired is returned by every operation in builds without cgo.
	ErrCGORequired = errors.New("onnxruntime: cgo required but not available")
	// ErrNotInitialized is returned when a Runtime is created before Initialize.
	ErrNotInitialized = errors.New("onnxruntime: environment is not initialized")
)
