package predictor

import (
	"context"

	"github.com/amikos-tech/onnx-predictor/ort"
)

// TensorInfo describes a tensor a model declares. Symbolic dimensions are -1.
type TensorInfo struct {
	Name        string
	ElementType ort.TensorElementDataType
	Shape       ort.Shape
}

// Runtime parses serialized models. Implementations wrap a tensor runtime.
type Runtime interface {
	Parse(data []byte) (ParsedModel, error)
}

// ParsedModel is the runtime's immutable representation of a model. It must
// be safe to call NewEngine from several goroutines at once.
type ParsedModel interface {
	Inputs() []TensorInfo
	Outputs() []TensorInfo
	// NewEngine builds an execution engine bound to this model. Every call
	// returns a new engine owned exclusively by the caller.
	NewEngine(cfg EngineConfig) (Engine, error)
	Destroy() error
}

// EngineConfig configures a single engine build.
type EngineConfig struct {
	// Threads is the number of worker threads the engine may use.
	Threads int
	// BatchSize resolves a symbolic leading input dimension.
	BatchSize int
}

// Engine runs one model. Engines are not safe for concurrent use.
type Engine interface {
	// AllocateTensors must succeed before any other method is used.
	AllocateTensors() error
	// InputShape is the allocated shape of the first input.
	InputShape() ort.Shape
	// InputBuffer is the writable storage of the first input tensor.
	InputBuffer() []float32
	Invoke(ctx context.Context) error
	// Output returns the first output. The data aliases engine memory and is
	// only valid until Destroy.
	Output() (ort.Shape, []float32, error)
	Destroy() error
}
