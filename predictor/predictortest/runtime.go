// Package predictortest provides an in-memory predictor.Runtime for tests.
package predictortest

import (
	"context"
	"errors"
	"sync"

	"github.com/amikos-tech/onnx-predictor/ort"
	"github.com/amikos-tech/onnx-predictor/predictor"
)

// ComputeFunc produces the output for one invocation.
type ComputeFunc func(input []float32, inputShape ort.Shape) (ort.Shape, []float32)

// Runtime is a fake predictor.Runtime. Its model declares one float input and
// one float output; engines resolve a symbolic leading dimension to the batch
// size. Fields may be set before the runtime is used.
type Runtime struct {
	InputShape  ort.Shape
	OutputShape ort.Shape

	// Compute defaults to doubling the input, tiled to the output size.
	Compute ComputeFunc

	ParseErr    error
	BuildErr    error
	AllocateErr error
	InvokeErr   error
	DestroyErr  error

	mu    sync.Mutex
	stats Stats
}

// Stats counts calls made against a Runtime.
type Stats struct {
	Parsed           int
	ModelsDestroyed  int
	EnginesBuilt     int
	EnginesDestroyed int
	Invocations      int
	LastThreads      int
	LastBatchSize    int
}

// New returns a runtime whose model has the given input and output shapes.
func New(input, output ort.Shape) *Runtime {
	return &Runtime{InputShape: input.Clone(), OutputShape: output.Clone()}
}

// Stats returns a snapshot of the call counters.
func (r *Runtime) Stats() Stats {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stats
}

func (r *Runtime) record(fn func(*Stats)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	fn(&r.stats)
}

func (r *Runtime) Parse(data []byte) (predictor.ParsedModel, error) {
	if r.ParseErr != nil {
		return nil, r.ParseErr
	}
	if len(data) == 0 {
		return nil, errors.New("model data is empty")
	}
	r.record(func(s *Stats) { s.Parsed++ })
	return &model{rt: r}, nil
}

type model struct {
	rt *Runtime
}

func (m *model) Inputs() []predictor.TensorInfo {
	return []predictor.TensorInfo{{Name: "input", ElementType: ort.TensorElementDataTypeFloat, Shape: m.rt.InputShape.Clone()}}
}

func (m *model) Outputs() []predictor.TensorInfo {
	return []predictor.TensorInfo{{Name: "output", ElementType: ort.TensorElementDataTypeFloat, Shape: m.rt.OutputShape.Clone()}}
}

func (m *model) NewEngine(cfg predictor.EngineConfig) (predictor.Engine, error) {
	if m.rt.BuildErr != nil {
		return nil, m.rt.BuildErr
	}
	m.rt.record(func(s *Stats) {
		s.EnginesBuilt++
		s.LastThreads = cfg.Threads
		s.LastBatchSize = cfg.BatchSize
	})
	return &engine{rt: m.rt, batch: int64(cfg.BatchSize)}, nil
}

func (m *model) Destroy() error {
	m.rt.record(func(s *Stats) { s.ModelsDestroyed++ })
	return m.rt.DestroyErr
}

type engine struct {
	rt       *Runtime
	batch    int64
	inShape  ort.Shape
	input    []float32
	outShape ort.Shape
	output   []float32
}

func (e *engine) AllocateTensors() error {
	if e.rt.AllocateErr != nil {
		return e.rt.AllocateErr
	}
	shape := e.rt.InputShape.Clone()
	if len(shape) > 0 && shape[0] < 0 {
		shape[0] = e.batch
	}
	n, err := shape.ElementCount()
	if err != nil {
		return err
	}
	e.inShape = shape
	e.input = make([]float32, n)
	return nil
}

func (e *engine) InputShape() ort.Shape  { return e.inShape }
func (e *engine) InputBuffer() []float32 { return e.input }

func (e *engine) Invoke(ctx context.Context) error {
	e.rt.record(func(s *Stats) { s.Invocations++ })
	if err := ctx.Err(); err != nil {
		return err
	}
	if e.rt.InvokeErr != nil {
		return e.rt.InvokeErr
	}
	compute := e.rt.Compute
	if compute == nil {
		compute = e.double
	}
	e.outShape, e.output = compute(e.input, e.inShape)
	return nil
}

func (e *engine) double(input []float32, _ ort.Shape) (ort.Shape, []float32) {
	shape := e.rt.OutputShape.Clone()
	if len(shape) > 0 && shape[0] < 0 {
		shape[0] = e.batch
	}
	n, err := shape.ElementCount()
	if err != nil {
		return shape, nil
	}
	out := make([]float32, n)
	for i := range out {
		if len(input) > 0 {
			out[i] = 2 * input[i%len(input)]
		}
	}
	return shape, out
}

func (e *engine) Output() (ort.Shape, []float32, error) {
	if e.outShape == nil {
		return nil, nil, errors.New("engine has not been invoked")
	}
	return e.outShape, e.output, nil
}

func (e *engine) Destroy() error {
	e.rt.record(func(s *Stats) { s.EnginesDestroyed++ })
	e.input = nil
	e.output = nil
	return nil
}
