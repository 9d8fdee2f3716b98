//go:build cgo

package onnxruntime

import (
	"context"
	"fmt"

	ortgo "github.com/yalue/onnxruntime_go"
	"go.uber.org/zap"

	"github.com/amikos-tech/onnx-predictor/internal/ortutil"
	"github.com/amikos-tech/onnx-predictor/ort"
	"github.com/amikos-tech/onnx-predictor/predictor"
)

// Runtime parses models into ONNX Runtime sessions. The environment must be
// initialized before New and stay initialized while models are in use.
type Runtime struct {
	logger *zap.Logger
}

// Option configures a Runtime.
type Option func(*Runtime) error

// WithLogger sets the logger used for engine lifecycle messages.
func WithLogger(logger *zap.Logger) Option {
	return func(r *Runtime) error {
		if logger == nil {
			return fmt.Errorf("logger cannot be nil")
		}
		r.logger = logger
		return nil
	}
}

// New returns a Runtime bound to the initialized environment.
func New(opts ...Option) (*Runtime, error) {
	if !IsInitialized() {
		return nil, ErrNotInitialized
	}
	r := &Runtime{logger: zap.NewNop()}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(r); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Parse validates data as an ONNX model and records its declared tensors.
// Sessions are created later, one per engine.
func (r *Runtime) Parse(data []byte) (predictor.ParsedModel, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("model data is empty")
	}
	inputs, outputs, err := ortgo.GetInputOutputInfoWithONNXData(data)
	if err != nil {
		return nil, fmt.Errorf("failed to read model inputs and outputs: %w", err)
	}
	if len(inputs) == 0 || len(outputs) == 0 {
		return nil, fmt.Errorf("model must declare at least one input and one output, got %d and %d", len(inputs), len(outputs))
	}
	m := &model{
		logger:  r.logger,
		data:    data,
		inputs:  convertInfos(inputs),
		outputs: convertInfos(outputs),
	}
	r.logger.Debug("parsed model",
		zap.String("input", m.inputs[0].Name),
		zap.Stringer("input_shape", m.inputs[0].Shape),
		zap.String("output", m.outputs[0].Name),
		zap.Stringer("output_shape", m.outputs[0].Shape))
	return m, nil
}

func convertInfos(infos []ortgo.InputOutputInfo) []predictor.TensorInfo {
	out := make([]predictor.TensorInfo, len(infos))
	for i, info := range infos {
		out[i] = predictor.TensorInfo{
			Name:        info.Name,
			ElementType: ort.TensorElementDataType(info.DataType),
			Shape:       ort.NewShape(info.Dimensions...),
		}
	}
	return out
}

type model struct {
	logger  *zap.Logger
	data    []byte
	inputs  []predictor.TensorInfo
	outputs []predictor.TensorInfo
}

func (m *model) Inputs() []predictor.TensorInfo  { return m.inputs }
func (m *model) Outputs() []predictor.TensorInfo { return m.outputs }

// NewEngine creates a session restricted to cfg.Threads intra-op and inter-op
// threads that feeds the first input and fetches the first output.
func (m *model) NewEngine(cfg predictor.EngineConfig) (predictor.Engine, error) {
	if !IsInitialized() {
		return nil, ErrNotInitialized
	}
	threads := cfg.Threads
	if threads < 1 {
		threads = 1
	}
	options, err := ortgo.NewSessionOptions()
	if err != nil {
		return nil, fmt.Errorf("failed to create session options: %w", err)
	}
	defer func() {
		if derr := options.Destroy(); derr != nil {
			m.logger.Warn("failed to destroy session options", zap.Error(derr))
		}
	}()
	if err := options.SetIntraOpNumThreads(threads); err != nil {
		return nil, fmt.Errorf("failed to set intra-op threads: %w", err)
	}
	if err := options.SetInterOpNumThreads(threads); err != nil {
		return nil, fmt.Errorf("failed to set inter-op threads: %w", err)
	}

	input, output := m.inputs[0], m.outputs[0]
	session, err := ortgo.NewDynamicAdvancedSessionWithONNXData(m.data,
		[]string{input.Name}, []string{output.Name}, options)
	if err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}
	batch := cfg.BatchSize
	if batch < 1 {
		batch = 1
	}
	return &engine{
		session: session,
		input:   input,
		output:  output,
		batch:   int64(batch),
	}, nil
}

func (m *model) Destroy() error {
	m.data = nil
	return nil
}

type engine struct {
	session *ortgo.DynamicAdvancedSession
	input   predictor.TensorInfo
	output  predictor.TensorInfo
	batch   int64

	inShape  ort.Shape
	inTensor *ortgo.Tensor[float32]
	outValue ortgo.Value
}

func (e *engine) AllocateTensors() error {
	if e.input.ElementType != ort.TensorElementDataTypeFloat {
		return fmt.Errorf("input %q has element type %s, only float32 is supported", e.input.Name, e.input.ElementType)
	}
	shape, err := e.input.Shape.ResolveBatch(e.batch)
	if err != nil {
		return fmt.Errorf("input %q: %w", e.input.Name, err)
	}
	tensor, err := ortgo.NewEmptyTensor[float32](ortgo.NewShape(shape...))
	if err != nil {
		return fmt.Errorf("failed to allocate input %q %s: %w", e.input.Name, shape, err)
	}
	if e.inTensor != nil {
		_ = e.inTensor.Destroy()
	}
	e.inShape = shape
	e.inTensor = tensor
	return nil
}

func (e *engine) InputShape() ort.Shape { return e.inShape }

func (e *engine) InputBuffer() []float32 {
	if e.inTensor == nil {
		return nil
	}
	return e.inTensor.GetData()
}

// Invoke runs the session synchronously. The context is only checked before
// the run starts.
func (e *engine) Invoke(ctx context.Context) error {
	if e.inTensor == nil {
		return fmt.Errorf("tensors are not allocated")
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if e.outValue != nil {
		_ = e.outValue.Destroy()
		e.outValue = nil
	}
	outputs := []ortgo.Value{nil}
	if err := e.session.Run([]ortgo.Value{e.inTensor}, outputs); err != nil {
		return fmt.Errorf("failed to run session: %w", err)
	}
	if outputs[0] == nil {
		return fmt.Errorf("session returned no value for output %q", e.output.Name)
	}
	e.outValue = outputs[0]
	return nil
}

func (e *engine) Output() (ort.Shape, []float32, error) {
	if e.outValue == nil {
		return nil, nil, fmt.Errorf("output %q is not available", e.output.Name)
	}
	tensor, ok := e.outValue.(*ortgo.Tensor[float32])
	if !ok {
		return nil, nil, fmt.Errorf("output %q has element type %s, only float32 is supported",
			e.output.Name, e.output.ElementType)
	}
	return ort.NewShape(tensor.GetShape()...), tensor.GetData(), nil
}

func (e *engine) Destroy() error {
	named := []ortutil.Named{
		{Name: "output tensor", Resource: e.outValue},
		{Name: "input tensor", Resource: e.inTensor},
		{Name: "session", Resource: e.session},
	}
	e.outValue, e.inTensor, e.session = nil, nil, nil
	return ortutil.DestroyNamed(named...)
}
