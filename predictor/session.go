package predictor

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/amikos-tech/onnx-predictor/ort"
)

// Session runs predictions against a Model and retains the most recent
// result. Every Predict builds, uses and destroys its own engine.
type Session struct {
	model *Model
	opts  options

	// predictMu serializes Predict calls; mu guards the retained result so
	// accessors never wait on a running engine.
	predictMu sync.Mutex
	mu        sync.RWMutex
	result    *result
	destroyed bool
}

type result struct {
	inputShape  ort.Shape
	outputShape ort.Shape
	predictions []float32
}

// NewSession creates a session over model. WithBatchSize and WithMode are
// ignored here; they are fixed by the model.
func NewSession(model *Model, opts ...Option) (*Session, error) {
	if model == nil {
		return nil, newErrorf(KindInvalidArgument, "new session", "model is nil")
	}
	cfg, err := applyOptions(opts)
	if err != nil {
		return nil, newError(KindInvalidArgument, "new session", err)
	}
	return newSession(model, cfg), nil
}

func newSession(model *Model, cfg options) *Session {
	return &Session{model: model, opts: cfg}
}

// Model returns the model the session predicts with.
func (s *Session) Model() *Model { return s.model }

// Predict runs one inference over input, which must hold exactly
// batch*dim1*dim2*dim3 values of the engine's rank-4 input. A failed Predict
// discards any earlier result.
func (s *Session) Predict(ctx context.Context, input []float32) (err error) {
	start := time.Now()
	span, ctx := startSpan(ctx, s.opts.tracer, spanPredict)
	defer func() {
		s.opts.metrics.observePredict(err, time.Since(start))
		finishSpan(span, err)
	}()

	s.predictMu.Lock()
	defer s.predictMu.Unlock()

	if !s.reset() {
		return newErrorf(KindInvalidHandle, "predict", "session is destroyed")
	}
	if s.model.Mode() == ModeAccelerated {
		s.opts.logger.Debug("accelerated mode is not implemented, using the default engine",
			zap.String("model", s.model.Path()))
	}

	res, err := s.run(ctx, input)
	if err != nil {
		s.opts.logger.Debug("predict failed",
			zap.String("model", s.model.Path()),
			zap.Stringer("kind", KindOf(err)),
			zap.Error(err))
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.destroyed {
		return newErrorf(KindInvalidHandle, "predict", "session destroyed during predict")
	}
	s.result = res
	s.opts.logger.Debug("predict done",
		zap.String("model", s.model.Path()),
		zap.Stringer("input_shape", res.inputShape),
		zap.Stringer("output_shape", res.outputShape),
		zap.Duration("elapsed", time.Since(start)))
	return nil
}

// reset drops the retained result and reports whether the session is usable.
func (s *Session) reset() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.result = nil
	return !s.destroyed
}

func (s *Session) run(ctx context.Context, input []float32) (*result, error) {
	const op = "predict"

	buildSpan, _ := startSpan(ctx, s.opts.tracer, spanEngineBuild)
	engine, err := s.model.newEngine()
	finishSpan(buildSpan, err)
	if err != nil {
		return nil, err
	}
	s.opts.metrics.observeEngineBuild()
	defer func() {
		if derr := engine.Destroy(); derr != nil {
			s.opts.logger.Warn("failed to destroy engine", zap.String("model", s.model.Path()), zap.Error(derr))
		}
	}()

	allocSpan, _ := startSpan(ctx, s.opts.tracer, spanAllocateTensors)
	err = engine.AllocateTensors()
	if err != nil {
		err = newError(KindAllocation, op, err)
	}
	finishSpan(allocSpan, err)
	if err != nil {
		return nil, err
	}

	shape := engine.InputShape().Clone()
	if shape.Rank() != 4 {
		return nil, newErrorf(KindShapeMismatch, op, "input rank must be 4, got %d (shape %s)", shape.Rank(), shape)
	}
	want, err := shape.ElementCount()
	if err != nil {
		return nil, newError(KindShapeMismatch, op, err)
	}
	if len(input) != want {
		return nil, newErrorf(KindShapeMismatch, op, "input has %d values, shape %s needs %d", len(input), shape, want)
	}
	buf := engine.InputBuffer()
	if len(buf) != want {
		return nil, newErrorf(KindAllocation, op, "input tensor holds %d values, shape %s needs %d", len(buf), shape, want)
	}
	copy(buf, input)

	if err := ctx.Err(); err != nil {
		return nil, newError(KindInvocation, op, errors.Wrap(err, "context done before invoke"))
	}
	invokeSpan, invokeCtx := startSpan(ctx, s.opts.tracer, spanInvoke)
	err = engine.Invoke(invokeCtx)
	if err != nil {
		err = newError(KindInvocation, op, err)
	}
	finishSpan(invokeSpan, err)
	if err != nil {
		return nil, err
	}

	outShape, outData, err := engine.Output()
	if err != nil {
		return nil, newError(KindInvocation, op, errors.Wrap(err, "failed to read output"))
	}
	predictions := make([]float32, len(outData))
	copy(predictions, outData)
	return &result{
		inputShape:  shape,
		outputShape: outShape.Clone(),
		predictions: predictions,
	}, nil
}

func (s *Session) current(op string) (*result, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.destroyed {
		return nil, newErrorf(KindNotReady, op, "session is destroyed")
	}
	if s.result == nil {
		return nil, newErrorf(KindNotReady, op, "no successful predict yet")
	}
	return s.result, nil
}

// Predictions returns a copy of the last output.
func (s *Session) Predictions() ([]float32, error) {
	res, err := s.current("get predictions")
	if err != nil {
		return nil, err
	}
	out := make([]float32, len(res.predictions))
	copy(out, res.predictions)
	return out, nil
}

// Width is dimension 1 of the last allocated input shape. For an NHWC
// model that is the image height; the naming follows the C API.
func (s *Session) Width() (int, error) { return s.inputDim("get width", 1) }

// Height is dimension 2 of the last allocated input shape.
func (s *Session) Height() (int, error) { return s.inputDim("get height", 2) }

// Channels is dimension 3 of the last allocated input shape.
func (s *Session) Channels() (int, error) { return s.inputDim("get channels", 3) }

func (s *Session) inputDim(op string, i int) (int, error) {
	res, err := s.current(op)
	if err != nil {
		return 0, err
	}
	return int(res.inputShape[i]), nil
}

// PredictionLength returns the RANK of the last output, not its element
// count. Use len(Predictions()) for the number of values.
func (s *Session) PredictionLength() (int, error) {
	res, err := s.current("get prediction length")
	if err != nil {
		return 0, err
	}
	return res.outputShape.Rank(), nil
}

// OutputShape returns the shape of the last output.
func (s *Session) OutputShape() (ort.Shape, error) {
	res, err := s.current("get output shape")
	if err != nil {
		return nil, err
	}
	return res.outputShape.Clone(), nil
}

// InputShape returns the allocated input shape of the last prediction.
func (s *Session) InputShape() (ort.Shape, error) {
	res, err := s.current("get input shape")
	if err != nil {
		return nil, err
	}
	return res.inputShape.Clone(), nil
}

// Destroy drops the retained result. It does not destroy the model, which
// may be shared. Calling it more than once is a no-op.
func (s *Session) Destroy() error {
	if s == nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.destroyed = true
	s.result = nil
	return nil
}
