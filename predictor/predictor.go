// Package predictor runs image models through a pluggable tensor runtime.
//
// A Model is parsed once and shared; every Predict builds a fresh
// single-threaded engine from it, validates the caller's buffer against the
// engine's rank-4 input, and copies the first output into memory the session
// owns. Failures are returned as *Error values classified by Kind.
package predictor

import (
	"context"
	"os"
	"sync"

	"github.com/google/uuid"
	"github.com/opentracing/opentracing-go"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// Predictor couples a Model and a Session with a root tracing span that lives
// until Close.
type Predictor struct {
	id      uuid.UUID
	opts    options
	model   *Model
	session *Session
	logger  *zap.Logger

	span    opentracing.Span
	spanCtx context.Context

	// inputLen is the element count of the declared input with the batch
	// resolved, or 0 when the declared shape is not fully known.
	inputLen int

	closeOnce sync.Once
	closeErr  error
}

// New loads the model at modelPath and returns a ready Predictor.
func New(ctx context.Context, rt Runtime, modelPath string, opts ...Option) (_ *Predictor, err error) {
	const op = "new predictor"
	cfg, err := applyOptions(opts)
	if err != nil {
		return nil, newError(KindInvalidArgument, op, err)
	}
	if ctx == nil {
		ctx = context.Background()
	}

	id := uuid.New()
	spanOpts := []opentracing.StartSpanOption{
		opentracing.Tag{Key: "predictor.id", Value: id.String()},
		opentracing.Tag{Key: "model.path", Value: modelPath},
	}
	if parent := opentracing.SpanFromContext(ctx); parent != nil {
		spanOpts = append(spanOpts, opentracing.ChildOf(parent.Context()))
	}
	root := cfg.tracer.StartSpan("predictor", spanOpts...)
	rootCtx := opentracing.ContextWithSpan(ctx, root)

	newSpan, _ := startSpan(rootCtx, cfg.tracer, spanPredictorNew)
	defer func() {
		finishSpan(newSpan, err)
		if err != nil {
			finishSpan(root, err)
		}
	}()

	if _, statErr := os.Stat(modelPath); statErr != nil {
		return nil, newErrorf(KindModelLoad, op, "file %s not found", modelPath)
	}
	model, err := NewModel(rt, modelPath, cfg.batchSize, cfg.mode)
	if err != nil {
		return nil, err
	}

	logger := cfg.logger.With(zap.Stringer("predictor", id))
	cfg.logger = logger
	p := &Predictor{
		id:       id,
		opts:     cfg,
		model:    model,
		session:  newSession(model, cfg),
		logger:   logger,
		span:     root,
		spanCtx:  rootCtx,
		inputLen: declaredInputLen(model),
	}
	logger.Info("predictor created",
		zap.String("model", modelPath),
		zap.Int("batch_size", cfg.batchSize),
		zap.Stringer("mode", cfg.mode))
	return p, nil
}

func declaredInputLen(model *Model) int {
	info, err := model.InputInfo()
	if err != nil || info.Shape.Rank() == 0 {
		return 0
	}
	shape, err := info.Shape.ResolveBatch(int64(model.BatchSize()))
	if err != nil {
		return 0
	}
	n, err := shape.ElementCount()
	if err != nil {
		return 0
	}
	return n
}

// ID identifies the predictor in logs and spans.
func (p *Predictor) ID() string { return p.id.String() }

func (p *Predictor) Model() *Model     { return p.model }
func (p *Predictor) Session() *Session { return p.session }

// Predict runs one inference. A partial batch whose length is a whole number
// of samples is zero-padded up to the model's full input.
func (p *Predictor) Predict(ctx context.Context, data []float32) error {
	if len(data) == 0 {
		return newErrorf(KindInvalidArgument, "predict", "input nil or empty")
	}
	return p.session.Predict(p.traceContext(ctx), p.pad(data))
}

func (p *Predictor) pad(data []float32) []float32 {
	if p.inputLen == 0 || len(data) >= p.inputLen {
		return data
	}
	batch := p.model.BatchSize()
	if info, err := p.model.InputInfo(); err == nil && info.Shape.Rank() > 0 && info.Shape[0] > 0 {
		batch = int(info.Shape[0])
	}
	sample := p.inputLen / batch
	if sample == 0 || len(data)%sample != 0 {
		return data
	}
	padded := make([]float32, p.inputLen)
	copy(padded, data)
	return padded
}

// ReadPredictionOutput returns a copy of the last prediction.
func (p *Predictor) ReadPredictionOutput(ctx context.Context) (_ []float32, err error) {
	span, _ := startSpan(p.traceContext(ctx), p.opts.tracer, spanReadPredictionOutput)
	defer func() { finishSpan(span, err) }()

	out, err := p.session.Predictions()
	if err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, newErrorf(KindNotReady, "read prediction output", "empty predictions")
	}
	return out, nil
}

// traceContext parents spans on the caller's span when present and on the
// predictor's root span otherwise.
func (p *Predictor) traceContext(ctx context.Context) context.Context {
	if ctx == nil {
		return p.spanCtx
	}
	if opentracing.SpanFromContext(ctx) == nil {
		return opentracing.ContextWithSpan(ctx, p.span)
	}
	return ctx
}

func (p *Predictor) Predictions() ([]float32, error) { return p.session.Predictions() }
func (p *Predictor) Width() (int, error)             { return p.session.Width() }
func (p *Predictor) Height() (int, error)            { return p.session.Height() }
func (p *Predictor) Channels() (int, error)          { return p.session.Channels() }

// PredictionLength returns the rank of the last output. See
// Session.PredictionLength.
func (p *Predictor) PredictionLength() (int, error) { return p.session.PredictionLength() }

// Close releases the model and finishes the root span. It is idempotent.
func (p *Predictor) Close() error {
	if p == nil {
		return nil
	}
	p.closeOnce.Do(func() {
		p.closeErr = multierr.Append(p.session.Destroy(), p.model.Destroy())
		p.span.Finish()
		p.logger.Info("predictor closed")
	})
	return p.closeErr
}
