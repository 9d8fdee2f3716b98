// Package capi exposes predictors through opaque integer handles, the shape
// of API a C caller can hold. Handle 0 is never issued.
package capi

import (
	"context"
	"sync"

	"go.uber.org/atomic"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/amikos-tech/onnx-predictor/predictor"
)

// Handle identifies a live predictor in a Registry.
type Handle uint64

// Registry owns predictors keyed by Handle.
type Registry struct {
	rt     predictor.Runtime
	opts   []predictor.Option
	logger *zap.Logger

	nextID atomic.Uint64
	mu     sync.RWMutex
	items  map[Handle]*entry
}

type entry struct {
	p *predictor.Predictor
	// lastErr is the most recent failure on this handle, for C callers that
	// only see a Code.
	lastErr atomic.Error
}

// NewRegistry returns a registry that creates predictors on rt with opts
// applied before the per-call batch size and mode.
func NewRegistry(rt predictor.Runtime, logger *zap.Logger, opts ...predictor.Option) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{
		rt:     rt,
		opts:   opts,
		logger: logger,
		items:  make(map[Handle]*entry),
	}
}

// Create loads a model and returns its handle. mode follows
// predictor.ModeFromFlag.
func (r *Registry) Create(ctx context.Context, modelPath string, batchSize int, mode int) (Handle, error) {
	opts := append(append([]predictor.Option(nil), r.opts...),
		predictor.WithBatchSize(batchSize),
		predictor.WithMode(predictor.ModeFromFlag(mode)),
		predictor.WithLogger(r.logger))
	p, err := predictor.New(ctx, r.rt, modelPath, opts...)
	if err != nil {
		return 0, err
	}
	h := Handle(r.nextID.Inc())
	r.mu.Lock()
	r.items[h] = &entry{p: p}
	r.mu.Unlock()
	r.logger.Debug("handle created", zap.Uint64("handle", uint64(h)), zap.String("predictor", p.ID()))
	return h, nil
}

// SetMode stores the process default mode. It does not change existing
// handles.
func (r *Registry) SetMode(mode int) {
	predictor.SetMode(mode)
}

func (r *Registry) lookup(h Handle, op string) (*entry, error) {
	r.mu.RLock()
	e, ok := r.items[h]
	r.mu.RUnlock()
	if !ok {
		return nil, &predictor.Error{Kind: predictor.KindInvalidHandle, Op: op, Err: errUnknownHandle(h)}
	}
	return e, nil
}

// Predict runs one inference on the handle's predictor.
func (r *Registry) Predict(ctx context.Context, h Handle, input []float32) error {
	e, err := r.lookup(h, "predict")
	if err != nil {
		return err
	}
	return e.record(e.p.Predict(ctx, input))
}

// GetPredictions returns a copy of the handle's last output.
func (r *Registry) GetPredictions(h Handle) ([]float32, error) {
	e, err := r.lookup(h, "get predictions")
	if err != nil {
		return nil, err
	}
	out, err := e.p.Predictions()
	return out, e.record(err)
}

func (r *Registry) GetWidth(h Handle) (int, error) {
	return r.intAccessor(h, "get width", (*predictor.Predictor).Width)
}

func (r *Registry) GetHeight(h Handle) (int, error) {
	return r.intAccessor(h, "get height", (*predictor.Predictor).Height)
}

func (r *Registry) GetChannels(h Handle) (int, error) {
	return r.intAccessor(h, "get channels", (*predictor.Predictor).Channels)
}

// GetPredictionLength returns the rank of the last output, not its element
// count.
func (r *Registry) GetPredictionLength(h Handle) (int, error) {
	return r.intAccessor(h, "get prediction length", (*predictor.Predictor).PredictionLength)
}

func (r *Registry) intAccessor(h Handle, op string, get func(*predictor.Predictor) (int, error)) (int, error) {
	e, err := r.lookup(h, op)
	if err != nil {
		return 0, err
	}
	v, err := get(e.p)
	return v, e.record(err)
}

// LastError returns the most recent failure recorded on h, or nil.
func (r *Registry) LastError(h Handle) error {
	e, err := r.lookup(h, "last error")
	if err != nil {
		return err
	}
	return e.lastErr.Load()
}

// Destroy closes and forgets the handle. Unknown and already destroyed
// handles are ignored.
func (r *Registry) Destroy(h Handle) error {
	r.mu.Lock()
	e, ok := r.items[h]
	delete(r.items, h)
	r.mu.Unlock()
	if !ok {
		return nil
	}
	r.logger.Debug("handle destroyed", zap.Uint64("handle", uint64(h)))
	return e.p.Close()
}

// Len returns the number of live handles.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.items)
}

// Close destroys every live handle.
func (r *Registry) Close() error {
	r.mu.Lock()
	items := r.items
	r.items = make(map[Handle]*entry)
	r.mu.Unlock()

	var err error
	for _, e := range items {
		err = multierr.Append(err, e.p.Close())
	}
	return err
}

func (e *entry) record(err error) error {
	if err != nil {
		e.lastErr.Store(err)
	}
	return err
}
