package predictor

import (
	"github.com/opentracing/opentracing-go"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// Option configures a Predictor or a Session.
type Option func(*options) error

type options struct {
	batchSize int
	mode      Mode
	modeSet   bool
	logger    *zap.Logger
	tracer    opentracing.Tracer
	metrics   *Metrics
}

func defaultOptions() options {
	return options{
		batchSize: 1,
		logger:    zap.NewNop(),
		tracer:    opentracing.NoopTracer{},
	}
}

func applyOptions(opts []Option) (options, error) {
	cfg := defaultOptions()
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(&cfg); err != nil {
			return options{}, err
		}
	}
	if !cfg.modeSet {
		cfg.mode = CurrentMode()
	}
	return cfg, nil
}

// WithBatchSize sets the batch size used to resolve a symbolic leading input
// dimension. Default 1.
func WithBatchSize(n int) Option {
	return func(o *options) error {
		if n < 1 {
			return errors.Errorf("batch size must be at least 1, got %d", n)
		}
		o.batchSize = n
		return nil
	}
}

// WithMode overrides the process default set by SetMode.
func WithMode(m Mode) Option {
	return func(o *options) error {
		o.mode = ModeFromFlag(int(m))
		o.modeSet = true
		return nil
	}
}

// WithLogger sets the logger. Default is a no-op logger.
func WithLogger(logger *zap.Logger) Option {
	return func(o *options) error {
		if logger == nil {
			return errors.New("logger cannot be nil")
		}
		o.logger = logger
		return nil
	}
}

// WithTracer sets the tracer used for the predictor's spans.
func WithTracer(tracer opentracing.Tracer) Option {
	return func(o *options) error {
		if tracer == nil {
			return errors.New("tracer cannot be nil")
		}
		o.tracer = tracer
		return nil
	}
}

// WithMetrics records prediction counters and durations into m.
func WithMetrics(m *Metrics) Option {
	return func(o *options) error {
		o.metrics = m
		return nil
	}
}
