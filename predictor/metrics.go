package predictor

import (
	"math"
	"sort"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

// Metrics holds the predictor's Prometheus collectors. A nil *Metrics is valid
// and records nothing.
type Metrics struct {
	predictions  *prometheus.CounterVec
	duration     prometheus.Histogram
	engineBuilds prometheus.Counter
}

// NewMetrics creates unregistered collectors with the given const labels.
func NewMetrics(constLabels prometheus.Labels) *Metrics {
	return &Metrics{
		predictions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace:   "onnx_predictor",
				Subsystem:   "session",
				Name:        "predictions_total",
				Help:        "Counter of predict calls by result",
				ConstLabels: constLabels,
			}, []string{"result"}),
		duration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace:   "onnx_predictor",
				Subsystem:   "session",
				Name:        "predict_duration_seconds",
				Help:        "Bucketed histogram of predict time (s), engine build included",
				ConstLabels: constLabels,
				Buckets:     prometheus.ExponentialBuckets(0.0005, 2, 20),
			}),
		engineBuilds: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace:   "onnx_predictor",
				Subsystem:   "session",
				Name:        "engine_builds_total",
				Help:        "Counter of engines built",
				ConstLabels: constLabels,
			}),
	}
}

// Register registers all collectors with registry.
func (m *Metrics) Register(registry prometheus.Registerer) error {
	if m == nil {
		return nil
	}
	for _, c := range []prometheus.Collector{m.predictions, m.duration, m.engineBuilds} {
		if err := registry.Register(c); err != nil {
			return err
		}
	}
	return nil
}

// Unregister removes all collectors from registry.
func (m *Metrics) Unregister(registry prometheus.Registerer) {
	if m == nil {
		return
	}
	registry.Unregister(m.predictions)
	registry.Unregister(m.duration)
	registry.Unregister(m.engineBuilds)
}

func (m *Metrics) observePredict(err error, elapsed time.Duration) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = KindOf(err).String()
	}
	m.predictions.WithLabelValues(result).Inc()
	m.duration.Observe(elapsed.Seconds())
}

func (m *Metrics) observeEngineBuild() {
	if m == nil {
		return
	}
	m.engineBuilds.Inc()
}

// Snapshot is a point-in-time read of the collectors.
type Snapshot struct {
	// Predictions maps a result ("ok" or an error kind) to its count.
	Predictions  map[string]float64
	EngineBuilds float64
	PredictCount uint64
	PredictTotal time.Duration
}

// Results returns the Predictions keys in sorted order.
func (s Snapshot) Results() []string {
	keys := make([]string, 0, len(s.Predictions))
	for k := range s.Predictions {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Snapshot reads the current values.
func (m *Metrics) Snapshot() Snapshot {
	snap := Snapshot{Predictions: map[string]float64{}}
	if m == nil {
		return snap
	}
	ch := make(chan prometheus.Metric, 16)
	go func() {
		m.predictions.Collect(ch)
		close(ch)
	}()
	for metric := range ch {
		var pb dto.Metric
		if err := metric.Write(&pb); err != nil {
			continue
		}
		for _, label := range pb.GetLabel() {
			if label.GetName() == "result" {
				snap.Predictions[label.GetValue()] = pb.GetCounter().GetValue()
			}
		}
	}
	snap.EngineBuilds = ReadCounter(m.engineBuilds)

	var hist dto.Metric
	if err := m.duration.Write(&hist); err == nil {
		snap.PredictCount = hist.GetHistogram().GetSampleCount()
		snap.PredictTotal = time.Duration(hist.GetHistogram().GetSampleSum() * float64(time.Second))
	}
	return snap
}

// ReadCounter reports the current value of counter.
func ReadCounter(counter prometheus.Counter) float64 {
	var metric dto.Metric
	if err := counter.Write(&metric); err != nil {
		return math.NaN()
	}
	return metric.Counter.GetValue()
}
