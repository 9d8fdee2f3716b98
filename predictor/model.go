package predictor

import (
	"os"
	"strings"
	"sync"

	"github.com/pkg/errors"
)

// Model is a parsed model bound to a batch size and mode. It is immutable
// once constructed and may be shared by many sessions; each prediction builds
// its own engine from it.
type Model struct {
	path      string
	batchSize int
	mode      Mode
	inputs    []TensorInfo
	outputs   []TensorInfo

	mu        sync.RWMutex
	parsed    ParsedModel
	destroyed bool
}

// NewModel reads and parses the model at modelPath. Any read or parse failure
// is reported as KindModelLoad and no Model is returned.
func NewModel(rt Runtime, modelPath string, batchSize int, mode Mode) (*Model, error) {
	const op = "new model"
	if rt == nil {
		return nil, newErrorf(KindInvalidArgument, op, "runtime is nil")
	}
	if strings.TrimSpace(modelPath) == "" {
		return nil, newErrorf(KindModelLoad, op, "model path is empty")
	}
	if batchSize < 1 {
		return nil, newErrorf(KindInvalidArgument, op, "batch size must be at least 1, got %d", batchSize)
	}
	data, err := os.ReadFile(modelPath)
	if err != nil {
		return nil, newError(KindModelLoad, op, errors.Wrapf(err, "failed to read model %s", modelPath))
	}
	parsed, err := rt.Parse(data)
	if err != nil {
		return nil, newError(KindModelLoad, op, errors.Wrapf(err, "failed to parse model %s", modelPath))
	}
	if parsed == nil {
		return nil, newErrorf(KindModelLoad, op, "runtime returned no model for %s", modelPath)
	}
	return &Model{
		path:      modelPath,
		batchSize: batchSize,
		mode:      ModeFromFlag(int(mode)),
		inputs:    cloneTensorInfos(parsed.Inputs()),
		outputs:   cloneTensorInfos(parsed.Outputs()),
		parsed:    parsed,
	}, nil
}

func (m *Model) Path() string   { return m.path }
func (m *Model) BatchSize() int { return m.batchSize }
func (m *Model) Mode() Mode     { return m.mode }

// Inputs returns the model's declared inputs.
func (m *Model) Inputs() []TensorInfo { return cloneTensorInfos(m.inputs) }

// Outputs returns the model's declared outputs.
func (m *Model) Outputs() []TensorInfo { return cloneTensorInfos(m.outputs) }

// InputInfo returns the first declared input.
func (m *Model) InputInfo() (TensorInfo, error) {
	if len(m.inputs) == 0 {
		return TensorInfo{}, newErrorf(KindShapeMismatch, "input info", "model %s declares no inputs", m.path)
	}
	return cloneTensorInfo(m.inputs[0]), nil
}

// newEngine builds a single-threaded engine. The read lock is held for the
// build so Destroy cannot release the parsed model underneath it.
func (m *Model) newEngine() (Engine, error) {
	const op = "engine build"
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.destroyed {
		return nil, newErrorf(KindInvalidHandle, op, "model %s is destroyed", m.path)
	}
	engine, err := m.parsed.NewEngine(EngineConfig{Threads: 1, BatchSize: m.batchSize})
	if err != nil {
		return nil, newError(KindEngineBuild, op, err)
	}
	if engine == nil {
		return nil, newErrorf(KindEngineBuild, op, "runtime returned no engine")
	}
	return engine, nil
}

// Destroy releases the parsed model. Calling it more than once is a no-op.
func (m *Model) Destroy() error {
	if m == nil {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.destroyed {
		return nil
	}
	m.destroyed = true
	parsed := m.parsed
	m.parsed = nil
	if err := parsed.Destroy(); err != nil {
		return errors.Wrapf(err, "failed to destroy model %s", m.path)
	}
	return nil
}

func cloneTensorInfo(info TensorInfo) TensorInfo {
	info.Shape = info.Shape.Clone()
	return info
}

func cloneTensorInfos(infos []TensorInfo) []TensorInfo {
	if infos == nil {
		return nil
	}
	out := make([]TensorInfo, len(infos))
	for i, info := range infos {
		out[i] = cloneTensorInfo(info)
	}
	return out
}
