//go:build cgo

// Command libpredictor builds the C shared library:
//
//	go build -buildmode=c-shared -o libpredictor.so ./cmd/libpredictor
//
// Handles are uint64 values; 0 means failure. Functions returning int return
// 0 on success and a negative capi.Code otherwise.
package main

/*
#include <stddef.h>
#include <stdint.h>
*/
import "C"

import (
	"context"
	"sync"
	"unsafe"

	"go.uber.org/atomic"
	"go.uber.org/zap"

	"github.com/amikos-tech/onnx-predictor/backend/onnxruntime"
	"github.com/amikos-tech/onnx-predictor/capi"
	"github.com/amikos-tech/onnx-predictor/internal/config"
	"github.com/amikos-tech/onnx-predictor/internal/logutil"
)

var (
	initMu   sync.Mutex
	registry *capi.Registry
	logger   = zap.NewNop()
	// lastErr holds failures that have no handle to attach to.
	lastErr atomic.Error
)

func main() {}

// setup loads configuration from the environment, bootstraps ONNX Runtime and
// creates the registry. It runs once; later calls return the first result.
func setup() (*capi.Registry, error) {
	initMu.Lock()
	defer initMu.Unlock()
	if registry != nil {
		return registry, nil
	}

	cfg, err := config.Load("")
	if err != nil {
		return nil, err
	}
	if l, err := logutil.New(cfg.Logging.Level, cfg.Logging.Format); err == nil {
		logger = l
	}
	if _, err := onnxruntime.InitializeWithBootstrap(context.Background(), cfg.BootstrapOptions(logger)...); err != nil {
		return nil, err
	}
	rt, err := onnxruntime.New(onnxruntime.WithLogger(logger))
	if err != nil {
		_ = onnxruntime.Release()
		return nil, err
	}
	registry = capi.NewRegistry(rt, logger)
	logger.Info("predictor library initialized", zap.String("onnxruntime", onnxruntime.Version()))
	return registry, nil
}

func fail(err error) C.int {
	lastErr.Store(err)
	return C.int(capi.CodeOf(err))
}

func current() (*capi.Registry, C.int) {
	r, err := setup()
	if err != nil {
		return nil, fail(err)
	}
	return r, 0
}

//export InitPredictor
func InitPredictor() C.int {
	_, code := current()
	return code
}

//export NewPredictor
func NewPredictor(modelPath *C.char, batchSize C.int, mode C.int) C.uint64_t {
	r, code := current()
	if code != 0 {
		return 0
	}
	h, err := r.Create(context.Background(), C.GoString(modelPath), int(batchSize), int(mode))
	if err != nil {
		fail(err)
		return 0
	}
	return C.uint64_t(h)
}

//export PredictorSetMode
func PredictorSetMode(mode C.int) {
	if r, code := current(); code == 0 {
		r.SetMode(int(mode))
	}
}

//export PredictorPredict
func PredictorPredict(h C.uint64_t, data *C.float, n C.size_t) C.int {
	r, code := current()
	if code != 0 {
		return code
	}
	var input []float32
	if data != nil && n > 0 {
		input = unsafe.Slice((*float32)(unsafe.Pointer(data)), int(n))
	}
	if err := r.Predict(context.Background(), capi.Handle(h), input); err != nil {
		return fail(err)
	}
	return 0
}

// PredictorGetPredictions copies up to capacity values into dst and always
// stores the full length in *n, so a call with dst NULL sizes the buffer.
//
//export PredictorGetPredictions
func PredictorGetPredictions(h C.uint64_t, dst *C.float, capacity C.size_t, n *C.size_t) C.int {
	r, code := current()
	if code != 0 {
		return code
	}
	out, err := r.GetPredictions(capi.Handle(h))
	if err != nil {
		return fail(err)
	}
	if n != nil {
		*n = C.size_t(len(out))
	}
	if dst == nil || int(capacity) < len(out) {
		return C.int(capi.CodeInvalidArgument)
	}
	copy(unsafe.Slice((*float32)(unsafe.Pointer(dst)), len(out)), out)
	return 0
}

func intResult(v int, err error, out *C.int) C.int {
	if err != nil {
		return fail(err)
	}
	if out == nil {
		return C.int(capi.CodeInvalidArgument)
	}
	*out = C.int(v)
	return 0
}

//export PredictorGetWidth
func PredictorGetWidth(h C.uint64_t, out *C.int) C.int {
	r, code := current()
	if code != 0 {
		return code
	}
	v, err := r.GetWidth(capi.Handle(h))
	return intResult(v, err, out)
}

//export PredictorGetHeight
func PredictorGetHeight(h C.uint64_t, out *C.int) C.int {
	r, code := current()
	if code != 0 {
		return code
	}
	v, err := r.GetHeight(capi.Handle(h))
	return intResult(v, err, out)
}

//export PredictorGetChannels
func PredictorGetChannels(h C.uint64_t, out *C.int) C.int {
	r, code := current()
	if code != 0 {
		return code
	}
	v, err := r.GetChannels(capi.Handle(h))
	return intResult(v, err, out)
}

// PredictorGetPredictionLength stores the RANK of the last output.
//
//export PredictorGetPredictionLength
func PredictorGetPredictionLength(h C.uint64_t, out *C.int) C.int {
	r, code := current()
	if code != 0 {
		return code
	}
	v, err := r.GetPredictionLength(capi.Handle(h))
	return intResult(v, err, out)
}

//export PredictorDelete
func PredictorDelete(h C.uint64_t) {
	initMu.Lock()
	r, l := registry, logger
	initMu.Unlock()
	if r == nil {
		return
	}
	if err := r.Destroy(capi.Handle(h)); err != nil {
		l.Warn("failed to destroy predictor", zap.Uint64("handle", uint64(h)), zap.Error(err))
	}
}

// PredictorLastError copies the last error message for h (or, for h 0, the
// last error without a handle) into buf as a NUL-terminated string and
// returns the full message length.
//
//export PredictorLastError
func PredictorLastError(h C.uint64_t, buf *C.char, capacity C.size_t) C.size_t {
	var err error
	if h == 0 {
		err = lastErr.Load()
	} else if r, code := current(); code == 0 {
		err = r.LastError(capi.Handle(h))
	} else {
		err = lastErr.Load()
	}
	if err == nil {
		return 0
	}
	msg := err.Error()
	if buf != nil && capacity > 0 {
		dst := unsafe.Slice((*byte)(unsafe.Pointer(buf)), int(capacity))
		k := copy(dst[:len(dst)-1], msg)
		dst[k] = 0
	}
	return C.size_t(len(msg))
}

// PredictorShutdown destroys every handle and releases ONNX Runtime.
//
//export PredictorShutdown
func PredictorShutdown() C.int {
	initMu.Lock()
	defer initMu.Unlock()
	if registry == nil {
		return 0
	}
	err := registry.Close()
	registry = nil
	if rerr := onnxruntime.Release(); err == nil {
		err = rerr
	}
	if err != nil {
		return fail(err)
	}
	return 0
}
