//go:build !cgo

package onnxruntime

import (
	"go.uber.org/zap"

	"github.com/amikos-tech/onnx-predictor/predictor"
)

func Initialize(string) error { return ErrCGORequired }
func Release() error          { return nil }
func IsInitialized() bool     { return false }
func LibraryPath() string     { return "" }
func Version() string         { return "" }

// Runtime is unavailable without cgo.
type Runtime struct{}

type Option func(*Runtime) error

func WithLogger(*zap.Logger) Option { return func(*Runtime) error { return nil } }

func New(...Option) (*Runtime, error) { return nil, ErrCGORequired }

func (r *Runtime) Parse([]byte) (predictor.ParsedModel, error) { return nil, ErrCGORequired }
