package predictor_test

import (
	"testing"

	"github.com/amikos-tech/onnx-predictor/internal/onnxtest"
	"github.com/amikos-tech/onnx-predictor/ort"
	"github.com/amikos-tech/onnx-predictor/predictor"
	"github.com/amikos-tech/onnx-predictor/predictor/predictortest"
	"github.com/stretchr/testify/require"
)

var (
	imageInput  = ort.NewShape(1, 224, 224, 3)
	classOutput = ort.NewShape(1, 1000)
)

func writeModel(t *testing.T) string {
	t.Helper()
	return onnxtest.Unary("Relu", 1, 224, 224, 3).WriteFile(t)
}

func newModel(t *testing.T, rt *predictortest.Runtime, batch int, mode predictor.Mode) *predictor.Model {
	t.Helper()
	model, err := predictor.NewModel(rt, writeModel(t), batch, mode)
	require.NoError(t, err)
	t.Cleanup(func() { _ = model.Destroy() })
	return model
}

func newSession(t *testing.T, model *predictor.Model, opts ...predictor.Option) *predictor.Session {
	t.Helper()
	session, err := predictor.NewSession(model, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = session.Destroy() })
	return session
}

func filled(n int, v float32) []float32 {
	out := make([]float32, n)
	for i := range out {
		out[i] = v
	}
	return out
}

func requireKind(t *testing.T, err error, kind predictor.Kind) {
	t.Helper()
	require.Error(t, err)
	require.Equal(t, kind, predictor.KindOf(err), "unexpected error: %v", err)
}
