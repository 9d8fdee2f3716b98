package predictor_test

import (
	"context"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/amikos-tech/onnx-predictor/ort"
	"github.com/amikos-tech/onnx-predictor/predictor"
	"github.com/amikos-tech/onnx-predictor/predictor/predictortest"
)

const imageLen = 224 * 224 * 3

func TestSessionPredictZeroImage(t *testing.T) {
	rt := predictortest.New(imageInput, classOutput)
	session := newSession(t, newModel(t, rt, 1, predictor.ModeCPU))

	require.NoError(t, session.Predict(t.Context(), make([]float32, imageLen)))

	predictions, err := session.Predictions()
	require.NoError(t, err)
	assert.Len(t, predictions, 1000)

	width, err := session.Width()
	require.NoError(t, err)
	height, err := session.Height()
	require.NoError(t, err)
	channels, err := session.Channels()
	require.NoError(t, err)
	assert.Equal(t, []int{224, 224, 3}, []int{width, height, channels})

	// Rank of [1 1000], not its element count.
	length, err := session.PredictionLength()
	require.NoError(t, err)
	assert.Equal(t, 2, length)

	shape, err := session.OutputShape()
	require.NoError(t, err)
	assert.Equal(t, classOutput, shape)

	stats := rt.Stats()
	assert.Equal(t, 1, stats.EnginesBuilt)
	assert.Equal(t, 1, stats.EnginesDestroyed)
	assert.Equal(t, 1, stats.Invocations)
	assert.Equal(t, 1, stats.LastThreads)
}

func TestSessionDimsFollowInputShape(t *testing.T) {
	rt := predictortest.New(ort.NewShape(1, 32, 48, 1), ort.NewShape(1, 2, 5))
	session := newSession(t, newModel(t, rt, 1, predictor.ModeCPU))

	require.NoError(t, session.Predict(t.Context(), make([]float32, 32*48)))
	for i := 0; i < 2; i++ {
		width, _ := session.Width()
		height, _ := session.Height()
		channels, _ := session.Channels()
		assert.Equal(t, 32, width)
		assert.Equal(t, 48, height)
		assert.Equal(t, 1, channels)
	}
	length, err := session.PredictionLength()
	require.NoError(t, err)
	assert.Equal(t, 3, length)
}

func TestSessionAccessorsBeforePredict(t *testing.T) {
	rt := predictortest.New(imageInput, classOutput)
	session := newSession(t, newModel(t, rt, 1, predictor.ModeCPU))

	_, err := session.Predictions()
	requireKind(t, err, predictor.KindNotReady)
	assert.ErrorIs(t, err, predictor.ErrNotReady)
	_, err = session.Width()
	requireKind(t, err, predictor.KindNotReady)
	_, err = session.Height()
	requireKind(t, err, predictor.KindNotReady)
	_, err = session.Channels()
	requireKind(t, err, predictor.KindNotReady)
	_, err = session.PredictionLength()
	requireKind(t, err, predictor.KindNotReady)
	_, err = session.OutputShape()
	requireKind(t, err, predictor.KindNotReady)
	_, err = session.InputShape()
	requireKind(t, err, predictor.KindNotReady)
}

func TestSessionRejectsNonRank4Input(t *testing.T) {
	rt := predictortest.New(ort.NewShape(1, 224, 224), classOutput)
	session := newSession(t, newModel(t, rt, 1, predictor.ModeCPU))

	err := session.Predict(t.Context(), make([]float32, 224*224))
	requireKind(t, err, predictor.KindShapeMismatch)
	assert.ErrorIs(t, err, predictor.ErrShapeMismatch)
	assert.Contains(t, err.Error(), "rank must be 4")

	stats := rt.Stats()
	assert.Zero(t, stats.Invocations)
	assert.Equal(t, stats.EnginesBuilt, stats.EnginesDestroyed)
}

func TestSessionRejectsWrongBufferLength(t *testing.T) {
	rt := predictortest.New(imageInput, classOutput)
	session := newSession(t, newModel(t, rt, 1, predictor.ModeCPU))

	for _, n := range []int{0, 1, imageLen - 1, imageLen + 1, 2 * imageLen} {
		err := session.Predict(t.Context(), make([]float32, n))
		requireKind(t, err, predictor.KindShapeMismatch)
	}
	assert.Zero(t, rt.Stats().Invocations)
}

func TestSessionFailedPredictClearsResult(t *testing.T) {
	rt := predictortest.New(imageInput, classOutput)
	session := newSession(t, newModel(t, rt, 1, predictor.ModeCPU))

	require.NoError(t, session.Predict(t.Context(), make([]float32, imageLen)))
	_, err := session.Predictions()
	require.NoError(t, err)

	requireKind(t, session.Predict(t.Context(), make([]float32, 3)), predictor.KindShapeMismatch)
	_, err = session.Predictions()
	requireKind(t, err, predictor.KindNotReady)
	_, err = session.Width()
	requireKind(t, err, predictor.KindNotReady)
}

func TestSessionSequentialPredictsAreIndependent(t *testing.T) {
	rt := predictortest.New(ort.NewShape(1, 2, 2, 1), ort.NewShape(1, 4))
	session := newSession(t, newModel(t, rt, 1, predictor.ModeCPU))

	require.NoError(t, session.Predict(t.Context(), []float32{1, 2, 3, 4}))
	first, err := session.Predictions()
	require.NoError(t, err)

	require.NoError(t, session.Predict(t.Context(), []float32{10, 20, 30, 40}))
	second, err := session.Predictions()
	require.NoError(t, err)

	assert.Equal(t, []float32{2, 4, 6, 8}, first)
	assert.Equal(t, []float32{20, 40, 60, 80}, second)

	second[0] = -1
	again, err := session.Predictions()
	require.NoError(t, err)
	assert.Equal(t, float32(20), again[0])

	stats := rt.Stats()
	assert.Equal(t, 2, stats.EnginesBuilt)
	assert.Equal(t, 2, stats.EnginesDestroyed)
}

func TestSessionAcceleratedModeMatchesCPU(t *testing.T) {
	input := []float32{0.5, 1.5, 2.5, 3.5}
	run := func(mode predictor.Mode) []float32 {
		rt := predictortest.New(ort.NewShape(1, 2, 2, 1), ort.NewShape(1, 4))
		session := newSession(t, newModel(t, rt, 1, mode))
		require.NoError(t, session.Predict(t.Context(), input))
		out, err := session.Predictions()
		require.NoError(t, err)
		return out
	}
	assert.Equal(t, run(predictor.ModeFromFlag(0)), run(predictor.ModeFromFlag(1)))
}

func TestSessionResolvesSymbolicBatch(t *testing.T) {
	rt := predictortest.New(ort.NewShape(-1, 2, 2, 1), ort.NewShape(-1, 3))
	session := newSession(t, newModel(t, rt, 3, predictor.ModeCPU))

	requireKind(t, session.Predict(t.Context(), make([]float32, 4)), predictor.KindShapeMismatch)
	require.NoError(t, session.Predict(t.Context(), make([]float32, 12)))

	shape, err := session.InputShape()
	require.NoError(t, err)
	assert.Equal(t, ort.NewShape(3, 2, 2, 1), shape)
	out, err := session.Predictions()
	require.NoError(t, err)
	assert.Len(t, out, 9)
	assert.Equal(t, 3, rt.Stats().LastBatchSize)
}

func TestSessionRuntimeFailures(t *testing.T) {
	cases := []struct {
		name   string
		inject func(*predictortest.Runtime)
		kind   predictor.Kind
	}{
		{"engine build", func(rt *predictortest.Runtime) { rt.BuildErr = errors.New("no kernels") }, predictor.KindEngineBuild},
		{"allocation", func(rt *predictortest.Runtime) { rt.AllocateErr = errors.New("out of memory") }, predictor.KindAllocation},
		{"invocation", func(rt *predictortest.Runtime) { rt.InvokeErr = errors.New("kernel failed") }, predictor.KindInvocation},
		{"missing output", func(rt *predictortest.Runtime) {
			rt.Compute = func([]float32, ort.Shape) (ort.Shape, []float32) { return nil, nil }
		}, predictor.KindInvocation},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rt := predictortest.New(imageInput, classOutput)
			tc.inject(rt)
			session := newSession(t, newModel(t, rt, 1, predictor.ModeCPU))

			err := session.Predict(t.Context(), make([]float32, imageLen))
			requireKind(t, err, tc.kind)
			_, err = session.Predictions()
			requireKind(t, err, predictor.KindNotReady)

			stats := rt.Stats()
			assert.Equal(t, stats.EnginesBuilt, stats.EnginesDestroyed)
		})
	}
}

func TestSessionCancelledContextSkipsInvoke(t *testing.T) {
	rt := predictortest.New(imageInput, classOutput)
	session := newSession(t, newModel(t, rt, 1, predictor.ModeCPU))

	ctx, cancel := context.WithCancel(t.Context())
	cancel()
	err := session.Predict(ctx, make([]float32, imageLen))
	requireKind(t, err, predictor.KindInvocation)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, rt.Stats().Invocations)
}

func TestSessionDestroy(t *testing.T) {
	rt := predictortest.New(imageInput, classOutput)
	model := newModel(t, rt, 1, predictor.ModeCPU)
	session, err := predictor.NewSession(model)
	require.NoError(t, err)

	require.NoError(t, session.Predict(t.Context(), make([]float32, imageLen)))
	require.NoError(t, session.Destroy())
	require.NoError(t, session.Destroy())

	_, err = session.Predictions()
	requireKind(t, err, predictor.KindNotReady)
	requireKind(t, session.Predict(t.Context(), make([]float32, imageLen)), predictor.KindInvalidHandle)

	var nilSession *predictor.Session
	require.NoError(t, nilSession.Destroy())
}

func TestNewSessionRejectsNilModel(t *testing.T) {
	_, err := predictor.NewSession(nil)
	requireKind(t, err, predictor.KindInvalidArgument)
}

func TestSessionsShareModelConcurrently(t *testing.T) {
	rt := predictortest.New(ort.NewShape(1, 2, 2, 1), ort.NewShape(1, 4))
	model := newModel(t, rt, 1, predictor.ModeCPU)

	const workers = 8
	results := make([][]float32, workers)
	var g errgroup.Group
	for i := 0; i < workers; i++ {
		session := newSession(t, model)
		g.Go(func() error {
			v := float32(i)
			if err := session.Predict(context.Background(), []float32{v, v, v, v}); err != nil {
				return err
			}
			out, err := session.Predictions()
			results[i] = out
			return err
		})
	}
	require.NoError(t, g.Wait())

	for i, out := range results {
		v := 2 * float32(i)
		assert.Equal(t, []float32{v, v, v, v}, out)
	}
	stats := rt.Stats()
	assert.Equal(t, workers, stats.EnginesBuilt)
	assert.Equal(t, workers, stats.EnginesDestroyed)
}
