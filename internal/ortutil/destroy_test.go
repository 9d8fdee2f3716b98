package ortutil

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/multierr"
)

type fakeResource struct {
	calls int
	err   error
}

func (f *fakeResource) Destroy() error {
	f.calls++
	return f.err
}

func TestDestroyAllSkipsNil(t *testing.T) {
	var typedNil *fakeResource
	live := &fakeResource{}

	require.NoError(t, DestroyAll(nil, typedNil, live))
	assert.Equal(t, 1, live.calls)
}

func TestDestroyAllCombinesErrors(t *testing.T) {
	errA := errors.New("a failed")
	errB := errors.New("b failed")
	a := &fakeResource{err: errA}
	ok := &fakeResource{}
	b := &fakeResource{err: errB}

	err := DestroyAll(a, ok, b)
	require.Error(t, err)
	assert.ErrorIs(t, err, errA)
	assert.ErrorIs(t, err, errB)
	assert.Len(t, multierr.Errors(err), 2)
	assert.Equal(t, 1, ok.calls, "a failing release must not stop the rest")
}

func TestDestroyNamedLabelsFailures(t *testing.T) {
	boom := errors.New("boom")
	err := DestroyNamed(
		Named{Name: "input tensor", Resource: &fakeResource{}},
		Named{Name: "session", Resource: &fakeResource{err: boom}},
		Named{Name: "options", Resource: (*fakeResource)(nil)},
	)
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
	assert.Contains(t, err.Error(), "failed to destroy session")
	assert.NotContains(t, err.Error(), "input tensor")
}
