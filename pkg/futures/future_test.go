package futures

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReadyBeforeAndAfterResolve(t *testing.T) {
	f, r := New[int]()
	assert.False(t, f.Ready())

	r.Resolve(42)
	assert.True(t, f.Ready())

	v, err := f.MustGet()
	require.NoError(t, err)
	assert.Equal(t, 42, v)
}

func TestWaitTimesOutWithoutResolving(t *testing.T) {
	f, _ := New[int]()
	ready := f.Wait(20 * time.Millisecond)
	assert.False(t, ready)
	assert.False(t, f.Ready())
}

func TestWaitObservesLateResolve(t *testing.T) {
	f, r := New[string]()
	go func() {
		time.Sleep(10 * time.Millisecond)
		r.Resolve("done")
	}()

	ready := f.Wait(500 * time.Millisecond)
	require.True(t, ready)

	v, err := f.MustGet()
	require.NoError(t, err)
	assert.Equal(t, "done", v)
}

func TestGetPropagatesStoredError(t *testing.T) {
	f, r := New[int]()
	boom := errors.New("boom")
	r.Fail(boom)

	_, err := f.Get(context.Background())
	assert.ErrorIs(t, err, boom)
}

func TestGetRespectsContextCancellation(t *testing.T) {
	f, _ := New[int]()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, err := f.Get(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestResolveIsIdempotent(t *testing.T) {
	f, r := New[int]()
	r.Resolve(1)
	r.Resolve(2) // ignored, future already settled
	v, err := f.MustGet()
	require.NoError(t, err)
	assert.Equal(t, 1, v)
}

func TestThenChainsOntoResolution(t *testing.T) {
	f, r := New[int]()
	chained := Then(f, func(v int, err error) (string, error) {
		if err != nil {
			return "", err
		}
		return "value-and-a-bit", nil
	})

	r.Resolve(7)
	v, err := chained.Get(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "value-and-a-bit", v)
}

func TestThenPropagatesUpstreamError(t *testing.T) {
	f, r := New[int]()
	upstream := errors.New("upstream failed")
	chained := Then(f, func(v int, err error) (int, error) {
		if err != nil {
			return 0, err
		}
		return v * 2, nil
	})

	r.Fail(upstream)
	_, err := chained.Get(context.Background())
	assert.ErrorIs(t, err, upstream)
}

func TestResolvedAndFailedHelpers(t *testing.T) {
	ok := Resolved(5)
	assert.True(t, ok.Ready())
	v, err := ok.MustGet()
	require.NoError(t, err)
	assert.Equal(t, 5, v)

	bad := Failed[int](errors.New("nope"))
	assert.True(t, bad.Ready())
	_, err = bad.MustGet()
	assert.Error(t, err)
}
