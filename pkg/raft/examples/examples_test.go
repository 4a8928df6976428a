package examples

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCounterMachineApplyAndSnapshot(t *testing.T) {
	c := NewCounterMachine()
	_, err := c.Apply(EncodeAdd(5), 1)
	require.NoError(t, err)
	_, err = c.Apply(EncodeAdd(-2), 2)
	require.NoError(t, err)
	assert.EqualValues(t, 3, c.Total())

	snap, err := c.Snapshot()
	require.NoError(t, err)

	other := NewCounterMachine()
	require.NoError(t, other.Restore(snap, 2))
	assert.EqualValues(t, 3, other.Total())
}

func TestCounterMachineRejectsMalformedCommand(t *testing.T) {
	c := NewCounterMachine()
	_, err := c.Apply([]byte("garbage"), 1)
	assert.ErrorIs(t, err, ErrMalformedCommand)
}

func TestKVMachinePutGetDeleteSnapshot(t *testing.T) {
	kv := NewKVMachine()
	_, err := kv.Apply(EncodePut("a", []byte("1")), 1)
	require.NoError(t, err)
	v, ok := kv.Get("a")
	require.True(t, ok)
	assert.Equal(t, []byte("1"), v)

	snap, err := kv.Snapshot()
	require.NoError(t, err)

	other := NewKVMachine()
	require.NoError(t, other.Restore(snap, 1))
	v, ok = other.Get("a")
	require.True(t, ok)
	assert.Equal(t, []byte("1"), v)

	_, err = kv.Apply(EncodeDelete("a"), 2)
	require.NoError(t, err)
	_, ok = kv.Get("a")
	assert.False(t, ok)
}
