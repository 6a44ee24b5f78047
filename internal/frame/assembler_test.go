package frame

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBeginContinueEnd_AssemblesInOrder(t *testing.T) {
	a := New(1024)
	require.NoError(t, a.Begin(1, 1, []byte("hel")))
	require.NoError(t, a.Continue(1, 1, []byte("lo ")))
	out, err := a.End(1, 1, []byte("world"))
	require.NoError(t, err)
	assert.Equal(t, "hello world", string(out))
}

func TestEnd_ClearsBuffer(t *testing.T) {
	a := New(1024)
	require.NoError(t, a.Begin(1, 1, []byte("a")))
	_, err := a.End(1, 1, []byte("b"))
	require.NoError(t, err)

	out, err := a.End(1, 1, []byte("c"))
	require.NoError(t, err)
	assert.Equal(t, "c", string(out), "buffer must have been cleared after the prior End")
}

func TestOversizeDuringBegin_ReturnsErrTooLarge(t *testing.T) {
	a := New(4)
	err := a.Begin(1, 1, []byte("toolong"))
	assert.ErrorIs(t, err, ErrTooLarge)
}

func TestOversizeDuringContinue_ReturnsErrTooLarge(t *testing.T) {
	a := New(4)
	require.NoError(t, a.Begin(1, 1, []byte("ab")))
	err := a.Continue(1, 1, []byte("cde"))
	assert.ErrorIs(t, err, ErrTooLarge)
}

func TestOversizeDuringEnd_ReturnsErrTooLarge(t *testing.T) {
	a := New(4)
	require.NoError(t, a.Begin(1, 1, []byte("ab")))
	_, err := a.End(1, 1, []byte("cde"))
	assert.ErrorIs(t, err, ErrTooLarge)
}

func TestKeyedByUserAndConnection_NoRaceBetweenConnections(t *testing.T) {
	a := New(1024)
	require.NoError(t, a.Begin(1, 1, []byte("conn1-")))
	require.NoError(t, a.Begin(1, 2, []byte("conn2-")))

	out1, err := a.End(1, 1, []byte("done"))
	require.NoError(t, err)
	out2, err := a.End(1, 2, []byte("done"))
	require.NoError(t, err)

	assert.Equal(t, "conn1-done", string(out1))
	assert.Equal(t, "conn2-done", string(out2))
}

func TestClear_DiscardsInProgressBuffer(t *testing.T) {
	a := New(1024)
	require.NoError(t, a.Begin(1, 1, []byte("partial")))
	a.Clear(1, 1)
	out, err := a.End(1, 1, []byte("fresh"))
	require.NoError(t, err)
	assert.Equal(t, "fresh", string(out))
}
