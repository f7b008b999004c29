//go:build unix

package jit

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"tlog.app/go/errors"
)

func TestEmitAndReadBack(t *testing.T) {
	b, err := NewBuffer(0)
	require.NoError(t, err)
	defer b.Release()

	b.Emit32(0xD65F03C0)
	b.Emit32(0xD503201F)

	require.NoError(t, b.Err())
	require.Equal(t, 8, b.Len())

	assert.Equal(t, uint32(0xD65F03C0), b.Word32(0))
	assert.Equal(t, uint32(0xD503201F), b.Word32(4))
	assert.Equal(t, []byte{0xC0, 0x03, 0x5F, 0xD6}, b.Code()[:4])
}

func TestGrow(t *testing.T) {
	b, err := NewBuffer(1)
	require.NoError(t, err)
	defer b.Release()

	n := b.Cap()/4 + 100

	for i := 0; i < n; i++ {
		b.Emit32(uint32(i))
	}

	require.NoError(t, b.Err())
	require.Equal(t, n*4, b.Len())

	for i := 0; i < n; i++ {
		require.Equal(t, uint32(i), b.Word32(i*4))
	}
}

func TestFinalizeSeals(t *testing.T) {
	b, err := NewBuffer(0)
	require.NoError(t, err)
	defer b.Release()

	b.Emit32(0xD65F03C0)

	require.NoError(t, b.Finalize())
	require.True(t, b.Sealed())

	b.Emit32(0xD503201F)
	require.ErrorIs(t, b.Err(), ErrSealed)
	require.Equal(t, 4, b.Len())

	require.ErrorIs(t, b.Finalize(), ErrSealed)
}

func TestErrorIsSticky(t *testing.T) {
	b, err := NewBuffer(0)
	require.NoError(t, err)
	defer b.Release()

	b.Emit32(1)

	sentinel := errors.New("bad operand")

	b.Fail(sentinel)
	b.Fail(errors.New("second failure is not recorded"))

	b.Emit32(2)
	require.Equal(t, 4, b.Len())

	err = b.Finalize()
	require.ErrorIs(t, err, sentinel)
	require.False(t, b.Sealed())
}

func TestPatch(t *testing.T) {
	b, err := NewBuffer(0)
	require.NoError(t, err)
	defer b.Release()

	b.Emit32(0x14000000)
	b.Emit32(0xD65F03C0)

	b.Patch32(0, 0x14000002)
	require.NoError(t, b.Err())
	assert.Equal(t, uint32(0x14000002), b.Word32(0))

	b.Patch32(8, 0)
	require.Error(t, b.Err())
}
