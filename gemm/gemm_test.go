package gemm

import (
	"bytes"
	"context"
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/slowlang/gemmjit/jit"
)

func generate(t *testing.T, maxRows, ncRem, kc int, p Params) []byte {
	t.Helper()

	b, err := jit.NewBuffer(0)
	require.NoError(t, err)

	t.Cleanup(func() { _ = b.Release() })

	err = Generate(context.Background(), b, maxRows, ncRem, kc, p)
	require.NoError(t, err)

	return b.Code()
}

func countWords(code []byte, mask, want uint32) int {
	n := 0

	for off := 0; off+4 <= len(code); off += 4 {
		if binary.LittleEndian.Uint32(code[off:])&mask == want {
			n++
		}
	}

	return n
}

const (
	fmaxMask = 0xFFE0FC00
	fmaxWord = 0x4E20F400
	fminWord = 0x4EA0F400
)

func TestDeterministic(t *testing.T) {
	for maxRows := 1; maxRows <= MaxRows; maxRows++ {
		first := generate(t, maxRows, NCRemAny, 64, MinMax(0, 6))
		second := generate(t, maxRows, NCRemAny, 64, MinMax(0, 6))

		require.True(t, bytes.Equal(first, second), "max rows %v: regeneration produced different code", maxRows)
	}
}

func TestShapesGenerate(t *testing.T) {
	for maxRows := 1; maxRows <= MaxRows; maxRows++ {
		for _, kc := range []int{4, 8, 12, 16, 64, 100} {
			for _, ncRem := range []int{NCRemAny, 0, 1, 5, 7} {
				code := generate(t, maxRows, ncRem, kc, Unbounded())

				require.NotEmpty(t, code)
				require.Zero(t, len(code)%16, "code is padded to 16 bytes")
			}
		}
	}

	// taller tiles unroll more rows
	short := generate(t, 1, NCRemAny, 64, Unbounded())
	tall := generate(t, MaxRows, NCRemAny, 64, Unbounded())

	assert.Greater(t, len(tall), len(short))
}

func TestClampElision(t *testing.T) {
	inf := Unbounded()

	for _, tc := range []struct {
		name         string
		params       Params
		fmaxs, fmins int
	}{
		{"unbounded", inf, 0, 0},
		{"min only", MinMax(0, inf.Max), 2 * MaxRows, 0},
		{"max only", MinMax(inf.Min, 6), 0, 2 * MaxRows},
		{"both", MinMax(0, 6), 2 * MaxRows, 2 * MaxRows},
	} {
		t.Run(tc.name, func(t *testing.T) {
			code := generate(t, MaxRows, NCRemAny, 64, tc.params)

			assert.Equal(t, tc.fmaxs, countWords(code, fmaxMask, fmaxWord))
			assert.Equal(t, tc.fmins, countWords(code, fmaxMask, fminWord))
		})
	}
}

func TestHardSwishFusion(t *testing.T) {
	plain := generate(t, MaxRows, NCRemAny, 64, Unbounded())
	fused := generate(t, MaxRows, NCRemAny, 64, PostOps(PostOp{Kind: PostOpHardSwish}))

	assert.Greater(t, len(fused), len(plain))

	// the constants load: ld3r {v0.4s-v2.4s}, [x8], 12
	assert.Equal(t, 1, countWords(fused, 0xFFFFFFFF, 0x4DDFE900))

	// no clamp against the bound registers alongside post ops; the
	// hardswish sequence has its own fmin against v2
	assert.Zero(t, countWords(fused, 0xFFFFFC00, fminWord|uint32(7)<<16))
}

func TestUnsupportedPostOp(t *testing.T) {
	b, err := jit.NewBuffer(0)
	require.NoError(t, err)
	defer b.Release()

	err = Generate(context.Background(), b, MaxRows, NCRemAny, 64, PostOps(PostOp{Kind: 0x77}))
	require.ErrorIs(t, err, ErrUnsupportedPostOp)

	// the buffer is poisoned, no kernel can be sealed out of it
	require.Error(t, b.Finalize())
	require.False(t, b.Sealed())
}

func TestBuildUnsupportedPostOp(t *testing.T) {
	k, err := Build(context.Background(), MaxRows, NCRemAny, 64, PostOps(PostOp{Kind: 0x55}))
	require.ErrorIs(t, err, ErrUnsupportedPostOp)
	require.Nil(t, k)
}

func TestPreconditionsPanic(t *testing.T) {
	b, err := jit.NewBuffer(0)
	require.NoError(t, err)
	defer b.Release()

	ctx := context.Background()

	for _, tc := range []struct {
		name string
		call func()
	}{
		{"zero rows", func() { _ = Generate(ctx, b, 0, NCRemAny, 64, Unbounded()) }},
		{"too many rows", func() { _ = Generate(ctx, b, MaxRows+1, NCRemAny, 64, Unbounded()) }},
		{"nc rem out of range", func() { _ = Generate(ctx, b, 1, TileCols, 64, Unbounded()) }},
		{"zero kc", func() { _ = Generate(ctx, b, 1, NCRemAny, 0, Unbounded()) }},
		{"misaligned kc", func() { _ = Generate(ctx, b, 1, NCRemAny, 10, Unbounded()) }},
		{"clamp and post ops", func() {
			p := MinMax(0, 6)
			p.PostOps = []PostOp{{Kind: PostOpHardSwish}}

			_ = Generate(ctx, b, 1, NCRemAny, 64, p)
		}},
	} {
		t.Run(tc.name, func(t *testing.T) {
			require.Panics(t, tc.call)
		})
	}
}

func TestNumericParams(t *testing.T) {
	p := MinMax(-1, 6)

	block := p.NumericParams()
	require.Len(t, block, 8)

	hs := PostOps(PostOp{Kind: PostOpHardSwish}, PostOp{Kind: PostOpHardSwish})

	block = hs.NumericParams()
	require.Len(t, block, 24)
}
