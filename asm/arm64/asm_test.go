package arm64

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/slowlang/gemmjit/jit"
)

func newAsm(t *testing.T) *Assembler {
	t.Helper()

	b, err := jit.NewBuffer(0)
	require.NoError(t, err)

	t.Cleanup(func() { _ = b.Release() })

	return New(b)
}

func words(a *Assembler) []uint32 {
	code := a.Buffer().Code()
	w := make([]uint32, 0, len(code)/4)

	for off := 0; off+4 <= len(code); off += 4 {
		w = append(w, binary.LittleEndian.Uint32(code[off:]))
	}

	return w
}

// Expected words cross-checked against an independent disassembler.
func TestEncodings(t *testing.T) {
	for _, tc := range []struct {
		name string
		emit func(a *Assembler)
		want uint32
	}{
		{"ret", func(a *Assembler) { a.Ret() }, 0xD65F03C0},
		{"nop", func(a *Assembler) { a.Nop() }, 0xD503201F},
		{"hlt 0", func(a *Assembler) { a.Hlt(0) }, 0xD4400000},
		{"ldr x8, [sp, 8]", func(a *Assembler) { a.LdrX(X8, SP, 8) }, 0xF94007E8},
		{"ldr x0, [sp]", func(a *Assembler) { a.LdrX(X0, SP, 0) }, 0xF94003E0},
		{"add x9, x3, x4", func(a *Assembler) { a.AddX(X9, X3, X4) }, 0x8B040069},
		{"sub x3, x3, x2", func(a *Assembler) { a.SubX(X3, X3, X2) }, 0xCB020063},
		{"cmp x0, 2", func(a *Assembler) { a.CmpImm(X0, 2) }, 0xF100081F},
		{"subs x0, x2, 16", func(a *Assembler) { a.SubsImm(X0, X2, 16) }, 0xF1004040},
		{"csel x9, x3, x9, lo", func(a *Assembler) { a.CselX(X9, X3, X9, LO) }, 0x9A893069},
		{"tst x0, 15", func(a *Assembler) { a.TstImm(X0, 15) }, 0xF2400C1F},
		{"prfm pldl1keep, [x5]", func(a *Assembler) { a.Prfm(PLDL1Keep, X5, 0) }, 0xF98000A0},
		{"prfm pldl1keep, [x5, 64]", func(a *Assembler) { a.Prfm(PLDL1Keep, X5, 64) }, 0xF98020A0},
		{"ldr q0, [x3], 16", func(a *Assembler) { a.LdrQPost(V0, X3, 16) }, 0x3CC10460},
		{"ldr d1, [x9], 8", func(a *Assembler) { a.LdrDPost(V1, X9, 8) }, 0xFC408521},
		{"ldr s5, [x4], 4", func(a *Assembler) { a.LdrSPost(V5, X4, 4) }, 0xBC404485},
		{"str q20, [x6], 16", func(a *Assembler) { a.StrQPost(V20, X6, 16) }, 0x3C8104D4},
		{"str d20, [x16], 8", func(a *Assembler) { a.StrDPost(V20, X16, 8) }, 0xFC008614},
		{"str s20, [x6]", func(a *Assembler) { a.StrS(V20, X6) }, 0xBD0000D4},
		{"ldp q20, q21, [x5], 32", func(a *Assembler) { a.LdpQPost(V20, V21, X5, 32) }, 0xACC154B4},
		{"st1 {v20.16b, v21.16b}, [x6], x0", func(a *Assembler) { a.St1Two16B(V20, V21, X6, X0) }, 0x4C80A0D4},
		{"ld2r {v6.4s, v7.4s}, [x8]", func(a *Assembler) { a.Ld2R4S(V6, V7, X8) }, 0x4D60C906},
		{"ld3r {v0.4s-v2.4s}, [x8], 12", func(a *Assembler) { a.Ld3R4SPost(V0, V1, V2, X8) }, 0x4DDFE900},
		{"fmla v20.4s, v16.4s, v0.s[0]", func(a *Assembler) { a.Fmla4S(V20, V16, V0, 0) }, 0x4F801214},
		{"fmax v20.4s, v20.4s, v6.4s", func(a *Assembler) { a.Fmax4S(V20, V20, V6) }, 0x4E26F694},
		{"fmin v20.4s, v20.4s, v7.4s", func(a *Assembler) { a.Fmin4S(V20, V20, V7) }, 0x4EA7F694},
		{"mov v22.16b, v20.16b", func(a *Assembler) { a.MovV16B(V22, V20) }, 0x4EB41E96},
		{"dup d20, v20.d[1]", func(a *Assembler) { a.DupD1(V20, V20) }, 0x5E180694},
		{"movi v3.4s, 0", func(a *Assembler) { a.MoviZero4S(V3) }, 0x4F000403},
	} {
		t.Run(tc.name, func(t *testing.T) {
			a := newAsm(t)

			tc.emit(a)

			require.NoError(t, a.Buffer().Err())
			require.Equal(t, 4, a.Len())
			assert.Equal(t, tc.want, a.Buffer().Word32(0))
		})
	}
}

func TestFmlaIndex(t *testing.T) {
	a := newAsm(t)

	for idx := 0; idx < 4; idx++ {
		a.Fmla4S(V20, V16, V0, idx)
	}

	require.NoError(t, a.Buffer().Err())

	w := words(a)

	assert.Equal(t, uint32(0x4F801214), w[0])
	assert.Equal(t, w[0]|1<<21, w[1])
	assert.Equal(t, w[0]|1<<11, w[2])
	assert.Equal(t, w[0]|1<<21|1<<11, w[3])
}

func TestForwardBranch(t *testing.T) {
	a := newAsm(t)

	l := a.NewLabel()

	a.Bc(LO, l)
	a.Nop()
	a.Nop()
	a.Place(l)
	a.Ret()

	require.NoError(t, a.Finalize())

	w := words(a)

	// displacement 12 bytes = 3 words
	assert.Equal(t, uint32(0x54000000|3<<5|uint32(LO)), w[0])
}

func TestBackwardBranch(t *testing.T) {
	a := newAsm(t)

	l := a.NewLabel()

	a.Place(l)
	a.Nop()
	a.B(l)

	require.NoError(t, a.Finalize())

	w := words(a)

	assert.Equal(t, uint32(0x14000000|(-1&(1<<26-1))), w[1])
}

func TestTbzDisplacement(t *testing.T) {
	a := newAsm(t)

	l := a.NewLabel()

	a.Tbz(X0, 3, l)
	a.Nop()
	a.Place(l)
	a.Ret()

	require.NoError(t, a.Finalize())

	w := words(a)

	assert.Equal(t, uint32(0x36000000|3<<19|2<<5), w[0])
}

func TestUnplacedLabel(t *testing.T) {
	a := newAsm(t)

	l := a.NewLabel()

	a.B(l)
	a.Ret()

	err := a.Finalize()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "never placed")
}

func TestLabelPlacedTwice(t *testing.T) {
	a := newAsm(t)

	l := a.NewLabel()

	a.Place(l)
	a.Nop()
	a.Place(l)

	err := a.Finalize()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "placed twice")
}

func TestEncodingOverflowIsSticky(t *testing.T) {
	a := newAsm(t)

	a.Nop()
	a.SubsImm(X0, X2, 1<<12) // out of range
	a.Nop()                  // ignored after the failure

	require.Equal(t, 4, a.Len())
	require.ErrorIs(t, a.Buffer().Err(), jit.ErrRange)

	err := a.Finalize()
	require.ErrorIs(t, err, jit.ErrRange)
}

func TestAlign(t *testing.T) {
	a := newAsm(t)

	a.Ret()
	a.Align(16, func() { a.Hlt(0) })

	require.NoError(t, a.Finalize())
	require.Equal(t, 16, a.Len())

	w := words(a)

	for _, pad := range w[1:] {
		assert.Equal(t, uint32(0xD4400000), pad)
	}
}
