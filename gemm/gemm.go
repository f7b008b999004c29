package gemm

import (
	"context"
	"fmt"

	"tlog.app/go/errors"
	"tlog.app/go/tlog"

	"github.com/slowlang/gemmjit/asm/arm64"
	"github.com/slowlang/gemmjit/jit"
)

// Runtime generator for the f32 6x8 aarch64 NEON microkernel. One
// specialization per {maxRows, column remainder mode, kc, numeric
// policy}; emission is a pure function of those, so identical inputs
// produce byte-identical code.
//
// Generated kernel calling convention (AAPCS64):
//
//	mr        x0    rows to compute, mr <= maxRows
//	nc        x1    columns to compute
//	kc        x2    reduction size in bytes
//	a         x3    input, mr rows of kc bytes
//	a_stride  x4    input row stride in bytes
//	w         x5    packed bias+weights stream
//	c         x6    output
//	cm_stride x7    output row stride in bytes
//	cn_stride [sp]  output column-tile stride in bytes
//	params    [sp+8]

const (
	// MaxRows is the tallest tile the profile supports.
	MaxRows = 6

	// TileCols is the output tile width in f32 elements.
	TileCols = 8

	// unroll is the main loop granularity: 4 floats of A per row per
	// iteration, 16 bytes.
	unroll = 16

	maxRowLanes = MaxRows
)

// NCRemAny generates the full store cascade for an unknown column
// remainder.
const NCRemAny = -1

var ErrUnsupportedPostOp = errors.New("unsupported post operation")

type (
	generator struct {
		*arm64.Assembler

		plan rolePlan
	}
)

// Generate emits one specialized kernel into b and seals it. maxRows is
// 1..6, ncRem is NCRemAny or the column count modulo 8, kc is the
// reduction size in bytes (positive, multiple of 4). Malformed shapes
// panic; everything else surfaces as an error and leaves b invalid.
func Generate(ctx context.Context, b *jit.Buffer, maxRows, ncRem, kc int, p Params) (err error) {
	tr, _ := tlog.SpawnFromContextAndWrap(ctx, "gemm: generate", "max_rows", maxRows, "nc_rem", ncRem, "kc", kc, "post_ops", len(p.PostOps))
	defer func() {
		tr.Finish("size", b.Len(), "err", &err)
	}()

	if maxRows < 1 || maxRows > MaxRows {
		panic(fmt.Sprintf("max rows %v out of range 1..%v", maxRows, MaxRows))
	}
	if ncRem != NCRemAny && (ncRem < 0 || ncRem >= TileCols) {
		panic(fmt.Sprintf("column remainder %v out of range", ncRem))
	}
	if kc <= 0 || kc%4 != 0 {
		panic(fmt.Sprintf("reduction size %v bytes is not a positive multiple of the element size", kc))
	}
	if len(p.PostOps) != 0 && (p.clampMin() || p.clampMax()) {
		panic("clamp bounds and post operations are mutually exclusive")
	}

	g := &generator{
		Assembler: arm64.New(b),
		plan:      planFor(maxRows),
	}

	err = g.generate(p)
	if err != nil {
		b.Fail(err)
		return errors.Wrap(err, "generate")
	}

	err = g.Finalize()
	if err != nil {
		return errors.Wrap(err, "finalize")
	}

	return nil
}

func (g *generator) generate(p Params) error {
	pl := g.plan

	lBias := g.NewLabel()     // top of the column tile loop
	lMain := g.NewLabel()     // main reduction loop
	lEpilogue := g.NewLabel() // clamp / post ops / store dispatch
	lKRem := g.NewLabel()     // 2-float reduction remainder
	lKRem1 := g.NewLabel()    // 1-float reduction remainder
	lStore4 := g.NewLabel()   // partial store cascade, 4-column tier
	lStore2 := g.NewLabel()
	lStore1 := g.NewLabel()
	lDone := g.NewLabel()

	g.LdrX(regParams, arm64.SP, 8)

	// Derive row pointers, branch-free. A lane past the caller's mr
	// duplicates the previous lane's pointers, so every generated lane
	// touches valid memory; the duplicated row is overwritten by its own
	// correct result afterwards.
	for r := 1; r < pl.rows; r++ {
		cond := arm64.LS
		if r%2 == 1 {
			g.CmpImm(regMR, r+1)
			cond = arm64.LO
		}

		g.AddX(pl.a[r], pl.a[r-1], regAStride)
		g.AddX(pl.c[r], pl.c[r-1], regCMStride)
		g.CselX(pl.a[r], pl.a[r-1], pl.a[r], cond)
		g.CselX(pl.c[r], pl.c[r-1], pl.c[r], cond)
	}

	if p.clampMin() || p.clampMax() {
		g.Ld2R4S(clampMinV, clampMaxV, regParams)
	}

	g.Place(lBias)

	// Bias into row 0, broadcast to the other lanes, interleaved with
	// prefetches of both operand streams.
	g.LdpQPost(pl.acc[0][0], pl.acc[0][1], regW, 32)

	prefetches := [...]struct {
		rn  arm64.XReg
		off int
	}{
		{regW, 0}, {regW, 64}, {regW, 128}, {regW, 192},
		{pl.a[0], 0}, {pl.a[1], 0}, {pl.a[2], 0}, {pl.a[3], 0}, {pl.a[4], 0}, {pl.a[5], 0},
	}

	slot := 0

	for r := 1; r < maxRowLanes; r++ {
		for half := 0; half < 2; half++ {
			if r < pl.rows {
				g.MovV16B(pl.acc[r][half], pl.acc[0][half])
			}

			g.Prfm(arm64.PLDL1Keep, prefetches[slot].rn, prefetches[slot].off)
			slot++
		}
	}

	// Main loop while at least 4 floats of A remain.
	g.SubsImm(regK, regKC, unroll)
	g.Bc(arm64.LO, lKRem)

	g.Place(lMain)

	g.LdrQPost(pl.av[0], pl.a[0], 16)
	g.LdpQPost(wv0, wv1, regW, 32)
	for r := 1; r < pl.rows; r++ {
		g.LdrQPost(pl.av[r], pl.a[r], 16)
	}

	// Element 0.
	g.fmlaLo(0, 3, wv0, 0)
	g.LdpQPost(wv2, wv3, regW, 32)
	g.fmlaLo(4, 5, wv0, 0)
	g.fmlaHi(0, 5, wv1, 0)

	// Element 1.
	g.fmlaLo(0, 0, wv2, 1)
	g.LdpQPost(wv0, wv1, regW, 32)
	g.fmlaLo(1, 5, wv2, 1)
	g.fmlaHi(0, 5, wv3, 1)

	// Element 2.
	g.fmlaLo(0, 0, wv0, 2)
	g.LdpQPost(wv2, wv3, regW, 32)
	g.fmlaLo(1, 5, wv0, 2)
	g.fmlaHi(0, 5, wv1, 2)

	// Element 3.
	g.fmlaLo(0, 5, wv2, 3)
	g.fmlaHi(0, 3, wv3, 3)
	g.SubsImm(regK, regK, unroll)
	g.fmlaHi(4, 5, wv3, 3)

	g.Bc(arm64.HS, lMain)

	g.TstImm(regK, unroll-1)
	g.Bc(arm64.NE, lKRem)

	g.Place(lEpilogue)

	// Clamp, or fused post operations; never both.
	if p.clampMin() {
		g.Fmax4S(pl.acc[0][0], pl.acc[0][0], clampMinV)
	}

	g.LdrX(regCNStride, arm64.SP, 0)

	if p.clampMin() {
		g.Fmax4S(pl.acc[0][1], pl.acc[0][1], clampMinV)

		for r := 1; r < pl.rows; r++ {
			g.Fmax4S(pl.acc[r][0], pl.acc[r][0], clampMinV)
			g.Fmax4S(pl.acc[r][1], pl.acc[r][1], clampMinV)
		}
	}

	g.SubsImm(regNC, regNC, TileCols)

	if p.clampMax() {
		for r := 0; r < pl.rows; r++ {
			g.Fmin4S(pl.acc[r][0], pl.acc[r][0], clampMaxV)
			g.Fmin4S(pl.acc[r][1], pl.acc[r][1], clampMaxV)
		}
	}

	err := g.fusePostOps(p.PostOps)
	if err != nil {
		return err
	}

	g.Bc(arm64.LO, lStore4)

	// Full-width store, then rewind A for the next column tile.
	for r := 0; r < pl.rows; r++ {
		g.St1Two16B(pl.acc[r][0], pl.acc[r][1], pl.c[r], regCNStride)
		g.SubX(pl.a[r], pl.a[r], regKC)
	}

	g.Bc(arm64.HI, lBias)
	g.Ret()

	// Reduction remainder, entered per set bit of the remaining count:
	// 2 floats, falling through to 1.
	g.Place(lKRem)
	g.Tbz(regK, 3, lKRem1)

	g.LdrDPost(pl.av[0], pl.a[0], 8)
	g.LdpQPost(wv0, wv1, regW, 32)
	for r := 1; r < pl.rows; r++ {
		g.LdrDPost(pl.av[r], pl.a[r], 8)
	}

	g.fmlaLo(0, 3, wv0, 0)
	g.LdpQPost(wv2, wv3, regW, 32)
	g.fmlaLo(4, 5, wv0, 0)
	g.fmlaHi(0, 5, wv1, 0)
	g.fmlaLo(0, 5, wv2, 1)
	g.fmlaHi(0, 5, wv3, 1)

	g.Tbz(regK, 2, lEpilogue)

	g.Place(lKRem1)

	g.LdrSPost(pl.av[0], pl.a[0], 4)
	g.LdpQPost(wv0, wv1, regW, 32)
	for r := 1; r < pl.rows; r++ {
		g.LdrSPost(pl.av[r], pl.a[r], 4)
	}

	g.fmlaLo(0, 5, wv0, 0)
	g.fmlaHi(0, 5, wv1, 0)

	g.B(lEpilogue)

	// Store cascade for nc mod 8, one tier per set bit. Each tier stores
	// the already-computed low half and repositions the upper lanes so
	// the next tier reads correctly-placed data instead of recomputing.
	g.Place(lStore4)
	g.Tbz(regNC, 2, lStore2)

	for r := 0; r < pl.rows; r++ {
		g.StrQPost(pl.acc[r][0], pl.c[r], 16)
		g.MovV16B(pl.acc[r][0], pl.acc[r][1])
	}

	g.Place(lStore2)
	g.Tbz(regNC, 1, lStore1)

	for r := 0; r < pl.rows; r += 2 {
		g.StrDPost(pl.acc[r][0], pl.c[r], 8)
		if r+1 < pl.rows {
			g.StrDPost(pl.acc[r+1][0], pl.c[r+1], 8)
		}

		g.DupD1(pl.acc[r][0], pl.acc[r][0])
		if r+1 < pl.rows {
			g.DupD1(pl.acc[r+1][0], pl.acc[r+1][0])
		}
	}

	g.Place(lStore1)
	g.Tbz(regNC, 0, lDone)

	for r := 0; r < pl.rows; r++ {
		g.StrS(pl.acc[r][0], pl.c[r])
	}

	g.Place(lDone)
	g.Ret()

	g.Align(16, func() { g.Hlt(0) })

	return nil
}

// fmlaLo accumulates columns 0..3 for rows from..to against the element
// elem of each row's A vector.
func (g *generator) fmlaLo(from, to int, w arm64.VReg, elem int) {
	for r := from; r <= to && r < g.plan.rows; r++ {
		g.Fmla4S(g.plan.acc[r][0], w, g.plan.av[r], elem)
	}
}

// fmlaHi accumulates columns 4..7.
func (g *generator) fmlaHi(from, to int, w arm64.VReg, elem int) {
	for r := from; r <= to && r < g.plan.rows; r++ {
		g.Fmla4S(g.plan.acc[r][1], w, g.plan.av[r], elem)
	}
}
