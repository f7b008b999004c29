package gemm

import (
	"tlog.app/go/errors"

	"github.com/slowlang/gemmjit/asm/arm64"
)

// fusePostOps emits the post operation list directly on the accumulator
// registers, so activations cost no memory round-trip. An unrecognized
// kind aborts generation; it is never skipped.
func (g *generator) fusePostOps(ops []PostOp) error {
	if len(ops) == 0 {
		return nil
	}

	// Every op advances the params pointer past its own constants, and
	// the epilogue runs once per column tile. Reload the pointer so each
	// tile reads the same block.
	g.LdrX(regParams, arm64.SP, 8)

	for _, op := range ops {
		switch op.Kind {
		case PostOpHardSwish:
			g.hardSwish()
		default:
			return errors.Wrap(ErrUnsupportedPostOp, "kind %v", op.Kind)
		}
	}

	return nil
}

// hardSwish computes acc = acc * clamp(acc+3, 0, 6) / 6 on every active
// accumulator. The A element vectors are dead here, so v0-v3 hold the
// constants and v4-v7 are temporaries; the callee-saved v8-v15 stay
// untouched.
func (g *generator) hardSwish() {
	const (
		sixth = arm64.V0
		three = arm64.V1
		six   = arm64.V2
		zero  = arm64.V3
	)

	tmp := [4]arm64.VReg{arm64.V4, arm64.V5, arm64.V6, arm64.V7}

	g.Ld3R4SPost(sixth, three, six, regParams)
	g.MoviZero4S(zero)

	var accs []arm64.VReg
	for r := 0; r < g.plan.rows; r++ {
		accs = append(accs, g.plan.acc[r][0], g.plan.acc[r][1])
	}

	for len(accs) > 0 {
		batch := accs
		if len(batch) > len(tmp) {
			batch = batch[:len(tmp)]
		}
		accs = accs[len(batch):]

		for i, acc := range batch {
			g.Fadd4S(tmp[i], acc, three)
		}
		for _, acc := range batch {
			g.Fmul4S(acc, acc, sixth)
		}
		for i := range batch {
			g.Fmax4S(tmp[i], tmp[i], zero)
		}
		for i := range batch {
			g.Fmin4S(tmp[i], tmp[i], six)
		}
		for i, acc := range batch {
			g.Fmul4S(acc, acc, tmp[i])
		}
	}
}
