package gemm

import (
	"encoding/binary"
	"math"
)

type (
	PostOpKind uint8

	// PostOp is one fused elementwise transform applied to the
	// accumulators before the store, in list order.
	PostOp struct {
		Kind PostOpKind
	}

	// Params is the numeric policy baked into a generated kernel.
	// Either the Min/Max saturation bounds are used, or PostOps is; a
	// kernel never has both. Use the constructors: the zero value clamps
	// everything to zero.
	Params struct {
		Min float32
		Max float32

		PostOps []PostOp
	}
)

const (
	PostOpNone PostOpKind = iota
	PostOpHardSwish
)

// Unbounded is the policy with no clamping and no post operations. The
// generator emits no epilogue arithmetic for it.
func Unbounded() Params {
	return Params{
		Min: float32(math.Inf(-1)),
		Max: float32(math.Inf(1)),
	}
}

// MinMax is the saturation policy min <= out <= max. Infinite bounds
// cost nothing in the generated code.
func MinMax(min, max float32) Params {
	return Params{Min: min, Max: max}
}

// PostOps is the fused post operation policy.
func PostOps(ops ...PostOp) Params {
	p := Unbounded()
	p.PostOps = ops

	return p
}

func (p Params) clampMin() bool { return !math.IsInf(float64(p.Min), -1) }
func (p Params) clampMax() bool { return !math.IsInf(float64(p.Max), 1) }

// NumericParams builds the runtime parameter block the generated kernel
// reads. Its layout matches the policy the kernel was generated with:
// [min, max] for a clamping kernel, one [1/6, 3, 6] triple per fused
// hardswish otherwise. Pass the result to Kernel.Call.
func (p Params) NumericParams() []byte {
	if len(p.PostOps) == 0 {
		return appendF32(nil, p.Min, p.Max)
	}

	var b []byte

	for _, op := range p.PostOps {
		switch op.Kind {
		case PostOpHardSwish:
			b = appendF32(b, 1.0/6, 3, 6)
		}
	}

	return b
}

func appendF32(b []byte, vals ...float32) []byte {
	for _, v := range vals {
		b = binary.LittleEndian.AppendUint32(b, math.Float32bits(v))
	}

	return b
}
