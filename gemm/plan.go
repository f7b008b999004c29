package gemm

import (
	"github.com/slowlang/gemmjit/asm/arm64"
)

type (
	// rolePlan is the fixed role-to-register binding for one tile shape.
	// It is a lookup table, not an allocator: the kernel shape space is
	// small enough to bind every role once, and no two roles collide.
	//
	// Per row lane: the A and C pointers, the A element vector and the
	// accumulator pair covering the 8 output columns.
	rolePlan struct {
		rows int

		a   [maxRowLanes]arm64.XReg
		c   [maxRowLanes]arm64.XReg
		av  [maxRowLanes]arm64.VReg
		acc [maxRowLanes][2]arm64.VReg
	}
)

// Shared roles. x0 is the row count at entry, then the reduction
// counter, then the C column stride; x4 is the A stride until row 5's
// pointer replaces it; x7 likewise holds the C row stride.
const (
	regMR       = arm64.X0
	regK        = arm64.X0
	regCNStride = arm64.X0
	regNC       = arm64.X1
	regKC       = arm64.X2
	regAStride  = arm64.X4
	regW        = arm64.X5
	regCMStride = arm64.X7
	regParams   = arm64.X8
)

// Weight stream and clamp constants. v8-v15 are callee saved and left
// untouched.
const (
	wv0 = arm64.V16
	wv1 = arm64.V17
	wv2 = arm64.V18
	wv3 = arm64.V19

	clampMinV = arm64.V6
	clampMaxV = arm64.V7
)

// planFor derives the role table for a shape. Pure function of the
// shape, re-derived per generation call.
func planFor(maxRows int) rolePlan {
	return rolePlan{
		rows: maxRows,

		a: [maxRowLanes]arm64.XReg{arm64.X3, arm64.X9, arm64.X10, arm64.X11, arm64.X12, arm64.X4},
		c: [maxRowLanes]arm64.XReg{arm64.X6, arm64.X16, arm64.X17, arm64.X14, arm64.X13, arm64.X7},

		av: [maxRowLanes]arm64.VReg{arm64.V0, arm64.V1, arm64.V2, arm64.V3, arm64.V4, arm64.V5},

		acc: [maxRowLanes][2]arm64.VReg{
			{arm64.V20, arm64.V21},
			{arm64.V22, arm64.V23},
			{arm64.V24, arm64.V25},
			{arm64.V26, arm64.V27},
			{arm64.V28, arm64.V29},
			{arm64.V30, arm64.V31},
		},
	}
}
