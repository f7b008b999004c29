package gemm

import (
	"context"

	"tlog.app/go/errors"

	"github.com/slowlang/gemmjit/jit"
)

type (
	// Kernel is a sealed, callable microkernel. It is a pure function of
	// its arguments and safe to invoke concurrently as long as callers
	// write disjoint output regions.
	Kernel struct {
		b *jit.Buffer

		maxRows int
		kc      int
	}
)

// Build allocates a buffer, generates one kernel specialization into it
// and seals it. kc is the reduction size in bytes.
func Build(ctx context.Context, maxRows, ncRem, kc int, p Params) (*Kernel, error) {
	b, err := jit.NewBuffer(0)
	if err != nil {
		return nil, errors.Wrap(err, "new code buffer")
	}

	err = Generate(ctx, b, maxRows, ncRem, kc, p)
	if err != nil {
		_ = b.Release()
		return nil, err
	}

	return &Kernel{b: b, maxRows: maxRows, kc: kc}, nil
}

// Code is the generated machine code.
func (k *Kernel) Code() []byte { return k.b.Code() }

// MaxRows is the tile height the kernel was specialized for.
func (k *Kernel) MaxRows() int { return k.maxRows }

// KC is the reduction size in bytes the kernel was specialized for.
func (k *Kernel) KC() int { return k.kc }

// Release unmaps the kernel. No invocation may be running.
func (k *Kernel) Release() error { return k.b.Release() }
