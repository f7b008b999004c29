package arm64

import (
	"tlog.app/go/errors"

	"github.com/slowlang/gemmjit/jit"
)

type (
	// Label is a branch target. It may be referenced by branches before it
	// is placed; unresolved references fail Finalize.
	Label int

	patchKind uint8

	patch struct {
		off   int
		label Label
		kind  patchKind
	}

	// Assembler emits aarch64 instructions into a jit.Buffer. Encoding
	// failures are recorded in the buffer and checked once, at Finalize.
	Assembler struct {
		b *jit.Buffer

		labels  []int // Label -> byte offset, -1 while unplaced
		patches []patch
	}
)

const (
	patchB patchKind = iota
	patchBCond
	patchTB
)

const unplaced = -1

func New(b *jit.Buffer) *Assembler {
	return &Assembler{b: b}
}

func (a *Assembler) Buffer() *jit.Buffer { return a.b }

func (a *Assembler) Len() int { return a.b.Len() }

func (a *Assembler) NewLabel() Label {
	l := Label(len(a.labels))
	a.labels = append(a.labels, unplaced)

	return l
}

// Place binds l to the current offset. A label is placed at most once.
func (a *Assembler) Place(l Label) {
	if a.labels[l] != unplaced {
		a.b.Fail(errors.New("label %v placed twice", l))
		return
	}

	a.labels[l] = a.b.Len()
}

func (a *Assembler) emit(w uint32) {
	a.b.Emit32(w)
}

// branch emits word with a zero displacement field and either fills the
// displacement in right away (backward branch) or records a patch site.
func (a *Assembler) branch(word uint32, l Label, kind patchKind) {
	off := a.b.Len()

	if target := a.labels[l]; target != unplaced {
		w, err := patchWord(word, kind, target-off)
		if err != nil {
			a.b.Fail(err)
			return
		}

		a.emit(w)
		return
	}

	a.patches = append(a.patches, patch{off: off, label: l, kind: kind})
	a.emit(word)
}

// Finalize resolves every recorded branch, then validates and seals the
// buffer. Any referenced-but-unplaced label is a fatal generation error.
func (a *Assembler) Finalize() error {
	for _, p := range a.patches {
		target := a.labels[p.label]
		if target == unplaced {
			a.b.Fail(errors.New("label %v referenced but never placed", p.label))
			break
		}

		w, err := patchWord(a.b.Word32(p.off), p.kind, target-p.off)
		if err != nil {
			a.b.Fail(err)
			break
		}

		a.b.Patch32(p.off, w)
	}

	a.patches = a.patches[:0]

	err := a.b.Finalize()
	if err != nil {
		return errors.Wrap(err, "finalize code buffer")
	}

	return nil
}

func patchWord(word uint32, kind patchKind, delta int) (uint32, error) {
	if delta%4 != 0 {
		return 0, errors.New("misaligned branch displacement %v", delta)
	}

	d := delta / 4

	switch kind {
	case patchB:
		if d < -(1<<25) || d >= 1<<25 {
			return 0, errors.Wrap(jit.ErrRange, "b displacement %v", delta)
		}

		return word | uint32(d)&(1<<26-1), nil
	case patchBCond:
		if d < -(1<<18) || d >= 1<<18 {
			return 0, errors.Wrap(jit.ErrRange, "b.cond displacement %v", delta)
		}

		return word | uint32(d)&(1<<19-1)<<5, nil
	case patchTB:
		if d < -(1<<13) || d >= 1<<13 {
			return 0, errors.Wrap(jit.ErrRange, "tbz displacement %v", delta)
		}

		return word | uint32(d)&(1<<14-1)<<5, nil
	default:
		panic(kind)
	}
}
