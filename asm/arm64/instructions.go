package arm64

import (
	"math/bits"

	"tlog.app/go/errors"

	"github.com/slowlang/gemmjit/jit"
)

// Every encoder validates its operands and records jit.ErrRange in the
// buffer when a value does not fit its field. Nothing is emitted for a
// failed instruction.

// LdrX loads a 64-bit register from [rn, #off] (unsigned scaled offset).
func (a *Assembler) LdrX(rt, rn XReg, off int) {
	if off < 0 || off%8 != 0 || off/8 >= 1<<12 {
		a.b.Fail(errors.Wrap(jit.ErrRange, "ldr x offset %v", off))
		return
	}

	a.emit(0xF9400000 | uint32(off/8)<<10 | rnrt(rn, rt))
}

// AddX emits add rd, rn, rm.
func (a *Assembler) AddX(rd, rn, rm XReg) {
	a.emit(0x8B000000 | uint32(rm&31)<<16 | rnrt(rn, rd))
}

// SubX emits sub rd, rn, rm.
func (a *Assembler) SubX(rd, rn, rm XReg) {
	a.emit(0xCB000000 | uint32(rm&31)<<16 | rnrt(rn, rd))
}

// SubsImm emits subs rd, rn, #imm.
func (a *Assembler) SubsImm(rd, rn XReg, imm int) {
	if imm < 0 || imm >= 1<<12 {
		a.b.Fail(errors.Wrap(jit.ErrRange, "subs immediate %v", imm))
		return
	}

	a.emit(0xF1000000 | uint32(imm)<<10 | rnrt(rn, rd))
}

// CmpImm emits cmp rn, #imm (subs xzr, rn, #imm).
func (a *Assembler) CmpImm(rn XReg, imm int) {
	a.SubsImm(XZR, rn, imm)
}

// CselX emits csel rd, rn, rm, cond.
func (a *Assembler) CselX(rd, rn, rm XReg, c Cond) {
	a.emit(0x9A800000 | uint32(rm&31)<<16 | uint32(c)<<12 | rnrt(rn, rd))
}

// TstImm emits tst rn, #imm (ands xzr, rn, #imm). imm must be a valid
// aarch64 bitmask immediate.
func (a *Assembler) TstImm(rn XReg, imm uint64) {
	enc, ok := bitmaskImm(imm)
	if !ok {
		a.b.Fail(errors.Wrap(jit.ErrRange, "tst immediate %#x is not a bitmask", imm))
		return
	}

	a.emit(0xF200001F | enc<<10 | uint32(rn&31)<<5)
}

// Prfm emits prfm op, [rn, #off] (unsigned scaled offset).
func (a *Assembler) Prfm(op PrfOp, rn XReg, off int) {
	if off < 0 || off%8 != 0 || off/8 >= 1<<12 {
		a.b.Fail(errors.Wrap(jit.ErrRange, "prfm offset %v", off))
		return
	}

	a.emit(0xF9800000 | uint32(off/8)<<10 | uint32(rn&31)<<5 | uint32(op))
}

// B emits an unconditional branch to l.
func (a *Assembler) B(l Label) {
	a.branch(0x14000000, l, patchB)
}

// Bc emits b.cond to l.
func (a *Assembler) Bc(c Cond, l Label) {
	a.branch(0x54000000|uint32(c), l, patchBCond)
}

// Tbz emits tbz rt, #bit, l.
func (a *Assembler) Tbz(rt XReg, bit int, l Label) {
	a.tb(0x36000000, rt, bit, l)
}

// Tbnz emits tbnz rt, #bit, l.
func (a *Assembler) Tbnz(rt XReg, bit int, l Label) {
	a.tb(0x37000000, rt, bit, l)
}

func (a *Assembler) tb(base uint32, rt XReg, bit int, l Label) {
	if bit < 0 || bit > 63 {
		a.b.Fail(errors.Wrap(jit.ErrRange, "test bit %v", bit))
		return
	}

	base |= uint32(bit>>5)<<31 | uint32(bit&31)<<19 | uint32(rt&31)

	a.branch(base, l, patchTB)
}

func (a *Assembler) Ret() {
	a.emit(0xD65F03C0)
}

func (a *Assembler) Nop() {
	a.emit(0xD503201F)
}

// Hlt emits a halt, used as alignment padding after the final ret.
func (a *Assembler) Hlt(imm uint16) {
	a.emit(0xD4400000 | uint32(imm)<<5)
}

// Align pads with words of pad until the offset is a multiple of n.
func (a *Assembler) Align(n int, pad func()) {
	if n%4 != 0 {
		a.b.Fail(errors.Wrap(jit.ErrRange, "align to %v", n))
		return
	}

	for a.b.Len()%n != 0 && a.b.Err() == nil {
		pad()
	}
}

//
// SIMD & FP loads and stores.
//

// LdrSPost emits ldr st, [rn], #imm.
func (a *Assembler) LdrSPost(vt VReg, rn XReg, imm int) {
	a.ldstPost(0xBC400400, vt, rn, imm)
}

// LdrDPost emits ldr dt, [rn], #imm.
func (a *Assembler) LdrDPost(vt VReg, rn XReg, imm int) {
	a.ldstPost(0xFC400400, vt, rn, imm)
}

// LdrQPost emits ldr qt, [rn], #imm.
func (a *Assembler) LdrQPost(vt VReg, rn XReg, imm int) {
	a.ldstPost(0x3CC00400, vt, rn, imm)
}

// StrSPost emits str st, [rn], #imm.
func (a *Assembler) StrSPost(vt VReg, rn XReg, imm int) {
	a.ldstPost(0xBC000400, vt, rn, imm)
}

// StrDPost emits str dt, [rn], #imm.
func (a *Assembler) StrDPost(vt VReg, rn XReg, imm int) {
	a.ldstPost(0xFC000400, vt, rn, imm)
}

// StrQPost emits str qt, [rn], #imm.
func (a *Assembler) StrQPost(vt VReg, rn XReg, imm int) {
	a.ldstPost(0x3C800400, vt, rn, imm)
}

// StrS emits str st, [rn] (no writeback).
func (a *Assembler) StrS(vt VReg, rn XReg) {
	a.emit(0xBD000000 | uint32(rn&31)<<5 | uint32(vt&31))
}

func (a *Assembler) ldstPost(base uint32, vt VReg, rn XReg, imm int) {
	if imm < -(1<<8) || imm >= 1<<8 {
		a.b.Fail(errors.Wrap(jit.ErrRange, "post-index offset %v", imm))
		return
	}

	a.emit(base | uint32(imm)&(1<<9-1)<<12 | uint32(rn&31)<<5 | uint32(vt&31))
}

// LdpQPost emits ldp qt1, qt2, [rn], #imm.
func (a *Assembler) LdpQPost(vt1, vt2 VReg, rn XReg, imm int) {
	a.ldstpPost(0xACC00000, vt1, vt2, rn, imm)
}

// StpQPost emits stp qt1, qt2, [rn], #imm.
func (a *Assembler) StpQPost(vt1, vt2 VReg, rn XReg, imm int) {
	a.ldstpPost(0xAC800000, vt1, vt2, rn, imm)
}

func (a *Assembler) ldstpPost(base uint32, vt1, vt2 VReg, rn XReg, imm int) {
	if imm%16 != 0 || imm/16 < -(1<<6) || imm/16 >= 1<<6 {
		a.b.Fail(errors.Wrap(jit.ErrRange, "pair post-index offset %v", imm))
		return
	}

	a.emit(base | uint32(imm/16)&(1<<7-1)<<15 | uint32(vt2&31)<<10 | uint32(rn&31)<<5 | uint32(vt1&31))
}

// St1Two16B emits st1 {vt1.16b, vt2.16b}, [rn], rm. vt2 must follow vt1.
func (a *Assembler) St1Two16B(vt1, vt2 VReg, rn, rm XReg) {
	if vt2 != (vt1+1)&31 {
		a.b.Fail(errors.Wrap(jit.ErrRange, "st1 registers v%v, v%v are not consecutive", vt1, vt2))
		return
	}

	a.emit(0x4C80A000 | uint32(rm&31)<<16 | uint32(rn&31)<<5 | uint32(vt1&31))
}

// Ld2R4S emits ld2r {vt1.4s, vt2.4s}, [rn]. vt2 must follow vt1.
func (a *Assembler) Ld2R4S(vt1, vt2 VReg, rn XReg) {
	if vt2 != (vt1+1)&31 {
		a.b.Fail(errors.Wrap(jit.ErrRange, "ld2r registers v%v, v%v are not consecutive", vt1, vt2))
		return
	}

	a.emit(0x4D60C800 | uint32(rn&31)<<5 | uint32(vt1&31))
}

// Ld3R4SPost emits ld3r {vt1.4s - vt3.4s}, [rn], #12.
func (a *Assembler) Ld3R4SPost(vt1, vt2, vt3 VReg, rn XReg) {
	if vt2 != (vt1+1)&31 || vt3 != (vt1+2)&31 {
		a.b.Fail(errors.Wrap(jit.ErrRange, "ld3r registers v%v, v%v, v%v are not consecutive", vt1, vt2, vt3))
		return
	}

	a.emit(0x4DDFE800 | uint32(rn&31)<<5 | uint32(vt1&31))
}

//
// SIMD arithmetic.
//

// Fmla4S emits fmla vd.4s, vn.4s, vm.s[idx].
func (a *Assembler) Fmla4S(vd, vn, vm VReg, idx int) {
	if idx < 0 || idx > 3 {
		a.b.Fail(errors.Wrap(jit.ErrRange, "fmla element index %v", idx))
		return
	}

	w := 0x4F801000 | uint32(vm&15)<<16 | uint32(vm>>4&1)<<20 | uint32(vn&31)<<5 | uint32(vd&31)
	w |= uint32(idx&1) << 21 // L
	w |= uint32(idx>>1) << 11 // H

	a.emit(w)
}

// Fmax4S emits fmax vd.4s, vn.4s, vm.4s.
func (a *Assembler) Fmax4S(vd, vn, vm VReg) {
	a.emit(0x4E20F400 | vvv(vd, vn, vm))
}

// Fmin4S emits fmin vd.4s, vn.4s, vm.4s.
func (a *Assembler) Fmin4S(vd, vn, vm VReg) {
	a.emit(0x4EA0F400 | vvv(vd, vn, vm))
}

// Fadd4S emits fadd vd.4s, vn.4s, vm.4s.
func (a *Assembler) Fadd4S(vd, vn, vm VReg) {
	a.emit(0x4E20D400 | vvv(vd, vn, vm))
}

// Fmul4S emits fmul vd.4s, vn.4s, vm.4s.
func (a *Assembler) Fmul4S(vd, vn, vm VReg) {
	a.emit(0x6E20DC00 | vvv(vd, vn, vm))
}

// MovV16B emits mov vd.16b, vn.16b (orr alias).
func (a *Assembler) MovV16B(vd, vn VReg) {
	a.emit(0x4EA01C00 | uint32(vn&31)<<16 | uint32(vn&31)<<5 | uint32(vd&31))
}

// DupD1 emits dup dd, vn.d[1], moving the upper half of vn into the
// lower half of vd.
func (a *Assembler) DupD1(vd, vn VReg) {
	a.emit(0x5E180400 | uint32(vn&31)<<5 | uint32(vd&31))
}

// MoviZero4S emits movi vd.4s, #0.
func (a *Assembler) MoviZero4S(vd VReg) {
	a.emit(0x4F000400 | uint32(vd&31))
}

func rnrt(rn, rt XReg) uint32 {
	return uint32(rn&31)<<5 | uint32(rt&31)
}

func vvv(vd, vn, vm VReg) uint32 {
	return uint32(vm&31)<<16 | uint32(vn&31)<<5 | uint32(vd&31)
}

// bitmaskImm encodes v as an N:immr:imms logical immediate.
func bitmaskImm(v uint64) (uint32, bool) {
	if v == 0 || v == ^uint64(0) {
		return 0, false
	}

	size := 64

	for size > 2 {
		half := size / 2
		mask := uint64(1)<<half - 1

		if v&mask != v>>half&mask {
			break
		}

		size = half
	}

	mask := uint64(1)<<(size-1)<<1 - 1
	elem := v & mask

	ones := bits.OnesCount64(elem)
	if ones == 0 || ones == size {
		return 0, false
	}

	run := uint64(1)<<ones - 1

	for immr := 0; immr < size; immr++ {
		ror := (run>>immr | run<<(size-immr)) & mask

		if ror != elem {
			continue
		}

		var n uint32
		if size == 64 {
			n = 1
		}

		imms := uint32(^(size<<1-1))&0x3F | uint32(ones-1)

		return n<<12 | uint32(immr)<<6 | imms, true
	}

	return 0, false
}
