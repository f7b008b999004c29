//go:build unix

package jit

import (
	"encoding/binary"
	"os"

	"golang.org/x/sys/unix"
	"tlog.app/go/errors"
	"tlog.app/go/loc"
)

type (
	// Buffer is a growable region of anonymous memory that code is emitted
	// into. It starts out read-write and becomes read-execute after
	// Finalize. The first emission failure is recorded together with its
	// call site and makes every later operation a no-op; the error is
	// checked once, in Finalize.
	Buffer struct {
		mem []byte
		n   int

		sealed bool

		err error
		at  loc.PC
	}
)

const DefaultCap = 64 * 1024

var (
	ErrSealed = errors.New("code buffer is sealed")
	ErrRange  = errors.New("operand out of encodable range")
)

func NewBuffer(capacity int) (*Buffer, error) {
	if capacity <= 0 {
		capacity = DefaultCap
	}

	capacity = alignUp(capacity, os.Getpagesize())

	mem, err := unix.Mmap(-1, 0, capacity, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_PRIVATE|unix.MAP_ANON)
	if err != nil {
		return nil, errors.Wrap(err, "mmap %v bytes", capacity)
	}

	return &Buffer{mem: mem}, nil
}

func (b *Buffer) Len() int { return b.n }
func (b *Buffer) Cap() int { return len(b.mem) }

// Err reports the sticky error, if any.
func (b *Buffer) Err() error { return b.err }

// Fail records err as the sticky error unless one is recorded already.
// The call site of the caller is kept for diagnostics.
func (b *Buffer) Fail(err error) {
	if b.err != nil {
		return
	}

	b.err = err
	b.at = loc.Caller(1)
}

// Emit32 appends one 32-bit word in little-endian order.
func (b *Buffer) Emit32(w uint32) {
	if b.err != nil {
		return
	}

	if b.sealed {
		b.err = ErrSealed
		b.at = loc.Caller(1)
		return
	}

	if b.n+4 > len(b.mem) {
		if err := b.grow(b.n + 4); err != nil {
			b.err = err
			b.at = loc.Caller(1)
			return
		}
	}

	binary.LittleEndian.PutUint32(b.mem[b.n:], w)
	b.n += 4
}

// Word32 reads back the word at byte offset off.
func (b *Buffer) Word32(off int) uint32 {
	return binary.LittleEndian.Uint32(b.mem[off:])
}

// Patch32 rewrites the word at byte offset off. Used by branch fixups.
func (b *Buffer) Patch32(off int, w uint32) {
	if b.err != nil {
		return
	}

	if b.sealed {
		b.err = ErrSealed
		b.at = loc.Caller(1)
		return
	}

	if off < 0 || off+4 > b.n {
		b.err = errors.New("patch outside emitted code: %v/%v", off, b.n)
		b.at = loc.Caller(1)
		return
	}

	binary.LittleEndian.PutUint32(b.mem[off:], w)
}

// Finalize checks the sticky error, then seals the buffer and makes it
// executable. After it returns nil the contents never change again.
func (b *Buffer) Finalize() error {
	if b.err != nil {
		return errors.Wrap(b.err, "emit (at %v)", b.at)
	}

	if b.sealed {
		return ErrSealed
	}

	err := unix.Mprotect(b.mem, unix.PROT_READ|unix.PROT_EXEC)
	if err != nil {
		return errors.Wrap(err, "mprotect")
	}

	icacheSync(b.mem[:b.n])

	b.sealed = true

	return nil
}

// Code is the emitted machine code. Read-only after Finalize.
func (b *Buffer) Code() []byte { return b.mem[:b.n] }

// Addr is the entry point of the emitted code.
func (b *Buffer) Addr() uintptr {
	return uintptr(unsafePointer(b.mem))
}

// Sealed reports whether Finalize succeeded.
func (b *Buffer) Sealed() bool { return b.sealed }

// Release unmaps the region. The buffer must not be used afterwards,
// and no generated code may be running.
func (b *Buffer) Release() error {
	if b.mem == nil {
		return nil
	}

	mem := b.mem
	b.mem = nil

	return unix.Munmap(mem)
}

func (b *Buffer) grow(need int) error {
	if b.sealed {
		return ErrSealed
	}

	capacity := len(b.mem) * 2
	for capacity < need {
		capacity *= 2
	}

	mem, err := unix.Mmap(-1, 0, capacity, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_PRIVATE|unix.MAP_ANON)
	if err != nil {
		return errors.Wrap(err, "mmap %v bytes", capacity)
	}

	copy(mem, b.mem[:b.n])

	old := b.mem
	b.mem = mem

	return unix.Munmap(old)
}

func alignUp(x, a int) int {
	return (x + a - 1) &^ (a - 1)
}
