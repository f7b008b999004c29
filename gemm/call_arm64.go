//go:build arm64

package gemm

import (
	"runtime"
	"unsafe"
)

// Call invokes the kernel on an mr x nc output block. mr must not
// exceed the generation-time maxRows, kc must equal the generation-time
// reduction size, and all strides are in bytes. params is the block
// built by Params.NumericParams for the same policy the kernel was
// generated with.
func (k *Kernel) Call(mr, nc, kc int, a []float32, aStride int, w []float32, c []float32, cmStride, cnStride int, params []byte) error {
	var pp unsafe.Pointer
	if len(params) != 0 {
		pp = unsafe.Pointer(unsafe.SliceData(params))
	}

	callKernel(k.b.Addr(),
		uintptr(mr), uintptr(nc), uintptr(kc),
		unsafe.Pointer(unsafe.SliceData(a)), uintptr(aStride),
		unsafe.Pointer(unsafe.SliceData(w)),
		unsafe.Pointer(unsafe.SliceData(c)), uintptr(cmStride), uintptr(cnStride),
		pp)

	runtime.KeepAlive(a)
	runtime.KeepAlive(w)
	runtime.KeepAlive(c)
	runtime.KeepAlive(params)
	runtime.KeepAlive(k)

	return nil
}

//go:noescape
func callKernel(fn, mr, nc, kc uintptr, a unsafe.Pointer, aStride uintptr, w, c unsafe.Pointer, cmStride, cnStride uintptr, params unsafe.Pointer)
