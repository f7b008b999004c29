//go:build arm64

package jit

import "unsafe"

// icacheSync makes freshly written instructions visible to the
// instruction fetch pipeline. mprotect alone does not do that on arm64.
func icacheSync(code []byte) {
	if len(code) == 0 {
		return
	}

	icacheSyncRange(uintptr(unsafe.Pointer(unsafe.SliceData(code))), uintptr(len(code)))
}

func icacheSyncRange(addr, n uintptr)
