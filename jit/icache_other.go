//go:build !arm64

package jit

// Only the arm64 target executes generated code; elsewhere buffers are
// inspected, not run.
func icacheSync(code []byte) {}
