//go:build !arm64

package gemm

import "tlog.app/go/errors"

// Call is only runnable on the aarch64 target the code is generated
// for; elsewhere kernels can be generated and inspected, not invoked.
func (k *Kernel) Call(mr, nc, kc int, a []float32, aStride int, w []float32, c []float32, cmStride, cnStride int, params []byte) error {
	return errors.New("generated kernel requires arm64, running on a different architecture")
}
