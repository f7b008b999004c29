// Package refgemm is the scalar reference for the generated kernels:
// plain float32 math, no vectorization, no surprises. It is the oracle
// the tests and the verify command compare against, and it defines the
// packed weight layout the kernels stream.
package refgemm

import "math"

type (
	// Clamp is elementwise saturation. Infinite bounds disable the
	// corresponding side.
	Clamp struct {
		Min float32
		Max float32
	}
)

// NoClamp passes values through unchanged.
func NoClamp() Clamp {
	return Clamp{
		Min: float32(math.Inf(-1)),
		Max: float32(math.Inf(1)),
	}
}

// Gemm computes c[i][j] = clamp(bias[j] + sum_k a[i][k] * w[k][j]) for
// an m x n block. lda, ldw and ldc are element strides.
func Gemm(m, n, k int, a []float32, lda int, w []float32, ldw int, bias []float32, c []float32, ldc int, cl Clamp) {
	for i := 0; i < m; i++ {
		for j := 0; j < n; j++ {
			acc := bias[j]

			for l := 0; l < k; l++ {
				acc += a[i*lda+l] * w[l*ldw+j]
			}

			c[i*ldc+j] = cl.Apply(acc)
		}
	}
}

func (cl Clamp) Apply(x float32) float32 {
	// NaN-preserving: comparisons, not min/max helpers.
	if x < cl.Min {
		x = cl.Min
	}
	if x > cl.Max {
		x = cl.Max
	}

	return x
}

// HardSwish is x * clamp(x+3, 0, 6) / 6.
func HardSwish(x float32) float32 {
	y := x + 3
	if y < 0 {
		y = 0
	}
	if y > 6 {
		y = 6
	}

	return x * y / 6
}

// HardSwishAll applies HardSwish over an m x n block in place.
func HardSwishAll(m, n int, c []float32, ldc int) {
	for i := 0; i < m; i++ {
		for j := 0; j < n; j++ {
			c[i*ldc+j] = HardSwish(c[i*ldc+j])
		}
	}
}
