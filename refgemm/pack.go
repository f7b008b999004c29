package refgemm

// TileCols is the kernel output tile width the packed stream is built
// around.
const TileCols = 8

// PackWeights lays bias and weights out the way the generated kernel
// streams them: for each tile of up to 8 columns, 8 bias values then k
// rows of 8 weights, zero padded past n. w is k x n with element stride
// ldw; bias may be nil for all-zero bias.
func PackWeights(k, n int, w []float32, ldw int, bias []float32) []float32 {
	tiles := (n + TileCols - 1) / TileCols

	packed := make([]float32, tiles*(TileCols+k*TileCols))
	p := 0

	for t := 0; t < tiles; t++ {
		j0 := t * TileCols

		for j := j0; j < j0+TileCols; j++ {
			if bias != nil && j < n {
				packed[p] = bias[j]
			}
			p++
		}

		for l := 0; l < k; l++ {
			for j := j0; j < j0+TileCols; j++ {
				if j < n {
					packed[p] = w[l*ldw+j]
				}
				p++
			}
		}
	}

	return packed
}
