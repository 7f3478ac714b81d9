package kernel

import "runtime"

// DenseGEMM computes C = alpha*A*Bt + beta*C for row-major dense float32
// matrices, where A is [m,k], Bt is [n,k] (B transposed, i.e. row i of Bt
// is column i of the logical B), and C is [m,n]. Work is partitioned by
// output row range across a fixed-size worker pool, mirroring the
// teacher's blocked GEMM: each worker owns disjoint output rows, so there
// is no cross-worker synchronization inside the primitive.
func DenseGEMM(c, a, bt []float32, m, k, n int, alpha, beta float32, workers int) {
	if len(a) != m*k || len(bt) != n*k || len(c) != m*n {
		panic("kernel: DenseGEMM dimension mismatch")
	}
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	if workers > m {
		workers = m
	}
	if workers <= 1 {
		gemmRows(c, a, bt, m, k, n, alpha, beta, 0, m)
		return
	}

	rowsPerWorker := (m + workers - 1) / workers
	done := make(chan struct{}, workers)
	launched := 0
	for rs := 0; rs < m; rs += rowsPerWorker {
		re := rs + rowsPerWorker
		if re > m {
			re = m
		}
		launched++
		go func(rs, re int) {
			gemmRows(c, a, bt, m, k, n, alpha, beta, rs, re)
			done <- struct{}{}
		}(rs, re)
	}
	for i := 0; i < launched; i++ {
		<-done
	}
}

func gemmRows(c, a, bt []float32, m, k, n int, alpha, beta float32, rs, re int) {
	tbl := Active()
	for r := rs; r < re; r++ {
		arow := a[r*k : r*k+k]
		crow := c[r*n : r*n+n]
		for j := 0; j < n; j++ {
			brow := bt[j*k : j*k+k]
			dot := tbl.DotF32(arow, brow)
			crow[j] = alpha*dot + beta*crow[j]
		}
	}
}

// QuantGEMV computes dst = alpha*A*x for a single activation vector x
// against a dequantized-on-the-fly int8-coded weight matrix A, one row at
// a time: scale is applied after the integer dot product, the
// dequantize-and-multiply strategy the spec allows as an alternative to
// mixed-precision integer accumulation on tiers without it.
func QuantGEMV(dst []float32, rowCodes [][]int8, rowScales []float32, x []float32, alpha float32) {
	tbl := Active()
	for r, codes := range rowCodes {
		dst[r] = alpha * rowScales[r] * tbl.DotInt8F32(codes, x)
	}
}
