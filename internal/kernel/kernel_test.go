package kernel

import (
	"math"
	"testing"

	"github.com/kessler-dev/tinyinfer/internal/cpufeat"
)

func TestDotF32ScalarMatchesNaive(t *testing.T) {
	a := []float32{1, 2, 3, 4, 5, 6, 7, 8, 9}
	b := []float32{9, 8, 7, 6, 5, 4, 3, 2, 1}
	var want float32
	for i := range a {
		want += a[i] * b[i]
	}
	if got := dotF32Scalar(a, b); got != want {
		t.Fatalf("dotF32Scalar = %v, want %v", got, want)
	}
}

func TestDotInt8Float32ScalarMatchesNaive(t *testing.T) {
	q := []int8{1, -2, 3, -4, 5, -6, 7, -8}
	x := []float32{0.5, 0.5, 0.5, 0.5, 0.5, 0.5, 0.5, 0.5}
	var want float32
	for i := range q {
		want += float32(q[i]) * x[i]
	}
	if got := dotInt8Float32Scalar(q, x); got != want {
		t.Fatalf("dotInt8Float32Scalar = %v, want %v", got, want)
	}
}

// TestAVX2TierMatchesNoSIMDReference cross-checks the AVX2 dispatch
// entries against the NoSIMD reference on the same inputs, per the
// requirement that every SIMD tier agree with the scalar reference within
// tolerance.
func TestAVX2TierMatchesNoSIMDReference(t *testing.T) {
	noSIMD := &Table{tier: cpufeat.NoSIMD, dotF32: dotF32Scalar, dotInt8F32: dotInt8Float32Scalar}
	avx2 := &Table{tier: cpufeat.AVX2, dotF32: dotF32AVX2, dotInt8F32: dotInt8Float32AVX2}

	a := make([]float32, 37)
	b := make([]float32, 37)
	for i := range a {
		a[i] = float32(i%11) - 5
		b[i] = float32(i%7) - 3
	}
	wantF32 := noSIMD.DotF32(a, b)
	gotF32 := avx2.DotF32(a, b)
	if math.Abs(float64(gotF32-wantF32)) > 1e-3 {
		t.Fatalf("AVX2 DotF32 = %v, NoSIMD reference = %v", gotF32, wantF32)
	}

	q := make([]int8, 29)
	x := make([]float32, 29)
	for i := range q {
		q[i] = int8(i%13 - 6)
		x[i] = float32(i%5) * 0.25
	}
	wantInt8 := noSIMD.DotInt8F32(q, x)
	gotInt8 := avx2.DotInt8F32(q, x)
	if math.Abs(float64(gotInt8-wantInt8)) > 1e-3 {
		t.Fatalf("AVX2 DotInt8F32 = %v, NoSIMD reference = %v", gotInt8, wantInt8)
	}
}

func TestSoftmaxSumsToOne(t *testing.T) {
	x := []float32{1, 2, 3, 4}
	Softmax(x)
	var sum float32
	for _, v := range x {
		sum += v
	}
	if math.Abs(float64(sum-1)) > 1e-5 {
		t.Fatalf("softmax output sums to %v, want ~1", sum)
	}
}

func TestSoftmaxInfCollapsesToOneHot(t *testing.T) {
	x := []float32{1, float32(math.Inf(1)), 3}
	Softmax(x)
	if x[1] != 1 {
		t.Fatalf("expected one-hot at argmax, got %v", x)
	}
	if x[0] != 0 || x[2] != 0 {
		t.Fatalf("expected all other entries 0, got %v", x)
	}
}

func TestRMSNormUnitWeight(t *testing.T) {
	src := []float32{1, 2, 3, 4}
	weight := []float32{1, 1, 1, 1}
	dst := make([]float32, 4)
	RMSNorm(dst, src, weight, 1e-5)

	var sumSq float64
	for _, v := range dst {
		sumSq += float64(v) * float64(v)
	}
	rms := math.Sqrt(sumSq / float64(len(dst)))
	if math.Abs(rms-1) > 1e-3 {
		t.Fatalf("normalized RMS = %v, want ~1", rms)
	}
}

func TestApplyRoPEThenInverseIsIdentity(t *testing.T) {
	headDim := 8
	invFreq := InvFreq(headDim, 10000)
	x := []float32{1, 0, 0, 1, 0.5, -0.5, 2, -2}
	orig := append([]float32{}, x...)

	ApplyRoPE(x, 1, headDim, 5, invFreq)
	RotatePhase(x, headDim, -5, invFreq)

	for i := range orig {
		if math.Abs(float64(x[i]-orig[i])) > 1e-4 {
			t.Fatalf("element %d: got %v, want %v after forward+inverse rotation", i, x[i], orig[i])
		}
	}
}

func TestDenseGEMMIdentity(t *testing.T) {
	// A is 2x2 identity, B^T is 2x2 arbitrary, so C should equal B^T laid
	// out as the logical B (since A*B = B when A = I).
	a := []float32{1, 0, 0, 1}
	bt := []float32{5, 6, 7, 8} // Bt row0 = col0 of B = {5,6}; row1=col1={7,8}
	c := make([]float32, 4)
	DenseGEMM(c, a, bt, 2, 2, 2, 1, 0, 1)

	// C[r][j] = sum_k A[r,k]*B[k,j] = sum_k A[r,k]*Bt[j,k]
	want := []float32{5, 7, 6, 8}
	for i := range want {
		if c[i] != want[i] {
			t.Fatalf("DenseGEMM identity mismatch at %d: got %v want %v", i, c[i], want[i])
		}
	}
}

func TestDenseGEMMParallelMatchesSingleThreaded(t *testing.T) {
	m, k, n := 17, 9, 13
	a := make([]float32, m*k)
	bt := make([]float32, n*k)
	for i := range a {
		a[i] = float32(i%7) - 3
	}
	for i := range bt {
		bt[i] = float32(i%5) - 2
	}
	c1 := make([]float32, m*n)
	c2 := make([]float32, m*n)
	DenseGEMM(c1, a, bt, m, k, n, 1, 0, 1)
	DenseGEMM(c2, a, bt, m, k, n, 1, 0, 4)
	for i := range c1 {
		if c1[i] != c2[i] {
			t.Fatalf("parallel/sequential GEMM mismatch at %d: %v vs %v", i, c1[i], c2[i])
		}
	}
}
