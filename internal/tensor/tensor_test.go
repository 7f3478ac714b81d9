package tensor

import (
	"math"
	"testing"

	"github.com/kessler-dev/tinyinfer/internal/quant"
)

func TestMatMulDenseMatchesNaive(t *testing.T) {
	w := NewDenseMatFromData(2, 3, []float32{
		1, 2, 3,
		4, 5, 6,
	})
	act := []float32{1, 1, 1}
	dst := make([]float32, 2)
	a := NewArena()
	MatMul(dst, w, act, a)
	want := []float32{6, 15}
	for i := range want {
		if dst[i] != want[i] {
			t.Errorf("MatMul row %d = %v, want %v", i, dst[i], want[i])
		}
	}
}

func TestMatMulQuantizedApproximatesDense(t *testing.T) {
	rows, cols, blockK := 4, 32, 32
	dense := make([]float32, rows*cols)
	for i := range dense {
		dense[i] = float32(math.Sin(float64(i) / 7))
	}

	codes := make([]uint8, rows*cols)
	scales := make([]float32, rows)
	for r := 0; r < rows; r++ {
		blk := dense[r*cols : (r+1)*cols]
		c, s := quant.QuantizeSymmetricInt(blk, quant.Int8Sym)
		copy(codes[r*cols:(r+1)*cols], c)
		scales[r] = s
	}
	qw := NewQuantMat(rows, cols, Int8Sym, codes, scales, nil, blockK, 1)
	dw := NewDenseMatFromData(rows, cols, dense)

	act := make([]float32, cols)
	for i := range act {
		act[i] = float32(i%5) - 2
	}

	a := NewArena()
	qDst := make([]float32, rows)
	dDst := make([]float32, rows)
	MatMul(qDst, qw, act, a)
	MatMul(dDst, dw, act, a)

	for r := 0; r < rows; r++ {
		if math.Abs(float64(qDst[r]-dDst[r])) > 2.0 {
			t.Errorf("row %d: quantized matmul %v too far from dense %v", r, qDst[r], dDst[r])
		}
	}
}

func TestAttentionHeadWeightsSumToOne(t *testing.T) {
	q := []float32{1, 0}
	keys := [][]float32{{1, 0}, {0, 1}, {1, 1}}
	values := [][]float32{{1, 0}, {0, 1}, {2, 2}}
	scores := make([]float32, 3)
	dst := make([]float32, 2)
	AttentionHead(dst, q, keys, values, scores, 2)

	var sum float32
	for _, s := range scores {
		sum += s
	}
	if math.Abs(float64(sum-1)) > 1e-4 {
		t.Errorf("attention weights sum to %v, want ~1", sum)
	}
}

func TestArenaReuseAfterReset(t *testing.T) {
	a := NewArena()
	buf1 := a.Row(4)
	buf1[0] = 42
	a.Reset()
	buf2 := a.Row(4)
	if &buf1[0] != &buf2[0] {
		t.Fatalf("expected Arena to reuse backing storage after Reset")
	}
}

func TestFFNPlainProducesNoNaN(t *testing.T) {
	wUp := NewDenseMatFromData(3, 2, []float32{1, 0, 0, 1, 1, 1})
	wDown := NewDenseMatFromData(2, 3, []float32{1, 1, 1, 1, 1, 1})
	x := []float32{1, 2}
	a := NewArena()
	dst := make([]float32, 2)
	FFN(dst, x, nil, wUp, wDown, a)
	for i, v := range dst {
		if math.IsNaN(float64(v)) {
			t.Errorf("FFN output[%d] is NaN", i)
		}
	}
}
