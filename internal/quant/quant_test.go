package quant

import (
	"math"
	"testing"
)

func TestNibbleRoundTrip(t *testing.T) {
	buf := make(NibbleBuffer, NibbleBytes(5))
	vals := []uint8{3, 15, 0, 8, 7}
	for i, v := range vals {
		buf.Set(i, v)
	}
	for i, want := range vals {
		if got := buf.Get(i); got != want {
			t.Errorf("Get(%d) = %d, want %d", i, got, want)
		}
	}
}

func TestQuantizeSymmetricInt8RoundTrip(t *testing.T) {
	block := make([]float32, 32)
	for i := range block {
		block[i] = float32(math.Sin(float64(i) / 4))
	}
	codes, scale := QuantizeSymmetricInt(block, Int8Sym)
	dst := make([]float32, len(block))
	layout := BlockLayout{K: len(block), PackRow: 1}
	DequantizeInt(dst, codes, []float32{scale}, nil, Int8Sym, layout, 0)

	maxAbs := float32(0)
	for _, v := range block {
		if a := float32(math.Abs(float64(v))); a > maxAbs {
			maxAbs = a
		}
	}
	tol := maxAbs / 7
	for i := range block {
		if math.Abs(float64(dst[i]-block[i])) > float64(tol) {
			t.Fatalf("element %d: dequant(quant(x))=%v want ~%v (tol %v)", i, dst[i], block[i], tol)
		}
	}
}

func TestQuantizeAsymmetricInt4ZeroPointInRange(t *testing.T) {
	block := []float32{-2, -1, 0, 1, 2, 3, 4, 0.5}
	codes, scale, zp := QuantizeAsymmetricInt(block, Int4Asym)
	if scale <= 0 {
		t.Fatalf("scale must be positive, got %v", scale)
	}
	if zp < 0 || zp > 15 {
		t.Fatalf("zero point %d out of int4 code range", zp)
	}
	for _, c := range codes {
		if c > 15 {
			t.Fatalf("code %d exceeds 4-bit range", c)
		}
	}
}

func TestPackRowBlockIndex(t *testing.T) {
	layout := BlockLayout{K: 32, PackRow: 4}
	cases := []struct {
		kOffset, r, want int
	}{
		{0, 0, 0},
		{0, 31, 0},
		{0, 128, 1},
		{0, 127, 0},
		{32, 96, 1},
	}
	for _, c := range cases {
		if got := layout.blockIndex(c.kOffset, c.r); got != c.want {
			t.Errorf("blockIndex(%d,%d) = %d, want %d", c.kOffset, c.r, got, c.want)
		}
	}
}

func TestNF4TableMonotonic(t *testing.T) {
	table := DequantFP4Table(NF4)
	for i := 1; i < len(table); i++ {
		if table[i] <= table[i-1] {
			t.Fatalf("NF4 table not monotonic at index %d: %v <= %v", i, table[i], table[i-1])
		}
	}
}

func TestDecodeFP8Zero(t *testing.T) {
	if v := DecodeFP8(0x00, FP8E4M3); v != 0 {
		t.Errorf("DecodeFP8(0, e4m3) = %v, want 0", v)
	}
	if v := DecodeFP8(0x80, FP8E5M2); v != 0 {
		t.Errorf("DecodeFP8(-0, e5m2) = %v, want 0", v)
	}
}

func TestBiasCorrectionZeroWhenSymmetric(t *testing.T) {
	if got := BiasCorrection(0, 0, 5, 7, 32); got != 0 {
		t.Errorf("BiasCorrection with both zero points 0 = %d, want 0", got)
	}
}
