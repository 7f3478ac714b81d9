package quant

import "math"

// roundHalfAwayFromZero is the quantizer's tie-break: ties round away from
// zero rather than to even. Spec leaves this implementation-defined, but
// fixes the tolerance all round-trip tests gate on instead.
func roundHalfAwayFromZero(x float64) float64 {
	return math.Round(x)
}

// QuantizeSymmetricInt quantizes one k-block of float32 weights to signed
// codes sharing a single scale, for Int4Sym/Int8Sym. Returns the unsigned
// biased codes (ready for NibbleBuffer.Set / direct byte storage) and the
// block's scale. Codes are clamped to the format's representable range
// after rounding.
func QuantizeSymmetricInt(block []float32, format Format) (codes []uint8, scale float32) {
	maxAbs := float32(0)
	for _, v := range block {
		if a := float32(math.Abs(float64(v))); a > maxAbs {
			maxAbs = a
		}
	}
	var maxCode int32
	var midpoint int32
	switch format {
	case Int4Sym:
		maxCode = 7
		midpoint = 8
	case Int8Sym:
		maxCode = 127
		midpoint = 128
	default:
		panic("quant: QuantizeSymmetricInt called with non-symmetric-int format " + format.String())
	}
	if maxAbs == 0 {
		scale = 1
	} else {
		scale = maxAbs / float32(maxCode)
	}
	codes = make([]uint8, len(block))
	for i, v := range block {
		signed := int32(roundHalfAwayFromZero(float64(v / scale)))
		if signed > maxCode {
			signed = maxCode
		}
		if signed < -maxCode-1 {
			signed = -maxCode - 1
		}
		codes[i] = uint8(signed + midpoint)
	}
	return codes, scale
}

// QuantizeAsymmetricInt quantizes one k-block to unsigned codes with an
// explicit zero-point, for Int4Asym/Int8Asym, minimizing clipping by
// mapping [min,max] onto the full code range. The zero-point lies in
// [0, maxCode] and is returned as its byte pattern in an int8; readers
// reinterpret it as uint8.
func QuantizeAsymmetricInt(block []float32, format Format) (codes []uint8, scale float32, zeroPoint int8) {
	min, max := block[0], block[0]
	for _, v := range block {
		if v < min {
			min = v
		}
		if v > max {
			max = v
		}
	}
	var maxCode int32
	switch format {
	case Int4Asym:
		maxCode = 15
	case Int8Asym:
		maxCode = 255
	default:
		panic("quant: QuantizeAsymmetricInt called with non-asymmetric-int format " + format.String())
	}
	span := max - min
	if span == 0 {
		scale = 1
	} else {
		scale = span / float32(maxCode)
	}
	zp := int32(roundHalfAwayFromZero(float64(-min / scale)))
	if zp < 0 {
		zp = 0
	}
	if zp > maxCode {
		zp = maxCode
	}
	zeroPoint = int8(zp)
	codes = make([]uint8, len(block))
	for i, v := range block {
		c := int32(roundHalfAwayFromZero(float64(v/scale))) + zp
		if c < 0 {
			c = 0
		}
		if c > maxCode {
			c = maxCode
		}
		codes[i] = uint8(c)
	}
	return codes, scale, zeroPoint
}

// ActivationQuantizeRow quantizes one row of activations to unsigned
// 8-bit codes in fixed-size blocks, returning per-block scales,
// zero-points, and the per-block sum of signed codes used later for
// asymmetric bias correction against a quantized weight matrix.
func ActivationQuantizeRow(row []float32, blockSize int) (codes []uint8, scales []float32, zeroPoints []int8, sums []int32) {
	nBlocks := (len(row) + blockSize - 1) / blockSize
	codes = make([]uint8, len(row))
	scales = make([]float32, nBlocks)
	zeroPoints = make([]int8, nBlocks)
	sums = make([]int32, nBlocks)
	for b := 0; b < nBlocks; b++ {
		lo := b * blockSize
		hi := lo + blockSize
		if hi > len(row) {
			hi = len(row)
		}
		blk := row[lo:hi]
		blkCodes, scale, zp := QuantizeAsymmetricInt(blk, Int8Asym)
		copy(codes[lo:hi], blkCodes)
		scales[b] = scale
		zeroPoints[b] = zp
		var sum int32
		for _, c := range blkCodes {
			sum += int32(c) - int32(uint8(zp))
		}
		sums[b] = sum
	}
	return codes, scales, zeroPoints, sums
}

// BiasCorrection computes the correction term subtracted from a raw
// integer GEMM accumulator to recover the true asymmetric dot product:
// zpA*sumB + zpB*sumA - zpA*zpB*K, where sumA/sumB are the per-block sums
// of signed (zero-point-removed) codes and K is the reduction depth.
func BiasCorrection(zpA, zpB int32, sumA, sumB int32, k int32) int32 {
	return zpA*sumB + zpB*sumA - zpA*zpB*k
}
