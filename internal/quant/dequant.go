package quant

// BlockLayout describes how a k-block matrix's metadata is organized:
// K consecutive rows share one scale slot, and pack_row consecutive
// K-blocks may in turn share a single scale (amortizing storage when K is
// small).
type BlockLayout struct {
	K       int
	PackRow int
}

// blockIndex returns the scale/zero-point slot for row r of a column,
// honoring a nonzero k_offset (the row the block starts counting from,
// used when a tile begins mid-block).
func (bl BlockLayout) blockIndex(kOffset, r int) int {
	packRow := bl.PackRow
	if packRow < 1 {
		packRow = 1
	}
	return (kOffset + r) / (bl.K * packRow)
}

// DequantizeInt dequantizes an integer k-block weight column to float32.
// codes holds one unsigned code per row (already unpacked from nibbles by
// the caller for 4-bit formats, via NibbleBuffer.Get), scales and
// zeroPoints are indexed by block. zeroPoints may be nil for symmetric
// formats, in which case the code is centered by the format's implicit
// midpoint (8 for 4-bit, 128 for 8-bit).
func DequantizeInt(dst []float32, codes []uint8, scales []float32, zeroPoints []int8, format Format, layout BlockLayout, kOffset int) {
	var midpoint int32
	switch format {
	case Int4Sym:
		midpoint = 8
	case Int8Sym:
		midpoint = 128
	}
	for r, code := range codes {
		b := layout.blockIndex(kOffset, r)
		scale := scales[b]
		var signed int32
		if format.IsAsymmetric() {
			signed = int32(code) - int32(uint8(zeroPoints[b]))
		} else {
			signed = int32(code) - midpoint
		}
		dst[r] = float32(signed) * scale
	}
}

// DequantizeMicroFloat dequantizes FP4/NF4 codes (LUT indices) or FP8
// codes (bit patterns) to float32, scaling each by its block's scale.
func DequantizeMicroFloat(dst []float32, codes []uint8, scales []float32, format Format, layout BlockLayout, kOffset int) {
	switch format {
	case FP4E2M1, NF4:
		table := DequantFP4Table(format)
		for r, code := range codes {
			b := layout.blockIndex(kOffset, r)
			dst[r] = table[code&0x0f] * scales[b]
		}
	case FP8E4M3, FP8E5M2:
		for r, code := range codes {
			b := layout.blockIndex(kOffset, r)
			dst[r] = DecodeFP8(byte(code), format) * scales[b]
		}
	default:
		panic("quant: DequantizeMicroFloat called with integer format " + format.String())
	}
}

// Dequantize is the single entry point tensor ops call: it routes to
// DequantizeInt or DequantizeMicroFloat by format.
func Dequantize(dst []float32, codes []uint8, scales []float32, zeroPoints []int8, format Format, layout BlockLayout, kOffset int) {
	if format.IsFloat() {
		DequantizeMicroFloat(dst, codes, scales, format, layout, kOffset)
		return
	}
	DequantizeInt(dst, codes, scales, zeroPoints, format, layout, kOffset)
}
