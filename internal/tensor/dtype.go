// Package tensor implements the weight container and shape-checked
// tensor operations that sit between the graph builder and the numeric
// primitive layer: matmul, attention, RoPE, and FFN wrappers that dequantize
// and dispatch into internal/kernel.
package tensor

import (
	"math"

	"github.com/kessler-dev/tinyinfer/internal/quant"
)

// DType enumerates every scalar and quantized encoding a Mat's storage
// may use. Dense encodings (F32/BF16/F16) have no block metadata; the
// quantized encodings mirror internal/quant.Format one for one.
type DType uint8

const (
	F32 DType = iota
	BF16
	F16
	Int4Sym
	Int4Asym
	Int8Sym
	Int8Asym
	FP8E4M3
	FP8E5M2
	FP4E2M1
	NF4
)

// IsQuantized reports whether this DType is backed by packed codes plus
// block scale/zero-point metadata rather than a dense float buffer.
func (d DType) IsQuantized() bool {
	return d >= Int4Sym
}

// QuantFormat maps a quantized DType to its internal/quant.Format.
// Panics if d is not quantized; callers must check IsQuantized first.
func (d DType) QuantFormat() quant.Format {
	switch d {
	case Int4Sym:
		return quant.Int4Sym
	case Int4Asym:
		return quant.Int4Asym
	case Int8Sym:
		return quant.Int8Sym
	case Int8Asym:
		return quant.Int8Asym
	case FP8E4M3:
		return quant.FP8E4M3
	case FP8E5M2:
		return quant.FP8E5M2
	case FP4E2M1:
		return quant.FP4E2M1
	case NF4:
		return quant.NF4
	default:
		panic("tensor: QuantFormat called on dense DType")
	}
}

func (d DType) String() string {
	switch d {
	case F32:
		return "f32"
	case BF16:
		return "bf16"
	case F16:
		return "f16"
	case Int4Sym:
		return "int4_sym"
	case Int4Asym:
		return "int4_asym"
	case Int8Sym:
		return "int8_sym"
	case Int8Asym:
		return "int8_asym"
	case FP8E4M3:
		return "fp8_e4m3"
	case FP8E5M2:
		return "fp8_e5m2"
	case FP4E2M1:
		return "fp4_e2m1"
	case NF4:
		return "nf4"
	default:
		return "unknown"
	}
}

func bf16ToF32(u uint16) float32 {
	return math.Float32frombits(uint32(u) << 16)
}

func f16ToF32(u uint16) float32 {
	sign := uint32(u>>15) & 1
	exp := uint32(u>>10) & 0x1f
	mant := uint32(u) & 0x3ff
	switch exp {
	case 0:
		if mant == 0 {
			return math.Float32frombits(sign << 31)
		}
		// Subnormal half: normalize by shifting the mantissa left until
		// the implicit leading bit would appear, adjusting exponent.
		e := -1
		for mant&0x400 == 0 {
			mant <<= 1
			e--
		}
		mant &= 0x3ff
		f := (1 + float32(mant)/1024.0) * pow2f(e-13)
		if sign == 1 {
			f = -f
		}
		return f
	case 0x1f:
		if mant == 0 {
			return math.Float32frombits(sign<<31 | 0xff<<23)
		}
		return math.Float32frombits(sign<<31 | 0xff<<23 | mant<<13)
	default:
		return math.Float32frombits(sign<<31 | (exp-15+127)<<23 | mant<<13)
	}
}

func pow2f(e int) float32 {
	return math.Float32frombits(uint32(127+e) << 23)
}
