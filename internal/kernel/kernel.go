// Package kernel holds the SIMD-dispatched numeric primitives: GEMM/GEMV,
// elementwise ops, reductions, softmax, normalization, and RoPE. Every
// primitive has a NoSIMD reference implementation; higher tiers are
// selected through a dispatch table built once from internal/cpufeat so
// call sites never branch on CPU features themselves.
package kernel

import "github.com/kessler-dev/tinyinfer/internal/cpufeat"

// Table is the (operation, tier) dispatch table populated once at
// startup. Each entry below is a function value rather than a trait
// object, matching idiomatic Go over an interface-heavy design.
type Table struct {
	tier cpufeat.Tier

	dotF32      func(a, b []float32) float32
	dotInt8F32  func(q []int8, x []float32) float32
}

var active = buildTable(cpufeat.Detect())

// Active returns the process-wide dispatch table, selected once from the
// detected CPU tier.
func Active() *Table {
	return active
}

func buildTable(f cpufeat.Features) *Table {
	t := &Table{tier: f.Tier}
	t.dotF32 = dotF32Scalar
	t.dotInt8F32 = dotInt8Float32Scalar
	if f.AtLeast(cpufeat.AVX2) {
		t.dotF32 = dotF32AVX2
		t.dotInt8F32 = dotInt8Float32AVX2
	}
	return t
}

// Tier reports the instruction-set tier this table's entries were
// selected for.
func (t *Table) Tier() cpufeat.Tier {
	return t.tier
}

// DotF32 computes the dot product of two equal-length float32 slices
// using the active tier's implementation.
func (t *Table) DotF32(a, b []float32) float32 {
	return t.dotF32(a, b)
}

// DotInt8F32 computes the dot product of signed 8-bit codes against a
// dense float32 vector using the active tier's implementation. Used by
// the quantized GEMV path once a weight row has been unpacked to int8.
func (t *Table) DotInt8F32(q []int8, x []float32) float32 {
	return t.dotInt8F32(q, x)
}

func dotF32Scalar(a, b []float32) float32 {
	var sum float32
	for i := range a {
		sum += a[i] * b[i]
	}
	return sum
}
