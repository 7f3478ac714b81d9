// Package cpufeat detects the highest usable SIMD instruction-set tier once
// at process start, so internal/kernel can select a dispatch table without
// re-probing CPUID on every call.
package cpufeat

import (
	"simd/archsimd"

	"golang.org/x/sys/cpu"
)

// Tier orders the instruction-set levels the kernel dispatch table knows
// how to target, from the portable scalar fallback up to the widest
// tile-matrix extension.
type Tier uint8

const (
	NoSIMD Tier = iota
	AVX2
	AVX512F
	AVX512VNNI
	AMXInt8
	AMXBF16
)

func (t Tier) String() string {
	switch t {
	case NoSIMD:
		return "nosimd"
	case AVX2:
		return "avx2"
	case AVX512F:
		return "avx512f"
	case AVX512VNNI:
		return "avx512vnni"
	case AMXInt8:
		return "amx-int8"
	case AMXBF16:
		return "amx-bf16"
	default:
		return "unknown"
	}
}

// Features is the process-lifetime immutable record of what this CPU
// supports, detected once in init.
type Features struct {
	Tier       Tier
	HasAVX2    bool
	HasAVX512F bool
	HasVNNI    bool
	HasAMXInt8 bool
	HasAMXBF16 bool
}

var detected Features

func init() {
	detected = probe()
}

// Detect returns the process's detected Features.
func Detect() Features {
	return detected
}

// probe queries archsimd where it has a direct query and falls back to
// golang.org/x/sys/cpu for the bits archsimd does not expose (AVX512-VNNI
// and AMX are not yet surfaced by the experimental archsimd API).
func probe() Features {
	f := Features{}
	f.HasAVX2 = archsimd.X86.AVX2()
	f.HasAVX512F = archsimd.X86.AVX512()

	x86 := cpu.X86
	f.HasVNNI = x86.HasAVX512VNNI
	f.HasAMXInt8 = x86.HasAMXInt8
	f.HasAMXBF16 = x86.HasAMXBF16

	switch {
	case f.HasAMXBF16:
		f.Tier = AMXBF16
	case f.HasAMXInt8:
		f.Tier = AMXInt8
	case f.HasVNNI:
		f.Tier = AVX512VNNI
	case f.HasAVX512F:
		f.Tier = AVX512F
	case f.HasAVX2:
		f.Tier = AVX2
	default:
		f.Tier = NoSIMD
	}
	return f
}

// AtLeast reports whether the detected tier supports t.
func (f Features) AtLeast(t Tier) bool {
	return f.Tier >= t
}
