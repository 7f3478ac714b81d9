package kernel

import "simd/archsimd"

// dotF32AVX2 is the AVX2 dot product over float32 vectors, 8 lanes at a
// time, with a scalar epilogue over the tail identical in result to
// dotF32Scalar.
func dotF32AVX2(a, b []float32) float32 {
	n := len(a)
	var acc archsimd.Float32x8
	i := 0
	for ; i+8 <= n; i += 8 {
		va := archsimd.LoadFloat32x8Slice(a[i:])
		vb := archsimd.LoadFloat32x8Slice(b[i:])
		acc = acc.Add(va.Mul(vb))
	}
	var tmp [8]float32
	acc.Store(&tmp)
	sum := tmp[0] + tmp[1] + tmp[2] + tmp[3] + tmp[4] + tmp[5] + tmp[6] + tmp[7]
	for ; i < n; i++ {
		sum += a[i] * b[i]
	}
	return sum
}

// dotInt8Float32AVX2 multiplies signed 8-bit quantized codes against a
// dense float32 vector, widening codes to int32 then float32 before the
// multiply-accumulate — mirrors the teacher's matvec_quant SIMD kernel,
// generalized to any int8 code source (weights or activations).
func dotInt8Float32AVX2(q []int8, x []float32) float32 {
	n := len(q)
	var acc archsimd.Float32x8
	i := 0
	for ; i+16 <= n; i += 16 {
		vq := archsimd.LoadInt8x16Slice(q[i:])
		v16 := vq.ExtendToInt16()

		lo := v16.GetLo().ExtendToInt32().ConvertToFloat32()
		hi := v16.GetHi().ExtendToInt32().ConvertToFloat32()

		vxLo := archsimd.LoadFloat32x8Slice(x[i:])
		vxHi := archsimd.LoadFloat32x8Slice(x[i+8:])

		acc = acc.Add(lo.Mul(vxLo))
		acc = acc.Add(hi.Mul(vxHi))
	}
	var tmp [8]float32
	acc.Store(&tmp)
	sum := tmp[0] + tmp[1] + tmp[2] + tmp[3] + tmp[4] + tmp[5] + tmp[6] + tmp[7]
	for ; i < n; i++ {
		sum += float32(q[i]) * x[i]
	}
	return sum
}

func dotInt8Float32Scalar(q []int8, x []float32) float32 {
	var sum float32
	for i := range q {
		sum += float32(q[i]) * x[i]
	}
	return sum
}
