package kernel

import "math"

// AlphaBeta computes dst[i] = alpha*a[i] + beta*b[i].
func AlphaBeta(dst, a, b []float32, alpha, beta float32) {
	for i := range dst {
		dst[i] = alpha*a[i] + beta*b[i]
	}
}

// AddInPlace adds src into dst element-wise.
func AddInPlace(dst, src []float32) {
	for i := range dst {
		dst[i] += src[i]
	}
}

// AccumulateAlphaB computes dst[i] += alpha*b[i].
func AccumulateAlphaB(dst, b []float32, alpha float32) {
	for i := range dst {
		dst[i] += alpha * b[i]
	}
}

// Clip clamps every element of x into [lo, hi].
func Clip(x []float32, lo, hi float32) {
	for i, v := range x {
		switch {
		case v < lo:
			x[i] = lo
		case v > hi:
			x[i] = hi
		}
	}
}

// Mul computes dst[i] = a[i] * b[i].
func Mul(dst, a, b []float32) {
	for i := range dst {
		dst[i] = a[i] * b[i]
	}
}

// Sigmoid computes the logistic sigmoid of x.
func Sigmoid(x float32) float32 {
	return float32(1.0 / (1.0 + math.Exp(float64(-x))))
}

// Silu applies the sigmoid linear unit activation in place.
func Silu(x []float32) {
	for i, v := range x {
		x[i] = v * Sigmoid(v)
	}
}

// Gelu applies the Gaussian error linear unit activation in place, using
// the tanh approximation.
func Gelu(x []float32) {
	const c = 0.7978845608028654 // sqrt(2/pi)
	for i, v := range x {
		v64 := float64(v)
		inner := c * (v64 + 0.044715*v64*v64*v64)
		x[i] = float32(0.5 * v64 * (1 + math.Tanh(inner)))
	}
}

// Softmax normalizes x in place into a probability distribution,
// subtracting the row max before exponentiating for numeric stability.
// If the max-subtracted exponentials all underflow to zero (degenerate
// input), Softmax returns early leaving x unnormalized; if an overflow to
// +Inf is observed the distribution collapses to a one-hot at the
// argmax column.
func Softmax(x []float32) {
	if len(x) == 0 {
		return
	}
	maxv, argmax := x[0], 0
	for i := 1; i < len(x); i++ {
		if x[i] > maxv {
			maxv = x[i]
			argmax = i
		}
	}
	if math.IsInf(float64(maxv), 1) {
		for i := range x {
			x[i] = 0
		}
		x[argmax] = 1
		return
	}
	var sum float64
	for i := range x {
		v := math.Exp(float64(x[i] - maxv))
		x[i] = float32(v)
		sum += v
	}
	if sum == 0 {
		return
	}
	inv := float32(1.0 / sum)
	for i := range x {
		x[i] *= inv
	}
}
