package tensor

import (
	"fmt"
	"math"

	"github.com/kessler-dev/tinyinfer/internal/kernel"
)

// MatMul computes dst = weight * act for a single activation vector act
// (length weight.C), writing weight.R outputs to dst. Dense weights use
// the kernel dot product directly; quantized weights dequantize one row
// at a time from the thread-local Arena scratch before dotting, so
// steady-state decode still avoids a separate dense copy of the whole
// matrix.
func MatMul(dst []float32, weight *Mat, act []float32, a *Arena) {
	if len(act) != weight.C {
		panic(fmt.Sprintf("tensor: MatMul activation length %d != weight cols %d", len(act), weight.C))
	}
	if len(dst) < weight.R {
		panic("tensor: MatMul dst too small")
	}
	tbl := kernel.Active()
	if weight.DType == F32 {
		for r := 0; r < weight.R; r++ {
			dst[r] = tbl.DotF32(weight.Row(r), act)
		}
		return
	}
	row := a.Row(weight.C)
	for r := 0; r < weight.R; r++ {
		weight.RowTo(row, r)
		dst[r] = tbl.DotF32(row, act)
	}
}

// FFN computes a gated (SwiGLU) or plain feed-forward pass depending on
// whether wGate is non-nil: plain FFN is down(act(up(x))); gated FFN is
// down(act(gate(x)) * up(x)).
func FFN(dst []float32, x []float32, wGate, wUp, wDown *Mat, a *Arena) {
	upOut := a.Row(wUp.R)
	MatMul(upOut, wUp, x, a)

	if wGate == nil {
		kernel.Silu(upOut)
		MatMul(dst, wDown, upOut, a)
		return
	}

	gateOut := a.Row(wGate.R)
	MatMul(gateOut, wGate, x, a)
	kernel.Silu(gateOut)
	kernel.Mul(upOut, gateOut, upOut)
	MatMul(dst, wDown, upOut, a)
}

// RoPE applies rotary position embeddings to x in place across nHead
// heads of dimension headDim, anchored at logical position pos.
func RoPE(x []float32, nHead, headDim, pos int, invFreq []float64) {
	kernel.ApplyRoPE(x, nHead, headDim, pos, invFreq)
}

// AttentionHead computes scaled dot-product attention for a single query
// head against a set of cached key/value vectors (one per valid cache
// slot, already gathered into contiguous per-head layout by the caller),
// writing the head_dim-length output into dst. scores is caller-provided
// scratch of length len(keys).
func AttentionHead(dst []float32, q []float32, keys, values [][]float32, scores []float32, headDim int) {
	if len(keys) != len(values) {
		panic("tensor: AttentionHead keys/values length mismatch")
	}
	if len(scores) < len(keys) {
		panic("tensor: AttentionHead scores buffer too small")
	}
	tbl := kernel.Active()
	invSqrtD := float32(1.0)
	if headDim > 0 {
		invSqrtD = float32(1.0 / math.Sqrt(float64(headDim)))
	}
	for i, k := range keys {
		scores[i] = tbl.DotF32(q, k) * invSqrtD
	}
	kernel.Softmax(scores[:len(keys)])
	for i := range dst {
		dst[i] = 0
	}
	for i, v := range values {
		w := scores[i]
		kernel.AccumulateAlphaB(dst, v, w)
	}
}
