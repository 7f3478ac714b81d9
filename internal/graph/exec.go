package graph

import (
	"github.com/kessler-dev/tinyinfer/internal/apperr"
	"github.com/kessler-dev/tinyinfer/internal/kernel"
	"github.com/kessler-dev/tinyinfer/internal/kvcache"
	"github.com/kessler-dev/tinyinfer/internal/tensor"
)

const normEps = 1e-5

// RunLayer interprets spec's op sequence for layer index layer, mutating
// x (the residual stream, length n_embd) in place and updating cache.
// invFreq is the RoPE frequency table for spec.HeadDim/spec.RopeTheta,
// precomputed once per session and passed in rather than recomputed per
// call.
func RunLayer(spec ArchSpec, layer int, weights WeightSource, x []float32, cache *kvcache.Layer, position int, invFreq []float64, a *tensor.Arena) error {
	for _, op := range spec.Ops {
		switch op.Kind {
		case OpAttnNorm:
			if err := runNorm(spec, op, layer, weights, x, a); err != nil {
				return err
			}
		case OpAttention:
			if err := runAttention(spec, op, layer, weights, x, cache, position, invFreq, a); err != nil {
				return err
			}
		case OpFFNNorm:
			if err := runNorm(spec, op, layer, weights, x, a); err != nil {
				return err
			}
		case OpFFN:
			if err := runFFN(spec, op, layer, weights, x, a); err != nil {
				return err
			}
		default:
			return apperr.New(apperr.KindInternal, "graph.RunLayer", nil)
		}
	}
	return nil
}

func runNorm(spec ArchSpec, op LayerOp, layer int, weights WeightSource, x []float32, a *tensor.Arena) error {
	w := weights.Mat(name(op.NormWeight, layer))
	if w == nil {
		return apperr.New(apperr.KindMalformedModel, "graph.runNorm", nil)
	}
	weight := w.Row(0)
	dst := a.Row(len(x))
	switch spec.NormType {
	case RMSNorm:
		kernel.RMSNorm(dst, x, weight, normEps)
	case LayerNorm:
		bias := a.Row(len(x))
		for i := range bias {
			bias[i] = 0
		}
		kernel.LayerNorm(dst, x, weight, bias, normEps)
	}
	copy(x, dst)
	return nil
}

func runAttention(spec ArchSpec, op LayerOp, layer int, weights WeightSource, x []float32, cache *kvcache.Layer, position int, invFreq []float64, a *tensor.Arena) error {
	wq := weights.Mat(name(op.WeightPatterns["q"], layer))
	wk := weights.Mat(name(op.WeightPatterns["k"], layer))
	wv := weights.Mat(name(op.WeightPatterns["v"], layer))
	wo := weights.Mat(name(op.WeightPatterns["o"], layer))
	if wq == nil || wk == nil || wv == nil || wo == nil {
		return apperr.New(apperr.KindMalformedModel, "graph.runAttention", nil)
	}

	qDim := spec.NHead * spec.HeadDim
	kvDim := spec.NKVHead * spec.HeadDim

	q := a.Row(qDim)
	k := a.Row(kvDim)
	v := a.Row(kvDim)
	tensor.MatMul(q, wq, x, a)
	tensor.MatMul(k, wk, x, a)
	tensor.MatMul(v, wv, x, a)

	tensor.RoPE(q, spec.NHead, spec.HeadDim, position, invFreq)
	tensor.RoPE(k, spec.NKVHead, spec.HeadDim, position, invFreq)

	if _, err := cache.Append(k, v, position); err != nil {
		return err
	}

	inputs := cache.GatherAttentionInputs(position)
	attnOut := a.Row(qDim)
	scores := a.Row(len(inputs.Positions))
	groupSize := spec.NHead / spec.NKVHead
	if groupSize < 1 {
		groupSize = 1
	}
	for h := 0; h < spec.NHead; h++ {
		kvHead := h / groupSize
		qHead := q[h*spec.HeadDim : (h+1)*spec.HeadDim]
		dstHead := attnOut[h*spec.HeadDim : (h+1)*spec.HeadDim]
		keys := a.RowPtrs(len(inputs.Keys))
		values := a.RowPtrs(len(inputs.Values))
		for i := range inputs.Keys {
			keys[i] = inputs.Keys[i][kvHead*spec.HeadDim : (kvHead+1)*spec.HeadDim]
			values[i] = inputs.Values[i][kvHead*spec.HeadDim : (kvHead+1)*spec.HeadDim]
		}
		tensor.AttentionHead(dstHead, qHead, keys, values, scores, spec.HeadDim)
	}

	proj := a.Row(len(x))
	tensor.MatMul(proj, wo, attnOut, a)
	kernel.AddInPlace(x, proj)
	return nil
}

func runFFN(spec ArchSpec, op LayerOp, layer int, weights WeightSource, x []float32, a *tensor.Arena) error {
	wUp := weights.Mat(name(op.WeightPatterns["up"], layer))
	wDown := weights.Mat(name(op.WeightPatterns["down"], layer))
	if wUp == nil || wDown == nil {
		return apperr.New(apperr.KindMalformedModel, "graph.runFFN", nil)
	}
	var wGate *tensor.Mat
	if spec.FFNStyle == GatedFFN {
		wGate = weights.Mat(name(op.WeightPatterns["gate"], layer))
		if wGate == nil {
			return apperr.New(apperr.KindMalformedModel, "graph.runFFN", nil)
		}
	}
	out := a.Row(len(x))
	tensor.FFN(out, x, wGate, wUp, wDown, a)
	kernel.AddInPlace(x, out)
	return nil
}
