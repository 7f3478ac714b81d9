package graph

import (
	"fmt"
	"math"
	"testing"

	"github.com/kessler-dev/tinyinfer/internal/kernel"
	"github.com/kessler-dev/tinyinfer/internal/kvcache"
	"github.com/kessler-dev/tinyinfer/internal/tensor"
)

type fakeWeights struct {
	mats map[string]*tensor.Mat
}

func (f *fakeWeights) Mat(n string) *tensor.Mat {
	return f.mats[n]
}

func identityMat(n int) *tensor.Mat {
	data := make([]float32, n*n)
	for i := 0; i < n; i++ {
		data[i*n+i] = 1
	}
	return tensor.NewDenseMatFromData(n, n, data)
}

func onesRow(n int) *tensor.Mat {
	return tensor.NewDenseMatFromData(1, n, func() []float32 {
		d := make([]float32, n)
		for i := range d {
			d[i] = 1
		}
		return d
	}())
}

func buildFakeWeights(nEmbd, nLayer int) *fakeWeights {
	fw := &fakeWeights{mats: map[string]*tensor.Mat{}}
	for l := 0; l < nLayer; l++ {
		fw.mats[fmt.Sprintf("blk.%d.attn_norm.weight", l)] = onesRow(nEmbd)
		fw.mats[fmt.Sprintf("blk.%d.ffn_norm.weight", l)] = onesRow(nEmbd)
		fw.mats[fmt.Sprintf("blk.%d.attn_q.weight", l)] = identityMat(nEmbd)
		fw.mats[fmt.Sprintf("blk.%d.attn_k.weight", l)] = identityMat(nEmbd)
		fw.mats[fmt.Sprintf("blk.%d.attn_v.weight", l)] = identityMat(nEmbd)
		fw.mats[fmt.Sprintf("blk.%d.attn_output.weight", l)] = identityMat(nEmbd)
		fw.mats[fmt.Sprintf("blk.%d.ffn_up.weight", l)] = identityMat(nEmbd)
		fw.mats[fmt.Sprintf("blk.%d.ffn_down.weight", l)] = identityMat(nEmbd)
	}
	return fw
}

func TestRunLayerProducesFiniteOutput(t *testing.T) {
	nEmbd, headDim, nHead := 4, 4, 1
	spec := StandardDecoderSpec("test", RMSNorm, PlainFFN, nHead, nHead, headDim, 10000)
	weights := buildFakeWeights(nEmbd, 1)
	cache := kvcache.NewLayer(8, nHead, headDim, false)
	invFreq := kernel.InvFreq(headDim, spec.RopeTheta)

	x := []float32{1, 2, 3, 4}
	a := tensor.NewArena()
	if err := RunLayer(spec, 0, weights, x, cache, 0, invFreq, a); err != nil {
		t.Fatalf("RunLayer: %v", err)
	}
	for i, v := range x {
		if math.IsNaN(float64(v)) || math.IsInf(float64(v), 0) {
			t.Fatalf("x[%d] = %v, not finite", i, v)
		}
	}
}

func TestRunLayerMissingWeightIsMalformedModel(t *testing.T) {
	spec := StandardDecoderSpec("test", RMSNorm, PlainFFN, 1, 1, 4, 10000)
	weights := &fakeWeights{mats: map[string]*tensor.Mat{}}
	cache := kvcache.NewLayer(8, 1, 4, false)
	x := make([]float32, 4)
	a := tensor.NewArena()
	err := RunLayer(spec, 0, weights, x, cache, 0, kernel.InvFreq(4, 10000), a)
	if err == nil {
		t.Fatal("expected error for missing weights, got nil")
	}
}
