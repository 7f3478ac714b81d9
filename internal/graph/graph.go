// Package graph builds and interprets the fixed per-layer operation
// sequence a decoder architecture executes. Per architecture the sequence
// is a small in-binary table of (op-kind, weight-name-pattern) entries
// rather than a per-architecture Go closure: every layer of a given model
// runs the identical interpreted sequence, parameterized by norm type,
// FFN style, and RoPE theta. RunLayer does not read ResidualStyle; ops run
// in the order the table lists them.
package graph

import (
	"fmt"

	"github.com/kessler-dev/tinyinfer/internal/tensor"
)

// NormType selects the normalization primitive a layer's norm ops use.
type NormType uint8

const (
	RMSNorm NormType = iota
	LayerNorm
)

// FFNStyle selects plain (down(act(up(x)))) vs. gated SwiGLU FFN.
type FFNStyle uint8

const (
	PlainFFN FFNStyle = iota
	GatedFFN
)

// ResidualStyle selects whether the norm is applied before (pre-norm) or
// after (post-norm) the sub-layer it feeds.
type ResidualStyle uint8

const (
	PreNorm ResidualStyle = iota
	PostNorm
)

// OpKind identifies one step of a layer's op sequence.
type OpKind uint8

const (
	OpAttnNorm OpKind = iota
	OpAttention
	OpFFNNorm
	OpFFN
)

// LayerOp is one (op-kind, weight-name-pattern) table entry. NormWeight is
// a fmt verb template with one %d for the layer index, e.g.
// "blk.%d.attn_norm.weight"; WeightPatterns may hold additional named
// tensors an op needs (e.g. attention's q/k/v/o projections).
type LayerOp struct {
	Kind           OpKind
	NormWeight     string
	WeightPatterns map[string]string
	Bias           bool
}

// ArchSpec is the data-driven description of one architecture's decoder
// layer: a fixed op sequence plus the knobs that change its numeric
// behavior without changing its shape.
type ArchSpec struct {
	Name          string
	NormType      NormType
	FFNStyle      FFNStyle
	ResidualStyle ResidualStyle
	NHead         int
	NKVHead       int
	HeadDim       int
	RopeTheta     float64
	Ops           []LayerOp
}

// WeightSource resolves a tensor name (already formatted with the layer
// index) to its loaded Mat. Implemented by the model loader over the
// container's tensor directory.
type WeightSource interface {
	Mat(name string) *tensor.Mat
}

// StandardDecoderSpec returns the op sequence shared by every decoder
// architecture enumerated in the model file format: attn-norm, QKV
// projection + RoPE + KV-cache attention + output projection, residual
// add, FFN-norm, FFN, residual add. Architectures differ only in the
// ArchSpec knobs (norm type, FFN style, head counts), not in this
// sequence, matching the spec's "every layer of a given model executes
// the identical op sequence" contract.
func StandardDecoderSpec(name string, normType NormType, ffnStyle FFNStyle, nHead, nKVHead, headDim int, ropeTheta float64) ArchSpec {
	return ArchSpec{
		Name:          name,
		NormType:      normType,
		FFNStyle:      ffnStyle,
		ResidualStyle: PreNorm,
		NHead:         nHead,
		NKVHead:       nKVHead,
		HeadDim:       headDim,
		RopeTheta:     ropeTheta,
		Ops: []LayerOp{
			{
				Kind:       OpAttnNorm,
				NormWeight: "blk.%d.attn_norm.weight",
			},
			{
				Kind: OpAttention,
				WeightPatterns: map[string]string{
					"q": "blk.%d.attn_q.weight",
					"k": "blk.%d.attn_k.weight",
					"v": "blk.%d.attn_v.weight",
					"o": "blk.%d.attn_output.weight",
				},
			},
			{
				Kind:       OpFFNNorm,
				NormWeight: "blk.%d.ffn_norm.weight",
			},
			{
				Kind: OpFFN,
				WeightPatterns: map[string]string{
					"gate": "blk.%d.ffn_gate.weight",
					"up":   "blk.%d.ffn_up.weight",
					"down": "blk.%d.ffn_down.weight",
				},
			},
		},
	}
}

// name formats a layer-op weight pattern with the concrete layer index.
func name(pattern string, layer int) string {
	return fmt.Sprintf(pattern, layer)
}
