package engine

import (
	"context"
	"fmt"

	"github.com/kessler-dev/tinyinfer/internal/apperr"
	"github.com/kessler-dev/tinyinfer/internal/graph"
	"github.com/kessler-dev/tinyinfer/internal/kernel"
	"github.com/kessler-dev/tinyinfer/internal/kvcache"
	"github.com/kessler-dev/tinyinfer/internal/tensor"
	"github.com/kessler-dev/tinyinfer/pkg/qcf"
)

// weight-name conventions shared with internal/graph.StandardDecoderSpec's
// "blk.%d.*" patterns (gguf-style naming, the same convention the teacher's
// internal/model package loads against).
const (
	embeddingName  = "token_embd.weight"
	outputNormName = "output_norm.weight"
)

// outputCandidates mirrors the teacher's modelspec.go fallback list: most
// architectures keep a separate lm-head tensor, but small tied-embedding
// models reuse the token embedding as the output projection.
var outputCandidates = []string{"output.weight", "lm_head.weight"}

const normEps = 1e-5

// Engine loads a quantized .qcf model and implements internal/decode.Model
// by driving internal/graph.RunLayer once per decoder layer, followed by a
// final norm and output projection.
type Engine struct {
	file   *qcf.File
	hp     qcf.Hyperparams
	spec   graph.ArchSpec
	layers []*kvcache.Layer
	arena  *tensor.Arena

	weights    map[string]*tensor.Mat
	embedding  *tensor.Mat
	outputNorm *tensor.Mat
	output     *tensor.Mat

	invFreq []float64
	ring    bool
}

// Options configures a loaded Engine's KV cache behavior.
type Options struct {
	// CtxSize overrides the cache size; 0 uses the model's CtxSizeMax.
	CtxSize int
	// Ring enables wraparound KV-cache eviction instead of failing once
	// CtxSize positions are in use.
	Ring bool
}

// Load opens path as a QCF container, resolves every tensor the decoder's
// architecture spec references, and returns a ready-to-run Engine. The
// returned Engine owns the underlying mapped file and must be closed.
func Load(path string, opts Options) (*Engine, error) {
	f, err := qcf.Open(path)
	if err != nil {
		return nil, apperr.New(apperr.KindMalformedModel, "engine.Load", err)
	}

	hpSec := f.Section(qcf.SectionHyperparams)
	if hpSec == nil {
		_ = f.Close()
		return nil, apperr.New(apperr.KindMalformedModel, "engine.Load", fmt.Errorf("missing hyperparams section"))
	}
	hp, ok := qcf.DecodeHyperparams(f.SectionData(hpSec))
	if !ok {
		_ = f.Close()
		return nil, apperr.New(apperr.KindMalformedModel, "engine.Load", fmt.Errorf("malformed hyperparams section"))
	}

	tiSec := f.Section(qcf.SectionTensorIndex)
	if tiSec == nil {
		_ = f.Close()
		return nil, apperr.New(apperr.KindMalformedModel, "engine.Load", fmt.Errorf("missing tensor index section"))
	}
	ti, err := qcf.ParseTensorIndexSection(f.SectionData(tiSec))
	if err != nil {
		_ = f.Close()
		return nil, apperr.New(apperr.KindMalformedModel, "engine.Load", err)
	}

	weights := make(map[string]*tensor.Mat, ti.Count())
	for i := 0; i < ti.Count(); i++ {
		entry, err := ti.Entry(i)
		if err != nil {
			_ = f.Close()
			return nil, apperr.New(apperr.KindMalformedModel, "engine.Load", err)
		}
		mat, err := loadMat(f, entry)
		if err != nil {
			_ = f.Close()
			return nil, apperr.New(apperr.KindMalformedModel, "engine.Load", err)
		}
		weights[entry.Name] = mat
	}

	embedding, ok := weights[embeddingName]
	if !ok {
		_ = f.Close()
		return nil, apperr.New(apperr.KindMalformedModel, "engine.Load", fmt.Errorf("missing %q", embeddingName))
	}
	outputNorm, ok := weights[outputNormName]
	if !ok {
		_ = f.Close()
		return nil, apperr.New(apperr.KindMalformedModel, "engine.Load", fmt.Errorf("missing %q", outputNormName))
	}
	var output *tensor.Mat
	for _, name := range outputCandidates {
		if m, ok := weights[name]; ok {
			output = m
			break
		}
	}
	if output == nil {
		output = embedding // tied embedding/output projection
	}

	normType := graph.RMSNorm
	if hp.NormType == qcf.NormLayer {
		normType = graph.LayerNorm
	}
	ffnStyle := graph.PlainFFN
	if hp.FFNStyle == qcf.FFNGated {
		ffnStyle = graph.GatedFFN
	}
	spec := graph.StandardDecoderSpec("qcf", normType, ffnStyle, int(hp.NHead), int(hp.NKVHead), int(hp.HeadDim), hp.RopeTheta)

	ctxSize := opts.CtxSize
	if ctxSize <= 0 {
		ctxSize = int(hp.CtxSizeMax)
	}
	if ctxSize <= 0 {
		_ = f.Close()
		return nil, apperr.New(apperr.KindInvalidConfiguration, "engine.Load", fmt.Errorf("no usable context size"))
	}

	layers := make([]*kvcache.Layer, hp.NLayer)
	for i := range layers {
		layers[i] = kvcache.NewLayer(ctxSize, int(hp.NKVHead), int(hp.HeadDim), opts.Ring)
	}

	return &Engine{
		file:       f,
		hp:         hp,
		spec:       spec,
		layers:     layers,
		arena:      tensor.NewArena(),
		weights:    weights,
		embedding:  embedding,
		outputNorm: outputNorm,
		output:     output,
		invFreq:    kernel.InvFreq(int(hp.HeadDim), hp.RopeTheta),
		ring:       opts.Ring,
	}, nil
}

// Close releases the underlying QCF mapping.
func (e *Engine) Close() error {
	return e.file.Close()
}

// Hyperparams returns the model's decoded hyperparameter block.
func (e *Engine) Hyperparams() qcf.Hyperparams {
	return e.hp
}

// Mat implements graph.WeightSource by name lookup into the resolved
// weight table.
func (e *Engine) Mat(name string) *tensor.Mat {
	return e.weights[name]
}

// Forward runs one token through every decoder layer plus the final norm
// and output projection, returning that position's vocabulary logits. It
// implements internal/decode.Model.
func (e *Engine) Forward(ctx context.Context, tokenID, position int) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, apperr.New(apperr.KindCancelled, "engine.Forward", err)
	}
	if tokenID < 0 || tokenID >= int(e.hp.NVocab) {
		return nil, apperr.New(apperr.KindInvalidConfiguration, "engine.Forward", fmt.Errorf("token id %d out of vocab range", tokenID))
	}

	nEmbd := int(e.hp.NEmbd)
	x := make([]float32, nEmbd)
	e.embedding.RowTo(x, tokenID)

	for layer := 0; layer < int(e.hp.NLayer); layer++ {
		if err := graph.RunLayer(e.spec, layer, e, x, e.layers[layer], position, e.invFreq, e.arena); err != nil {
			return nil, apperr.New(apperr.KindInternal, "engine.Forward", err)
		}
		e.arena.Reset()
	}

	normed := make([]float32, nEmbd)
	switch e.spec.NormType {
	case graph.RMSNorm:
		kernel.RMSNorm(normed, x, e.outputNorm.Row(0), normEps)
	case graph.LayerNorm:
		bias := make([]float32, nEmbd)
		kernel.LayerNorm(normed, x, e.outputNorm.Row(0), bias, normEps)
	}

	logits := make([]float32, e.output.R)
	tensor.MatMul(logits, e.output, normed, e.arena)
	e.arena.Reset()

	return logits, nil
}
