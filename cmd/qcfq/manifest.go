package main

import (
	"encoding/binary"
	"fmt"
	"math"
	"os"
	"path/filepath"

	goccyjson "github.com/goccy/go-json"

	"github.com/kessler-dev/tinyinfer/pkg/qcf"
)

// manifest is the input to `qcfq quantize`: a directory holding a JSON
// description plus one flat little-endian float32 file per tensor. It is
// this repository's stand-in for whatever upstream conversion step would
// otherwise hand the quantizer dense weights (model file ingestion from
// training-ecosystem formats is an out-of-scope external collaborator).
type manifest struct {
	Hyperparams manifestHyperparams `json:"hyperparams"`
	Tensors     []manifestTensor    `json:"tensors"`
}

type manifestHyperparams struct {
	NVocab     uint32  `json:"n_vocab"`
	NEmbd      uint32  `json:"n_embd"`
	NHead      uint32  `json:"n_head"`
	NKVHead    uint32  `json:"n_kv_head"`
	HeadDim    uint32  `json:"head_dim"`
	NFF        uint32  `json:"n_ff"`
	NLayer     uint32  `json:"n_layer"`
	ArchTag    uint32  `json:"arch_tag"`
	CtxSizeMax uint32  `json:"ctx_size_max"`
	NormType   string  `json:"norm_type"`
	FFNStyle   string  `json:"ffn_style"`
	RopeTheta  float64 `json:"rope_theta"`
}

type manifestTensor struct {
	Name  string   `json:"name"`
	Shape []uint32 `json:"shape"`
	File  string   `json:"file"`
}

func loadManifest(dir string) (*manifest, error) {
	raw, err := os.ReadFile(filepath.Join(dir, "manifest.json"))
	if err != nil {
		return nil, fmt.Errorf("read manifest.json: %w", err)
	}
	var m manifest
	if err := goccyjson.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("parse manifest.json: %w", err)
	}
	return &m, nil
}

func (m *manifest) qcfHyperparams() qcf.Hyperparams {
	normType := qcf.NormRMS
	if m.Hyperparams.NormType == "layer" {
		normType = qcf.NormLayer
	}
	ffnStyle := qcf.FFNPlain
	if m.Hyperparams.FFNStyle == "gated" {
		ffnStyle = qcf.FFNGated
	}
	return qcf.Hyperparams{
		NVocab:     m.Hyperparams.NVocab,
		NEmbd:      m.Hyperparams.NEmbd,
		NHead:      m.Hyperparams.NHead,
		NKVHead:    m.Hyperparams.NKVHead,
		HeadDim:    m.Hyperparams.HeadDim,
		NFF:        m.Hyperparams.NFF,
		NLayer:     m.Hyperparams.NLayer,
		ArchTag:    m.Hyperparams.ArchTag,
		CtxSizeMax: m.Hyperparams.CtxSizeMax,
		NormType:   normType,
		FFNStyle:   ffnStyle,
		RopeTheta:  m.Hyperparams.RopeTheta,
	}
}

// readTensorF32 loads a tensor's raw little-endian float32 payload,
// validating it against the declared shape.
func readTensorF32(dir string, t manifestTensor) ([]float32, error) {
	raw, err := os.ReadFile(filepath.Join(dir, t.File))
	if err != nil {
		return nil, fmt.Errorf("read tensor %q: %w", t.Name, err)
	}
	if len(raw)%4 != 0 {
		return nil, fmt.Errorf("tensor %q: file size %d not a multiple of 4", t.Name, len(raw))
	}
	n := len(raw) / 4
	want := 1
	for _, d := range t.Shape {
		want *= int(d)
	}
	if want != n {
		return nil, fmt.Errorf("tensor %q: shape %v implies %d elements, file has %d", t.Name, t.Shape, want, n)
	}
	out := make([]float32, n)
	for i := range out {
		bits := binary.LittleEndian.Uint32(raw[i*4 : i*4+4])
		out[i] = math.Float32frombits(bits)
	}
	return out, nil
}
