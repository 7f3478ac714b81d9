package engine

import (
	"context"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/kessler-dev/tinyinfer/pkg/qcf"
)

const (
	testNVocab  = 6
	testNEmbd   = 8
	testNHead   = 2
	testNKVHead = 2
	testHeadDim = 4
	testNFF     = 16
)

func f32Bytes(values []float32) []byte {
	out := make([]byte, len(values)*4)
	for i, v := range values {
		bits := math.Float32bits(v)
		out[i*4] = byte(bits)
		out[i*4+1] = byte(bits >> 8)
		out[i*4+2] = byte(bits >> 16)
		out[i*4+3] = byte(bits >> 24)
	}
	return out
}

// fillRamp returns n values spread over a small range, deterministic and
// distinct enough to exercise every matmul/attention path without blowing
// up under repeated matrix products.
func fillRamp(n int, scale float32) []float32 {
	out := make([]float32, n)
	for i := range out {
		out[i] = (float32(i%7) - 3) * scale
	}
	return out
}

func buildDenseModel(t *testing.T, path string) {
	t.Helper()
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	defer f.Close()

	w, err := qcf.NewWriter(f)
	if err != nil {
		t.Fatalf("NewWriter: %v", err)
	}

	hp := qcf.Hyperparams{
		NVocab: testNVocab, NEmbd: testNEmbd, NHead: testNHead, NKVHead: testNKVHead,
		HeadDim: testHeadDim, NFF: testNFF, NLayer: 1, ArchTag: 1, CtxSizeMax: 16,
		NormType: qcf.NormRMS, FFNStyle: qcf.FFNPlain, RopeTheta: 10000,
	}
	if err := w.WriteSection(qcf.SectionHyperparams, qcf.HyperparamsVersion, qcf.EncodeHyperparams(hp)); err != nil {
		t.Fatalf("write hyperparams: %v", err)
	}

	type tensorDef struct {
		name     string
		shape    []uint32
		elements int
	}
	defs := []tensorDef{
		{"token_embd.weight", []uint32{testNVocab, testNEmbd}, testNVocab * testNEmbd},
		{"blk.0.attn_norm.weight", []uint32{testNEmbd}, testNEmbd},
		{"blk.0.attn_q.weight", []uint32{testNHead * testHeadDim, testNEmbd}, testNHead * testHeadDim * testNEmbd},
		{"blk.0.attn_k.weight", []uint32{testNKVHead * testHeadDim, testNEmbd}, testNKVHead * testHeadDim * testNEmbd},
		{"blk.0.attn_v.weight", []uint32{testNKVHead * testHeadDim, testNEmbd}, testNKVHead * testHeadDim * testNEmbd},
		{"blk.0.attn_output.weight", []uint32{testNEmbd, testNHead * testHeadDim}, testNEmbd * testNHead * testHeadDim},
		{"blk.0.ffn_norm.weight", []uint32{testNEmbd}, testNEmbd},
		{"blk.0.ffn_up.weight", []uint32{testNFF, testNEmbd}, testNFF * testNEmbd},
		{"blk.0.ffn_down.weight", []uint32{testNEmbd, testNFF}, testNEmbd * testNFF},
		{"output_norm.weight", []uint32{testNEmbd}, testNEmbd},
		{"output.weight", []uint32{testNVocab, testNEmbd}, testNVocab * testNEmbd},
	}

	sw, err := w.BeginSection(qcf.SectionTensorData, 1)
	if err != nil {
		t.Fatalf("BeginSection: %v", err)
	}
	records := make([]qcf.TensorIndexRecord, 0, len(defs))
	for i, d := range defs {
		off, err := sw.CurrentAbsOffset()
		if err != nil {
			t.Fatalf("CurrentAbsOffset: %v", err)
		}
		payload := f32Bytes(fillRamp(d.elements, 0.05*float32(i+1)))
		if _, err := sw.Write(payload); err != nil {
			t.Fatalf("Write: %v", err)
		}
		records = append(records, qcf.TensorIndexRecord{
			Name:     d.name,
			DType:    qcf.DTypeF32,
			Shape:    d.shape,
			DataOff:  off,
			DataSize: uint64(len(payload)),
		})
	}
	if err := sw.End(); err != nil {
		t.Fatalf("sw.End: %v", err)
	}

	idx, err := qcf.EncodeTensorIndexSection(records)
	if err != nil {
		t.Fatalf("EncodeTensorIndexSection: %v", err)
	}
	if err := w.WriteSection(qcf.SectionTensorIndex, qcf.TensorIndexVersion, idx); err != nil {
		t.Fatalf("write tensor index: %v", err)
	}
	if err := w.Finalise(); err != nil {
		t.Fatalf("Finalise: %v", err)
	}
}

func TestEngineForwardProducesLogitsPerVocab(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tiny.qcf")
	buildDenseModel(t, path)

	eng, err := Load(path, Options{})
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	defer eng.Close()

	ctx := context.Background()
	for pos, tok := range []int{0, 1, 2} {
		logits, err := eng.Forward(ctx, tok, pos)
		if err != nil {
			t.Fatalf("Forward(pos=%d): %v", pos, err)
		}
		if len(logits) != testNVocab {
			t.Fatalf("Forward(pos=%d) logits len = %d, want %d", pos, len(logits), testNVocab)
		}
		for _, v := range logits {
			if math.IsNaN(float64(v)) || math.IsInf(float64(v), 0) {
				t.Fatalf("Forward(pos=%d) produced non-finite logit: %v", pos, logits)
			}
		}
	}
}

func TestEngineForwardRejectsOutOfRangeToken(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tiny.qcf")
	buildDenseModel(t, path)

	eng, err := Load(path, Options{})
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	defer eng.Close()

	if _, err := eng.Forward(context.Background(), testNVocab, 0); err == nil {
		t.Fatal("expected error for out-of-range token id")
	}
}

func TestEngineRejectsMissingHyperparams(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nohp.qcf")
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	w, err := qcf.NewWriter(f)
	if err != nil {
		t.Fatalf("NewWriter: %v", err)
	}
	idx, err := qcf.EncodeTensorIndexSection(nil)
	if err != nil {
		t.Fatalf("EncodeTensorIndexSection: %v", err)
	}
	if err := w.WriteSection(qcf.SectionTensorIndex, qcf.TensorIndexVersion, idx); err != nil {
		t.Fatalf("write tensor index: %v", err)
	}
	if err := w.Finalise(); err != nil {
		t.Fatalf("Finalise: %v", err)
	}
	f.Close()

	if _, err := Load(path, Options{}); err == nil {
		t.Fatal("expected error for missing hyperparams section")
	}
}
