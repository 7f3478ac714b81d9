package main

import (
	"context"
	"encoding/binary"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/kessler-dev/tinyinfer/pkg/qcf"
)

func writeF32File(t *testing.T, path string, values []float32) {
	t.Helper()
	buf := make([]byte, len(values)*4)
	for i, v := range values {
		binary.LittleEndian.PutUint32(buf[i*4:i*4+4], math.Float32bits(v))
	}
	if err := os.WriteFile(path, buf, 0o644); err != nil {
		t.Fatalf("write tensor file: %v", err)
	}
}

func buildManifestDir(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	values := make([]float32, 64)
	for i := range values {
		values[i] = float32(i-32) / 8
	}
	writeF32File(t, filepath.Join(dir, "blk.0.attn_q.weight.f32"), values)

	manifestJSON := `{
		"hyperparams": {
			"n_vocab": 257, "n_embd": 64, "n_head": 4, "n_kv_head": 4,
			"head_dim": 16, "n_ff": 128, "n_layer": 1, "arch_tag": 1,
			"ctx_size_max": 2048, "norm_type": "rms", "ffn_style": "gated",
			"rope_theta": 10000
		},
		"tensors": [
			{"name": "blk.0.attn_q.weight", "shape": [8, 8], "file": "blk.0.attn_q.weight.f32"}
		]
	}`
	if err := os.WriteFile(filepath.Join(dir, "manifest.json"), []byte(manifestJSON), 0o644); err != nil {
		t.Fatalf("write manifest.json: %v", err)
	}
	return dir
}

func runQuantize(t *testing.T, manifestDir, outPath, weightDType string) error {
	t.Helper()
	cmd := quantizeCmd()
	args := []string{"quantize", "--manifest", manifestDir, "--output", outPath, "--weight-dtype", weightDType, "--group-size", "8"}
	return cmd.Run(context.Background(), args)
}

func TestQuantizeInt8SymRoundTrip(t *testing.T) {
	dir := buildManifestDir(t)
	out := filepath.Join(t.TempDir(), "model.qcf")

	if err := runQuantize(t, dir, out, "int8_sym"); err != nil {
		t.Fatalf("quantize: %v", err)
	}

	f, err := qcf.Open(out)
	if err != nil {
		t.Fatalf("qcf.Open: %v", err)
	}
	defer f.Close()

	tiSec := f.Section(qcf.SectionTensorIndex)
	if tiSec == nil {
		t.Fatal("missing tensor index")
	}
	ti, err := qcf.ParseTensorIndexSection(f.SectionData(tiSec))
	if err != nil {
		t.Fatalf("ParseTensorIndexSection: %v", err)
	}
	if ti.Count() != 1 {
		t.Fatalf("Count = %d, want 1", ti.Count())
	}
	entry, err := ti.Entry(0)
	if err != nil {
		t.Fatalf("Entry: %v", err)
	}
	if !entry.DType.IsQuantized() || entry.BlockK != 8 {
		t.Fatalf("unexpected entry: %+v", entry)
	}
	if entry.ScaleSize == 0 {
		t.Fatal("expected nonzero scale table")
	}
	if entry.ZeroPointSize != 0 {
		t.Fatal("int8_sym should not carry zero points")
	}

	hpSec := f.Section(qcf.SectionHyperparams)
	hp, ok := qcf.DecodeHyperparams(f.SectionData(hpSec))
	if !ok {
		t.Fatal("DecodeHyperparams failed")
	}
	if hp.NEmbd != 64 || hp.NLayer != 1 || hp.FFNStyle != qcf.FFNGated {
		t.Fatalf("unexpected hyperparams: %+v", hp)
	}
}

func TestQuantizeInt4AsymCarriesZeroPoints(t *testing.T) {
	dir := buildManifestDir(t)
	out := filepath.Join(t.TempDir(), "model.qcf")

	if err := runQuantize(t, dir, out, "int4_asym"); err != nil {
		t.Fatalf("quantize: %v", err)
	}

	f, err := qcf.Open(out)
	if err != nil {
		t.Fatalf("qcf.Open: %v", err)
	}
	defer f.Close()

	ti, err := qcf.ParseTensorIndexSection(f.SectionData(f.Section(qcf.SectionTensorIndex)))
	if err != nil {
		t.Fatalf("ParseTensorIndexSection: %v", err)
	}
	entry, err := ti.Entry(0)
	if err != nil {
		t.Fatalf("Entry: %v", err)
	}
	if entry.ZeroPointSize == 0 {
		t.Fatal("expected nonzero zero-point table for int4_asym")
	}
}

func TestQuantizeF32DensePassthrough(t *testing.T) {
	dir := buildManifestDir(t)
	out := filepath.Join(t.TempDir(), "model.qcf")

	if err := runQuantize(t, dir, out, "f32"); err != nil {
		t.Fatalf("quantize: %v", err)
	}

	f, err := qcf.Open(out)
	if err != nil {
		t.Fatalf("qcf.Open: %v", err)
	}
	defer f.Close()

	if f.Header.Flags&qcf.FlagTensorDataAligned64 != 0 {
		t.Fatal("dense f32 output should not set the aligned64 flag")
	}

	ti, err := qcf.ParseTensorIndexSection(f.SectionData(f.Section(qcf.SectionTensorIndex)))
	if err != nil {
		t.Fatalf("ParseTensorIndexSection: %v", err)
	}
	entry, err := ti.Entry(0)
	if err != nil {
		t.Fatalf("Entry: %v", err)
	}
	if entry.DType.IsQuantized() {
		t.Fatal("f32 tensor should not be quantized")
	}
	if entry.DataSize != 64*4 {
		t.Fatalf("DataSize = %d, want %d", entry.DataSize, 64*4)
	}
}
