package qcf

import (
	"os"
	"path/filepath"
	"testing"
)

func buildTestFile(t *testing.T, path string) {
	t.Helper()
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	defer f.Close()

	w, err := NewWriter(f)
	if err != nil {
		t.Fatalf("NewWriter: %v", err)
	}

	hp := Hyperparams{
		NEmbd: 256, NHead: 8, NKVHead: 8, NLayer: 4, NVocab: 257, HeadDim: 32,
		NormType: NormRMS, FFNStyle: FFNGated, RopeTheta: 10000,
	}
	if err := w.WriteSection(SectionHyperparams, HyperparamsVersion, EncodeHyperparams(hp)); err != nil {
		t.Fatalf("WriteSection hyperparams: %v", err)
	}

	tensorPayload := make([]byte, 64)
	for i := range tensorPayload {
		tensorPayload[i] = byte(i)
	}
	sw, err := w.BeginSection(SectionTensorData, 1)
	if err != nil {
		t.Fatalf("BeginSection: %v", err)
	}
	dataOff, err := sw.CurrentAbsOffset()
	if err != nil {
		t.Fatalf("CurrentAbsOffset: %v", err)
	}
	if _, err := sw.Write(tensorPayload); err != nil {
		t.Fatalf("sw.Write: %v", err)
	}
	if err := sw.End(); err != nil {
		t.Fatalf("sw.End: %v", err)
	}

	idx, err := EncodeTensorIndexSection([]TensorIndexRecord{
		{
			Name:     "blk.0.attn_q.weight",
			DType:    DTypeInt4Sym,
			Shape:    []uint32{256, 256},
			DataOff:  dataOff,
			DataSize: uint64(len(tensorPayload)),
			BlockK:   32,
			PackRow:  128,
		},
	})
	if err != nil {
		t.Fatalf("EncodeTensorIndexSection: %v", err)
	}
	if err := w.WriteSection(SectionTensorIndex, TensorIndexVersion, idx); err != nil {
		t.Fatalf("WriteSection tensor index: %v", err)
	}

	if err := w.Finalise(); err != nil {
		t.Fatalf("Finalise: %v", err)
	}
}

func TestWriteThenOpenRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "model.qcf")
	buildTestFile(t, path)

	f, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer f.Close()

	if f.Header.SectionCount != 3 {
		t.Fatalf("SectionCount = %d, want 3", f.Header.SectionCount)
	}

	hpSec := f.Section(SectionHyperparams)
	if hpSec == nil {
		t.Fatal("missing hyperparams section")
	}
	hp, ok := DecodeHyperparams(f.SectionData(hpSec))
	if !ok {
		t.Fatal("DecodeHyperparams failed")
	}
	if hp.NEmbd != 256 || hp.NLayer != 4 || hp.RopeTheta != 10000 {
		t.Fatalf("unexpected hyperparams: %+v", hp)
	}

	tiSec := f.Section(SectionTensorIndex)
	if tiSec == nil {
		t.Fatal("missing tensor index section")
	}
	ti, err := ParseTensorIndexSection(f.SectionData(tiSec))
	if err != nil {
		t.Fatalf("ParseTensorIndexSection: %v", err)
	}
	if ti.Count() != 1 {
		t.Fatalf("Count() = %d, want 1", ti.Count())
	}
	entry, err := ti.Entry(0)
	if err != nil {
		t.Fatalf("Entry: %v", err)
	}
	if entry.Name != "blk.0.attn_q.weight" {
		t.Fatalf("Name = %q", entry.Name)
	}
	if !entry.DType.IsQuantized() {
		t.Fatal("expected quantized dtype")
	}
	if entry.BlockK != 32 || entry.PackRow != 128 {
		t.Fatalf("unexpected block layout: %+v", entry)
	}

	i, err := ti.Find("blk.0.attn_q.weight")
	if err != nil || i != 0 {
		t.Fatalf("Find = %d, %v", i, err)
	}
	if _, err := ti.Find("missing"); err != ErrTensorNotFound {
		t.Fatalf("Find(missing) err = %v, want ErrTensorNotFound", err)
	}

	data, err := ti.TensorData(f, 0)
	if err != nil {
		t.Fatalf("TensorData: %v", err)
	}
	if len(data) != 64 || data[10] != 10 {
		t.Fatalf("unexpected tensor data: len=%d", len(data))
	}
}

func TestOpenRejectsTruncatedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "short.qcf")
	if err := os.WriteFile(path, []byte("short"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	if _, err := Open(path); err != ErrCorruptFile {
		t.Fatalf("Open err = %v, want ErrCorruptFile", err)
	}
}

func TestOpenRejectsBadMagic(t *testing.T) {
	path := filepath.Join(t.TempDir(), "badmagic.qcf")
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	w, err := NewWriter(f)
	if err != nil {
		t.Fatalf("NewWriter: %v", err)
	}
	if err := w.WriteSection(SectionHyperparams, HyperparamsVersion, []byte("x")); err != nil {
		t.Fatalf("WriteSection: %v", err)
	}
	if err := w.Finalise(); err != nil {
		t.Fatalf("Finalise: %v", err)
	}
	f.Close()

	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	raw[0] = 'X'
	if err := os.WriteFile(path, raw, 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	if _, err := Open(path); err != ErrInvalidMagic {
		t.Fatalf("Open err = %v, want ErrInvalidMagic", err)
	}
}

func TestWriterRejectsDuplicateSectionType(t *testing.T) {
	path := filepath.Join(t.TempDir(), "dup.qcf")
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	defer f.Close()
	w, err := NewWriter(f)
	if err != nil {
		t.Fatalf("NewWriter: %v", err)
	}
	if err := w.WriteSection(SectionHyperparams, HyperparamsVersion, []byte("a")); err != nil {
		t.Fatalf("first WriteSection: %v", err)
	}
	if err := w.WriteSection(SectionHyperparams, HyperparamsVersion, []byte("b")); err == nil {
		t.Fatal("expected duplicate section error")
	}
}
