package runconfig

import (
	"testing"

	"github.com/kessler-dev/tinyinfer/internal/apperr"
)

func i64(v int64) *int64     { return &v }
func f64(v float64) *float64 { return &v }

func TestMergeOverridesOnlyPresentFields(t *testing.T) {
	base := Defaults()
	f := File{TopK: i64(7), Temperature: f64(1.5)}
	got := Merge(base, f)

	if got.TopK != 7 {
		t.Fatalf("TopK = %d, want 7", got.TopK)
	}
	if got.Temperature != 1.5 {
		t.Fatalf("Temperature = %v, want 1.5", got.Temperature)
	}
	if got.CtxSize != base.CtxSize {
		t.Fatalf("CtxSize = %d, want unchanged default %d", got.CtxSize, base.CtxSize)
	}
}

func TestMergeLayeringFileThenFlags(t *testing.T) {
	fromFile := File{TopK: i64(10)}
	fromFlags := File{TopK: i64(3)}

	p := Merge(Defaults(), fromFile)
	p = Merge(p, fromFlags)
	if p.TopK != 3 {
		t.Fatalf("TopK = %d, want flags to win with 3", p.TopK)
	}
}

func TestValidateAcceptsDefaults(t *testing.T) {
	if err := Validate(Defaults()); err != nil {
		t.Fatalf("Validate(Defaults()) = %v, want nil", err)
	}
}

func TestValidateRejectsZeroCtxSize(t *testing.T) {
	p := Defaults()
	p.CtxSize = 0
	err := Validate(p)
	if !apperr.Is(err, apperr.KindInvalidConfiguration) {
		t.Fatalf("Validate() = %v, want KindInvalidConfiguration", err)
	}
}

func TestValidateRejectsOutOfRangeTopP(t *testing.T) {
	p := Defaults()
	p.TopP = 1.5
	if err := Validate(p); !apperr.Is(err, apperr.KindInvalidConfiguration) {
		t.Fatalf("Validate() = %v, want KindInvalidConfiguration", err)
	}
}

func TestValidateRejectsUnknownMemoryType(t *testing.T) {
	p := Defaults()
	p.MemoryType = "bogus"
	if err := Validate(p); !apperr.Is(err, apperr.KindInvalidConfiguration) {
		t.Fatalf("Validate() = %v, want KindInvalidConfiguration", err)
	}
}

func TestValidateAcceptsNPredictZeroAndUnlimited(t *testing.T) {
	p := Defaults()
	p.NPredict = 0
	if err := Validate(p); err != nil {
		t.Fatalf("NPredict=0 should be valid: %v", err)
	}
	p.NPredict = -1
	if err := Validate(p); err != nil {
		t.Fatalf("NPredict=-1 should be valid: %v", err)
	}
	p.NPredict = -2
	if err := Validate(p); err == nil {
		t.Fatal("NPredict=-2 should be invalid")
	}
}
