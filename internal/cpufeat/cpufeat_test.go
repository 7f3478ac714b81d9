package cpufeat

import "testing"

func TestDetectIsMonotonic(t *testing.T) {
	f := Detect()
	if f.Tier > AMXBF16 {
		t.Fatalf("unexpected tier value %v", f.Tier)
	}
	if !f.AtLeast(NoSIMD) {
		t.Fatalf("every tier must be at least NoSIMD")
	}
	if f.AtLeast(f.Tier + 1) {
		t.Fatalf("AtLeast must be false for a tier above the detected one")
	}
}

func TestTierString(t *testing.T) {
	cases := map[Tier]string{
		NoSIMD:     "nosimd",
		AVX2:       "avx2",
		AVX512F:    "avx512f",
		AVX512VNNI: "avx512vnni",
		AMXInt8:    "amx-int8",
		AMXBF16:    "amx-bf16",
	}
	for tier, want := range cases {
		if got := tier.String(); got != want {
			t.Errorf("Tier(%d).String() = %q, want %q", tier, got, want)
		}
	}
}

func TestFeatureFlagsImplyTier(t *testing.T) {
	f := Detect()
	if f.HasAMXBF16 && f.Tier != AMXBF16 {
		t.Errorf("HasAMXBF16 set but tier is %v", f.Tier)
	}
	if f.HasVNNI && f.Tier < AVX512VNNI {
		t.Errorf("HasVNNI set but tier %v is below AVX512VNNI", f.Tier)
	}
}
