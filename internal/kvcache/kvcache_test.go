package kvcache

import (
	"errors"
	"math"
	"testing"

	"github.com/kessler-dev/tinyinfer/internal/apperr"
)

func vec(n int, seed float32) []float32 {
	v := make([]float32, n)
	for i := range v {
		v[i] = seed + float32(i)
	}
	return v
}

func TestAppendRejectsOverflowWithoutRing(t *testing.T) {
	l := NewLayer(4, 1, 2, false)
	for i := 0; i < 4; i++ {
		if _, err := l.Append(vec(2, float32(i)), vec(2, float32(i)), i); err != nil {
			t.Fatalf("unexpected error on append %d: %v", i, err)
		}
	}
	_, err := l.Append(vec(2, 9), vec(2, 9), 4)
	if !errors.Is(err, apperr.ErrInvalidConfiguration) {
		t.Fatalf("expected InvalidConfiguration on ctx overflow, got %v", err)
	}
}

func TestRingModeKeepsExactlyCtxSizeLiveSlots(t *testing.T) {
	ctxSize := 4
	l := NewLayer(ctxSize, 1, 2, true)
	n := 10
	for i := 0; i < n; i++ {
		if _, err := l.Append(vec(2, float32(i)), vec(2, float32(i)), i); err != nil {
			t.Fatalf("append %d: %v", i, err)
		}
	}
	if l.Filled() != ctxSize {
		t.Fatalf("Filled() = %d, want %d", l.Filled(), ctxSize)
	}
	ins := l.GatherAttentionInputs(n - 1)
	if len(ins.Positions) != ctxSize {
		t.Fatalf("live slot count = %d, want %d", len(ins.Positions), ctxSize)
	}
	for i := 1; i < len(ins.Positions); i++ {
		if ins.Positions[i] <= ins.Positions[i-1] {
			t.Fatalf("positions not monotonic: %v", ins.Positions)
		}
	}
	wantOldest := n - ctxSize
	if ins.Positions[0] != wantOldest {
		t.Fatalf("oldest live position = %d, want %d", ins.Positions[0], wantOldest)
	}
}

func TestGatherAttentionInputsMasksFuturePositions(t *testing.T) {
	l := NewLayer(8, 1, 2, false)
	for i := 0; i < 5; i++ {
		l.Append(vec(2, float32(i)), vec(2, float32(i)), i)
	}
	ins := l.GatherAttentionInputs(2)
	for _, p := range ins.Positions {
		if p > 2 {
			t.Fatalf("GatherAttentionInputs leaked position %d beyond maxPosition 2", p)
		}
	}
}

func TestShiftRopeKIdempotence(t *testing.T) {
	headDim := 4
	l := NewLayer(4, 1, headDim, true)
	invFreq := []float64{1.0, 0.5}
	orig := vec(headDim, 1)
	l.Append(append([]float32{}, orig...), vec(headDim, 0), 0)

	before := append([]float32{}, l.KeyAt(0)...)
	l.ShiftRopeK(3, invFreq)
	l.ShiftRopeK(-3, invFreq)
	after := l.KeyAt(0)

	for i := range before {
		if math.Abs(float64(before[i]-after[i])) > 1e-4 {
			t.Fatalf("element %d: shift then inverse-shift changed key from %v to %v", i, before[i], after[i])
		}
	}
}
