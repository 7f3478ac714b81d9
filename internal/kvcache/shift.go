package kvcache

import "github.com/kessler-dev/tinyinfer/internal/kernel"

// ShiftRopeK rotates the RoPE phase of every live key vector in the
// layer by delta positions, used only in ring mode immediately after a
// wraparound eviction: the surviving keys were encoded relative to their
// old base position, so re-anchoring by delta keeps attention geometry
// consistent without recomputing keys from the original activations.
// Rotation angles are additive, so applying delta then -delta returns
// every key to a state attention-equivalent to the original (the
// idempotence property TestShiftRopeKIdempotence checks).
func (l *Layer) ShiftRopeK(delta int, invFreq []float64) {
	for slot, pos := range l.slots {
		if pos < 0 {
			continue
		}
		for h := 0; h < l.nKVHeads; h++ {
			stride := l.nKVHeads * l.headDim
			start := slot*stride + h*l.headDim
			head := l.keys[start : start+l.headDim]
			kernel.RotatePhase(head, l.headDim, delta, invFreq)
		}
	}
	l.rotations += int64(delta)
}
