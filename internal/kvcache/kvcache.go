// Package kvcache implements the per-layer, per-head key/value store the
// decode controller appends to on every step and the attention op reads
// from. It supports two modes: a flat cache that simply fills ctx_size
// slots once, and a ring-addressable cache that evicts the oldest
// position on overflow. Eviction does not rotate the surviving keys;
// ShiftRopeK re-anchors their RoPE phase when a caller invokes it.
package kvcache

import "github.com/kessler-dev/tinyinfer/internal/apperr"

// Layer holds one decoder layer's key/value ring and position map.
type Layer struct {
	ctxSize   int
	nKVHeads  int
	headDim   int
	keys      []float32 // [ctxSize, nKVHeads, headDim]
	values    []float32
	slots     []int32 // physical slot -> logical position, -1 = empty
	head      int     // next physical write slot
	filled    int     // number of live slots, caps at ctxSize
	ring      bool
	rotations int64 // cumulative shift_rope_k delta, for idempotence checks
}

// NewLayer allocates one decoder layer's KV cache. ring selects eviction
// behavior: false means Append returns InvalidConfiguration once ctxSize
// positions are in use (the spec's "ctx exceeded" failure mode); true
// enables wraparound eviction.
func NewLayer(ctxSize, nKVHeads, headDim int, ring bool) *Layer {
	if ctxSize <= 0 || nKVHeads <= 0 || headDim <= 0 {
		panic("kvcache: NewLayer requires positive dimensions")
	}
	slots := make([]int32, ctxSize)
	for i := range slots {
		slots[i] = -1
	}
	return &Layer{
		ctxSize:  ctxSize,
		nKVHeads: nKVHeads,
		headDim:  headDim,
		keys:     make([]float32, ctxSize*nKVHeads*headDim),
		values:   make([]float32, ctxSize*nKVHeads*headDim),
		slots:    slots,
		ring:     ring,
	}
}

// Append writes (k,v) — each of length nKVHeads*headDim — into the next
// physical slot, records its logical position, and advances head modulo
// ctxSize. Returns the physical slot written, or an InvalidConfiguration
// error if the cache is full and ring mode is disabled.
func (l *Layer) Append(k, v []float32, position int) (int, error) {
	stride := l.nKVHeads * l.headDim
	if len(k) != stride || len(v) != stride {
		return 0, apperr.New(apperr.KindInternal, "kvcache.Append", nil)
	}
	if !l.ring && l.filled >= l.ctxSize {
		return 0, apperr.New(apperr.KindInvalidConfiguration, "kvcache.Append",
			errCtxExceeded)
	}
	slot := l.head
	copy(l.keys[slot*stride:(slot+1)*stride], k)
	copy(l.values[slot*stride:(slot+1)*stride], v)
	l.slots[slot] = int32(position)
	l.head = (l.head + 1) % l.ctxSize
	if l.filled < l.ctxSize {
		l.filled++
	}
	return slot, nil
}

var errCtxExceeded = apperr.ErrInvalidConfiguration

// Live reports whether physical slot s currently holds a referenced
// position.
func (l *Layer) Live(slot int) bool {
	return l.slots[slot] >= 0
}

// PositionAt returns the logical position stored at physical slot s, or
// -1 if the slot is empty.
func (l *Layer) PositionAt(slot int) int {
	return int(l.slots[slot])
}

// KeyAt returns a view of the key vector stored at physical slot s.
func (l *Layer) KeyAt(slot int) []float32 {
	stride := l.nKVHeads * l.headDim
	return l.keys[slot*stride : (slot+1)*stride]
}

// ValueAt returns a view of the value vector stored at physical slot s.
func (l *Layer) ValueAt(slot int) []float32 {
	stride := l.nKVHeads * l.headDim
	return l.values[slot*stride : (slot+1)*stride]
}

// Filled reports how many physical slots are currently live.
func (l *Layer) Filled() int {
	return l.filled
}

// Head returns the next physical write slot.
func (l *Layer) Head() int {
	return l.head
}

// CtxSize returns the cache's fixed slot count.
func (l *Layer) CtxSize() int {
	return l.ctxSize
}

// AttentionInputs is the view GatherAttentionInputs hands to the
// attention op: keys and values are per-slot vectors of length
// nKVHeads*headDim, positions is the matching logical position for each.
type AttentionInputs struct {
	Keys      [][]float32
	Values    [][]float32
	Positions []int
}

// GatherAttentionInputs returns views over every currently-live slot,
// ordered from oldest to newest logical position, masking out any slot
// beyond maxPosition (used so attention over a query at position P never
// attends to a position > P even if a later token already overwrote a
// stale ring slot it shouldn't see yet).
func (l *Layer) GatherAttentionInputs(maxPosition int) AttentionInputs {
	type slotPos struct {
		slot int
		pos  int32
	}
	live := make([]slotPos, 0, l.filled)
	for s, p := range l.slots {
		if p >= 0 && int(p) <= maxPosition {
			live = append(live, slotPos{s, p})
		}
	}
	// insertion sort by position; ctxSize is small enough this never
	// dominates a layer-pass.
	for i := 1; i < len(live); i++ {
		j := i
		for j > 0 && live[j-1].pos > live[j].pos {
			live[j-1], live[j] = live[j], live[j-1]
			j--
		}
	}
	out := AttentionInputs{
		Keys:      make([][]float32, len(live)),
		Values:    make([][]float32, len(live)),
		Positions: make([]int, len(live)),
	}
	for i, sp := range live {
		out.Keys[i] = l.KeyAt(sp.slot)
		out.Values[i] = l.ValueAt(sp.slot)
		out.Positions[i] = int(sp.pos)
	}
	return out
}
