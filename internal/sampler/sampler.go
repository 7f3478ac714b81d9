// Package sampler implements the decode controller's token sampling
// contract: temperature, top-k, top-p, min-p, and repeat-penalty filters
// composed into a single draw from a seeded PRNG, with a zero-temperature
// fast path that always returns the argmax.
package sampler

import (
	"container/heap"
	"math"
	"math/rand"
)

// Config holds the runtime sampling parameters recognized by the engine.
type Config struct {
	Seed          int64
	Temperature   float32
	TopK          int
	TopP          float32
	MinP          float32
	RepeatPenalty float32
	RepeatLastN   int
}

// Sampler draws token ids from a logits vector according to Config. It is
// stateful only to reuse scratch buffers across calls; it is not safe for
// concurrent use by multiple goroutines.
type Sampler struct {
	rng    *rand.Rand
	cfg    Config
	greedy bool

	topIdx  []int
	topVal  []float32
	prob    []float64
	heapBuf topKHeap

	seenMark  []uint32
	seenEpoch uint32
	seenList  []int
}

// New returns a Sampler configured per cfg. Temperature <= 0 selects the
// greedy (argmax) fast path; zero or out-of-range values fall back to
// TopK 40, TopP 1 (no nucleus cut), RepeatPenalty 1 and RepeatLastN 64.
func New(cfg Config) *Sampler {
	greedy := cfg.Temperature <= 0
	if cfg.Temperature <= 0 {
		cfg.Temperature = 1
	}
	if cfg.TopK <= 0 {
		cfg.TopK = 40
	}
	if cfg.TopP <= 0 || cfg.TopP > 1 {
		cfg.TopP = 1
	}
	if cfg.RepeatPenalty <= 0 {
		cfg.RepeatPenalty = 1.0
	}
	if cfg.RepeatLastN <= 0 {
		cfg.RepeatLastN = 64
	}
	return &Sampler{
		rng:    rand.New(rand.NewSource(cfg.Seed)),
		cfg:    cfg,
		greedy: greedy,
	}
}

// Sample draws one token id from logits, mutating logits in place to
// apply the repeat penalty. recent is the window of already-produced
// token ids the repeat penalty considers; excludePenalty lists ids that
// must never be penalized (e.g. control tokens).
//
// Steps: apply repeat penalty to tokens seen in the last RepeatLastN
// entries of recent; if greedy (or TopK==1, TopP>=1, Temperature==1),
// return argmax; otherwise scale by inverse temperature, shortlist the
// top-k, softmax the shortlist, optionally narrow by min-p and top-p, and
// draw from the resulting distribution with the seeded PRNG.
func (s *Sampler) Sample(logits []float32, recent []int, excludePenalty []int) int {
	if s.cfg.RepeatPenalty > 1.0 && len(recent) > 0 {
		s.applyRepeatPenalty(logits, recent, excludePenalty)
	}

	if s.greedy || (s.cfg.TopK == 1 && s.cfg.TopP >= 1 && s.cfg.Temperature == 1) {
		return argmax(logits)
	}

	invTemp := float32(1.0) / s.cfg.Temperature
	k := s.cfg.TopK
	if k > len(logits) {
		k = len(logits)
	}

	topIdx, topVal := s.topK(logits, k, invTemp)
	if len(topVal) == 0 {
		return 0
	}

	maxv := topVal[0]
	for _, v := range topVal[1:] {
		if v > maxv {
			maxv = v
		}
	}

	if cap(s.prob) < len(topVal) {
		s.prob = make([]float64, len(topVal))
	}
	prob := s.prob[:len(topVal)]
	var sum float64
	for i, v := range topVal {
		e := math.Exp(float64(v - maxv))
		prob[i] = e
		sum += e
	}
	if sum == 0 {
		return topIdx[0]
	}
	invSum := 1.0 / sum
	for i := range prob {
		prob[i] *= invSum
	}

	if s.cfg.MinP > 0 {
		prob, topIdx = applyMinP(prob, topIdx, s.cfg.MinP)
	}

	cut := len(prob)
	if s.cfg.TopP < 1 {
		var c float64
		for i := range prob {
			c += prob[i]
			if float32(c) >= s.cfg.TopP {
				cut = i + 1
				break
			}
		}
	}

	var mass float64
	for i := 0; i < cut; i++ {
		mass += prob[i]
	}
	r := s.rng.Float64() * mass
	var c float64
	for i := 0; i < cut; i++ {
		c += prob[i]
		if r <= c {
			return topIdx[i]
		}
	}
	return topIdx[cut-1]
}

func (s *Sampler) applyRepeatPenalty(logits []float32, recent, excludePenalty []int) {
	start := len(recent) - s.cfg.RepeatLastN
	if start < 0 {
		start = 0
	}
	window := recent[start:]

	if len(s.seenMark) < len(logits) {
		s.seenMark = make([]uint32, len(logits))
	}
	s.seenEpoch++
	if s.seenEpoch == 0 {
		for i := range s.seenMark {
			s.seenMark[i] = 0
		}
		s.seenEpoch = 1
	}
	s.seenList = s.seenList[:0]

	for _, id := range window {
		if id >= 0 && id < len(logits) && s.seenMark[id] != s.seenEpoch {
			s.seenMark[id] = s.seenEpoch
			s.seenList = append(s.seenList, id)
		}
	}
	for _, id := range excludePenalty {
		if id >= 0 && id < len(logits) {
			s.seenMark[id] = 0
		}
	}
	for _, id := range s.seenList {
		if id < 0 || id >= len(logits) || s.seenMark[id] != s.seenEpoch {
			continue
		}
		if logits[id] > 0 {
			logits[id] /= s.cfg.RepeatPenalty
		} else {
			logits[id] *= s.cfg.RepeatPenalty
		}
	}
}

// applyMinP drops every shortlisted candidate whose probability falls
// below minP * (the shortlist's highest probability), re-normalizing
// what remains.
func applyMinP(prob []float64, topIdx []int, minP float32) ([]float64, []int) {
	threshold := prob[0] * float64(minP)
	newLen := 0
	var newSum float64
	for i := range prob {
		if prob[i] >= threshold {
			prob[newLen] = prob[i]
			topIdx[newLen] = topIdx[i]
			newSum += prob[i]
			newLen++
		}
	}
	if newLen == len(prob) {
		return prob, topIdx
	}
	prob = prob[:newLen]
	topIdx = topIdx[:newLen]
	if newSum > 0 {
		scale := 1.0 / newSum
		for i := range prob {
			prob[i] *= scale
		}
	}
	return prob, topIdx
}

func argmax(x []float32) int {
	if len(x) == 0 {
		panic("sampler: argmax of empty logits")
	}
	bestI, bestV := 0, x[0]
	for i := 1; i < len(x); i++ {
		if x[i] > bestV {
			bestV = x[i]
			bestI = i
		}
	}
	return bestI
}

// scoredTok pairs a vocabulary index with its temperature-scaled logit.
type scoredTok struct {
	idx int
	val float32
}

// topKHeap is a bounded min-heap over scoredTok.val: the lowest-valued
// shortlisted candidate sits at the root, so once the heap holds k entries
// a new candidate can be accepted or rejected with a single comparison
// against the root instead of a linear rescan of the shortlist.
type topKHeap []scoredTok

func (h topKHeap) Len() int           { return len(h) }
func (h topKHeap) Less(i, j int) bool { return h[i].val < h[j].val }
func (h topKHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *topKHeap) Push(x any)        { *h = append(*h, x.(scoredTok)) }
func (h *topKHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

// topK returns the indices and temperature-scaled values of the k largest
// logits, ordered largest to smallest. It fills a size-k min-heap from the
// first k logits, heapifies once, then streams the rest past the root,
// replacing it whenever a larger value shows up — O(V log K) rather than
// rescanning an ordered shortlist per candidate.
func (s *Sampler) topK(logits []float32, k int, invTemp float32) ([]int, []float32) {
	if k <= 0 {
		return nil, nil
	}
	if cap(s.heapBuf) < k {
		s.heapBuf = make(topKHeap, 0, k)
	}
	h := s.heapBuf[:0]

	n := len(logits)
	i := 0
	for ; i < n && len(h) < k; i++ {
		h = append(h, scoredTok{i, logits[i] * invTemp})
	}
	if len(h) == k {
		heap.Init(&h)
	}
	for ; i < n; i++ {
		v := logits[i] * invTemp
		if v > h[0].val {
			h[0] = scoredTok{i, v}
			heap.Fix(&h, 0)
		}
	}
	s.heapBuf = h

	m := len(h)
	if m == 0 {
		return []int{0}, []float32{0}
	}
	if cap(s.topIdx) < m {
		s.topIdx = make([]int, m)
		s.topVal = make([]float32, m)
	}
	topIdx := s.topIdx[:m]
	topVal := s.topVal[:m]
	for j := m - 1; j >= 0; j-- {
		item := heap.Pop(&h).(scoredTok)
		topIdx[j] = item.idx
		topVal[j] = item.val
	}
	s.heapBuf = h[:0]
	return topIdx, topVal
}
