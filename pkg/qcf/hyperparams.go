package qcf

import (
	"encoding/binary"
	"math"
)

// HyperparamsVersion is the section-format version written by this
// package. A reader rejects a hyperparameters section whose recorded
// version it does not recognize.
const HyperparamsVersion = 1

// NormType mirrors internal/graph.NormType without importing it, so this
// leaf package has no dependency on the graph/tensor stack.
type NormType uint8

const (
	NormRMS NormType = iota
	NormLayer
)

// FFNStyle mirrors internal/graph.FFNStyle.
type FFNStyle uint8

const (
	FFNPlain FFNStyle = iota
	FFNGated
)

// Hyperparams is the fixed-size record stored in SectionHyperparams: the
// architecture knobs needed to reconstruct a graph.ArchSpec and allocate
// the KV cache, independent of how any individual tensor is quantized.
type Hyperparams struct {
	NVocab    uint32
	NEmbd     uint32
	NHead     uint32
	NKVHead   uint32
	HeadDim   uint32
	NFF       uint32
	NLayer    uint32
	ArchTag   uint32
	CtxSizeMax uint32
	NormType  NormType
	FFNStyle  FFNStyle
	RopeTheta float64
}

const hyperparamsSize = 4*9 + 1 + 1 + 2 /* pad */ + 8

// EncodeHyperparams serializes h into the fixed-size on-disk layout.
func EncodeHyperparams(h Hyperparams) []byte {
	buf := make([]byte, hyperparamsSize)
	binary.LittleEndian.PutUint32(buf[0:4], h.NVocab)
	binary.LittleEndian.PutUint32(buf[4:8], h.NEmbd)
	binary.LittleEndian.PutUint32(buf[8:12], h.NHead)
	binary.LittleEndian.PutUint32(buf[12:16], h.NKVHead)
	binary.LittleEndian.PutUint32(buf[16:20], h.HeadDim)
	binary.LittleEndian.PutUint32(buf[20:24], h.NFF)
	binary.LittleEndian.PutUint32(buf[24:28], h.NLayer)
	binary.LittleEndian.PutUint32(buf[28:32], h.ArchTag)
	binary.LittleEndian.PutUint32(buf[32:36], h.CtxSizeMax)
	buf[36] = byte(h.NormType)
	buf[37] = byte(h.FFNStyle)
	// bytes 38-39 reserved/padding
	binary.LittleEndian.PutUint64(buf[40:48], math.Float64bits(h.RopeTheta))
	return buf
}

// DecodeHyperparams parses a SectionHyperparams payload.
func DecodeHyperparams(data []byte) (Hyperparams, bool) {
	var h Hyperparams
	if len(data) < hyperparamsSize {
		return h, false
	}
	h.NVocab = binary.LittleEndian.Uint32(data[0:4])
	h.NEmbd = binary.LittleEndian.Uint32(data[4:8])
	h.NHead = binary.LittleEndian.Uint32(data[8:12])
	h.NKVHead = binary.LittleEndian.Uint32(data[12:16])
	h.HeadDim = binary.LittleEndian.Uint32(data[16:20])
	h.NFF = binary.LittleEndian.Uint32(data[20:24])
	h.NLayer = binary.LittleEndian.Uint32(data[24:28])
	h.ArchTag = binary.LittleEndian.Uint32(data[28:32])
	h.CtxSizeMax = binary.LittleEndian.Uint32(data[32:36])
	h.NormType = NormType(data[36])
	h.FFNStyle = FFNStyle(data[37])
	h.RopeTheta = math.Float64frombits(binary.LittleEndian.Uint64(data[40:48]))
	return h, true
}
