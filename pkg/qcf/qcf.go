// Package qcf implements the Quantized Container File format: a single
// binary, memory-mappable container holding a model's hyperparameters,
// tokenizer vocabulary, and tensor directory/data, with every weight
// tensor tagged by one of the dtypes in internal/tensor and
// internal/quant. The format describes structure and data only; it
// implies no runtime behavior.
package qcf

import "encoding/binary"

const (
	// MagicQCF is the file magic for all QCF containers, "QCF\0".
	MagicQCF = "QCF\x00"

	// CurrentMajor changes only on a breaking format change.
	CurrentMajor uint16 = 1
	// CurrentMinor may add new optional sections or fields.
	CurrentMinor uint16 = 0

	// FlagTensorDataAligned64 is required for files carrying Int4/Int8/
	// FP8/FP4/NF4 tensors: it guarantees the tensor-data section is
	// 64-byte aligned so SIMD kernels can load directly from the map.
	FlagTensorDataAligned64 uint64 = 1 << 0

	qcfAlign = 8
)

// SectionType identifies one of the container's top-level sections.
type SectionType uint32

const (
	SectionHyperparams SectionType = 0x0001
	SectionTokenizer   SectionType = 0x0002
	SectionTensorIndex SectionType = 0x0003
	SectionTensorData  SectionType = 0x0004
)

// Header is the fixed 40-byte record at the start of every QCF file.
type Header struct {
	Magic            [4]byte
	Major            uint16
	Minor            uint16
	HeaderSize       uint32
	SectionCount     uint32
	SectionDirOffset uint64
	FileSize         uint64
	Flags            uint64
}

const headerSize = 40

// Valid reports whether h carries the QCF magic and a plausible header
// size; it does not check version compatibility (see Compatible) or file
// bounds (done during Open, once the full section directory is known).
func (h *Header) Valid() bool {
	if string(h.Magic[:]) != MagicQCF {
		return false
	}
	if h.HeaderSize < headerSize {
		return false
	}
	return h.SectionCount > 0
}

// Compatible reports whether a reader built against CurrentMajor can
// parse h's container.
func (h *Header) Compatible() bool {
	return h.Major == CurrentMajor
}

// Section is the fixed 24-byte on-disk record for one section's type,
// version, and byte range within the file.
type Section struct {
	Type    uint32
	Version uint32
	Offset  uint64
	Size    uint64
}

const sectionSize = 24

// End returns the section's exclusive end offset.
func (s *Section) End() uint64 {
	return s.Offset + s.Size
}

func encodeHeader(dst []byte, h Header) bool {
	if len(dst) < headerSize {
		return false
	}
	copy(dst[0:4], h.Magic[:])
	binary.LittleEndian.PutUint16(dst[4:6], h.Major)
	binary.LittleEndian.PutUint16(dst[6:8], h.Minor)
	binary.LittleEndian.PutUint32(dst[8:12], h.HeaderSize)
	binary.LittleEndian.PutUint32(dst[12:16], h.SectionCount)
	binary.LittleEndian.PutUint64(dst[16:24], h.SectionDirOffset)
	binary.LittleEndian.PutUint64(dst[24:32], h.FileSize)
	binary.LittleEndian.PutUint64(dst[32:40], h.Flags)
	return true
}

func decodeHeader(src []byte) (Header, bool) {
	var h Header
	if len(src) < headerSize {
		return h, false
	}
	copy(h.Magic[:], src[0:4])
	h.Major = binary.LittleEndian.Uint16(src[4:6])
	h.Minor = binary.LittleEndian.Uint16(src[6:8])
	h.HeaderSize = binary.LittleEndian.Uint32(src[8:12])
	h.SectionCount = binary.LittleEndian.Uint32(src[12:16])
	h.SectionDirOffset = binary.LittleEndian.Uint64(src[16:24])
	h.FileSize = binary.LittleEndian.Uint64(src[24:32])
	h.Flags = binary.LittleEndian.Uint64(src[32:40])
	return h, true
}

func encodeSection(dst []byte, s Section) bool {
	if len(dst) < sectionSize {
		return false
	}
	binary.LittleEndian.PutUint32(dst[0:4], s.Type)
	binary.LittleEndian.PutUint32(dst[4:8], s.Version)
	binary.LittleEndian.PutUint64(dst[8:16], s.Offset)
	binary.LittleEndian.PutUint64(dst[16:24], s.Size)
	return true
}

func decodeSection(src []byte) (Section, bool) {
	var s Section
	if len(src) < sectionSize {
		return s, false
	}
	s.Type = binary.LittleEndian.Uint32(src[0:4])
	s.Version = binary.LittleEndian.Uint32(src[4:8])
	s.Offset = binary.LittleEndian.Uint64(src[8:16])
	s.Size = binary.LittleEndian.Uint64(src[16:24])
	return s, true
}

func rangesOverlap(a0, a1, b0, b1 uint64) bool {
	return a0 < b1 && b0 < a1
}
