package qcf

import (
	"bytes"
	"encoding/binary"
	"errors"
	"sort"
	"unsafe"
)

// TensorIndexVersion is the section-format version written by this
// package.
const TensorIndexVersion = 1

// TensorIndexFlagSortedByName marks that entries are sorted by name,
// letting Find use a binary search instead of a linear scan.
const TensorIndexFlagSortedByName uint32 = 1 << 0

// TensorDType tags a tensor's on-disk encoding. Values below
// dtypeQuantBase are dense; values at or above it mirror
// internal/quant.Format (offset by dtypeQuantBase) so a reader can
// recover both internal/tensor.DType and internal/quant.Format from the
// same byte without this package importing either.
type TensorDType uint8

const (
	DTypeF32 TensorDType = iota
	DTypeBF16
	DTypeF16
)

const dtypeQuantBase TensorDType = 16

const (
	DTypeInt4Sym TensorDType = dtypeQuantBase + iota
	DTypeInt4Asym
	DTypeInt8Sym
	DTypeInt8Asym
	DTypeFP8E4M3
	DTypeFP8E5M2
	DTypeFP4E2M1
	DTypeNF4
)

// IsQuantized reports whether d carries block scale/zero-point metadata
// rather than a dense float buffer.
func (d TensorDType) IsQuantized() bool { return d >= dtypeQuantBase }

// tensorIndexHeaderSize is the fixed header at the start of the
// SectionTensorIndex payload, preceding the entries/dims/strings tables.
const tensorIndexHeaderSize = 48

type tensorIndexHeader struct {
	Version     uint32
	Flags       uint32
	TensorCount uint32
	DimsCount   uint32
	EntriesOff  uint64
	DimsOff     uint64
	StringsOff  uint64
	StringsSize uint64
}

func encodeTensorIndexHeader(dst []byte, h tensorIndexHeader) {
	binary.LittleEndian.PutUint32(dst[0:4], h.Version)
	binary.LittleEndian.PutUint32(dst[4:8], h.Flags)
	binary.LittleEndian.PutUint32(dst[8:12], h.TensorCount)
	binary.LittleEndian.PutUint32(dst[12:16], h.DimsCount)
	binary.LittleEndian.PutUint64(dst[16:24], h.EntriesOff)
	binary.LittleEndian.PutUint64(dst[24:32], h.DimsOff)
	binary.LittleEndian.PutUint64(dst[32:40], h.StringsOff)
	binary.LittleEndian.PutUint64(dst[40:48], h.StringsSize)
}

func decodeTensorIndexHeader(src []byte) tensorIndexHeader {
	var h tensorIndexHeader
	h.Version = binary.LittleEndian.Uint32(src[0:4])
	h.Flags = binary.LittleEndian.Uint32(src[4:8])
	h.TensorCount = binary.LittleEndian.Uint32(src[8:12])
	h.DimsCount = binary.LittleEndian.Uint32(src[12:16])
	h.EntriesOff = binary.LittleEndian.Uint64(src[16:24])
	h.DimsOff = binary.LittleEndian.Uint64(src[24:32])
	h.StringsOff = binary.LittleEndian.Uint64(src[32:40])
	h.StringsSize = binary.LittleEndian.Uint64(src[40:48])
	return h
}

// tensorIndexEntrySize is the fixed per-tensor record size. Quantized
// tensors carry their scale/zero-point tables as separate byte ranges
// inside the tensor-data section; BlockK and PackRow describe how to
// interpret DataOff/DataSize against those ranges.
const tensorIndexEntrySize = 72

type tensorIndexEntry struct {
	NameOff      uint32
	NameLen      uint32
	DType        uint8
	Rank         uint8
	_pad         uint16
	DimOff       uint32
	BlockK       uint32
	PackRow      uint32
	DataOff      uint64
	DataSize     uint64
	ScaleOff     uint64
	ScaleSize    uint64
	ZeroPointOff uint64
	ZeroPointSize uint64
}

func encodeTensorIndexEntry(dst []byte, e tensorIndexEntry) {
	binary.LittleEndian.PutUint32(dst[0:4], e.NameOff)
	binary.LittleEndian.PutUint32(dst[4:8], e.NameLen)
	dst[8] = e.DType
	dst[9] = e.Rank
	binary.LittleEndian.PutUint32(dst[12:16], e.DimOff)
	binary.LittleEndian.PutUint32(dst[16:20], e.BlockK)
	binary.LittleEndian.PutUint32(dst[20:24], e.PackRow)
	binary.LittleEndian.PutUint64(dst[24:32], e.DataOff)
	binary.LittleEndian.PutUint64(dst[32:40], e.DataSize)
	binary.LittleEndian.PutUint64(dst[40:48], e.ScaleOff)
	binary.LittleEndian.PutUint64(dst[48:56], e.ScaleSize)
	binary.LittleEndian.PutUint64(dst[56:64], e.ZeroPointOff)
	binary.LittleEndian.PutUint64(dst[64:72], e.ZeroPointSize)
}

func decodeTensorIndexEntry(src []byte) tensorIndexEntry {
	var e tensorIndexEntry
	e.NameOff = binary.LittleEndian.Uint32(src[0:4])
	e.NameLen = binary.LittleEndian.Uint32(src[4:8])
	e.DType = src[8]
	e.Rank = src[9]
	e.DimOff = binary.LittleEndian.Uint32(src[12:16])
	e.BlockK = binary.LittleEndian.Uint32(src[16:20])
	e.PackRow = binary.LittleEndian.Uint32(src[20:24])
	e.DataOff = binary.LittleEndian.Uint64(src[24:32])
	e.DataSize = binary.LittleEndian.Uint64(src[32:40])
	e.ScaleOff = binary.LittleEndian.Uint64(src[40:48])
	e.ScaleSize = binary.LittleEndian.Uint64(src[48:56])
	e.ZeroPointOff = binary.LittleEndian.Uint64(src[56:64])
	e.ZeroPointSize = binary.LittleEndian.Uint64(src[64:72])
	return e
}

// TensorIndexRecord is the writer-facing description of one tensor, used
// to build a SectionTensorIndex payload.
type TensorIndexRecord struct {
	Name  string
	DType TensorDType
	Shape []uint32

	DataOff  uint64
	DataSize uint64

	// BlockK and PackRow are meaningful only when DType.IsQuantized():
	// BlockK is the quantization block width in elements and PackRow the
	// number of consecutive K-blocks that share one scale slot, matching
	// internal/quant.BlockLayout. A writer that gives every block its own
	// scale sets PackRow to 1.
	BlockK  uint32
	PackRow uint32

	ScaleOff, ScaleSize           uint64
	ZeroPointOff, ZeroPointSize   uint64
}

var (
	ErrTensorIndexCorrupt = errors.New("qcf: corrupt tensor index")
	ErrTensorNotFound     = errors.New("qcf: tensor not found")
)

// EncodeTensorIndexSection builds a SectionTensorIndex payload from
// records, sorted by name so readers can binary-search.
func EncodeTensorIndexSection(records []TensorIndexRecord) ([]byte, error) {
	sorted := make([]TensorIndexRecord, len(records))
	copy(sorted, records)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Name < sorted[j].Name })

	var dims []uint32
	var strBuf bytes.Buffer
	entries := make([]tensorIndexEntry, len(sorted))

	for i, r := range sorted {
		if len(r.Shape) > 255 {
			return nil, errors.New("qcf: tensor rank exceeds 255")
		}
		nameOff := strBuf.Len()
		strBuf.WriteString(r.Name)
		dimOff := len(dims)
		dims = append(dims, r.Shape...)

		entries[i] = tensorIndexEntry{
			NameOff:       uint32(nameOff),
			NameLen:       uint32(len(r.Name)),
			DType:         uint8(r.DType),
			Rank:          uint8(len(r.Shape)),
			DimOff:        uint32(dimOff),
			BlockK:        r.BlockK,
			PackRow:       r.PackRow,
			DataOff:       r.DataOff,
			DataSize:      r.DataSize,
			ScaleOff:      r.ScaleOff,
			ScaleSize:     r.ScaleSize,
			ZeroPointOff:  r.ZeroPointOff,
			ZeroPointSize: r.ZeroPointSize,
		}
	}

	entriesOff := uint64(tensorIndexHeaderSize)
	entriesSize := uint64(len(entries)) * tensorIndexEntrySize
	dimsOff := entriesOff + entriesSize
	dimsSize := uint64(len(dims)) * 4
	stringsOff := dimsOff + dimsSize
	stringsSize := uint64(strBuf.Len())

	total := stringsOff + stringsSize
	out := make([]byte, total)

	encodeTensorIndexHeader(out[:tensorIndexHeaderSize], tensorIndexHeader{
		Version:     TensorIndexVersion,
		Flags:       TensorIndexFlagSortedByName,
		TensorCount: uint32(len(entries)),
		DimsCount:   uint32(len(dims)),
		EntriesOff:  entriesOff,
		DimsOff:     dimsOff,
		StringsOff:  stringsOff,
		StringsSize: stringsSize,
	})
	for i, e := range entries {
		start := int(entriesOff) + i*tensorIndexEntrySize
		encodeTensorIndexEntry(out[start:start+tensorIndexEntrySize], e)
	}
	for i, d := range dims {
		start := int(dimsOff) + i*4
		binary.LittleEndian.PutUint32(out[start:start+4], d)
	}
	copy(out[stringsOff:], strBuf.Bytes())

	return out, nil
}

// TensorIndex is a parsed, bounds-validated view over a
// SectionTensorIndex payload, kept as a zero-copy slice into the
// container's mapped data.
type TensorIndex struct {
	raw []byte
	hdr tensorIndexHeader
}

// ParseTensorIndexSection validates and wraps a SectionTensorIndex
// payload.
func ParseTensorIndexSection(sec []byte) (*TensorIndex, error) {
	if len(sec) < tensorIndexHeaderSize {
		return nil, ErrTensorIndexCorrupt
	}
	hdr := decodeTensorIndexHeader(sec[:tensorIndexHeaderSize])
	if hdr.Version != TensorIndexVersion {
		return nil, ErrUnsupportedMinor
	}

	entriesEnd := hdr.EntriesOff + uint64(hdr.TensorCount)*tensorIndexEntrySize
	if hdr.EntriesOff < tensorIndexHeaderSize || entriesEnd < hdr.EntriesOff || entriesEnd > uint64(len(sec)) {
		return nil, ErrTensorIndexCorrupt
	}
	dimsEnd := hdr.DimsOff + uint64(hdr.DimsCount)*4
	if hdr.DimsOff < entriesEnd || dimsEnd < hdr.DimsOff || dimsEnd > uint64(len(sec)) {
		return nil, ErrTensorIndexCorrupt
	}
	stringsEnd := hdr.StringsOff + hdr.StringsSize
	if hdr.StringsOff < dimsEnd || stringsEnd < hdr.StringsOff || stringsEnd > uint64(len(sec)) {
		return nil, ErrTensorIndexCorrupt
	}

	ti := &TensorIndex{raw: sec, hdr: hdr}
	for i := 0; i < int(hdr.TensorCount); i++ {
		e, err := ti.readEntry(i)
		if err != nil {
			return nil, err
		}
		nameEnd := uint64(e.NameOff) + uint64(e.NameLen)
		if nameEnd < uint64(e.NameOff) || nameEnd > hdr.StringsSize {
			return nil, ErrTensorIndexCorrupt
		}
		dimEnd := uint64(e.DimOff) + uint64(e.Rank)
		if dimEnd < uint64(e.DimOff) || dimEnd > uint64(hdr.DimsCount) {
			return nil, ErrTensorIndexCorrupt
		}
	}
	return ti, nil
}

func (ti *TensorIndex) readEntry(i int) (tensorIndexEntry, error) {
	if i < 0 || i >= int(ti.hdr.TensorCount) {
		return tensorIndexEntry{}, ErrTensorIndexCorrupt
	}
	start := int(ti.hdr.EntriesOff) + i*tensorIndexEntrySize
	end := start + tensorIndexEntrySize
	if end > len(ti.raw) {
		return tensorIndexEntry{}, ErrTensorIndexCorrupt
	}
	return decodeTensorIndexEntry(ti.raw[start:end]), nil
}

// Count returns the number of tensors in the index.
func (ti *TensorIndex) Count() int { return int(ti.hdr.TensorCount) }

// Flags returns the section's flag bits.
func (ti *TensorIndex) Flags() uint32 { return ti.hdr.Flags }

func (ti *TensorIndex) nameBytes(e tensorIndexEntry) []byte {
	start := ti.hdr.StringsOff + uint64(e.NameOff)
	end := start + uint64(e.NameLen)
	return ti.raw[start:end]
}

// Name returns the i'th tensor's name.
func (ti *TensorIndex) Name(i int) (string, error) {
	e, err := ti.readEntry(i)
	if err != nil {
		return "", err
	}
	b := ti.nameBytes(e)
	return unsafe.String(unsafe.SliceData(b), len(b)), nil
}

// Shape returns the i'th tensor's dimensions.
func (ti *TensorIndex) Shape(i int) ([]uint32, error) {
	e, err := ti.readEntry(i)
	if err != nil {
		return nil, err
	}
	start := ti.hdr.DimsOff + uint64(e.DimOff)*4
	out := make([]uint32, e.Rank)
	for j := range out {
		off := int(start) + j*4
		out[j] = binary.LittleEndian.Uint32(ti.raw[off : off+4])
	}
	return out, nil
}

// Entry summarizes the i'th tensor's encoding and data location.
type Entry struct {
	Name     string
	DType    TensorDType
	Shape    []uint32
	BlockK   int
	PackRow  int
	DataOff  uint64
	DataSize uint64
	ScaleOff, ScaleSize         uint64
	ZeroPointOff, ZeroPointSize uint64
}

// Entry returns the full parsed record for the i'th tensor.
func (ti *TensorIndex) Entry(i int) (Entry, error) {
	e, err := ti.readEntry(i)
	if err != nil {
		return Entry{}, err
	}
	name, err := ti.Name(i)
	if err != nil {
		return Entry{}, err
	}
	shape, err := ti.Shape(i)
	if err != nil {
		return Entry{}, err
	}
	return Entry{
		Name:          name,
		DType:         TensorDType(e.DType),
		Shape:         shape,
		BlockK:        int(e.BlockK),
		PackRow:       int(e.PackRow),
		DataOff:       e.DataOff,
		DataSize:      e.DataSize,
		ScaleOff:      e.ScaleOff,
		ScaleSize:     e.ScaleSize,
		ZeroPointOff:  e.ZeroPointOff,
		ZeroPointSize: e.ZeroPointSize,
	}, nil
}

// Find returns the index of the tensor named name, or ErrTensorNotFound.
// Uses a binary search when the section was written sorted-by-name
// (always true for EncodeTensorIndexSection output), else a linear scan.
func (ti *TensorIndex) Find(name string) (int, error) {
	n := ti.Count()
	if ti.hdr.Flags&TensorIndexFlagSortedByName != 0 {
		i := sort.Search(n, func(i int) bool {
			nm, err := ti.Name(i)
			if err != nil {
				return true
			}
			return nm >= name
		})
		if i < n {
			nm, err := ti.Name(i)
			if err == nil && nm == name {
				return i, nil
			}
		}
		return -1, ErrTensorNotFound
	}
	for i := 0; i < n; i++ {
		nm, err := ti.Name(i)
		if err != nil {
			return -1, err
		}
		if nm == name {
			return i, nil
		}
	}
	return -1, ErrTensorNotFound
}

// TensorData returns the zero-copy byte range for the i'th tensor's
// packed/dense data within f.
func (ti *TensorIndex) TensorData(f *File, i int) ([]byte, error) {
	e, err := ti.readEntry(i)
	if err != nil {
		return nil, err
	}
	end := e.DataOff + e.DataSize
	if end < e.DataOff || end > uint64(len(f.Data)) {
		return nil, ErrTensorIndexCorrupt
	}
	return f.Data[e.DataOff:end], nil
}
