package tensor

import (
	"fmt"

	"github.com/kessler-dev/tinyinfer/internal/quant"
)

// Mat is a row-major matrix of shape [R, C]. Dense matrices keep their
// values in Data (or Raw, for f16/bf16 storage decoded inline); quantized
// matrices instead hold one unsigned code per element in Codes plus
// per-block Scales and (for asymmetric formats) ZeroPoints. A slice that
// aliases a caller-owned buffer such as a file mapping requires that
// buffer to outlive the Mat.
type Mat struct {
	R, C   int
	Stride int
	DType  DType

	Data []float32 // dense f32 storage
	Raw  []byte    // dense f16/bf16 storage, decoded row-by-row on read

	Codes      []uint8 // quantized storage: one unsigned code per element
	Scales     []float32
	ZeroPoints []int8 // nil for symmetric formats
	BlockK     int
	PackRow    int
}

// NewDenseMat allocates a zero-initialized dense f32 matrix.
func NewDenseMat(r, c int) *Mat {
	if r < 0 || c < 0 {
		panic("tensor: negative matrix dimension")
	}
	return &Mat{R: r, C: c, Stride: c, DType: F32, Data: make([]float32, r*c)}
}

// NewDenseMatFromData wraps existing row-major data as an f32 Mat.
func NewDenseMatFromData(r, c int, data []float32) *Mat {
	if len(data) != r*c {
		panic(fmt.Sprintf("tensor: data length %d does not match %dx%d", len(data), r, c))
	}
	return &Mat{R: r, C: c, Stride: c, DType: F32, Data: data}
}

// NewQuantMat wraps packed codes and block metadata as a quantized Mat.
// blockK must divide R, or the final block must already be padded and
// masked by the caller per the container's padding invariant.
func NewQuantMat(r, c int, dtype DType, codes []uint8, scales []float32, zeroPoints []int8, blockK, packRow int) *Mat {
	if !dtype.IsQuantized() {
		panic("tensor: NewQuantMat requires a quantized DType")
	}
	if blockK <= 0 {
		panic("tensor: blockK must be positive")
	}
	if packRow < 1 {
		packRow = 1
	}
	return &Mat{
		R: r, C: c, Stride: c, DType: dtype,
		Codes: codes, Scales: scales, ZeroPoints: zeroPoints,
		BlockK: blockK, PackRow: packRow,
	}
}

// Row returns row i decoded to dense float32. For F32 this is a direct
// view into Data (mutations are visible); every other encoding decodes
// into a freshly allocated buffer.
func (m *Mat) Row(i int) []float32 {
	if i < 0 || i >= m.R {
		panic("tensor: row index out of range")
	}
	if m.DType == F32 {
		start := i * m.Stride
		return m.Data[start : start+m.C]
	}
	dst := make([]float32, m.C)
	m.RowTo(dst, i)
	return dst
}

// RowTo decodes row i into dst, which must have length >= C.
func (m *Mat) RowTo(dst []float32, i int) {
	if i < 0 || i >= m.R {
		panic("tensor: row index out of range")
	}
	if len(dst) < m.C {
		panic("tensor: row buffer too small")
	}
	switch {
	case m.DType == F32:
		copy(dst[:m.C], m.Data[i*m.Stride:i*m.Stride+m.C])
	case m.DType == BF16:
		off := i * m.Stride * 2
		for j := 0; j < m.C; j++ {
			dst[j] = bf16ToF32(u16le(m.Raw, off+j*2))
		}
	case m.DType == F16:
		off := i * m.Stride * 2
		for j := 0; j < m.C; j++ {
			dst[j] = f16ToF32(u16le(m.Raw, off+j*2))
		}
	case m.DType.IsQuantized():
		m.dequantRowTo(dst, i)
	default:
		panic("tensor: unsupported dtype for row decode")
	}
}

// dequantRowTo dequantizes row i of a quantized Mat into dst.
func (m *Mat) dequantRowTo(dst []float32, i int) {
	format := m.DType.QuantFormat()
	layout := quant.BlockLayout{K: m.BlockK, PackRow: m.PackRow}
	start := i * m.Stride
	codes := m.Codes[start : start+m.C]
	quant.Dequantize(dst, codes, m.Scales, m.ZeroPoints, format, layout, i*m.C)
}

// RowRangeTo dequantizes the half-open column range [colStart, colEnd) of
// row i into dst, passing the flat row-relative offset i*C+colStart as the
// k_offset so the block index lands on the correct scale slot regardless of
// which row or column the range starts at.
func (m *Mat) RowRangeTo(dst []float32, i, colStart, colEnd int) {
	n := colEnd - colStart
	if len(dst) < n {
		panic("tensor: row range buffer too small")
	}
	if !m.DType.IsQuantized() {
		full := m.Row(i)
		copy(dst[:n], full[colStart:colEnd])
		return
	}
	format := m.DType.QuantFormat()
	layout := quant.BlockLayout{K: m.BlockK, PackRow: m.PackRow}
	start := i*m.Stride + colStart
	codes := m.Codes[start : start+n]
	quant.Dequantize(dst[:n], codes, m.Scales, m.ZeroPoints, format, layout, i*m.C+colStart)
}

func u16le(b []byte, off int) uint16 {
	return uint16(b[off]) | uint16(b[off+1])<<8
}
