// Package engine wires a loaded .qcf container into the graph
// interpreter: it resolves tensor-directory entries into
// internal/tensor.Mat values and implements decode.Model's Forward by
// driving internal/graph.RunLayer once per decoder layer.
package engine

import (
	"fmt"
	"math"

	"github.com/kessler-dev/tinyinfer/internal/quant"
	"github.com/kessler-dev/tinyinfer/internal/tensor"
	"github.com/kessler-dev/tinyinfer/pkg/qcf"
)

// loadMat builds a tensor.Mat from entry's data inside f, unpacking
// packed 4-bit codes into one-byte-per-element form (Mat.Codes is always
// unsigned-code-per-element, never nibble-packed) and copying 8-bit codes
// and the block scale/zero-point tables out of f.Data.
func loadMat(f *qcf.File, entry qcf.Entry) (*tensor.Mat, error) {
	if len(entry.Shape) == 0 || len(entry.Shape) > 2 {
		return nil, fmt.Errorf("engine: tensor %q has unsupported rank %d", entry.Name, len(entry.Shape))
	}
	r, c := 1, int(entry.Shape[0])
	if len(entry.Shape) == 2 {
		r, c = int(entry.Shape[0]), int(entry.Shape[1])
	}

	data, err := dataRange(f, entry.DataOff, entry.DataSize)
	if err != nil {
		return nil, fmt.Errorf("engine: tensor %q: %w", entry.Name, err)
	}

	if !entry.DType.IsQuantized() {
		return loadDenseMat(entry, r, c, data)
	}
	return loadQuantMat(f, entry, r, c, data)
}

func loadDenseMat(entry qcf.Entry, r, c int, data []byte) (*tensor.Mat, error) {
	switch entry.DType {
	case qcf.DTypeF32:
		if len(data) != r*c*4 {
			return nil, fmt.Errorf("engine: tensor %q: f32 data size %d != %dx%d*4", entry.Name, len(data), r, c)
		}
		values := make([]float32, r*c)
		for i := range values {
			values[i] = decodeF32LE(data[i*4 : i*4+4])
		}
		return tensor.NewDenseMatFromData(r, c, values), nil
	case qcf.DTypeBF16, qcf.DTypeF16:
		dtype := tensor.BF16
		if entry.DType == qcf.DTypeF16 {
			dtype = tensor.F16
		}
		if len(data) != r*c*2 {
			return nil, fmt.Errorf("engine: tensor %q: f16/bf16 data size %d != %dx%d*2", entry.Name, len(data), r, c)
		}
		return &tensor.Mat{R: r, C: c, Stride: c, DType: dtype, Raw: data}, nil
	default:
		return nil, fmt.Errorf("engine: tensor %q: unknown dense dtype %d", entry.Name, entry.DType)
	}
}

func loadQuantMat(f *qcf.File, entry qcf.Entry, r, c int, data []byte) (*tensor.Mat, error) {
	dtype, format, err := quantTypes(entry.DType)
	if err != nil {
		return nil, fmt.Errorf("engine: tensor %q: %w", entry.Name, err)
	}

	n := r * c
	codes := make([]uint8, n)
	if format.BitsPerCode() == 4 {
		nib := quant.NibbleBuffer(data)
		if len(nib) < quant.NibbleBytes(n) {
			return nil, fmt.Errorf("engine: tensor %q: packed code buffer too small", entry.Name)
		}
		for i := 0; i < n; i++ {
			codes[i] = nib.Get(i)
		}
	} else {
		if len(data) < n {
			return nil, fmt.Errorf("engine: tensor %q: code buffer too small", entry.Name)
		}
		copy(codes, data[:n])
	}

	scaleBytes, err := dataRange(f, entry.ScaleOff, entry.ScaleSize)
	if err != nil {
		return nil, fmt.Errorf("engine: tensor %q: scales: %w", entry.Name, err)
	}
	if len(scaleBytes)%4 != 0 {
		return nil, fmt.Errorf("engine: tensor %q: scale table size %d not a multiple of 4", entry.Name, len(scaleBytes))
	}
	scales := make([]float32, len(scaleBytes)/4)
	for i := range scales {
		scales[i] = decodeF32LE(scaleBytes[i*4 : i*4+4])
	}

	var zeroPoints []int8
	if entry.ZeroPointSize > 0 {
		zpBytes, err := dataRange(f, entry.ZeroPointOff, entry.ZeroPointSize)
		if err != nil {
			return nil, fmt.Errorf("engine: tensor %q: zero points: %w", entry.Name, err)
		}
		zeroPoints = make([]int8, len(zpBytes))
		for i, b := range zpBytes {
			zeroPoints[i] = int8(b)
		}
	}

	return tensor.NewQuantMat(r, c, dtype, codes, scales, zeroPoints, entry.BlockK, entry.PackRow), nil
}

func quantTypes(d qcf.TensorDType) (tensor.DType, quant.Format, error) {
	switch d {
	case qcf.DTypeInt4Sym:
		return tensor.Int4Sym, quant.Int4Sym, nil
	case qcf.DTypeInt4Asym:
		return tensor.Int4Asym, quant.Int4Asym, nil
	case qcf.DTypeInt8Sym:
		return tensor.Int8Sym, quant.Int8Sym, nil
	case qcf.DTypeInt8Asym:
		return tensor.Int8Asym, quant.Int8Asym, nil
	case qcf.DTypeFP8E4M3:
		return tensor.FP8E4M3, quant.FP8E4M3, nil
	case qcf.DTypeFP8E5M2:
		return tensor.FP8E5M2, quant.FP8E5M2, nil
	case qcf.DTypeFP4E2M1:
		return tensor.FP4E2M1, quant.FP4E2M1, nil
	case qcf.DTypeNF4:
		return tensor.NF4, quant.NF4, nil
	default:
		return 0, 0, fmt.Errorf("unknown quantized dtype %d", d)
	}
}

func dataRange(f *qcf.File, off, size uint64) ([]byte, error) {
	if size == 0 {
		return nil, nil
	}
	end := off + size
	if end < off || end > uint64(len(f.Data)) {
		return nil, fmt.Errorf("data range [%d:%d) out of bounds", off, end)
	}
	return f.Data[off:end], nil
}

func decodeF32LE(b []byte) float32 {
	bits := uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24
	return math.Float32frombits(bits)
}
