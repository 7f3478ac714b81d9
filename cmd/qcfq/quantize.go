package main

import (
	"context"
	"fmt"
	"math"
	"os"

	"github.com/urfave/cli/v3"

	"github.com/kessler-dev/tinyinfer/internal/quant"
	"github.com/kessler-dev/tinyinfer/pkg/qcf"
)

func quantizeCmd() *cli.Command {
	var (
		manifestPath string
		outputPath   string
		weightDType  string
		groupSize    int
		algo         string
	)

	return &cli.Command{
		Name:  "quantize",
		Usage: "quantize a float32 tensor manifest into a QCF container",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "manifest",
				Aliases:     []string{"m"},
				Usage:       "path to the manifest directory (manifest.json + per-tensor .f32 files)",
				Destination: &manifestPath,
				Required:    true,
			},
			&cli.StringFlag{
				Name:        "output",
				Aliases:     []string{"o"},
				Usage:       "path to write the .qcf output",
				Destination: &outputPath,
				Required:    true,
			},
			&cli.StringFlag{
				Name:        "weight-dtype",
				Usage:       "weight encoding: f32, int4_sym, int4_asym, int8_sym, int8_asym, fp8_e4m3, fp8_e5m2, fp4_e2m1, nf4",
				Value:       "int8_sym",
				Destination: &weightDType,
			},
			&cli.IntFlag{
				Name:        "group-size",
				Usage:       "quantization block size in elements (ignored for f32)",
				Value:       32,
				Destination: &groupSize,
			},
			&cli.StringFlag{
				Name:        "algo",
				Usage:       "quantization algorithm (only rtn, round-to-nearest, is implemented)",
				Value:       "rtn",
				Destination: &algo,
			},
		},
		Action: func(ctx context.Context, c *cli.Command) error {
			if algo != "rtn" {
				return cli.Exit(fmt.Sprintf("error: unsupported algo %q (only rtn)", algo), 1)
			}
			dtype, dense, err := parseWeightDType(weightDType)
			if err != nil {
				return cli.Exit(fmt.Sprintf("error: %v", err), 1)
			}

			mf, err := loadManifest(manifestPath)
			if err != nil {
				return cli.Exit(fmt.Sprintf("error: load manifest: %v", err), 1)
			}

			f, err := os.Create(outputPath)
			if err != nil {
				return cli.Exit(fmt.Sprintf("error: create output: %v", err), 1)
			}
			defer func() { _ = f.Close() }()

			w, err := qcf.NewWriter(f)
			if err != nil {
				return cli.Exit(fmt.Sprintf("error: init writer: %v", err), 1)
			}

			if err := w.WriteSection(qcf.SectionHyperparams, qcf.HyperparamsVersion, qcf.EncodeHyperparams(mf.qcfHyperparams())); err != nil {
				return cli.Exit(fmt.Sprintf("error: write hyperparams: %v", err), 1)
			}

			if !dense {
				if err := w.AddFlags(qcf.FlagTensorDataAligned64); err != nil {
					return cli.Exit(fmt.Sprintf("error: set flags: %v", err), 1)
				}
			}

			sw, err := w.BeginSection(qcf.SectionTensorData, 1)
			if err != nil {
				return cli.Exit(fmt.Sprintf("error: begin tensor data section: %v", err), 1)
			}

			records := make([]qcf.TensorIndexRecord, 0, len(mf.Tensors))
			for _, t := range mf.Tensors {
				values, err := readTensorF32(manifestPath, t)
				if err != nil {
					return cli.Exit(fmt.Sprintf("error: %v", err), 1)
				}
				rec, err := writeTensor(sw, t, values, dtype, dense, groupSize)
				if err != nil {
					return cli.Exit(fmt.Sprintf("error: quantize tensor %q: %v", t.Name, err), 1)
				}
				records = append(records, rec)
				fmt.Printf("%-32s %-10s shape=%v bytes=%d\n", t.Name, weightDType, t.Shape, rec.DataSize)
			}
			if err := sw.End(); err != nil {
				return cli.Exit(fmt.Sprintf("error: end tensor data section: %v", err), 1)
			}

			idx, err := qcf.EncodeTensorIndexSection(records)
			if err != nil {
				return cli.Exit(fmt.Sprintf("error: encode tensor index: %v", err), 1)
			}
			if err := w.WriteSection(qcf.SectionTensorIndex, qcf.TensorIndexVersion, idx); err != nil {
				return cli.Exit(fmt.Sprintf("error: write tensor index: %v", err), 1)
			}

			if err := w.Finalise(); err != nil {
				return cli.Exit(fmt.Sprintf("error: finalise: %v", err), 1)
			}

			fmt.Printf("wrote %s (%d tensors)\n", outputPath, len(records))
			return nil
		},
	}
}

// weightFormat maps a quantized qcf.TensorDType to its internal/quant.Format,
// mirroring the DType <-> Format correspondence documented on
// qcf.TensorDType. Callers must only pass quantized (non-dense) dtypes.
func weightFormat(dtype qcf.TensorDType) quant.Format {
	switch dtype {
	case qcf.DTypeInt4Sym:
		return quant.Int4Sym
	case qcf.DTypeInt4Asym:
		return quant.Int4Asym
	case qcf.DTypeInt8Sym:
		return quant.Int8Sym
	case qcf.DTypeInt8Asym:
		return quant.Int8Asym
	case qcf.DTypeFP8E4M3:
		return quant.FP8E4M3
	case qcf.DTypeFP8E5M2:
		return quant.FP8E5M2
	case qcf.DTypeFP4E2M1:
		return quant.FP4E2M1
	case qcf.DTypeNF4:
		return quant.NF4
	default:
		panic("qcfq: weightFormat called on dense dtype")
	}
}

func parseWeightDType(s string) (qcf.TensorDType, bool, error) {
	switch s {
	case "f32":
		return qcf.DTypeF32, true, nil
	case "int4_sym":
		return qcf.DTypeInt4Sym, false, nil
	case "int4_asym":
		return qcf.DTypeInt4Asym, false, nil
	case "int8_sym":
		return qcf.DTypeInt8Sym, false, nil
	case "int8_asym":
		return qcf.DTypeInt8Asym, false, nil
	case "fp8_e4m3":
		return qcf.DTypeFP8E4M3, false, nil
	case "fp8_e5m2":
		return qcf.DTypeFP8E5M2, false, nil
	case "fp4_e2m1":
		return qcf.DTypeFP4E2M1, false, nil
	case "nf4":
		return qcf.DTypeNF4, false, nil
	default:
		return 0, false, fmt.Errorf("unknown weight-dtype %q", s)
	}
}

// writeTensor quantizes (or, for f32, passes through) one tensor's values
// and streams codes/scales/zero-points into sw, returning the directory
// record. The flattened tensor is split into groupSize-element blocks
// (block boundaries do not reset at row edges); the packed codes for every
// block come first, then the per-block scales, then (for asymmetric
// formats) the per-block zero-points — the layout spec.md's tensor
// directory calls "[codes][scales][zero_points?]".
func writeTensor(sw *qcf.SectionWriter, t manifestTensor, values []float32, dtype qcf.TensorDType, dense bool, groupSize int) (qcf.TensorIndexRecord, error) {
	if dense {
		dataOff, err := sw.CurrentAbsOffset()
		if err != nil {
			return qcf.TensorIndexRecord{}, err
		}
		buf := make([]byte, len(values)*4)
		for i, v := range values {
			putFloat32LE(buf[i*4:i*4+4], v)
		}
		if _, err := sw.Write(buf); err != nil {
			return qcf.TensorIndexRecord{}, err
		}
		return qcf.TensorIndexRecord{
			Name:     t.Name,
			DType:    dtype,
			Shape:    t.Shape,
			DataOff:  dataOff,
			DataSize: uint64(len(buf)),
		}, nil
	}

	if groupSize <= 0 {
		groupSize = len(values)
	}
	// Every groupSize-element run of the flattened tensor gets its own
	// scale slot (quant.BlockLayout.PackRow = 1: no amortizing a single
	// scale across multiple K-blocks), matching blockIndex's
	// flat-offset/(K*PackRow) addressing in internal/quant/dequant.go.
	const packRow = 1
	nBlocks := (len(values) + groupSize - 1) / groupSize

	if err := sw.Align(64); err != nil {
		return qcf.TensorIndexRecord{}, err
	}
	dataOff, err := sw.CurrentAbsOffset()
	if err != nil {
		return qcf.TensorIndexRecord{}, err
	}

	format := weightFormat(dtype)
	bitsPerCode := format.BitsPerCode()
	var codesBuf []byte
	var nib quant.NibbleBuffer
	if bitsPerCode == 4 {
		nib = make(quant.NibbleBuffer, quant.NibbleBytes(len(values)))
	} else {
		codesBuf = make([]byte, len(values))
	}
	scales := make([]float32, nBlocks)
	var zeroPoints []int8
	if format.IsAsymmetric() {
		zeroPoints = make([]int8, nBlocks)
	}

	for b := 0; b < nBlocks; b++ {
		lo := b * groupSize
		hi := lo + groupSize
		if hi > len(values) {
			hi = len(values)
		}
		block := values[lo:hi]

		var codes []uint8
		switch {
		case format.IsFloat():
			codes, scales[b] = quantizeMicroFloatBlock(block, format)
		case format.IsAsymmetric():
			var scale float32
			var zp int8
			codes, scale, zp = quant.QuantizeAsymmetricInt(block, format)
			scales[b] = scale
			zeroPoints[b] = zp
		default:
			var scale float32
			codes, scale = quant.QuantizeSymmetricInt(block, format)
			scales[b] = scale
		}

		for i, c := range codes {
			if bitsPerCode == 4 {
				nib.Set(lo+i, c)
			} else {
				codesBuf[lo+i] = c
			}
		}
	}

	var codesOut []byte
	if bitsPerCode == 4 {
		codesOut = nib
	} else {
		codesOut = codesBuf
	}
	if _, err := sw.Write(codesOut); err != nil {
		return qcf.TensorIndexRecord{}, err
	}

	scaleOff, err := sw.CurrentAbsOffset()
	if err != nil {
		return qcf.TensorIndexRecord{}, err
	}
	scaleBuf := make([]byte, len(scales)*4)
	for i, s := range scales {
		putFloat32LE(scaleBuf[i*4:i*4+4], s)
	}
	if _, err := sw.Write(scaleBuf); err != nil {
		return qcf.TensorIndexRecord{}, err
	}

	var zpOff, zpSize uint64
	if zeroPoints != nil {
		off, err := sw.CurrentAbsOffset()
		if err != nil {
			return qcf.TensorIndexRecord{}, err
		}
		zpBuf := make([]byte, len(zeroPoints))
		for i, z := range zeroPoints {
			zpBuf[i] = byte(z)
		}
		if _, err := sw.Write(zpBuf); err != nil {
			return qcf.TensorIndexRecord{}, err
		}
		zpOff, zpSize = off, uint64(len(zpBuf))
	}

	end, err := sw.CurrentAbsOffset()
	if err != nil {
		return qcf.TensorIndexRecord{}, err
	}

	return qcf.TensorIndexRecord{
		Name:          t.Name,
		DType:         dtype,
		Shape:         t.Shape,
		DataOff:       dataOff,
		DataSize:      end - dataOff,
		BlockK:        uint32(groupSize),
		PackRow:       uint32(packRow),
		ScaleOff:      scaleOff,
		ScaleSize:     uint64(len(scaleBuf)),
		ZeroPointOff:  zpOff,
		ZeroPointSize: zpSize,
	}, nil
}

// quantizeMicroFloatBlock rounds each value in block to the nearest code
// in format's fixed lookup table (FP8 uses EncodeFP8 directly; FP4/NF4
// search the 16-entry table after scaling by the block's max magnitude).
// Returns the codes and the block's scale: 1 for FP8, the max magnitude
// for FP4/NF4.
func quantizeMicroFloatBlock(block []float32, format quant.Format) ([]uint8, float32) {
	if format == quant.FP8E4M3 || format == quant.FP8E5M2 {
		codes := make([]uint8, len(block))
		for i, v := range block {
			codes[i] = quant.EncodeFP8(v, format)
		}
		return codes, 1
	}

	table := quant.DequantFP4Table(format)
	maxAbs := float32(0)
	for _, v := range block {
		if a := absF32(v); a > maxAbs {
			maxAbs = a
		}
	}
	if maxAbs == 0 {
		maxAbs = 1
	}
	codes := make([]uint8, len(block))
	for i, v := range block {
		normalized := v / maxAbs
		best, bestDist := 0, float32(1<<30)
		for code, entry := range table {
			d := absF32(normalized - entry)
			if d < bestDist {
				bestDist = d
				best = code
			}
		}
		codes[i] = uint8(best)
	}
	return codes, maxAbs
}

func absF32(v float32) float32 {
	if v < 0 {
		return -v
	}
	return v
}

func putFloat32LE(dst []byte, v float32) {
	bits := math.Float32bits(v)
	dst[0] = byte(bits)
	dst[1] = byte(bits >> 8)
	dst[2] = byte(bits >> 16)
	dst[3] = byte(bits >> 24)
}
