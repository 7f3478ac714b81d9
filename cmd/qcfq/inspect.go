package main

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/urfave/cli/v3"

	"github.com/kessler-dev/tinyinfer/pkg/qcf"
)

func inspectCmd() *cli.Command {
	var (
		modelPath    string
		showSections bool
		showTensors  bool
		tensorLimit  int
		tensorFilter string
	)

	return &cli.Command{
		Name:  "inspect",
		Usage: "inspect the contents of a .qcf model container",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "model",
				Aliases:     []string{"m"},
				Usage:       "path to .qcf file",
				Destination: &modelPath,
				Required:    true,
			},
			&cli.BoolFlag{Name: "sections", Usage: "show section directory", Destination: &showSections},
			&cli.BoolFlag{Name: "tensors", Usage: "list the tensor index", Destination: &showTensors},
			&cli.IntFlag{Name: "tensors-limit", Usage: "limit tensor listing (0 = no limit)", Value: 50, Destination: &tensorLimit},
			&cli.StringFlag{Name: "tensor-filter", Usage: "substring filter for tensor listing", Destination: &tensorFilter},
		},
		Action: func(ctx context.Context, c *cli.Command) error {
			f, err := qcf.Open(modelPath)
			if err != nil {
				return cli.Exit(fmt.Sprintf("error: open qcf: %v", err), 1)
			}
			defer func() { _ = f.Close() }()

			fmt.Printf("QCF Inspect: %s\n", filepath.Base(modelPath))
			printQCFHeader(f.Header)

			hpSec := f.Section(qcf.SectionHyperparams)
			if hpSec != nil {
				if hp, ok := qcf.DecodeHyperparams(f.SectionData(hpSec)); ok {
					printHyperparams(hp)
				}
			}

			if showSections {
				printSections(f.Sections)
			}

			if showTensors {
				tiSec := f.Section(qcf.SectionTensorIndex)
				if tiSec == nil {
					fmt.Println("(no tensor index section)")
					return nil
				}
				ti, err := qcf.ParseTensorIndexSection(f.SectionData(tiSec))
				if err != nil {
					return cli.Exit(fmt.Sprintf("error: parse tensor index: %v", err), 1)
				}
				printTensorIndex(ti, tensorFilter, tensorLimit)
			}

			return nil
		},
	}
}

func printQCFHeader(h *qcf.Header) {
	if h == nil {
		return
	}
	flags := "none"
	if h.Flags&qcf.FlagTensorDataAligned64 != 0 {
		flags = "tensor_data_aligned64"
	}
	fmt.Printf("header: v%d.%d sections=%d header_size=%dB file_size=%s flags=%s\n",
		h.Major, h.Minor, h.SectionCount, h.HeaderSize, formatBytes(h.FileSize), flags)
}

func printHyperparams(hp qcf.Hyperparams) {
	fmt.Println("\n--- hyperparams ---")
	fmt.Printf("n_vocab=%d n_embd=%d n_head=%d n_kv_head=%d head_dim=%d\n",
		hp.NVocab, hp.NEmbd, hp.NHead, hp.NKVHead, hp.HeadDim)
	fmt.Printf("n_ff=%d n_layer=%d arch_tag=%d ctx_size_max=%d\n",
		hp.NFF, hp.NLayer, hp.ArchTag, hp.CtxSizeMax)
	norm := "rms"
	if hp.NormType == qcf.NormLayer {
		norm = "layer"
	}
	ffn := "plain"
	if hp.FFNStyle == qcf.FFNGated {
		ffn = "gated"
	}
	fmt.Printf("norm_type=%s ffn_style=%s rope_theta=%g\n", norm, ffn, hp.RopeTheta)
}

func printSections(sections []qcf.Section) {
	fmt.Println("\n--- sections ---")
	for _, s := range sections {
		fmt.Printf("%-20s v%-2d off=%-10d size=%s\n", sectionTypeName(qcf.SectionType(s.Type)), s.Version, s.Offset, formatBytes(s.Size))
	}
}

func printTensorIndex(ti *qcf.TensorIndex, filter string, limit int) {
	fmt.Println("\n--- tensors ---")
	count := ti.Count()
	printed := 0
	for i := 0; i < count; i++ {
		entry, err := ti.Entry(i)
		if err != nil {
			continue
		}
		if filter != "" && !strings.Contains(entry.Name, filter) {
			continue
		}
		line := fmt.Sprintf("%-32s dtype=%-10s shape=%v size=%s", entry.Name, dtypeName(entry.DType), entry.Shape, formatBytes(entry.DataSize))
		if entry.DType.IsQuantized() {
			line += fmt.Sprintf(" block_k=%d pack_row=%d", entry.BlockK, entry.PackRow)
		}
		fmt.Println(line)
		printed++
		if limit > 0 && printed >= limit {
			break
		}
	}
	if limit > 0 && printed < count {
		fmt.Printf("... (%d shown of %d)\n", printed, count)
	}
}

func sectionTypeName(t qcf.SectionType) string {
	switch t {
	case qcf.SectionHyperparams:
		return "Hyperparams"
	case qcf.SectionTokenizer:
		return "Tokenizer"
	case qcf.SectionTensorIndex:
		return "TensorIndex"
	case qcf.SectionTensorData:
		return "TensorData"
	default:
		return fmt.Sprintf("Section0x%04x", uint32(t))
	}
}

func dtypeName(d qcf.TensorDType) string {
	switch d {
	case qcf.DTypeF32:
		return "f32"
	case qcf.DTypeBF16:
		return "bf16"
	case qcf.DTypeF16:
		return "f16"
	case qcf.DTypeInt4Sym:
		return "int4_sym"
	case qcf.DTypeInt4Asym:
		return "int4_asym"
	case qcf.DTypeInt8Sym:
		return "int8_sym"
	case qcf.DTypeInt8Asym:
		return "int8_asym"
	case qcf.DTypeFP8E4M3:
		return "fp8_e4m3"
	case qcf.DTypeFP8E5M2:
		return "fp8_e5m2"
	case qcf.DTypeFP4E2M1:
		return "fp4_e2m1"
	case qcf.DTypeNF4:
		return "nf4"
	default:
		return fmt.Sprintf("dtype_%d", d)
	}
}

func formatBytes(b uint64) string {
	const (
		kb = 1024
		mb = 1024 * kb
		gb = 1024 * mb
	)
	switch {
	case b >= gb:
		return fmt.Sprintf("%.2f GiB", float64(b)/float64(gb))
	case b >= mb:
		return fmt.Sprintf("%.2f MiB", float64(b)/float64(mb))
	case b >= kb:
		return fmt.Sprintf("%.2f KiB", float64(b)/float64(kb))
	default:
		return fmt.Sprintf("%d B", b)
	}
}
