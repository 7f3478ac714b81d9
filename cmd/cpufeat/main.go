// Command cpufeat prints the SIMD instruction-set tier internal/cpufeat
// detects on this machine, with its feature flags, for diagnosing
// dispatch-table choices without attaching a debugger to qrun.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"runtime"

	"github.com/urfave/cli/v3"

	"github.com/kessler-dev/tinyinfer/internal/cpufeat"
	"github.com/kessler-dev/tinyinfer/internal/version"
)

type output struct {
	GoVersion string          `json:"go_version"`
	GoOS      string          `json:"go_os"`
	GoArch    string          `json:"go_arch"`
	CPUs      int             `json:"cpus"`
	Tier      string          `json:"tier"`
	Features  map[string]bool `json:"features"`
}

func main() {
	app := &cli.Command{
		Name:    "cpufeat",
		Usage:   "report the SIMD tier detected on this machine",
		Version: version.String(),
		Action: func(ctx context.Context, c *cli.Command) error {
			f := cpufeat.Detect()
			out := output{
				GoVersion: runtime.Version(),
				GoOS:      runtime.GOOS,
				GoArch:    runtime.GOARCH,
				CPUs:      runtime.NumCPU(),
				Tier:      f.Tier.String(),
				Features: map[string]bool{
					"AVX2":       f.HasAVX2,
					"AVX512F":    f.HasAVX512F,
					"AVX512VNNI": f.HasVNNI,
					"AMXInt8":    f.HasAMXInt8,
					"AMXBF16":    f.HasAMXBF16,
				},
			}
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(out)
		},
	}

	if err := app.Run(context.Background(), os.Args); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
