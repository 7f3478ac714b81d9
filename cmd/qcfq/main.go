// Command qcfq quantizes plain float32 weight manifests into QCF
// containers and inspects existing ones.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/urfave/cli/v3"

	"github.com/kessler-dev/tinyinfer/internal/version"
)

func main() {
	app := &cli.Command{
		Name:    "qcfq",
		Usage:   "QCF model container tool: quantize and inspect",
		Version: version.String(),
		Action: func(ctx context.Context, cmd *cli.Command) error {
			return cli.ShowAppHelp(cmd)
		},
		Commands: []*cli.Command{
			quantizeCmd(),
			inspectCmd(),
		},
	}

	if err := app.Run(context.Background(), os.Args); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
