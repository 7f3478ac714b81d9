// Command qrun loads a quantized .qcf model and runs an autoregressive
// decode loop over a byte-level prompt, printing generated text as it is
// produced.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/urfave/cli/v3"

	"github.com/kessler-dev/tinyinfer/internal/decode"
	"github.com/kessler-dev/tinyinfer/internal/engine"
	"github.com/kessler-dev/tinyinfer/internal/sampler"
	"github.com/kessler-dev/tinyinfer/internal/tokenizer"
	"github.com/kessler-dev/tinyinfer/internal/version"
)

func main() {
	app := &cli.Command{
		Name:    "qrun",
		Usage:   "run inference against a .qcf model",
		Version: version.String(),
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "model", Aliases: []string{"m"}, Usage: "path to .qcf file", Required: true},
			&cli.StringFlag{Name: "prompt", Aliases: []string{"p"}, Usage: "prompt text to tokenize"},
			&cli.IntFlag{Name: "steps", Aliases: []string{"n"}, Usage: "number of tokens to generate (-1 = until EOS/ctx limit)", Value: -1},
			&cli.FloatFlag{Name: "temp", Aliases: []string{"t"}, Usage: "sampling temperature (<=0 selects greedy argmax)", Value: 0.8},
			&cli.IntFlag{Name: "top-k", Usage: "top-k sampling parameter", Value: 40},
			&cli.FloatFlag{Name: "top-p", Usage: "top-p sampling parameter", Value: 0.95},
			&cli.FloatFlag{Name: "min-p", Usage: "min-p sampling parameter (0 disables)", Value: 0.0},
			&cli.FloatFlag{Name: "repeat-penalty", Usage: "repetition penalty (1.0 = disabled)", Value: 1.1},
			&cli.IntFlag{Name: "repeat-last-n", Usage: "last n tokens considered for the repeat penalty", Value: 64},
			&cli.IntFlag{Name: "seed", Usage: "sampling RNG seed", Value: 0},
			&cli.IntFlag{Name: "ctx-size", Usage: "KV cache size override (0 = model's ctx_size_max)", Value: 0},
			&cli.BoolFlag{Name: "ring-cache", Usage: "evict oldest KV slot on overflow instead of failing"},
			&cli.BoolFlag{Name: "show-tokens", Usage: "print token ids alongside decoded text"},
		},
		Action: runAction,
	}

	if err := app.Run(context.Background(), os.Args); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func runAction(ctx context.Context, c *cli.Command) error {
	modelPath := c.String("model")
	prompt := c.String("prompt")

	eng, err := engine.Load(modelPath, engine.Options{
		CtxSize: int(c.Int("ctx-size")),
		Ring:    c.Bool("ring-cache"),
	})
	if err != nil {
		return cli.Exit(fmt.Sprintf("error: load model: %v", err), 1)
	}
	defer func() { _ = eng.Close() }()

	tok := tokenizer.NewByteTokenizer()
	promptIDs, err := tok.Encode(prompt)
	if err != nil {
		return cli.Exit(fmt.Sprintf("error: encode prompt: %v", err), 1)
	}

	smp := sampler.New(sampler.Config{
		Seed:          c.Int("seed"),
		Temperature:   float32(c.Float("temp")),
		TopK:          int(c.Int("top-k")),
		TopP:          float32(c.Float("top-p")),
		MinP:          float32(c.Float("min-p")),
		RepeatPenalty: float32(c.Float("repeat-penalty")),
		RepeatLastN:   int(c.Int("repeat-last-n")),
	})

	sess := decode.New(eng, smp, promptIDs, decode.Config{
		NPredict:    int(c.Int("steps")),
		Keep:        int(c.Int("repeat-last-n")),
		Terminators: map[int]bool{tok.EOSID(): true},
	})

	showTokens := c.Bool("show-tokens")
	for {
		id, done, err := sess.Next(ctx)
		if err != nil {
			return cli.Exit(fmt.Sprintf("error: decode: %v", err), 1)
		}
		if done {
			break
		}
		text, decErr := tok.Decode([]int{id})
		if decErr != nil {
			return cli.Exit(fmt.Sprintf("error: decode token: %v", decErr), 1)
		}
		if showTokens {
			fmt.Printf("[%d]%s", id, text)
		} else {
			fmt.Print(text)
		}
	}
	fmt.Println()
	return nil
}
