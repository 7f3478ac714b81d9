// Package runconfig loads the engine's runtime parameters from a YAML
// config file merged with CLI flags, the same two-layer precedence the
// teacher's cmd/mantle uses, and validates the merged result into
// apperr.InvalidConfiguration before a session is ever constructed.
package runconfig

import (
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/kessler-dev/tinyinfer/internal/apperr"
)

// MemoryType selects how the KV cache behaves once ctx_size is reached.
type MemoryType string

const (
	MemoryFlat MemoryType = "flat" // Append fails once ctx_size positions are in use
	MemoryRing MemoryType = "ring" // oldest position is evicted; surviving keys are not rotated
)

// File mirrors the on-disk YAML config file
// (~/.config/tinyinfer/config.yaml). Pointer fields distinguish "absent"
// from an explicit zero value so CLI flags can override file defaults.
type File struct {
	CtxSize           *int64   `yaml:"ctx_size"`
	BatchSizeTruncate *int64   `yaml:"batch_size_truncate"`
	Threads           *int64   `yaml:"threads"`
	NPredict          *int64   `yaml:"n_predict"`
	Seed              *int64   `yaml:"seed"`
	Temperature       *float64 `yaml:"temperature"`
	TopK              *int64   `yaml:"top_k"`
	TopP              *float64 `yaml:"top_p"`
	MinP              *float64 `yaml:"min_p"`
	RepeatPenalty     *float64 `yaml:"repeat_penalty"`
	RepeatLastN       *int64   `yaml:"repeat_last_n"`
	Keep              *int64   `yaml:"keep"`
	ShiftRopedK       *bool    `yaml:"shift_roped_k"`
	MemoryType        *string  `yaml:"memory_type"`
}

// Params is the validated, fully-resolved set of runtime parameters a
// decode session is built from.
type Params struct {
	CtxSize           int
	BatchSizeTruncate int
	Threads           int
	NPredict          int // -1 = unlimited
	Seed              int64
	Temperature       float64
	TopK              int
	TopP              float64
	MinP              float64
	RepeatPenalty     float64
	RepeatLastN       int
	Keep              int // -1 = whole prompt
	ShiftRopedK       bool
	MemoryType        MemoryType
}

// Defaults returns the engine's built-in parameter values, applied before
// any config file or flag overrides.
func Defaults() Params {
	return Params{
		CtxSize:           4096,
		BatchSizeTruncate: 512,
		Threads:           0, // 0 = runtime.NumCPU() at session construction
		NPredict:          -1,
		Seed:              0,
		Temperature:       0.8,
		TopK:              40,
		TopP:              0.95,
		MinP:              0,
		RepeatPenalty:     1.0,
		RepeatLastN:       64,
		Keep:              -1,
		ShiftRopedK:       true,
		MemoryType:        MemoryRing,
	}
}

func configPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return ""
	}
	return filepath.Join(dir, "tinyinfer", "config.yaml")
}

// Load reads the config file, returning a zero File if it doesn't exist
// or can't be parsed — config-file absence is never a hard error, matching
// the teacher's LoadConfig.
func Load() File {
	path := configPath()
	if path == "" {
		return File{}
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return File{}
	}
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return File{}
	}
	return f
}

// Merge layers f over base, applying each present field unconditionally.
// Callers merge file config first, then re-merge a second File built from
// explicit CLI flags so flags win.
func Merge(base Params, f File) Params {
	if f.CtxSize != nil {
		base.CtxSize = int(*f.CtxSize)
	}
	if f.BatchSizeTruncate != nil {
		base.BatchSizeTruncate = int(*f.BatchSizeTruncate)
	}
	if f.Threads != nil {
		base.Threads = int(*f.Threads)
	}
	if f.NPredict != nil {
		base.NPredict = int(*f.NPredict)
	}
	if f.Seed != nil {
		base.Seed = *f.Seed
	}
	if f.Temperature != nil {
		base.Temperature = *f.Temperature
	}
	if f.TopK != nil {
		base.TopK = int(*f.TopK)
	}
	if f.TopP != nil {
		base.TopP = *f.TopP
	}
	if f.MinP != nil {
		base.MinP = *f.MinP
	}
	if f.RepeatPenalty != nil {
		base.RepeatPenalty = *f.RepeatPenalty
	}
	if f.RepeatLastN != nil {
		base.RepeatLastN = int(*f.RepeatLastN)
	}
	if f.Keep != nil {
		base.Keep = int(*f.Keep)
	}
	if f.ShiftRopedK != nil {
		base.ShiftRopedK = *f.ShiftRopedK
	}
	if f.MemoryType != nil {
		base.MemoryType = MemoryType(*f.MemoryType)
	}
	return base
}

// Validate rejects a Params combination the engine cannot safely run
// with, returning an apperr.KindInvalidConfiguration error naming the
// first violation found.
func Validate(p Params) error {
	switch {
	case p.CtxSize <= 0:
		return apperr.New(apperr.KindInvalidConfiguration, "runconfig.Validate", errField("ctx_size must be positive"))
	case p.BatchSizeTruncate <= 0:
		return apperr.New(apperr.KindInvalidConfiguration, "runconfig.Validate", errField("batch_size_truncate must be positive"))
	case p.Threads < 0:
		return apperr.New(apperr.KindInvalidConfiguration, "runconfig.Validate", errField("threads must be >= 0"))
	case p.NPredict < -1:
		return apperr.New(apperr.KindInvalidConfiguration, "runconfig.Validate", errField("n_predict must be >= -1"))
	case p.Temperature < 0:
		return apperr.New(apperr.KindInvalidConfiguration, "runconfig.Validate", errField("temperature must be >= 0"))
	case p.TopK < 0:
		return apperr.New(apperr.KindInvalidConfiguration, "runconfig.Validate", errField("top_k must be >= 0"))
	case p.TopP <= 0 || p.TopP > 1:
		return apperr.New(apperr.KindInvalidConfiguration, "runconfig.Validate", errField("top_p must be in (0, 1]"))
	case p.MinP < 0 || p.MinP > 1:
		return apperr.New(apperr.KindInvalidConfiguration, "runconfig.Validate", errField("min_p must be in [0, 1]"))
	case p.RepeatPenalty <= 0:
		return apperr.New(apperr.KindInvalidConfiguration, "runconfig.Validate", errField("repeat_penalty must be positive"))
	case p.RepeatLastN < 0:
		return apperr.New(apperr.KindInvalidConfiguration, "runconfig.Validate", errField("repeat_last_n must be >= 0"))
	case p.Keep < -1:
		return apperr.New(apperr.KindInvalidConfiguration, "runconfig.Validate", errField("keep must be >= -1 or -1 for whole prompt"))
	case p.MemoryType != MemoryFlat && p.MemoryType != MemoryRing:
		return apperr.New(apperr.KindInvalidConfiguration, "runconfig.Validate", errField("memory_type must be \"flat\" or \"ring\""))
	default:
		return nil
	}
}

type errField string

func (e errField) Error() string { return string(e) }
