// Package decode implements the autoregressive generation state machine:
// Idle -> Prefill -> Decode -> Finished. The controller is single
// threaded and exposes a pull interface — Next returns one token per
// call — so the caller (a CLI loop or an HTTP stream writer) controls
// pacing and can stop early at any step boundary.
package decode

import (
	"context"

	"github.com/kessler-dev/tinyinfer/internal/apperr"
	"github.com/kessler-dev/tinyinfer/internal/sampler"
)

// State is one of the controller's four lifecycle states.
type State uint8

const (
	Idle State = iota
	Prefill
	Decode
	Finished
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Prefill:
		return "prefill"
	case Decode:
		return "decode"
	case Finished:
		return "finished"
	default:
		return "unknown"
	}
}

// Model is the forward-pass contract the controller drives: one call per
// token, returning the vocabulary logits for that position. Implemented
// by the graph interpreter wired to a loaded model's weights and KV
// cache.
type Model interface {
	Forward(ctx context.Context, tokenID, position int) (logits []float32, err error)
}

// Config holds the runtime parameters that shape one decode session.
type Config struct {
	BatchSizeTruncate int
	NPredict          int // -1 = unlimited
	Keep              int // -1 = whole prompt, used as the repeat-penalty window
	Terminators       map[int]bool
}

// Session drives one decode loop over one Model + KV cache instance. A
// Session is not safe for concurrent use; it is exclusively owned by the
// caller that opened it, matching the single-session-per-KV-cache
// ownership rule.
type Session struct {
	state    State
	model    Model
	sampler  *sampler.Sampler
	cfg      Config
	prompt   []int
	produced []int
	position int
	pending  []int // remaining prompt tokens not yet forwarded
	logits   []float32
	err      error
}

// New constructs a Session in the Idle state. Call Next to drive it
// through Prefill and into Decode.
func New(model Model, smp *sampler.Sampler, prompt []int, cfg Config) *Session {
	if cfg.Terminators == nil {
		cfg.Terminators = map[int]bool{}
	}
	return &Session{
		state:   Idle,
		model:   model,
		sampler: smp,
		cfg:     cfg,
		prompt:  prompt,
		pending: append([]int(nil), prompt...),
	}
}

// State reports the session's current lifecycle state.
func (s *Session) State() State {
	return s.state
}

// Err returns the error that moved the session to Finished, if any.
func (s *Session) Err() error {
	return s.err
}

// Next advances the session by one step: during Prefill it forwards up
// to BatchSizeTruncate prompt tokens and returns no output token; once
// the prompt is exhausted it enters Decode and samples one new token per
// call. It returns (0, true, err) once the session is Finished — by
// stop criteria, cancellation, or error. A mid-decode error or
// cancellation moves the session to Finished permanently; no partial
// output beyond what Next already returned is guaranteed, and the
// session must be discarded (its KV cache released) rather than reused.
func (s *Session) Next(ctx context.Context) (tokenID int, done bool, err error) {
	if s.state == Finished {
		return 0, true, s.err
	}
	if err := ctx.Err(); err != nil {
		s.fail(apperr.New(apperr.KindCancelled, "decode.Next", err))
		return 0, true, s.err
	}

	if s.state == Idle {
		s.state = Prefill
	}

	if s.state == Prefill {
		if len(s.pending) > 0 {
			if err := s.runPrefillBatch(ctx); err != nil {
				s.fail(err)
				return 0, true, s.err
			}
			return 0, false, nil
		}
		s.state = Decode
	}

	return s.runDecodeStep(ctx)
}

func (s *Session) runPrefillBatch(ctx context.Context) error {
	batch := s.cfg.BatchSizeTruncate
	if batch <= 0 {
		batch = len(s.pending)
	}
	if batch > len(s.pending) {
		batch = len(s.pending)
	}
	for _, id := range s.pending[:batch] {
		logitsVec, err := s.model.Forward(ctx, id, s.position)
		if err != nil {
			return apperr.New(apperr.KindInternal, "decode.runPrefillBatch", err)
		}
		s.logits = logitsVec
		s.position++
	}
	s.pending = s.pending[batch:]
	return nil
}

func (s *Session) runDecodeStep(ctx context.Context) (int, bool, error) {
	if s.cfg.NPredict >= 0 && len(s.produced) >= s.cfg.NPredict {
		s.state = Finished
		return 0, true, nil
	}

	window := s.recentWindow()
	next := s.sampler.Sample(s.logits, window, nil)

	if s.cfg.Terminators[next] {
		s.state = Finished
		return 0, true, nil
	}

	s.produced = append(s.produced, next)

	logitsVec, err := s.model.Forward(ctx, next, s.position)
	if err != nil {
		s.fail(apperr.New(apperr.KindInternal, "decode.runDecodeStep", err))
		return 0, true, s.err
	}
	s.logits = logitsVec
	s.position++

	return next, false, nil
}

func (s *Session) recentWindow() []int {
	all := append(append([]int(nil), s.prompt...), s.produced...)
	if s.cfg.Keep < 0 || s.cfg.Keep >= len(all) {
		return all
	}
	return all[len(all)-s.cfg.Keep:]
}

func (s *Session) fail(err error) {
	s.err = err
	s.state = Finished
}

// Produced returns every token sampled so far in this session.
func (s *Session) Produced() []int {
	return s.produced
}
