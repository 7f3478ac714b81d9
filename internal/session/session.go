// Package session exposes the decode controller's token-stream pull
// interface to remote callers over a chunked HTTP response: one decode
// session per connection, a generated session id, and per-caller rate
// limiting on how many sessions a caller may have starting at once.
package session

import (
	"context"
	"sync"

	"golang.org/x/time/rate"

	"github.com/kessler-dev/tinyinfer/internal/apperr"
	"github.com/kessler-dev/tinyinfer/internal/decode"
	"github.com/kessler-dev/tinyinfer/internal/tokenizer"
)

// Request is the decoded body of a session-start call: the prompt
// already tokenized by the caller plus sampling/decode overrides. Zero
// values mean "use the server's configured default".
type Request struct {
	PromptTokens  []int   `json:"prompt_tokens"`
	NPredict      int     `json:"n_predict"`
	Temperature   float64 `json:"temperature"`
	TopK          int     `json:"top_k"`
	TopP          float64 `json:"top_p"`
	MinP          float64 `json:"min_p"`
	RepeatPenalty float64 `json:"repeat_penalty"`
	Seed          int64   `json:"seed"`
}

// TokenSource decodes one sampled token id into text per call, pairing a
// decode.Session with the tokenizer needed to turn ids back into text.
type TokenSource struct {
	sess *decode.Session
	tok  tokenizer.Tokenizer
}

// NewTokenSource wraps an already-constructed decode session.
func NewTokenSource(sess *decode.Session, tok tokenizer.Tokenizer) *TokenSource {
	return &TokenSource{sess: sess, tok: tok}
}

// Next advances the underlying decode session by one step. During
// prefill it returns ("", false, nil) for every batch processed; once
// generation starts it returns the decoded text for each sampled token.
// done is true once the session reaches a stop condition or fails.
func (t *TokenSource) Next(ctx context.Context) (text string, done bool, err error) {
	tokenID, done, err := t.sess.Next(ctx)
	if err != nil {
		return "", true, err
	}
	if done {
		return "", true, nil
	}
	if t.sess.State() != decode.Decode {
		return "", false, nil
	}
	text, decErr := t.tok.Decode([]int{tokenID})
	if decErr != nil {
		return "", true, apperr.New(apperr.KindInternal, "session.TokenSource.Next", decErr)
	}
	return text, false, nil
}

// Factory builds a fresh TokenSource for one session-start request. The
// caller supplies this — session construction depends on a loaded model,
// KV caches, and a sampler, none of which this package owns.
type Factory func(ctx context.Context, req Request) (*TokenSource, error)

// Limiter gates how many sessions a caller may have starting
// concurrently, keyed by an arbitrary caller identity (typically the
// remote address). Each caller gets its own token bucket.
type Limiter struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	r        rate.Limit
	burst    int
}

// NewLimiter returns a Limiter allowing each caller up to burst
// concurrent session starts, refilling at r per second.
func NewLimiter(r float64, burst int) *Limiter {
	return &Limiter{
		limiters: make(map[string]*rate.Limiter),
		r:        rate.Limit(r),
		burst:    burst,
	}
}

// Allow reports whether caller may start a new session right now,
// consuming one token from their bucket if so.
func (l *Limiter) Allow(caller string) bool {
	l.mu.Lock()
	lim, ok := l.limiters[caller]
	if !ok {
		lim = rate.NewLimiter(l.r, l.burst)
		l.limiters[caller] = lim
	}
	l.mu.Unlock()
	return lim.Allow()
}
