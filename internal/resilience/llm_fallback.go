package resilience

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/auralis-app/auralis/pkg/provider/llm"
)

// ErrAllBackendsFailed is returned by [LLMFallback.Complete] when every
// configured backend failed or was cooling down.
var ErrAllBackendsFailed = errors.New("resilience: all notes backends failed")

// llmBackend pairs one notes model with the breaker tracking its health.
type llmBackend struct {
	name     string
	provider llm.Provider
	breaker  *Breaker
}

// LLMFallback implements [llm.Provider] across a chain of backends: the
// primary first, then each fallback in registration order. A backend whose
// breaker is open is skipped outright, so a cloud-model outage degrades to
// the next configured model instead of a transcript-only note.
//
// Configure the chain before use; Complete is safe to call concurrently.
type LLMFallback struct {
	cfg      BreakerConfig
	backends []llmBackend
}

var _ llm.Provider = (*LLMFallback)(nil)

// NewLLMFallback creates a chain with primary as the preferred backend. The
// breaker config applies to every backend; its Name field is overwritten
// per backend.
func NewLLMFallback(primary llm.Provider, primaryName string, cfg BreakerConfig) *LLMFallback {
	f := &LLMFallback{cfg: cfg}
	f.add(primaryName, primary)
	return f
}

// AddFallback appends a backup backend. Backends are tried in the order they
// were added, after the primary.
func (f *LLMFallback) AddFallback(name string, provider llm.Provider) {
	f.add(name, provider)
}

func (f *LLMFallback) add(name string, provider llm.Provider) {
	cfg := f.cfg
	cfg.Name = name
	f.backends = append(f.backends, llmBackend{
		name:     name,
		provider: provider,
		breaker:  NewBreaker(cfg),
	})
}

// Complete sends the request to the first healthy backend and returns its
// response. A failed backend is charged against its breaker and the next one
// is tried; a cancelled context stops the chain immediately.
func (f *LLMFallback) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	var lastErr error
	for i := range f.backends {
		b := &f.backends[i]
		var resp *llm.CompletionResponse
		err := b.breaker.Do(func() error {
			var err error
			resp, err = b.provider.Complete(ctx, req)
			return err
		})
		if err == nil {
			return resp, nil
		}
		lastErr = err
		if errors.Is(err, ErrBreakerOpen) {
			slog.Debug("resilience: skipping notes backend, breaker open", "backend", b.name)
		} else {
			slog.Warn("resilience: notes backend failed, trying next", "backend", b.name, "err", err)
		}
		if ctx.Err() != nil {
			break
		}
	}
	return nil, fmt.Errorf("%w: %v", ErrAllBackendsFailed, lastErr)
}
