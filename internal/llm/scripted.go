// internal/llm/scripted.go
package llm

import (
	"context"
	"errors"
	"sync"
)

var ErrScriptExhausted = errors.New("scripted model has no queued response")

// Scripted replays queued responses in order. It backs the offline provider,
// the diagnostics simulations and tests.
type Scripted struct {
	mu       sync.Mutex
	payloads []string
	replies  []Reply
	err      error
	requests []ChatRequest
	prompts  []GenerateRequest
}

func NewScripted() *Scripted {
	return &Scripted{}
}

func (s *Scripted) Name() string { return ProviderScripted }

// QueueJSON adds a payload for the next GenerateJSON call.
func (s *Scripted) QueueJSON(payload string) *Scripted {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.payloads = append(s.payloads, payload)
	return s
}

// QueueReply adds a reply for the next Chat call.
func (s *Scripted) QueueReply(r Reply) *Scripted {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.replies = append(s.replies, r)
	return s
}

// FailWith makes every following call return err until it is cleared with nil.
func (s *Scripted) FailWith(err error) *Scripted {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.err = err
	return s
}

func (s *Scripted) GenerateJSON(ctx context.Context, req GenerateRequest) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.prompts = append(s.prompts, req)

	if err := ctx.Err(); err != nil {
		return "", err
	}
	if s.err != nil {
		return "", s.err
	}
	if len(s.payloads) == 0 {
		return "", ErrScriptExhausted
	}
	p := s.payloads[0]
	s.payloads = s.payloads[1:]
	return p, nil
}

func (s *Scripted) Chat(ctx context.Context, req ChatRequest) (*Reply, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.requests = append(s.requests, req)

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s.err != nil {
		return nil, s.err
	}
	if len(s.replies) == 0 {
		return nil, ErrScriptExhausted
	}
	r := s.replies[0]
	s.replies = s.replies[1:]
	return &r, nil
}

// ChatRequests returns every chat request received so far.
func (s *Scripted) ChatRequests() []ChatRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]ChatRequest(nil), s.requests...)
}

// GenerateRequests returns every generation request received so far.
func (s *Scripted) GenerateRequests() []GenerateRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]GenerateRequest(nil), s.prompts...)
}
