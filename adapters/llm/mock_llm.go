package llm

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/satriahrh/bidstream/domain/repositories"
)

// MockLLM is a scripted LargeLanguageModel for local runs and tests.
// StreamText emits Fragments in order, optionally failing with Err after
// FailAfter fragments. Generate returns the first Replies entry whose key is
// contained in the user prompt, falling back to Reply.
type MockLLM struct {
	Fragments []string
	Reply     string
	Replies   map[string]string
	Err       error
	FailAfter int
	Delay     time.Duration

	mu      sync.Mutex
	prompts []repositories.Prompt
}

// NewMockLLM creates a mock that streams a short canned outline
func NewMockLLM() *MockLLM {
	return &MockLLM{
		Fragments: []string{
			"Scope of work: ",
			"remove existing shingles, ",
			"inspect decking, ",
			"install new underlayment and roofing.",
		},
		Reply: "null",
	}
}

// Prompts returns every prompt the mock received
func (m *MockLLM) Prompts() []repositories.Prompt {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]repositories.Prompt, len(m.prompts))
	copy(out, m.prompts)
	return out
}

func (m *MockLLM) record(prompt repositories.Prompt) {
	m.mu.Lock()
	m.prompts = append(m.prompts, prompt)
	m.mu.Unlock()
}

// Generate implements repositories.LargeLanguageModel
func (m *MockLLM) Generate(ctx context.Context, prompt repositories.Prompt) (string, error) {
	m.record(prompt)
	if m.Err != nil {
		return "", m.Err
	}
	for key, reply := range m.Replies {
		if strings.Contains(prompt.User, key) {
			return reply, nil
		}
	}
	return m.Reply, nil
}

// StreamText implements repositories.LargeLanguageModel
func (m *MockLLM) StreamText(ctx context.Context, prompt repositories.Prompt) (<-chan repositories.TextChunk, error) {
	m.record(prompt)
	out := make(chan repositories.TextChunk)

	go func() {
		defer close(out)
		for i, fragment := range m.Fragments {
			if m.Err != nil && i == m.FailAfter {
				send(ctx, out, repositories.TextChunk{Err: m.Err})
				return
			}
			if m.Delay > 0 {
				select {
				case <-time.After(m.Delay):
				case <-ctx.Done():
					return
				}
			}
			if !send(ctx, out, repositories.TextChunk{Text: fragment}) {
				return
			}
		}
		if m.Err != nil && m.FailAfter >= len(m.Fragments) {
			send(ctx, out, repositories.TextChunk{Err: m.Err})
		}
	}()

	return out, nil
}
