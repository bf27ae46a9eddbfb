package repositories

import "context"

// LargeLanguageModel abstracts any chat/LLM provider
type LargeLanguageModel interface {
	// Generate returns the model's complete reply to a prompt
	Generate(ctx context.Context, prompt Prompt) (string, error)
	// StreamText returns the reply as an ordered, finite sequence of
	// fragments. The channel is closed after the last fragment; a provider
	// failure is delivered as a single final chunk with Err set.
	StreamText(ctx context.Context, prompt Prompt) (<-chan TextChunk, error)
}

// Prompt is one single-turn request to a model
type Prompt struct {
	System      string
	User        string
	Temperature float32
	// JSON asks the provider for a JSON-only reply where supported
	JSON bool
}

// TextChunk is one fragment of a streamed reply
type TextChunk struct {
	Text string
	Err  error
}
