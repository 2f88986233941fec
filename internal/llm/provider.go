package llm

import "context"

// Provider is the interface all LLM backends must implement.
type Provider interface {
	// Complete sends a prompt and returns a completion.
	Complete(ctx context.Context, prompt *Prompt, opts *RequestOptions) (*Response, error)
	// CompleteStream sends a prompt and delivers the completion incrementally.
	// onDelta is invoked once per generated token fragment, in order; a non-nil
	// return from onDelta stops the stream and upstream token production.
	// The returned Response carries the fully assembled content. Streams are
	// finite and not restartable.
	CompleteStream(ctx context.Context, prompt *Prompt, opts *RequestOptions, onDelta func(delta string) error) (*Response, error)
	// Embed returns embedding vectors for the given texts.
	Embed(ctx context.Context, texts []string) ([][]float32, error)
	// Name returns the provider identifier (e.g. "anthropic", "openai").
	Name() string
}
