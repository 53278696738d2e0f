package core

import (
	"context"

	"github.com/vango-go/callbridge/pkg/core/types"
)

// Request is one completion request against an upstream model.
type Request struct {
	Model           string
	SystemPrompt    string
	MaxOutputTokens int
	Messages        []types.Message
}

// Provider is the interface that all upstream model providers implement.
type Provider interface {
	// Name returns the provider identifier (e.g., "anthropic", "openai").
	Name() string

	// StreamText opens a streaming completion. Implementations must not retry.
	StreamText(ctx context.Context, req *Request) (TextStream, error)
}

// TextStream is a lazy, finite, non-restartable sequence of text increments.
type TextStream interface {
	// Next returns the next non-empty increment. It returns "", io.EOF when
	// the model finished normally; any other error is the terminal failure.
	Next() (string, error)

	// Close releases the underlying connection. Safe to call more than once.
	Close() error
}
