package core

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/vango-go/callbridge/pkg/core/types"
)

// Profile is the immutable per-channel completion configuration.
type Profile struct {
	Channel         string
	Model           string
	SystemPrompt    string
	MaxOutputTokens int
}

// Engine binds a provider to one channel profile. It is safe for concurrent
// use; it holds no per-call state.
type Engine struct {
	provider Provider
	profile  Profile
}

// NewEngine creates an Engine for the given provider and profile.
func NewEngine(provider Provider, profile Profile) (*Engine, error) {
	if provider == nil {
		return nil, fmt.Errorf("provider is required")
	}
	if profile.MaxOutputTokens <= 0 {
		return nil, fmt.Errorf("max output tokens must be > 0")
	}
	return &Engine{provider: provider, profile: profile}, nil
}

// Profile returns the channel profile.
func (e *Engine) Profile() Profile {
	return e.profile
}

// ProviderName returns the upstream provider name.
func (e *Engine) ProviderName() string {
	return e.provider.Name()
}

// StreamText opens one streaming completion for messages. Failures to open
// the stream are returned as *Error of type ErrProvider unless the provider
// already classified them.
func (e *Engine) StreamText(ctx context.Context, messages []types.Message) (TextStream, error) {
	if len(messages) == 0 {
		return nil, NewInvalidRequestError("at least one message is required")
	}
	req := &Request{
		Model:           e.profile.Model,
		SystemPrompt:    e.profile.SystemPrompt,
		MaxOutputTokens: e.profile.MaxOutputTokens,
		Messages:        append([]types.Message(nil), messages...),
	}
	stream, err := e.provider.StreamText(ctx, req)
	if err != nil {
		var coreErr *Error
		if errors.As(err, &coreErr) {
			return nil, err
		}
		return nil, NewProviderError(e.provider.Name(), err)
	}
	return stream, nil
}

// Complete runs a completion to the end and returns the full text.
func (e *Engine) Complete(ctx context.Context, messages []types.Message) (string, error) {
	stream, err := e.StreamText(ctx, messages)
	if err != nil {
		return "", err
	}
	defer stream.Close()
	return ReadAll(stream)
}

// ReadAll drains a stream into a single string.
func ReadAll(stream TextStream) (string, error) {
	var b strings.Builder
	for {
		chunk, err := stream.Next()
		if errors.Is(err, io.EOF) {
			return b.String(), nil
		}
		if err != nil {
			return b.String(), err
		}
		b.WriteString(chunk)
	}
}
