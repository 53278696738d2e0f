// Package openai implements the OpenAI Chat Completions API provider. It
// also serves OpenAI-compatible endpoints through WithBaseURL.
package openai

import (
	"context"
	"net/http"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"

	"github.com/vango-go/callbridge/pkg/core"
)

const (
	// DefaultModel is used when a request names no model.
	DefaultModel = "gpt-4o-mini"

	// DefaultMaxTokens is used when a request carries no limit.
	DefaultMaxTokens = 1024
)

// Provider implements core.Provider for OpenAI.
type Provider struct {
	client openai.Client
}

// Option configures the provider.
type Option func(*options)

type options struct {
	baseURL    string
	httpClient *http.Client
}

// WithBaseURL sets a custom base URL, e.g. an OpenAI-compatible gateway.
func WithBaseURL(url string) Option {
	return func(o *options) {
		o.baseURL = url
	}
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(o *options) {
		o.httpClient = client
	}
}

// New creates a new OpenAI provider with SDK retries disabled.
func New(apiKey string, opts ...Option) *Provider {
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	reqOpts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithMaxRetries(0),
	}
	if o.baseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(o.baseURL))
	}
	if o.httpClient != nil {
		reqOpts = append(reqOpts, option.WithHTTPClient(o.httpClient))
	}
	return &Provider{client: openai.NewClient(reqOpts...)}
}

// Name returns the provider identifier.
func (p *Provider) Name() string {
	return "openai"
}

// StreamText opens a streaming chat completion.
func (p *Provider) StreamText(ctx context.Context, req *core.Request) (core.TextStream, error) {
	if req == nil {
		return nil, core.NewInvalidRequestError("request is required")
	}
	return newTextStream(p.client.Chat.Completions.NewStreaming(ctx, buildParams(req))), nil
}
