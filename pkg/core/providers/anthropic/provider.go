// Package anthropic implements the Anthropic Messages API provider on top of
// the official SDK.
package anthropic

import (
	"context"
	"net/http"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/vango-go/callbridge/pkg/core"
)

const (
	// DefaultModel matches the model the chat widget has always used.
	DefaultModel = "claude-sonnet-4-20250514"

	// DefaultMaxTokens is used when a request carries no limit.
	DefaultMaxTokens = 1024
)

// Provider implements core.Provider for Anthropic.
type Provider struct {
	client anthropic.Client
}

// Option configures the provider.
type Option func(*options)

type options struct {
	baseURL    string
	httpClient *http.Client
}

// WithBaseURL sets a custom base URL.
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

// New creates a new Anthropic provider. The SDK's automatic retries are
// disabled; a failed turn is reported to the caller, never replayed.
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
	return &Provider{client: anthropic.NewClient(reqOpts...)}
}

// Name returns the provider identifier.
func (p *Provider) Name() string {
	return "anthropic"
}

// StreamText opens a streaming Messages call. Transport failures surface on
// the first Next call of the returned stream.
func (p *Provider) StreamText(ctx context.Context, req *core.Request) (core.TextStream, error) {
	if req == nil {
		return nil, core.NewInvalidRequestError("request is required")
	}
	return newTextStream(p.client.Messages.NewStreaming(ctx, buildParams(req))), nil
}
