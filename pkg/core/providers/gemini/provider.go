// Package gemini implements the Google Gemini API provider using the genai SDK.
package gemini

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"google.golang.org/genai"

	"github.com/vango-go/callbridge/pkg/core"
	"github.com/vango-go/callbridge/pkg/core/types"
)

const (
	// DefaultModel is used when a request names no model.
	DefaultModel = "gemini-2.5-flash"

	// DefaultMaxTokens is used when a request carries no limit.
	DefaultMaxTokens = 1024
)

// Provider implements core.Provider for Gemini.
type Provider struct {
	client *genai.Client
}

// Option configures the provider.
type Option func(*genai.ClientConfig)

// WithBaseURL sets the base URL for API requests.
func WithBaseURL(url string) Option {
	return func(cfg *genai.ClientConfig) {
		cfg.HTTPOptions.BaseURL = url
	}
}

// WithHTTPClient sets the HTTP client for API requests.
func WithHTTPClient(client *http.Client) Option {
	return func(cfg *genai.ClientConfig) {
		cfg.HTTPClient = client
	}
}

// New creates a Gemini provider against the Gemini Developer API.
func New(ctx context.Context, apiKey string, opts ...Option) (*Provider, error) {
	cfg := &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	}
	for _, opt := range opts {
		opt(cfg)
	}
	client, err := genai.NewClient(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("gemini: create client: %w", err)
	}
	return &Provider{client: client}, nil
}

// Name returns the provider identifier.
func (p *Provider) Name() string {
	return "gemini"
}

// StreamText opens a streaming generateContent call.
func (p *Provider) StreamText(ctx context.Context, req *core.Request) (core.TextStream, error) {
	if req == nil {
		return nil, core.NewInvalidRequestError("request is required")
	}
	contents := buildContents(req.Messages)

	model := req.Model
	if model == "" {
		model = DefaultModel
	}
	maxTokens := req.MaxOutputTokens
	if maxTokens <= 0 {
		maxTokens = DefaultMaxTokens
	}
	cfg := &genai.GenerateContentConfig{MaxOutputTokens: int32(maxTokens)}
	if strings.TrimSpace(req.SystemPrompt) != "" {
		cfg.SystemInstruction = genai.NewContentFromText(req.SystemPrompt, genai.RoleUser)
	}

	return newTextStream(p.client.Models.GenerateContentStream(ctx, model, contents, cfg)), nil
}

func buildContents(messages []types.Message) []*genai.Content {
	var contents []*genai.Content
	for _, msg := range types.Alternating(messages) {
		role := genai.Role(genai.RoleUser)
		if msg.Role == types.RoleAssistant {
			role = genai.RoleModel
		}
		contents = append(contents, genai.NewContentFromText(msg.Content, role))
	}
	return contents
}

func mapError(err error) error {
	status := 0
	var apiErr genai.APIError
	var apiErrPtr *genai.APIError
	switch {
	case errors.As(err, &apiErr):
		status = apiErr.Code
	case errors.As(err, &apiErrPtr) && apiErrPtr != nil:
		status = apiErrPtr.Code
	default:
		return core.NewProviderError("gemini", err)
	}
	return core.NewUpstreamError("gemini", status, err)
}
