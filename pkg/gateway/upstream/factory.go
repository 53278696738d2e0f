// Package upstream builds the model provider selected by configuration.
package upstream

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/vango-go/callbridge/pkg/core"
	"github.com/vango-go/callbridge/pkg/core/providers/anthropic"
	"github.com/vango-go/callbridge/pkg/core/providers/gemini"
	"github.com/vango-go/callbridge/pkg/core/providers/openai"
	"github.com/vango-go/callbridge/pkg/gateway/config"
)

type Factory struct {
	HTTPClient *http.Client
}

// NewHTTPClient returns the shared upstream client. Streams are long-lived,
// so only the dial and response-header phases are bounded.
func NewHTTPClient(cfg config.Config) *http.Client {
	return &http.Client{
		Transport: &http.Transport{
			Proxy: http.ProxyFromEnvironment,
			DialContext: (&net.Dialer{
				Timeout: cfg.UpstreamConnectTimeout,
			}).DialContext,
			ForceAttemptHTTP2:     true,
			MaxIdleConns:          100,
			IdleConnTimeout:       90 * time.Second,
			TLSHandshakeTimeout:   10 * time.Second,
			ExpectContinueTimeout: 1 * time.Second,
			ResponseHeaderTimeout: cfg.UpstreamResponseHeaderTimeout,
		},
	}
}

// New returns the provider named by cfg.Provider. A missing API key yields a
// provider whose every call fails with an authentication error.
func (f Factory) New(ctx context.Context, cfg config.Config) (core.Provider, error) {
	client := f.HTTPClient
	if client == nil {
		client = &http.Client{}
	}

	apiKey := strings.TrimSpace(cfg.APIKey())
	if apiKey == "" {
		return missingKeyProvider{name: cfg.Provider}, nil
	}

	switch cfg.Provider {
	case config.ProviderAnthropic:
		opts := []anthropic.Option{anthropic.WithHTTPClient(client)}
		if cfg.AnthropicBaseURL != "" {
			opts = append(opts, anthropic.WithBaseURL(cfg.AnthropicBaseURL))
		}
		return anthropic.New(apiKey, opts...), nil
	case config.ProviderOpenAI:
		opts := []openai.Option{openai.WithHTTPClient(client)}
		if cfg.OpenAIBaseURL != "" {
			opts = append(opts, openai.WithBaseURL(cfg.OpenAIBaseURL))
		}
		return openai.New(apiKey, opts...), nil
	case config.ProviderGemini:
		return gemini.New(ctx, apiKey, gemini.WithHTTPClient(client))
	default:
		return nil, fmt.Errorf("unknown provider %q", cfg.Provider)
	}
}

// DefaultModel returns the model used when MODEL is unset.
func DefaultModel(provider string) string {
	switch provider {
	case config.ProviderOpenAI:
		return openai.DefaultModel
	case config.ProviderGemini:
		return gemini.DefaultModel
	default:
		return anthropic.DefaultModel
	}
}

type missingKeyProvider struct {
	name string
}

func (p missingKeyProvider) Name() string { return p.name }

func (p missingKeyProvider) StreamText(context.Context, *core.Request) (core.TextStream, error) {
	return nil, core.NewAuthenticationError(p.name + ": no API key configured")
}
