package anthropic

import (
	"errors"

	"github.com/anthropics/anthropic-sdk-go"

	"github.com/vango-go/callbridge/pkg/core"
)

// mapError converts an SDK failure into a *core.Error.
func mapError(err error) error {
	var apiErr *anthropic.Error
	if !errors.As(err, &apiErr) {
		return core.NewProviderError("anthropic", err)
	}
	return core.NewUpstreamError("anthropic", apiErr.StatusCode, err)
}
