package anthropic

import (
	"strings"

	"github.com/anthropics/anthropic-sdk-go"

	"github.com/vango-go/callbridge/pkg/core"
	"github.com/vango-go/callbridge/pkg/core/types"
)

func buildParams(req *core.Request) anthropic.MessageNewParams {
	model := req.Model
	if model == "" {
		model = DefaultModel
	}
	maxTokens := req.MaxOutputTokens
	if maxTokens <= 0 {
		maxTokens = DefaultMaxTokens
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(model),
		MaxTokens: int64(maxTokens),
	}
	if strings.TrimSpace(req.SystemPrompt) != "" {
		params.System = []anthropic.TextBlockParam{{Text: req.SystemPrompt}}
	}

	for _, msg := range types.Alternating(req.Messages) {
		block := anthropic.NewTextBlock(msg.Content)
		if msg.Role == types.RoleAssistant {
			params.Messages = append(params.Messages, anthropic.NewAssistantMessage(block))
		} else {
			params.Messages = append(params.Messages, anthropic.NewUserMessage(block))
		}
	}
	return params
}
