package openai

import (
	"strings"

	"github.com/openai/openai-go/v3"

	"github.com/vango-go/callbridge/pkg/core"
	"github.com/vango-go/callbridge/pkg/core/types"
)

func buildParams(req *core.Request) openai.ChatCompletionNewParams {
	model := req.Model
	if model == "" {
		model = DefaultModel
	}
	maxTokens := req.MaxOutputTokens
	if maxTokens <= 0 {
		maxTokens = DefaultMaxTokens
	}

	params := openai.ChatCompletionNewParams{
		Model:               openai.ChatModel(model),
		MaxCompletionTokens: openai.Int(int64(maxTokens)),
	}

	var conversation []openai.ChatCompletionMessageParamUnion
	for _, msg := range req.Messages {
		content := strings.TrimSpace(msg.Content)
		if content == "" {
			continue
		}
		if types.NormalizeRole(msg.Role) == types.RoleAssistant {
			conversation = append(conversation, openai.AssistantMessage(content))
		} else {
			conversation = append(conversation, openai.UserMessage(content))
		}
	}
	if len(conversation) == 0 {
		conversation = append(conversation, openai.UserMessage("Hello"))
	}

	if strings.TrimSpace(req.SystemPrompt) != "" {
		params.Messages = append(params.Messages, openai.SystemMessage(req.SystemPrompt))
	}
	params.Messages = append(params.Messages, conversation...)
	return params
}
