package provider

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

// AnthropicAdapter implements Adapter for the Claude Messages API.
type AnthropicAdapter struct {
	cfg    Config
	client anthropic.Client
}

// NewAnthropicAdapter creates a Claude adapter. The API key is supplied per call.
func NewAnthropicAdapter(cfg Config, httpClient *http.Client) *AnthropicAdapter {
	opts := []option.RequestOption{
		option.WithHTTPClient(httpClient),
		option.WithMaxRetries(0),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	return &AnthropicAdapter{
		cfg:    cfg,
		client: anthropic.NewClient(opts...),
	}
}

// Name returns the provider name
func (a *AnthropicAdapter) Name() string { return a.cfg.Name }

// Model returns the configured model
func (a *AnthropicAdapter) Model() string { return a.cfg.Model }

// Send makes one Messages API call with apiKey.
func (a *AnthropicAdapter) Send(ctx context.Context, conversation []Message, tools []ToolSchema, apiKey string) (*Response, error) {
	system, rest := SystemPrompt(conversation)

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(a.cfg.Model),
		Messages:  toAnthropicMessages(rest),
		MaxTokens: int64(a.cfg.MaxTokens),
	}
	if system != "" {
		params.System = []anthropic.TextBlockParam{{Text: system}}
	}
	if len(tools) > 0 {
		params.Tools = toAnthropicTools(tools)
	}

	response, err := a.client.Messages.New(ctx, params, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, classified(a.cfg.Name, err)
	}

	out := &Response{
		Provider: a.cfg.Name,
		Model:    a.cfg.Model,
		Usage: Usage{
			InputTokens:  int(response.Usage.InputTokens),
			OutputTokens: int(response.Usage.OutputTokens),
		},
	}

	for _, block := range response.Content {
		switch b := block.AsAny().(type) {
		case anthropic.TextBlock:
			out.Text += b.Text
		case anthropic.ToolUseBlock:
			args, err := decodeArguments(b.JSON.Input.Raw())
			if err != nil {
				return nil, malformed(a.cfg.Name, "failed to parse tool input for %s: %w", b.Name, err)
			}
			out.ToolCalls = append(out.ToolCalls, ToolCall{
				ID:        b.ID,
				Name:      b.Name,
				Arguments: args,
			})
		}
	}

	if out.Text == "" && len(out.ToolCalls) == 0 && response.StopReason != anthropic.StopReasonEndTurn {
		return nil, malformed(a.cfg.Name, "empty response (stop reason %q)", response.StopReason)
	}
	return out, nil
}

// toAnthropicMessages converts the conversation. Consecutive tool results
// are grouped into one user message, as the Messages API requires.
func toAnthropicMessages(conversation []Message) []anthropic.MessageParam {
	messages := make([]anthropic.MessageParam, 0, len(conversation))
	var pending []anthropic.ContentBlockParamUnion

	flush := func() {
		if len(pending) > 0 {
			messages = append(messages, anthropic.NewUserMessage(pending...))
			pending = nil
		}
	}

	for _, msg := range conversation {
		switch msg.Role {
		case RoleTool:
			pending = append(pending, anthropic.NewToolResultBlock(msg.ToolCallID, msg.Content, false))
		case RoleAssistant:
			flush()
			blocks := []anthropic.ContentBlockParamUnion{}
			if msg.Content != "" {
				blocks = append(blocks, anthropic.NewTextBlock(msg.Content))
			}
			for _, tc := range msg.ToolCalls {
				args := tc.Arguments
				if args == nil {
					args = map[string]interface{}{}
				}
				blocks = append(blocks, anthropic.NewToolUseBlock(tc.ID, args, tc.Name))
			}
			if len(blocks) == 0 {
				continue
			}
			messages = append(messages, anthropic.MessageParam{
				Role:    anthropic.MessageParamRoleAssistant,
				Content: blocks,
			})
		default:
			flush()
			if msg.Content == "" {
				continue
			}
			messages = append(messages, anthropic.NewUserMessage(anthropic.NewTextBlock(msg.Content)))
		}
	}
	flush()

	return messages
}

func toAnthropicTools(tools []ToolSchema) []anthropic.ToolUnionParam {
	out := make([]anthropic.ToolUnionParam, 0, len(tools))
	for _, tool := range tools {
		param := anthropic.ToolParam{
			Name:        tool.Name,
			Description: anthropic.String(tool.Description),
			InputSchema: anthropic.ToolInputSchemaParam{
				Properties: tool.Parameters["properties"],
			},
		}
		if required, ok := tool.Parameters["required"].([]string); ok && len(required) > 0 {
			param.InputSchema.Required = required
		}
		out = append(out, anthropic.ToolUnionParam{OfTool: &param})
	}
	return out
}

// decodeArguments parses a JSON object of tool arguments. An empty payload
// yields an empty map.
func decodeArguments(raw string) (map[string]interface{}, error) {
	args := map[string]interface{}{}
	if raw == "" || raw == "null" {
		return args, nil
	}
	if err := json.Unmarshal([]byte(raw), &args); err != nil {
		return nil, err
	}
	return args, nil
}
