package provider

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// OpenAICompatAdapter implements Adapter for backends speaking the OpenAI
// chat completions protocol (Groq, Mistral).
type OpenAICompatAdapter struct {
	cfg    Config
	client openai.Client
}

// NewOpenAICompatAdapter creates an adapter pointed at cfg.BaseURL.
func NewOpenAICompatAdapter(cfg Config, httpClient *http.Client) *OpenAICompatAdapter {
	return &OpenAICompatAdapter{
		cfg: cfg,
		client: openai.NewClient(
			option.WithBaseURL(cfg.BaseURL),
			option.WithHTTPClient(httpClient),
			option.WithMaxRetries(0),
		),
	}
}

// Name returns the provider name
func (a *OpenAICompatAdapter) Name() string { return a.cfg.Name }

// Model returns the configured model
func (a *OpenAICompatAdapter) Model() string { return a.cfg.Model }

// Send makes one chat completion call with apiKey.
func (a *OpenAICompatAdapter) Send(ctx context.Context, conversation []Message, tools []ToolSchema, apiKey string) (*Response, error) {
	messages, err := toOpenAIMessages(conversation)
	if err != nil {
		return nil, malformed(a.cfg.Name, "failed to encode conversation: %w", err)
	}

	params := openai.ChatCompletionNewParams{
		Model:     openai.ChatModel(a.cfg.Model),
		Messages:  messages,
		MaxTokens: openai.Int(int64(a.cfg.MaxTokens)),
	}
	if len(tools) > 0 {
		params.Tools = toOpenAITools(tools)
	}

	response, err := a.client.Chat.Completions.New(ctx, params, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, classified(a.cfg.Name, err)
	}

	if len(response.Choices) == 0 {
		return nil, malformed(a.cfg.Name, "no response choices returned")
	}
	choice := response.Choices[0]

	out := &Response{
		Text:     choice.Message.Content,
		Provider: a.cfg.Name,
		Model:    a.cfg.Model,
		Usage: Usage{
			InputTokens:  int(response.Usage.PromptTokens),
			OutputTokens: int(response.Usage.CompletionTokens),
		},
	}

	for _, tc := range choice.Message.ToolCalls {
		args, err := decodeArguments(tc.Function.Arguments)
		if err != nil {
			return nil, malformed(a.cfg.Name, "failed to parse tool arguments for %s: %w", tc.Function.Name, err)
		}
		out.ToolCalls = append(out.ToolCalls, ToolCall{
			ID:        tc.ID,
			Name:      tc.Function.Name,
			Arguments: args,
		})
	}

	return out, nil
}

func toOpenAIMessages(conversation []Message) ([]openai.ChatCompletionMessageParamUnion, error) {
	messages := make([]openai.ChatCompletionMessageParamUnion, 0, len(conversation))

	for _, msg := range conversation {
		switch msg.Role {
		case RoleSystem:
			messages = append(messages, openai.SystemMessage(msg.Content))
		case RoleUser:
			messages = append(messages, openai.UserMessage(msg.Content))
		case RoleAssistant:
			if len(msg.ToolCalls) == 0 {
				messages = append(messages, openai.AssistantMessage(msg.Content))
				continue
			}
			toolCalls := make([]openai.ChatCompletionMessageToolCall, 0, len(msg.ToolCalls))
			for _, tc := range msg.ToolCalls {
				argsJSON, err := json.Marshal(tc.Arguments)
				if err != nil {
					return nil, err
				}
				toolCalls = append(toolCalls, openai.ChatCompletionMessageToolCall{
					ID:   tc.ID,
					Type: "function",
					Function: openai.ChatCompletionMessageToolCallFunction{
						Name:      tc.Name,
						Arguments: string(argsJSON),
					},
				})
			}
			assistant := openai.ChatCompletionMessage{
				Role:      "assistant",
				Content:   msg.Content,
				ToolCalls: toolCalls,
			}
			messages = append(messages, assistant.ToParam())
		case RoleTool:
			messages = append(messages, openai.ChatCompletionMessageParamUnion{
				OfTool: &openai.ChatCompletionToolMessageParam{
					ToolCallID: msg.ToolCallID,
					Content: openai.ChatCompletionToolMessageParamContentUnion{
						OfString: openai.String(msg.Content),
					},
				},
			})
		}
	}

	return messages, nil
}

func toOpenAITools(tools []ToolSchema) []openai.ChatCompletionToolParam {
	out := make([]openai.ChatCompletionToolParam, 0, len(tools))
	for _, tool := range tools {
		out = append(out, openai.ChatCompletionToolParam{
			Type: "function",
			Function: openai.FunctionDefinitionParam{
				Name:        tool.Name,
				Description: openai.String(tool.Description),
				Parameters:  openai.FunctionParameters(tool.Parameters),
			},
		})
	}
	return out
}
