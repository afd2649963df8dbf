package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	gonanoid "github.com/matoous/go-nanoid/v2"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// maxErrorBody bounds how much of an error response is kept for classification.
const maxErrorBody = 8 << 10

// GeminiAdapter implements Adapter for the Gemini generateContent API.
type GeminiAdapter struct {
	cfg    Config
	client *http.Client
}

// NewGeminiAdapter creates a Gemini adapter.
func NewGeminiAdapter(cfg Config, httpClient *http.Client) *GeminiAdapter {
	return &GeminiAdapter{cfg: cfg, client: httpClient}
}

// Name returns the provider name
func (a *GeminiAdapter) Name() string { return a.cfg.Name }

// Model returns the configured model
func (a *GeminiAdapter) Model() string { return a.cfg.Model }

type geminiPart map[string]interface{}

type geminiContent struct {
	Role  string       `json:"role"`
	Parts []geminiPart `json:"parts"`
}

// Send makes one generateContent call with apiKey.
func (a *GeminiAdapter) Send(ctx context.Context, conversation []Message, tools []ToolSchema, apiKey string) (*Response, error) {
	body, err := a.buildRequest(conversation, tools)
	if err != nil {
		return nil, malformed(a.cfg.Name, "failed to encode request: %w", err)
	}

	endpoint := strings.TrimSuffix(a.cfg.BaseURL, "/") + "/models/" + a.cfg.Model + ":generateContent"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, malformed(a.cfg.Name, "failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-goog-api-key", apiKey)

	resp, err := a.client.Do(req)
	if err != nil {
		return nil, classified(a.cfg.Name, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		errBody, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, &Error{
			Provider:   a.cfg.Name,
			Kind:       ClassifyStatus(resp.StatusCode, string(errBody)),
			StatusCode: resp.StatusCode,
			Err:        fmt.Errorf("generateContent: %s", strings.TrimSpace(gjson.GetBytes(errBody, "error.message").String())),
		}
	}

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, classified(a.cfg.Name, err)
	}

	return a.parseResponse(payload)
}

func (a *GeminiAdapter) buildRequest(conversation []Message, tools []ToolSchema) ([]byte, error) {
	system, rest := SystemPrompt(conversation)

	contents := make([]geminiContent, 0, len(rest))
	for _, msg := range rest {
		switch msg.Role {
		case RoleAssistant:
			parts := []geminiPart{}
			if msg.Content != "" {
				parts = append(parts, geminiPart{"text": msg.Content})
			}
			for _, tc := range msg.ToolCalls {
				args := tc.Arguments
				if args == nil {
					args = map[string]interface{}{}
				}
				parts = append(parts, geminiPart{"functionCall": map[string]interface{}{
					"name": tc.Name,
					"args": args,
				}})
			}
			if len(parts) > 0 {
				contents = append(contents, geminiContent{Role: "model", Parts: parts})
			}
		case RoleTool:
			part := geminiPart{"functionResponse": map[string]interface{}{
				"name":     msg.Name,
				"response": map[string]interface{}{"content": msg.Content},
			}}
			// Results of one assistant turn travel together in a single user content.
			if n := len(contents); n > 0 && contents[n-1].Role == "user" && isFunctionResponse(contents[n-1].Parts) {
				contents[n-1].Parts = append(contents[n-1].Parts, part)
				continue
			}
			contents = append(contents, geminiContent{Role: "user", Parts: []geminiPart{part}})
		default:
			if msg.Content == "" {
				continue
			}
			contents = append(contents, geminiContent{Role: "user", Parts: []geminiPart{{"text": msg.Content}}})
		}
	}

	request := map[string]interface{}{"contents": contents}
	if system != "" {
		request["systemInstruction"] = map[string]interface{}{
			"parts": []geminiPart{{"text": system}},
		}
	}
	if len(tools) > 0 {
		decls := make([]map[string]interface{}, 0, len(tools))
		for _, tool := range tools {
			decl := map[string]interface{}{
				"name":        tool.Name,
				"description": tool.Description,
			}
			// Gemini rejects OBJECT schemas with no properties.
			if props, ok := tool.Parameters["properties"].(map[string]interface{}); ok && len(props) > 0 {
				decl["parameters"] = tool.Parameters
			}
			decls = append(decls, decl)
		}
		request["tools"] = []map[string]interface{}{{"functionDeclarations": decls}}
	}

	body, err := json.Marshal(request)
	if err != nil {
		return nil, err
	}
	return sjson.SetBytes(body, "generationConfig.maxOutputTokens", a.cfg.MaxTokens)
}

func isFunctionResponse(parts []geminiPart) bool {
	if len(parts) == 0 {
		return false
	}
	_, ok := parts[0]["functionResponse"]
	return ok
}

func (a *GeminiAdapter) parseResponse(payload []byte) (*Response, error) {
	if !gjson.ValidBytes(payload) {
		return nil, malformed(a.cfg.Name, "response is not valid JSON")
	}

	candidate := gjson.GetBytes(payload, "candidates.0")
	if !candidate.Exists() {
		if reason := gjson.GetBytes(payload, "promptFeedback.blockReason").String(); reason != "" {
			return nil, malformed(a.cfg.Name, "prompt blocked: %s", reason)
		}
		return nil, malformed(a.cfg.Name, "no candidates returned")
	}

	out := &Response{
		Provider: a.cfg.Name,
		Model:    a.cfg.Model,
		Usage: Usage{
			InputTokens:  int(gjson.GetBytes(payload, "usageMetadata.promptTokenCount").Int()),
			OutputTokens: int(gjson.GetBytes(payload, "usageMetadata.candidatesTokenCount").Int()),
		},
	}

	var parseErr error
	candidate.Get("content.parts").ForEach(func(_, part gjson.Result) bool {
		if text := part.Get("text"); text.Exists() && !part.Get("thought").Bool() {
			out.Text += text.String()
		}
		call := part.Get("functionCall")
		if !call.Exists() {
			return true
		}
		args, err := decodeArguments(call.Get("args").Raw)
		if err != nil {
			parseErr = err
			return false
		}
		out.ToolCalls = append(out.ToolCalls, ToolCall{
			ID:        "call_" + gonanoid.Must(12),
			Name:      call.Get("name").String(),
			Arguments: args,
		})
		return true
	})
	if parseErr != nil {
		return nil, malformed(a.cfg.Name, "failed to parse function call args: %w", parseErr)
	}

	return out, nil
}
