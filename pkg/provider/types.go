package provider

// Role identifies the author of a conversation message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// Message is one entry of a conversation. Assistant messages may carry tool
// calls; tool messages reference the call they answer through ToolCallID.
type Message struct {
	Role       Role       `json:"role"`
	Content    string     `json:"content,omitempty"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
	// Name is the tool name on tool messages. Gemini needs it to pair a
	// functionResponse with its functionCall.
	Name string `json:"name,omitempty"`
}

// ToolCall is a structured request from the model to run a named tool.
type ToolCall struct {
	ID        string                 `json:"id"`
	Name      string                 `json:"name"`
	Arguments map[string]interface{} `json:"arguments"`
}

// ToolSchema advertises a tool to the model. Parameters is a JSON schema
// object with "type", "properties" and optionally "required".
type ToolSchema struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description"`
	Parameters  map[string]interface{} `json:"parameters"`
}

// Usage tracks token consumption of a single call.
type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// Add accumulates other into u.
func (u *Usage) Add(other Usage) {
	u.InputTokens += other.InputTokens
	u.OutputTokens += other.OutputTokens
}

// Response is the normalized answer of a backend: finished text, tool calls
// or both.
type Response struct {
	Text      string     `json:"text,omitempty"`
	ToolCalls []ToolCall `json:"tool_calls,omitempty"`
	Usage     Usage      `json:"usage"`
	Provider  string     `json:"provider"`
	Model     string     `json:"model"`
}

// HasToolCalls reports whether the model asked for tools.
func (r *Response) HasToolCalls() bool {
	return r != nil && len(r.ToolCalls) > 0
}

// SystemPrompt returns the content of the leading system messages joined
// together, and the remaining conversation.
func SystemPrompt(conversation []Message) (string, []Message) {
	system := ""
	rest := make([]Message, 0, len(conversation))
	for _, msg := range conversation {
		if msg.Role == RoleSystem {
			if system != "" {
				system += "\n\n"
			}
			system += msg.Content
			continue
		}
		rest = append(rest, msg)
	}
	return system, rest
}
