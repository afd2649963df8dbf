package provider

import (
	"context"
	"fmt"
	"net/http"
	"strings"
)

// Adapter sends a conversation to one backend with exactly one API key.
// Implementations are stateless and safe for concurrent use. Every error
// they return is an *Error carrying a classified Kind.
type Adapter interface {
	Name() string
	Model() string
	Send(ctx context.Context, conversation []Message, tools []ToolSchema, apiKey string) (*Response, error)
}

// Config describes one configured provider.
type Config struct {
	Name      string   `json:"name" mapstructure:"name"`
	Keys      []string `json:"keys" mapstructure:"keys"`
	Model     string   `json:"model,omitempty" mapstructure:"model"`
	BaseURL   string   `json:"base_url,omitempty" mapstructure:"base_url"`
	MaxTokens int      `json:"max_tokens,omitempty" mapstructure:"max_tokens"`
}

// Names of the supported backends.
const (
	Claude  = "claude"
	Gemini  = "gemini"
	Groq    = "groq"
	Mistral = "mistral"
)

type defaults struct {
	model   string
	baseURL string
}

var knownProviders = map[string]defaults{
	Claude:  {model: "claude-sonnet-4-20250514", baseURL: ""},
	Gemini:  {model: "gemini-2.5-flash", baseURL: "https://generativelanguage.googleapis.com/v1beta/"},
	Groq:    {model: "llama-3.3-70b-versatile", baseURL: "https://api.groq.com/openai/v1/"},
	Mistral: {model: "mistral-small-latest", baseURL: "https://api.mistral.ai/v1/"},
}

const defaultMaxTokens = 4096

// IsKnown reports whether name is a supported backend.
func IsKnown(name string) bool {
	_, ok := knownProviders[strings.ToLower(name)]
	return ok
}

// KnownNames returns the supported backends in their default priority order.
func KnownNames() []string {
	return []string{Gemini, Groq, Mistral, Claude}
}

// WithDefaults fills empty model, base URL and token limit from the backend defaults.
func (c Config) WithDefaults() Config {
	c.Name = strings.ToLower(strings.TrimSpace(c.Name))
	d := knownProviders[c.Name]
	if c.Model == "" {
		c.Model = d.model
	}
	if c.BaseURL == "" {
		c.BaseURL = d.baseURL
	}
	if c.MaxTokens <= 0 {
		c.MaxTokens = defaultMaxTokens
	}
	return c
}

// New builds the adapter for cfg.Name. httpClient may be nil.
func New(cfg Config, httpClient *http.Client) (Adapter, error) {
	cfg = cfg.WithDefaults()
	if httpClient == nil {
		httpClient = http.DefaultClient
	}

	switch cfg.Name {
	case Claude:
		return NewAnthropicAdapter(cfg, httpClient), nil
	case Gemini:
		return NewGeminiAdapter(cfg, httpClient), nil
	case Groq, Mistral:
		return NewOpenAICompatAdapter(cfg, httpClient), nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownProvider, cfg.Name)
	}
}
