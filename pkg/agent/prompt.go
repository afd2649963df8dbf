package agent

import (
	"context"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/harun/freeagent/internal/tracing"
)

const defaultMemoryFacts = 30

// DefaultBasePrompt is used when no base prompt is configured.
const DefaultBasePrompt = `You are FreeAgent, a helpful personal assistant.
Use the available tools when they help answer the user. Never claim to have searched, fetched, saved or run anything unless you actually called the matching tool.
Answer in the user's language and keep answers concise.`

// MemorySource provides the saved facts of a user as prompt text.
type MemorySource interface {
	MemoryContext(ctx context.Context, owner string, limit int) (string, error)
}

// SystemPrompter builds the system prompt of a run.
type SystemPrompter interface {
	Build(ctx context.Context, sessionKey string) string
}

// PromptBuilder assembles base prompt, skills, saved facts and the date.
type PromptBuilder struct {
	base        string
	skills      func() string
	memory      MemorySource
	memoryLimit int
	now         func() time.Time
}

// NewPromptBuilder creates a builder. skills and memory may be nil.
func NewPromptBuilder(base string, skills func() string, memory MemorySource) *PromptBuilder {
	if strings.TrimSpace(base) == "" {
		base = DefaultBasePrompt
	}
	return &PromptBuilder{
		base:        strings.TrimSpace(base),
		skills:      skills,
		memory:      memory,
		memoryLimit: defaultMemoryFacts,
		now:         time.Now,
	}
}

// Build returns the system prompt for sessionKey.
func (b *PromptBuilder) Build(ctx context.Context, sessionKey string) string {
	var sb strings.Builder
	sb.WriteString(b.base)

	if b.skills != nil {
		if skills := strings.TrimSpace(b.skills()); skills != "" {
			sb.WriteString("\n\n## Skills\n\n")
			sb.WriteString(skills)
		}
	}

	if b.memory != nil && sessionKey != "" {
		facts, err := b.memory.MemoryContext(ctx, sessionKey, b.memoryLimit)
		if err != nil {
			logger := tracing.LoggerFromContext(ctx, log.Logger)
			logger.Warn().Err(err).Msg("Failed to load memory context")
		} else if facts != "" {
			sb.WriteString("\n\n## Memory\n\nFacts saved about the user:\n")
			sb.WriteString(facts)
		}
	}

	sb.WriteString("\n\nCurrent date: ")
	sb.WriteString(b.now().Format("Monday, 2006-01-02 15:04 MST"))
	return sb.String()
}
