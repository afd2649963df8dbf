package telegram

import (
	"context"
	"fmt"
	"sort"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/harun/freeagent/internal/tracing"
	"github.com/harun/freeagent/pkg/toolexecutor"
)

// command handles one slash command and returns the reply text.
type command struct {
	description string
	run         func(ctx context.Context, key string, args string) string
}

func (h *Handler) builtinCommands() map[string]command {
	return map[string]command{
		"start":     {"Bot info & status", h.cmdStart},
		"help":      {"Show available commands", h.cmdHelp},
		"tools":     {"List available tools", h.cmdTools},
		"memory":    {"View saved memories", h.cmdMemory},
		"providers": {"Show LLM providers", h.cmdProviders},
		"reset":     {"Stop the running request and clear history", h.cmdReset},
	}
}

// BotCommands returns the command menu advertised to Telegram.
func (h *Handler) BotCommands() []tgbotapi.BotCommand {
	names := h.commandNames()
	out := make([]tgbotapi.BotCommand, 0, len(names))
	for _, name := range names {
		out = append(out, tgbotapi.BotCommand{Command: name, Description: h.commands[name].description})
	}
	return out
}

func (h *Handler) commandNames() []string {
	order := []string{"start", "help", "tools", "memory", "providers", "reset"}
	names := make([]string, 0, len(h.commands))
	for _, name := range order {
		if _, ok := h.commands[name]; ok {
			names = append(names, name)
		}
	}
	return names
}

func (h *Handler) handleCommand(ctx context.Context, msg *tgbotapi.Message) {
	name := strings.ToLower(msg.Command())
	logger := tracing.LoggerFromContext(ctx, h.logger)
	logger.Debug().Str("command", name).Msg("Command received")

	cmd, ok := h.commands[name]
	if !ok {
		h.reply(msg.Chat.ID, "Unknown command. /help")
		return
	}
	h.reply(msg.Chat.ID, cmd.run(ctx, SessionKey(msg.From.ID), msg.CommandArguments()))
}

func (h *Handler) cmdStart(ctx context.Context, key, _ string) string {
	system := "disabled"
	if h.tools.GetTool("bash") != nil {
		system = "enabled"
	}

	var sb strings.Builder
	sb.WriteString("FreeAgent Bot\n\n")
	fmt.Fprintf(&sb, "Providers: %s\n", strings.Join(h.providers.Names(), ", "))
	fmt.Fprintf(&sb, "Tools: %d\n", h.tools.GetToolCount())
	fmt.Fprintf(&sb, "System tools (bash/read/write): %s\n", system)

	if stats, err := h.store.QueryStats(ctx, key); err == nil && stats.Total > 0 {
		fmt.Fprintf(&sb, "Your requests: %d (%d failed), avg %.1fs\n", stats.Total, stats.Failed, stats.AvgElapsed.Seconds())
	}

	sb.WriteString("\nPrefix a message with @provider to pick a model for it.\n/help for commands")
	return sb.String()
}

func (h *Handler) cmdHelp(context.Context, string, string) string {
	lines := make([]string, 0, len(h.commands))
	for _, name := range h.commandNames() {
		lines = append(lines, fmt.Sprintf("/%s - %s", name, h.commands[name].description))
	}
	return strings.Join(lines, "\n")
}

func (h *Handler) cmdTools(context.Context, string, string) string {
	defs := h.tools.Definitions()
	if len(defs) == 0 {
		return "No tools available."
	}

	byCategory := make(map[toolexecutor.ToolCategory][]toolexecutor.ToolDefinition)
	for _, def := range defs {
		byCategory[def.Category] = append(byCategory[def.Category], def)
	}

	var sections []string
	for _, cat := range toolexecutor.AllCategories() {
		group := byCategory[cat]
		if len(group) == 0 {
			continue
		}
		lines := []string{fmt.Sprintf("%s %s", cat.Icon(), strings.ToUpper(string(cat[:1]))+string(cat[1:]))}
		for _, def := range group {
			lines = append(lines, fmt.Sprintf("  %s - %s", def.Name, firstSentence(def.Description)))
		}
		sections = append(sections, strings.Join(lines, "\n"))
	}
	return strings.Join(sections, "\n\n")
}

func firstSentence(s string) string {
	if i := strings.Index(s, ". "); i > 0 {
		return s[:i]
	}
	return strings.TrimSuffix(s, ".")
}

func (h *Handler) cmdMemory(ctx context.Context, key, _ string) string {
	facts, err := h.store.ListFacts(ctx, key, "")
	if err != nil {
		logger := tracing.LoggerFromContext(ctx, h.logger)
		logger.Error().Err(err).Msg("Failed to list facts")
		return "Could not load memories. Please try again."
	}
	if len(facts) == 0 {
		return "No facts saved yet."
	}

	lines := make([]string, 0, len(facts))
	for _, f := range facts {
		lines = append(lines, fmt.Sprintf("[%d] [%s] %s", f.ID, f.Category, f.Content))
	}
	return strings.Join(lines, "\n")
}

func (h *Handler) cmdProviders(context.Context, string, string) string {
	status := h.providers.Status()
	if len(status) == 0 {
		return "No providers configured."
	}
	sort.SliceStable(status, func(i, j int) bool { return status[i].Default && !status[j].Default })

	lines := []string{"Available providers:"}
	for _, s := range status {
		line := fmt.Sprintf("- %s (%s, %d keys)", s.Name, s.Model, s.Keys)
		if s.Default {
			line += " [default]"
		}
		lines = append(lines, line)
	}
	return strings.Join(lines, "\n")
}

func (h *Handler) cmdReset(ctx context.Context, key, _ string) string {
	stopped := h.queue.ResetLane(key)
	if err := h.sessions.Delete(ctx, key); err != nil {
		logger := tracing.LoggerFromContext(ctx, h.logger)
		logger.Error().Err(err).Msg("Failed to delete session")
		return "Could not clear the conversation. Please try again."
	}
	if stopped {
		return "Stopped the running request and cleared the conversation."
	}
	return "Conversation cleared."
}
