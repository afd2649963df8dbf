package telegram

import (
	"fmt"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/harun/freeagent/pkg/agent"
	"github.com/harun/freeagent/pkg/toolexecutor"
)

// IconFunc returns the icon shown next to a tool name.
type IconFunc func(tool string) string

// SessionKey returns the session key of a Telegram user.
func SessionKey(userID int64) string {
	return "tg-" + strconv.FormatInt(userID, 10)
}

// CategoryIcons maps tool names to their category icons through the registry.
func CategoryIcons(te *toolexecutor.ToolExecutor) IconFunc {
	return func(tool string) string {
		return te.Category(tool).Icon()
	}
}

// FormatFooter renders the tools and elapsed time line appended to answers.
func FormatFooter(tools []agent.ToolUsage, elapsed time.Duration, icon IconFunc) string {
	secs := fmt.Sprintf("⏱ %.1fs", elapsed.Seconds())
	if len(tools) == 0 {
		return "\n\n---\n" + secs
	}

	items := make([]string, 0, len(tools))
	for _, t := range tools {
		item := icon(t.Name) + " " + t.Name
		if t.Count > 1 {
			item += fmt.Sprintf(" x%d", t.Count)
		}
		items = append(items, item)
	}
	return "\n\n---\nTools: " + strings.Join(items, "  ") + "  |  " + secs
}

// FormatProgress renders a progress event for the status message.
func FormatProgress(ev agent.ProgressEvent, icon IconFunc) string {
	switch ev.Kind {
	case agent.ProgressToolRunning:
		return fmt.Sprintf("⏳ %s Using %s...", icon(ev.Tool), ev.Detail)
	default:
		if ev.Turn > 1 {
			return fmt.Sprintf("⏳ Thinking... (step %d)", ev.Turn)
		}
		return thinkingText
	}
}

// SplitMessage cuts text into chunks of at most max bytes, preferring to
// break at a newline, then at a space. Chunks never split a UTF-8 sequence.
func SplitMessage(text string, max int) []string {
	if len(text) <= max {
		return []string{text}
	}

	var chunks []string
	remaining := text
	for remaining != "" {
		if len(remaining) <= max {
			chunks = append(chunks, remaining)
			break
		}

		end := max
		for end > 0 && !utf8.RuneStart(remaining[end]) {
			end--
		}
		zone := remaining[:end]

		cut := strings.LastIndexByte(zone, '\n')
		if cut <= 0 {
			cut = strings.LastIndexByte(zone, ' ')
		}
		if cut <= 0 {
			cut = end
		}

		chunks = append(chunks, remaining[:cut])
		remaining = strings.TrimLeft(remaining[cut:], " \t\r\n")
	}
	return chunks
}
