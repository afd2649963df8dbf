package agent

import (
	"fmt"
	"regexp"
	"strings"
)

// claim maps a first-person statement of tool use to the tools that would
// justify it. The first tool names the claim.
type claim struct {
	pattern *regexp.Regexp
	tools   []string
}

const subject = `(?i)\bI(?:'ve|’ve| have| just| already)*\s+`

var defaultClaims = []claim{
	{regexp.MustCompile(subject + `(?:searched|googled|looked up)\b`), []string{"web_search", "web_fetch", "memory_search"}},
	{regexp.MustCompile(subject + `(?:fetched|visited|browsed|opened|read)\s+(?:the\s+|this\s+|that\s+)?(?:web\s*page|page|website|site|article|url|link)\b`), []string{"web_fetch"}},
	{regexp.MustCompile(subject + `(?:saved|stored|memorized|noted)\b.{0,40}\bmemory\b`), []string{"memory_save"}},
	{regexp.MustCompile(subject + `(?:checked|searched|looked\s+(?:through|in))\s+(?:my\s+|your\s+|the\s+)?memor(?:y|ies)\b`), []string{"memory_search", "memory_list"}},
	{regexp.MustCompile(subject + `(?:deleted|removed|forgotten|forgot)\s+(?:that\s+|the\s+|this\s+)?(?:fact|memory)\b`), []string{"memory_delete"}},
	{regexp.MustCompile(subject + `(?:ran|executed)\s+(?:the\s+|a\s+|this\s+|that\s+)?(?:command|script)\b`), []string{"bash"}},
	{regexp.MustCompile(subject + `(?:read|opened)\s+(?:the\s+|your\s+|this\s+)?file\b`), []string{"read_file"}},
	{regexp.MustCompile(subject + `(?:written|wrote|created|saved)\s+(?:the\s+|a\s+|your\s+|this\s+)?file\b`), []string{"write_file"}},
	{regexp.MustCompile(subject + `(?:updated|created|written|wrote|saved)\s+(?:the\s+|a\s+|your\s+)?plan\b`), []string{"plan_write"}},
	{regexp.MustCompile(subject + `added\b.{0,40}\b(?:todo|to-do|task)\s*list\b`), []string{"todo_add"}},
}

var (
	sentencePattern = regexp.MustCompile(`[^.!?\n]+[.!?]*`)
	// A modal or conditional right before "I" turns the phrase into an offer
	// or a hypothetical ("should I run...", "if I read the file...").
	modalBefore = regexp.MustCompile(`(?i)\b(?:should|shall|can|could|will|would|may|might|must|do|did|if)\s*$`)
)

const cautionNotice = "⚠️ Note: this answer mentions actions that were not actually performed (%s). Treat those parts with caution."

// Guard detects answers that narrate tool use which never happened.
type Guard struct {
	claims []claim
}

// NewGuard creates a guard with the built-in phrase table.
func NewGuard() *Guard {
	return &Guard{claims: defaultClaims}
}

// Check returns the tools the text claims to have used although none of the
// justifying tools was called. called reports whether a tool ran this turn.
func (g *Guard) Check(text string, called func(name string) bool) []string {
	if text == "" {
		return nil
	}

	sentences := statements(text)

	var flagged []string
	seen := make(map[string]bool)
	for _, c := range g.claims {
		if !claimed(c.pattern, sentences) {
			continue
		}
		justified := false
		for _, tool := range c.tools {
			if called(tool) {
				justified = true
				break
			}
		}
		if !justified && !seen[c.tools[0]] {
			seen[c.tools[0]] = true
			flagged = append(flagged, c.tools[0])
		}
	}
	return flagged
}

// statements splits text into sentences and drops questions.
func statements(text string) []string {
	var out []string
	for _, s := range sentencePattern.FindAllString(text, -1) {
		s = strings.TrimSpace(s)
		if s == "" || strings.HasSuffix(s, "?") {
			continue
		}
		out = append(out, s)
	}
	return out
}

// claimed reports whether some sentence asserts the phrase outright.
func claimed(pattern *regexp.Regexp, sentences []string) bool {
	for _, s := range sentences {
		for _, loc := range pattern.FindAllStringIndex(s, -1) {
			if !modalBefore.MatchString(s[:loc[0]]) {
				return true
			}
		}
	}
	return false
}

// Annotate appends a caution notice naming the flagged tools.
func (g *Guard) Annotate(text string, flagged []string) string {
	if len(flagged) == 0 {
		return text
	}
	return strings.TrimRight(text, "\n") + "\n\n" + fmt.Sprintf(cautionNotice, strings.Join(flagged, ", "))
}
