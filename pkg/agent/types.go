package agent

import (
	"time"

	"github.com/harun/freeagent/pkg/provider"
)

// ProgressKind classifies a progress event.
type ProgressKind string

const (
	ProgressThinking    ProgressKind = "thinking"
	ProgressToolRunning ProgressKind = "tool_running"
)

// ProgressEvent reports what the loop is about to do.
type ProgressEvent struct {
	Kind ProgressKind `json:"kind"`
	// Detail is the tool name plus a short argument hint for tool events.
	Detail string `json:"detail,omitempty"`
	Tool   string `json:"tool,omitempty"`
	Turn   int    `json:"turn"`
}

// ProgressFunc receives progress events. It runs on a separate goroutine.
type ProgressFunc func(ProgressEvent)

// RunParams contains input parameters for one agent run.
type RunParams struct {
	SessionKey string `json:"session_key"`
	Prompt     string `json:"prompt"`
	// PreferredProvider is tried first for this run only.
	PreferredProvider string       `json:"preferred_provider,omitempty"`
	OnProgress        ProgressFunc `json:"-"`
}

// ToolUsage counts calls of one tool during a run.
type ToolUsage struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

// Result contains the outcome of a run.
type Result struct {
	Response  string         `json:"response"`
	ToolsUsed []ToolUsage    `json:"tools_used,omitempty"`
	Provider  string         `json:"provider,omitempty"`
	Turns     int            `json:"turns"`
	Elapsed   time.Duration  `json:"elapsed"`
	Usage     provider.Usage `json:"usage"`

	TurnLimitReached bool `json:"turn_limit_reached,omitempty"`
	Cancelled        bool `json:"cancelled,omitempty"`
	// Flagged lists tools the answer claims to have used without calling them.
	Flagged []string `json:"flagged,omitempty"`
}

// ToolCount returns the total number of tool calls.
func (r *Result) ToolCount() int {
	n := 0
	for _, u := range r.ToolsUsed {
		n += u.Count
	}
	return n
}

// toolTally records tool usage in first-use order.
type toolTally struct {
	order  []string
	counts map[string]int
}

func newToolTally() *toolTally {
	return &toolTally{counts: make(map[string]int)}
}

func (t *toolTally) add(name string) {
	if _, ok := t.counts[name]; !ok {
		t.order = append(t.order, name)
	}
	t.counts[name]++
}

func (t *toolTally) called(name string) bool {
	return t.counts[name] > 0
}

func (t *toolTally) usage() []ToolUsage {
	out := make([]ToolUsage, 0, len(t.order))
	for _, name := range t.order {
		out = append(out, ToolUsage{Name: name, Count: t.counts[name]})
	}
	return out
}
