package toolexecutor

import "strings"

// ToolCategory groups tools for display and gating
type ToolCategory string

const (
	CategoryWeb      ToolCategory = "web"
	CategoryMemory   ToolCategory = "memory"
	CategoryPlanning ToolCategory = "planning"
	CategoryRead     ToolCategory = "read"
	CategoryWrite    ToolCategory = "write"
	CategoryShell    ToolCategory = "shell"
	CategoryGeneral  ToolCategory = "general"
)

var categoryIcons = map[ToolCategory]string{
	CategoryWeb:      "🌐",
	CategoryMemory:   "🧠",
	CategoryPlanning: "📋",
	CategoryRead:     "📖",
	CategoryWrite:    "✏️",
	CategoryShell:    "⚡",
	CategoryGeneral:  "🔧",
}

// AllCategories returns all valid tool categories
func AllCategories() []ToolCategory {
	return []ToolCategory{
		CategoryWeb,
		CategoryMemory,
		CategoryPlanning,
		CategoryRead,
		CategoryWrite,
		CategoryShell,
		CategoryGeneral,
	}
}

// IsValidCategory checks if a category is valid
func IsValidCategory(category string) bool {
	cat := ToolCategory(strings.ToLower(category))
	for _, valid := range AllCategories() {
		if cat == valid {
			return true
		}
	}
	return false
}

// Icon returns the emoji shown next to tools of this category.
func (c ToolCategory) Icon() string {
	if icon, ok := categoryIcons[c]; ok {
		return icon
	}
	return categoryIcons[CategoryGeneral]
}
