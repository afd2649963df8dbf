package tools

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/harun/freeagent/pkg/store"
	"github.com/harun/freeagent/pkg/toolexecutor"
)

func owner(ctx context.Context) (string, error) {
	key := toolexecutor.SessionKeyFromContext(ctx)
	if key == "" {
		return "", errors.New("no session bound to tool call")
	}
	return key, nil
}

func formatFacts(facts []store.Fact) string {
	lines := make([]string, 0, len(facts))
	for _, f := range facts {
		lines = append(lines, fmt.Sprintf("[%d] [%s] %s", f.ID, f.Category, f.Content))
	}
	return strings.Join(lines, "\n")
}

func memoryDefinitions(s *store.Store) []toolexecutor.ToolDefinition {
	return []toolexecutor.ToolDefinition{
		{
			Name:        "memory_save",
			Description: "Save an important fact to long-term memory for future conversations.",
			Category:    toolexecutor.CategoryMemory,
			Parameters: []toolexecutor.ToolParameter{
				{Name: "fact", Type: "string", Description: "The fact to remember", Required: true},
				{Name: "category", Type: "string", Description: "Category of the fact", Enum: store.FactCategories},
			},
			Handler: func(ctx context.Context, params map[string]interface{}) (interface{}, error) {
				who, err := owner(ctx)
				if err != nil {
					return nil, err
				}
				fact, err := requireString(params, "fact")
				if err != nil {
					return nil, err
				}
				category := stringArg(params, "category")
				if category == "" {
					category = "general"
				}
				id, err := s.SaveFact(ctx, who, fact, category)
				if err != nil {
					return nil, err
				}
				return fmt.Sprintf("Saved fact #%d [%s]: %s", id, category, fact), nil
			},
		},
		{
			Name:        "memory_search",
			Description: "Search long-term memory for previously saved facts.",
			Category:    toolexecutor.CategoryMemory,
			Parameters: []toolexecutor.ToolParameter{
				{Name: "keyword", Type: "string", Description: "Keyword to search for", Required: true},
			},
			Handler: func(ctx context.Context, params map[string]interface{}) (interface{}, error) {
				who, err := owner(ctx)
				if err != nil {
					return nil, err
				}
				keyword, err := requireString(params, "keyword")
				if err != nil {
					return nil, err
				}
				facts, err := s.SearchFacts(ctx, who, keyword, 20)
				if err != nil {
					return nil, err
				}
				if len(facts) == 0 {
					return fmt.Sprintf("No facts found for '%s'.", keyword), nil
				}
				return formatFacts(facts), nil
			},
		},
		{
			Name:        "memory_list",
			Description: "List all saved facts from long-term memory.",
			Category:    toolexecutor.CategoryMemory,
			Parameters: []toolexecutor.ToolParameter{
				{Name: "category", Type: "string", Description: "Optional category filter"},
			},
			Handler: func(ctx context.Context, params map[string]interface{}) (interface{}, error) {
				who, err := owner(ctx)
				if err != nil {
					return nil, err
				}
				facts, err := s.ListFacts(ctx, who, stringArg(params, "category"))
				if err != nil {
					return nil, err
				}
				if len(facts) == 0 {
					return "No facts saved yet.", nil
				}
				return formatFacts(facts), nil
			},
		},
		{
			Name:        "memory_delete",
			Description: "Delete a saved fact by its id.",
			Category:    toolexecutor.CategoryMemory,
			Parameters: []toolexecutor.ToolParameter{
				{Name: "id", Type: "integer", Description: "The fact id shown by memory_list", Required: true},
			},
			Handler: func(ctx context.Context, params map[string]interface{}) (interface{}, error) {
				who, err := owner(ctx)
				if err != nil {
					return nil, err
				}
				id := intArg(params, "id", 0)
				if err := s.DeleteFact(ctx, who, int64(id)); err != nil {
					if errors.Is(err, store.ErrNotFound) {
						return fmt.Sprintf("Fact #%d not found", id), nil
					}
					return nil, err
				}
				return fmt.Sprintf("Fact #%d deleted", id), nil
			},
		},
	}
}
