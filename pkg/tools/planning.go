package tools

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/harun/freeagent/pkg/store"
	"github.com/harun/freeagent/pkg/toolexecutor"
)

var todoMarks = map[string]string{
	store.TodoPending:    "[ ]",
	store.TodoInProgress: "[~]",
	store.TodoCompleted:  "[x]",
}

func planningDefinitions(s *store.Store) []toolexecutor.ToolDefinition {
	return []toolexecutor.ToolDefinition{
		{
			Name:        "plan_read",
			Description: "Read the current working plan.",
			Category:    toolexecutor.CategoryPlanning,
			Handler: func(ctx context.Context, params map[string]interface{}) (interface{}, error) {
				who, err := owner(ctx)
				if err != nil {
					return nil, err
				}
				plan, err := s.GetPlan(ctx, who)
				if err != nil {
					return nil, err
				}
				if plan == "" {
					return "No plan set. Use plan_write to create one.", nil
				}
				return plan, nil
			},
		},
		{
			Name:        "plan_write",
			Description: "Replace the working plan with new content (markdown).",
			Category:    toolexecutor.CategoryPlanning,
			Parameters: []toolexecutor.ToolParameter{
				{Name: "content", Type: "string", Description: "The full plan", Required: true},
			},
			Handler: func(ctx context.Context, params map[string]interface{}) (interface{}, error) {
				who, err := owner(ctx)
				if err != nil {
					return nil, err
				}
				if err := s.SetPlan(ctx, who, stringArg(params, "content")); err != nil {
					return nil, err
				}
				return "Plan updated successfully.", nil
			},
		},
		{
			Name:        "todo_add",
			Description: "Add an item to the todo list.",
			Category:    toolexecutor.CategoryPlanning,
			Parameters: []toolexecutor.ToolParameter{
				{Name: "content", Type: "string", Description: "What needs to be done", Required: true},
			},
			Handler: func(ctx context.Context, params map[string]interface{}) (interface{}, error) {
				who, err := owner(ctx)
				if err != nil {
					return nil, err
				}
				content, err := requireString(params, "content")
				if err != nil {
					return nil, err
				}
				id, err := s.AddTodo(ctx, who, content)
				if err != nil {
					return nil, err
				}
				return fmt.Sprintf("Todo #%d added: %s", id, content), nil
			},
		},
		{
			Name:        "todo_list",
			Description: "List todo items with their status.",
			Category:    toolexecutor.CategoryPlanning,
			Handler: func(ctx context.Context, params map[string]interface{}) (interface{}, error) {
				who, err := owner(ctx)
				if err != nil {
					return nil, err
				}
				todos, err := s.ListTodos(ctx, who)
				if err != nil {
					return nil, err
				}
				if len(todos) == 0 {
					return "No todos. Use todo_add to create one.", nil
				}
				lines := make([]string, 0, len(todos))
				for _, t := range todos {
					lines = append(lines, fmt.Sprintf("#%d %s %s", t.ID, todoMarks[t.Status], t.Content))
				}
				return strings.Join(lines, "\n"), nil
			},
		},
		{
			Name:        "todo_update",
			Description: "Change the status of a todo item.",
			Category:    toolexecutor.CategoryPlanning,
			Parameters: []toolexecutor.ToolParameter{
				{Name: "id", Type: "integer", Description: "Todo id", Required: true},
				{
					Name: "status", Type: "string", Description: "New status", Required: true,
					Enum: []string{store.TodoPending, store.TodoInProgress, store.TodoCompleted},
				},
			},
			Handler: func(ctx context.Context, params map[string]interface{}) (interface{}, error) {
				who, err := owner(ctx)
				if err != nil {
					return nil, err
				}
				id := intArg(params, "id", 0)
				status := stringArg(params, "status")
				if err := s.UpdateTodoStatus(ctx, who, int64(id), status); err != nil {
					if errors.Is(err, store.ErrNotFound) {
						return fmt.Sprintf("Todo #%d not found", id), nil
					}
					return nil, err
				}
				return fmt.Sprintf("Todo #%d updated to %s", id, status), nil
			},
		},
		{
			Name:        "todo_delete",
			Description: "Delete a todo item.",
			Category:    toolexecutor.CategoryPlanning,
			Parameters: []toolexecutor.ToolParameter{
				{Name: "id", Type: "integer", Description: "Todo id", Required: true},
			},
			Handler: func(ctx context.Context, params map[string]interface{}) (interface{}, error) {
				who, err := owner(ctx)
				if err != nil {
					return nil, err
				}
				id := intArg(params, "id", 0)
				if err := s.DeleteTodo(ctx, who, int64(id)); err != nil {
					if errors.Is(err, store.ErrNotFound) {
						return fmt.Sprintf("Todo #%d not found", id), nil
					}
					return nil, err
				}
				return fmt.Sprintf("Todo #%d deleted", id), nil
			},
		},
		{
			Name:        "todo_clear_completed",
			Description: "Remove all completed todo items.",
			Category:    toolexecutor.CategoryPlanning,
			Handler: func(ctx context.Context, params map[string]interface{}) (interface{}, error) {
				who, err := owner(ctx)
				if err != nil {
					return nil, err
				}
				n, err := s.ClearCompletedTodos(ctx, who)
				if err != nil {
					return nil, err
				}
				return fmt.Sprintf("Cleared %d completed todos", n), nil
			},
		},
	}
}
