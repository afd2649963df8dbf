// Package toolexecutor registers and executes structured tools for agents.
//
// The registry is built once at startup and sealed; after Seal it never
// changes. Tools tied to a feature (shell access, file system) are only
// registered when that feature is enabled, so they never reach the schema
// advertised to the model otherwise.
//
// Invariants:
// - Tool names are unique.
// - Parameters are schema-validated before execution.
// - Dispatch never returns an error: unknown tools, invalid arguments,
//   handler errors, panics and timeouts all become failed ToolResults.
//
// Usage:
//
//	exec := toolexecutor.New(toolexecutor.Options{})
//	_ = exec.RegisterTool(toolexecutor.ToolDefinition{
//		Name: "echo",
//		Description: "Echo input",
//		Parameters: []toolexecutor.ToolParameter{{Name: "text", Type: "string", Description: "text", Required: true}},
//		Handler: func(ctx context.Context, params map[string]interface{}) (interface{}, error) { return params["text"], nil },
//	})
//	exec.Seal()
//	result := exec.Dispatch(ctx, call, &toolexecutor.ExecutionContext{SessionKey: "tg-1"})
package toolexecutor
