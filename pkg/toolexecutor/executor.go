package toolexecutor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/rs/zerolog/log"
	"github.com/xeipuuv/gojsonschema"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/harun/freeagent/internal/observability"
	"github.com/harun/freeagent/internal/tracing"
	"github.com/harun/freeagent/pkg/provider"
)

var (
	// ErrToolNotFound is reported for tool names the registry does not know.
	ErrToolNotFound = errors.New("tool not found")
	// ErrRegistrySealed is returned by RegisterTool after Seal.
	ErrRegistrySealed = errors.New("tool registry is sealed")
)

const (
	defaultTimeout   = 60 * time.Second
	defaultMaxOutput = 10 * 1024
	truncationNotice = "\n... [output truncated]"
)

// ToolParameter defines a parameter for a tool
type ToolParameter struct {
	Name        string      `json:"name"`
	Type        string      `json:"type"`
	Description string      `json:"description"`
	Required    bool        `json:"required"`
	Default     interface{} `json:"default,omitempty"`
	Enum        []string    `json:"enum,omitempty"`
	// Items is the element type of array parameters.
	Items string `json:"items,omitempty"`
}

// ToolDefinition defines a tool's metadata and handler
type ToolDefinition struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Parameters  []ToolParameter `json:"parameters"`
	Category    ToolCategory    `json:"category,omitempty"`
	// Feature gates registration: the tool is skipped unless the feature is
	// enabled in Options.EnabledFeatures. Empty means always on.
	Feature string `json:"feature,omitempty"`
	// Timeout overrides the executor and execution-context timeouts.
	Timeout time.Duration `json:"-"`
	Handler ToolHandler   `json:"-"`
}

// ToolHandler is the function signature for tool execution
type ToolHandler func(ctx context.Context, params map[string]interface{}) (interface{}, error)

// ExecutionContext provides runtime information for tool execution
type ExecutionContext struct {
	SessionKey string
	WorkingDir string
	Timeout    time.Duration
}

// ToolResult represents the result of a tool execution
type ToolResult struct {
	CallID    string        `json:"call_id,omitempty"`
	Name      string        `json:"name"`
	Success   bool          `json:"success"`
	Output    string        `json:"output,omitempty"`
	Error     string        `json:"error,omitempty"`
	Truncated bool          `json:"truncated,omitempty"`
	Duration  time.Duration `json:"duration"`
}

// Content renders the result as the payload of a tool message.
func (r ToolResult) Content() string {
	if r.Success {
		if r.Output == "" {
			return "(no output)"
		}
		return r.Output
	}
	return "Error: " + r.Error
}

// Options configures a ToolExecutor.
type Options struct {
	EnabledFeatures []string
	DefaultTimeout  time.Duration
	MaxOutput       int
}

// ToolExecutor manages and executes tools
type ToolExecutor struct {
	tools    map[string]*ToolDefinition
	schemas  map[string]*gojsonschema.Schema
	features map[string]bool
	timeout  time.Duration
	maxOut   int
	sealed   bool
	mu       sync.RWMutex
}

// New creates a new ToolExecutor
func New(opts Options) *ToolExecutor {
	te := &ToolExecutor{
		tools:    make(map[string]*ToolDefinition),
		schemas:  make(map[string]*gojsonschema.Schema),
		features: make(map[string]bool, len(opts.EnabledFeatures)),
		timeout:  opts.DefaultTimeout,
		maxOut:   opts.MaxOutput,
	}
	if te.timeout <= 0 {
		te.timeout = defaultTimeout
	}
	if te.maxOut <= 0 {
		te.maxOut = defaultMaxOutput
	}
	for _, f := range opts.EnabledFeatures {
		te.features[f] = true
	}

	log.Info().Strs("features", opts.EnabledFeatures).Msg("Tool executor initialized")

	return te
}

// FeatureEnabled reports whether a feature gate is on.
func (te *ToolExecutor) FeatureEnabled(feature string) bool {
	return feature == "" || te.features[feature]
}

// RegisterTool registers a new tool. Tools whose feature is disabled are
// skipped without error.
func (te *ToolExecutor) RegisterTool(def ToolDefinition) error {
	if err := te.validateToolDefinition(def); err != nil {
		return fmt.Errorf("invalid tool definition: %w", err)
	}

	if !te.FeatureEnabled(def.Feature) {
		log.Debug().Str("tool", def.Name).Str("feature", def.Feature).Msg("Tool skipped, feature disabled")
		return nil
	}

	if def.Category == "" {
		def.Category = CategoryGeneral
	}

	schema, err := gojsonschema.NewSchema(gojsonschema.NewGoLoader(validationSchema(def)))
	if err != nil {
		return fmt.Errorf("failed to generate schema: %w", err)
	}

	te.mu.Lock()
	defer te.mu.Unlock()

	if te.sealed {
		return fmt.Errorf("failed to register %s: %w", def.Name, ErrRegistrySealed)
	}
	if _, exists := te.tools[def.Name]; exists {
		return fmt.Errorf("tool %s already registered", def.Name)
	}

	te.tools[def.Name] = &def
	te.schemas[def.Name] = schema

	log.Info().Str("tool", def.Name).Str("category", string(def.Category)).Msg("Tool registered")

	return nil
}

// Seal freezes the registry. Later registrations fail with ErrRegistrySealed.
func (te *ToolExecutor) Seal() {
	te.mu.Lock()
	te.sealed = true
	count := len(te.tools)
	te.mu.Unlock()

	log.Info().Int("tools", count).Msg("Tool registry sealed")
}

// GetTool returns a tool definition by name
func (te *ToolExecutor) GetTool(name string) *ToolDefinition {
	te.mu.RLock()
	defer te.mu.RUnlock()

	return te.tools[name]
}

// Category returns the category of a registered tool, or CategoryGeneral.
func (te *ToolExecutor) Category(name string) ToolCategory {
	if def := te.GetTool(name); def != nil {
		return def.Category
	}
	return CategoryGeneral
}

// Definitions returns all registered tools sorted by name.
func (te *ToolExecutor) Definitions() []ToolDefinition {
	te.mu.RLock()
	defs := make([]ToolDefinition, 0, len(te.tools))
	for _, def := range te.tools {
		defs = append(defs, *def)
	}
	te.mu.RUnlock()

	sort.Slice(defs, func(i, j int) bool { return defs[i].Name < defs[j].Name })
	return defs
}

// GetToolCount returns the number of registered tools
func (te *ToolExecutor) GetToolCount() int {
	te.mu.RLock()
	defer te.mu.RUnlock()

	return len(te.tools)
}

// Schema returns the tool schemas advertised to the model, sorted by name.
func (te *ToolExecutor) Schema() []provider.ToolSchema {
	defs := te.Definitions()
	schemas := make([]provider.ToolSchema, 0, len(defs))
	for _, def := range defs {
		schemas = append(schemas, provider.ToolSchema{
			Name:        def.Name,
			Description: def.Description,
			Parameters:  parameterSchema(def),
		})
	}
	return schemas
}

// Dispatch runs a model-issued tool call. Every failure is folded into the
// returned ToolResult.
func (te *ToolExecutor) Dispatch(ctx context.Context, call provider.ToolCall, execCtx *ExecutionContext) ToolResult {
	ctx, span := tracing.StartSpan(ctx, "freeagent.toolexecutor", "toolexecutor.dispatch",
		attribute.String("tool", call.Name),
		attribute.String("call_id", call.ID),
	)
	defer span.End()

	result := te.Execute(ctx, call.Name, call.Arguments, execCtx)
	result.CallID = call.ID

	span.SetAttributes(
		attribute.Bool("success", result.Success),
		attribute.Bool("truncated", result.Truncated),
	)
	if !result.Success {
		span.SetStatus(codes.Error, result.Error)
	}

	return result
}

// Execute executes a tool with the given parameters
func (te *ToolExecutor) Execute(ctx context.Context, toolName string, params map[string]interface{}, execCtx *ExecutionContext) ToolResult {
	startTime := time.Now()
	logger := tracing.LoggerFromContext(ctx, log.Logger)

	te.mu.RLock()
	tool := te.tools[toolName]
	schema := te.schemas[toolName]
	te.mu.RUnlock()

	if tool == nil {
		logger.Warn().Str("tool", toolName).Msg("Tool not found")
		observability.RecordToolExecution(toolName, time.Since(startTime), false)
		return ToolResult{
			Name:  toolName,
			Error: fmt.Sprintf("%s: %s", ErrToolNotFound, toolName),
		}
	}

	if params == nil {
		params = map[string]interface{}{}
	}

	if err := validateParameters(schema, params); err != nil {
		logger.Warn().Str("tool", toolName).Err(err).Msg("Parameter validation failed")
		observability.RecordToolExecution(toolName, time.Since(startTime), false)
		return ToolResult{
			Name:  toolName,
			Error: fmt.Sprintf("parameter validation failed: %v", err),
		}
	}

	logger.Debug().Str("tool", toolName).Msg("Executing tool")

	timeout := te.timeout
	if execCtx != nil && execCtx.Timeout > 0 {
		timeout = execCtx.Timeout
	}
	if tool.Timeout > 0 {
		timeout = tool.Timeout
	}

	timeoutCtx, cancel := context.WithTimeout(ContextWithExecContext(ctx, execCtx), timeout)
	defer cancel()

	type outcome struct {
		value interface{}
		err   error
	}
	done := make(chan outcome, 1)

	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- outcome{err: fmt.Errorf("tool panicked: %v", r)}
			}
		}()
		value, err := tool.Handler(timeoutCtx, params)
		done <- outcome{value: value, err: err}
	}()

	var result ToolResult
	select {
	case out := <-done:
		if out.err == nil {
			output, truncated := te.truncateOutput(render(out.value))
			result = ToolResult{Name: toolName, Success: true, Output: output, Truncated: truncated}
			break
		}
		if timeoutCtx.Err() == nil {
			result = ToolResult{Name: toolName, Error: out.err.Error()}
			break
		}
		result = te.interrupted(ctx, toolName, timeout)

	case <-timeoutCtx.Done():
		result = te.interrupted(ctx, toolName, timeout)
	}

	result.Duration = time.Since(startTime)
	observability.RecordToolExecution(toolName, result.Duration, result.Success)

	event := logger.Debug()
	if !result.Success {
		event = logger.Warn().Str("error", result.Error)
	}
	event.Str("tool", toolName).
		Dur("duration", result.Duration).
		Bool("truncated", result.Truncated).
		Msg("Tool execution completed")

	return result
}

func (te *ToolExecutor) interrupted(ctx context.Context, toolName string, timeout time.Duration) ToolResult {
	if err := ctx.Err(); err != nil {
		return ToolResult{Name: toolName, Error: fmt.Sprintf("tool execution cancelled: %v", err)}
	}
	return ToolResult{Name: toolName, Error: fmt.Sprintf("tool execution timeout after %v", timeout)}
}

// validateToolDefinition validates a tool definition
func (te *ToolExecutor) validateToolDefinition(def ToolDefinition) error {
	if def.Name == "" {
		return fmt.Errorf("tool name cannot be empty")
	}
	if def.Description == "" {
		return fmt.Errorf("tool description cannot be empty")
	}
	if def.Handler == nil {
		return fmt.Errorf("tool handler cannot be nil")
	}
	if def.Category != "" && !IsValidCategory(string(def.Category)) {
		return fmt.Errorf("invalid category %s for %s", def.Category, def.Name)
	}

	validTypes := map[string]bool{
		"string": true, "number": true, "boolean": true,
		"object": true, "array": true, "integer": true,
	}
	for _, param := range def.Parameters {
		if param.Name == "" {
			return fmt.Errorf("parameter name cannot be empty")
		}
		if param.Type == "" {
			return fmt.Errorf("parameter type cannot be empty for %s", param.Name)
		}
		if param.Description == "" {
			return fmt.Errorf("parameter description cannot be empty for %s", param.Name)
		}
		if !validTypes[param.Type] {
			return fmt.Errorf("invalid parameter type %s for %s", param.Type, param.Name)
		}
	}

	return nil
}

// parameterSchema is the JSON schema advertised to the model.
func parameterSchema(def ToolDefinition) map[string]interface{} {
	properties := make(map[string]interface{}, len(def.Parameters))
	required := []string{}

	for _, param := range def.Parameters {
		paramSchema := map[string]interface{}{
			"type":        param.Type,
			"description": param.Description,
		}
		if param.Default != nil {
			paramSchema["default"] = param.Default
		}
		if len(param.Enum) > 0 {
			paramSchema["enum"] = param.Enum
		}
		if param.Type == "array" {
			items := param.Items
			if items == "" {
				items = "string"
			}
			paramSchema["items"] = map[string]interface{}{"type": items}
		}

		properties[param.Name] = paramSchema

		if param.Required {
			required = append(required, param.Name)
		}
	}

	schemaMap := map[string]interface{}{
		"type":       "object",
		"properties": properties,
	}
	if len(required) > 0 {
		schemaMap["required"] = required
	}
	return schemaMap
}

// validationSchema is parameterSchema with unknown arguments rejected.
func validationSchema(def ToolDefinition) map[string]interface{} {
	schemaMap := parameterSchema(def)
	schemaMap["additionalProperties"] = false
	return schemaMap
}

// validateParameters validates parameters against a JSON Schema
func validateParameters(schema *gojsonschema.Schema, params map[string]interface{}) error {
	if schema == nil {
		return nil
	}

	result, err := schema.Validate(gojsonschema.NewGoLoader(params))
	if err != nil {
		return err
	}

	if !result.Valid() {
		msgs := make([]string, 0, len(result.Errors()))
		for _, e := range result.Errors() {
			msgs = append(msgs, e.String())
		}
		return fmt.Errorf("validation errors: %s", strings.Join(msgs, "; "))
	}

	return nil
}

func render(value interface{}) string {
	switch v := value.(type) {
	case nil:
		return ""
	case string:
		return v
	case []byte:
		return string(v)
	case fmt.Stringer:
		return v.String()
	}
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Sprintf("%v", value)
	}
	return string(data)
}

// truncateOutput truncates output if it exceeds the size limit, never
// splitting a UTF-8 sequence.
func (te *ToolExecutor) truncateOutput(output string) (string, bool) {
	if len(output) <= te.maxOut {
		return output, false
	}

	cut := te.maxOut
	for cut > 0 && !utf8.RuneStart(output[cut]) {
		cut--
	}

	log.Debug().
		Int("original", len(output)).
		Int("truncated", cut).
		Msg("Output truncated")

	return output[:cut] + truncationNotice, true
}
