package tools

import (
	"fmt"
	"net/http"
	"time"

	"github.com/harun/freeagent/pkg/store"
	"github.com/harun/freeagent/pkg/toolexecutor"
)

// FeatureSystem gates shell and file system tools.
const FeatureSystem = "system"

// Options wires the built-in tools to their collaborators.
type Options struct {
	Store      *store.Store
	HTTPClient *http.Client
	Web        WebOptions
	System     SystemOptions
	// Timezone is the IANA zone get_datetime uses when none is given.
	Timezone string
}

// Register adds all built-in tools to the registry. System tools are
// skipped by the registry unless FeatureSystem is enabled.
func Register(te *toolexecutor.ToolExecutor, opts Options) error {
	if opts.Store == nil {
		return fmt.Errorf("store is required")
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{Timeout: 20 * time.Second}
	}

	var defs []toolexecutor.ToolDefinition
	defs = append(defs, newWebTools(opts.HTTPClient, opts.Web).definitions()...)
	defs = append(defs, memoryDefinitions(opts.Store)...)
	defs = append(defs, planningDefinitions(opts.Store)...)
	defs = append(defs, datetimeDefinition(opts.Timezone))

	if te.FeatureEnabled(FeatureSystem) {
		sys, err := newSystemTools(opts.System)
		if err != nil {
			return fmt.Errorf("failed to set up system tools: %w", err)
		}
		defs = append(defs, sys.definitions()...)
	}

	for _, def := range defs {
		if err := te.RegisterTool(def); err != nil {
			return fmt.Errorf("failed to register %s: %w", def.Name, err)
		}
	}
	return nil
}
