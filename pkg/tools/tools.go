package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/rs/zerolog"
	"github.com/xeipuuv/gojsonschema"
)

// Tool is a named capability the agent can invoke.
type Tool interface {
	// Name returns the unique tool name presented to the model.
	Name() string

	// Description returns the tool description presented to the model.
	Description() string

	// InputSchema returns the JSON schema for the tool's input object.
	InputSchema() map[string]interface{}

	// Invoke executes the tool. A failed invocation is reported through the
	// Result, not the error return; the error return is reserved for
	// invocation-machinery failures.
	Invoke(ctx context.Context, input map[string]interface{}) (Result, error)
}

// Result is the outcome of one tool invocation.
type Result struct {
	Output interface{} `json:"output,omitempty"`
	Error  string      `json:"error,omitempty"`
}

// Failed reports whether the invocation produced an error outcome.
func (r Result) Failed() bool {
	return r.Error != ""
}

// Payload renders the result as the value fed back to the model and streamed
// to clients.
func (r Result) Payload() interface{} {
	if r.Failed() {
		return map[string]interface{}{"error": r.Error}
	}
	return r.Output
}

// Declaration is the provider-facing description of a tool.
type Declaration struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description"`
	InputSchema map[string]interface{} `json:"input_schema"`
}

// Registry holds the tools available to a session.
type Registry struct {
	mu      sync.RWMutex
	tools   map[string]Tool
	schemas map[string]*gojsonschema.Schema
	logger  zerolog.Logger
}

// NewRegistry creates an empty tool registry.
func NewRegistry(logger zerolog.Logger) *Registry {
	return &Registry{
		tools:   make(map[string]Tool),
		schemas: make(map[string]*gojsonschema.Schema),
		logger:  logger,
	}
}

// Register adds a tool, compiling its input schema. Duplicate names are
// rejected so the model never sees an ambiguous tool list.
func (r *Registry) Register(tool Tool) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	name := tool.Name()
	if name == "" {
		return fmt.Errorf("tool name cannot be empty")
	}
	if _, exists := r.tools[name]; exists {
		return fmt.Errorf("tool %s is duplicated", name)
	}

	schemaJSON, err := json.Marshal(tool.InputSchema())
	if err != nil {
		return fmt.Errorf("failed to marshal schema for tool %s: %w", name, err)
	}
	schema, err := gojsonschema.NewSchema(gojsonschema.NewBytesLoader(schemaJSON))
	if err != nil {
		return fmt.Errorf("failed to compile schema for tool %s: %w", name, err)
	}

	r.tools[name] = tool
	r.schemas[name] = schema

	r.logger.Debug().Str("tool", name).Msg("Tool registered")
	return nil
}

// Get retrieves a tool by name.
func (r *Registry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	tool, ok := r.tools[name]
	return tool, ok
}

// Names returns the registered tool names.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	return names
}

// Declarations returns the tool declarations passed to the model provider.
func (r *Registry) Declarations() []Declaration {
	r.mu.RLock()
	defer r.mu.RUnlock()
	decls := make([]Declaration, 0, len(r.tools))
	for _, tool := range r.tools {
		decls = append(decls, Declaration{
			Name:        tool.Name(),
			Description: tool.Description(),
			InputSchema: tool.InputSchema(),
		})
	}
	return decls
}

// Invoke validates the input and executes the named tool. Every failure mode
// is folded into the Result so the query loop continues and the model can
// react to the error.
func (r *Registry) Invoke(ctx context.Context, name string, input map[string]interface{}) Result {
	r.mu.RLock()
	tool, ok := r.tools[name]
	schema := r.schemas[name]
	r.mu.RUnlock()

	if !ok {
		return Result{Error: fmt.Sprintf("tool not found: %s", name)}
	}

	if input == nil {
		input = map[string]interface{}{}
	}

	if schema != nil {
		validation, err := schema.Validate(gojsonschema.NewGoLoader(input))
		if err != nil {
			return Result{Error: fmt.Sprintf("input validation failed: %v", err)}
		}
		if !validation.Valid() {
			msgs := ""
			for _, desc := range validation.Errors() {
				if msgs != "" {
					msgs += "; "
				}
				msgs += desc.String()
			}
			return Result{Error: fmt.Sprintf("invalid input for tool %s: %s", name, msgs)}
		}
	}

	result, err := tool.Invoke(ctx, input)
	if err != nil {
		r.logger.Warn().Err(err).Str("tool", name).Msg("Tool invocation failed")
		return Result{Error: err.Error()}
	}
	return result
}
