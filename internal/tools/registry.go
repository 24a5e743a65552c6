// Package tools provides the closed tool set and the dispatcher that is the
// single call surface over it.
package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/hearthd/hearth/internal/observability"
)

// Context carries the ambient identifiers and the optional allow-list for one
// dispatch. It lives only for the duration of a call.
type Context struct {
	HouseholdID string
	UserID      string

	// Allowed restricts callable tools when non-nil.
	Allowed []string
}

func (c Context) allows(name string) bool {
	if c.Allowed == nil {
		return true
	}
	for _, allowed := range c.Allowed {
		if allowed == name {
			return true
		}
	}
	return false
}

// Result is the dispatcher envelope. Exactly one of (Success && Output) or
// (!Success && Error) holds.
type Result struct {
	Success bool           `json:"success"`
	Output  map[string]any `json:"output,omitempty"`
	Error   string         `json:"error,omitempty"`
}

func ok(output map[string]any) Result {
	if output == nil {
		output = map[string]any{}
	}
	return Result{Success: true, Output: output}
}

func fail(format string, args ...any) Result {
	return Result{Success: false, Error: fmt.Sprintf(format, args...)}
}

// Call is the invocation a tool receives: filtered arguments plus the ambient
// identifiers it declared.
type Call struct {
	CallerID    string
	HouseholdID string
	UserID      string
	Args        map[string]any
}

// Tool is one named entry in the closed set.
type Tool interface {
	Name() string
	Description() string

	// Schema is the JSON-object schema for the tool's arguments. Only
	// declared properties reach Execute; the ambient properties
	// household_id and user_id are injected when declared.
	Schema() map[string]any

	Execute(ctx context.Context, call Call) (map[string]any, error)
}

// Descriptor is the external description of a tool, for prompts and for
// tool-calling model clients.
type Descriptor struct {
	Name        string
	Description string
	Schema      map[string]any
}

// Dispatcher is the uniform call surface over the registered tools. It never
// panics and never returns an error: every outcome is a Result envelope.
type Dispatcher struct {
	mu      sync.RWMutex
	tools   map[string]Tool
	schemas map[string]*jsonschema.Schema

	logger  *slog.Logger
	metrics *observability.Metrics
}

// NewDispatcher creates an empty dispatcher.
func NewDispatcher(logger *slog.Logger, metrics *observability.Metrics) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		tools:   make(map[string]Tool),
		schemas: make(map[string]*jsonschema.Schema),
		logger:  logger.With("component", "tools"),
		metrics: metrics,
	}
}

// Register adds a tool, compiling its argument schema. Re-registering a name
// replaces the previous tool.
func (d *Dispatcher) Register(tool Tool) error {
	schema, err := compileSchema(tool.Name(), tool.Schema())
	if err != nil {
		return fmt.Errorf("register %s: %w", tool.Name(), err)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.tools[tool.Name()] = tool
	d.schemas[tool.Name()] = schema
	return nil
}

// Names returns the registered tool names, sorted.
func (d *Dispatcher) Names() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	names := make([]string, 0, len(d.tools))
	for name := range d.tools {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Describe returns descriptors for the tools permitted by tc, sorted by name.
func (d *Dispatcher) Describe(tc Context) []Descriptor {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]Descriptor, 0, len(d.tools))
	for name, tool := range d.tools {
		if !tc.allows(name) {
			continue
		}
		out = append(out, Descriptor{
			Name:        name,
			Description: tool.Description(),
			Schema:      tool.Schema(),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Execute dispatches one tool call. Unknown names, allow-list misses,
// argument validation failures, tool errors, and panics all become failed
// envelopes.
func (d *Dispatcher) Execute(ctx context.Context, name string, args map[string]any, callerID string, tc Context) (result Result) {
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("tool panicked", "tool", name, "panic", fmt.Sprint(r))
			result = fail("tool %s failed", name)
		}
		if d.metrics != nil {
			status := "success"
			if !result.Success {
				status = "error"
			}
			d.metrics.ToolExecutionCounter.WithLabelValues(name, status).Inc()
			d.metrics.ToolExecutionDuration.WithLabelValues(name).Observe(time.Since(start).Seconds())
		}
	}()

	d.mu.RLock()
	tool, found := d.tools[name]
	schema := d.schemas[name]
	d.mu.RUnlock()

	if !found {
		return fail("unknown tool: %s", name)
	}
	if !tc.allows(name) {
		return fail("tool not allowed: %s", name)
	}

	filtered, err := filterArgs(tool.Schema(), args, tc)
	if err != nil {
		return fail("invalid arguments for %s: %v", name, err)
	}
	if schema != nil {
		if err := schema.Validate(normalize(filtered)); err != nil {
			return fail("invalid arguments for %s: %v", name, err)
		}
	}

	output, err := tool.Execute(ctx, Call{
		CallerID:    callerID,
		HouseholdID: tc.HouseholdID,
		UserID:      tc.UserID,
		Args:        filtered,
	})
	if err != nil {
		return fail("%v", err)
	}
	return ok(output)
}

// filterArgs keeps only the properties the schema declares and injects the
// ambient identifiers when their names appear among them.
func filterArgs(schema map[string]any, args map[string]any, tc Context) (map[string]any, error) {
	properties, _ := schema["properties"].(map[string]any)
	filtered := make(map[string]any, len(args)+2)
	for key, value := range args {
		if _, declared := properties[key]; declared {
			filtered[key] = value
		}
	}
	if _, declared := properties["household_id"]; declared {
		filtered["household_id"] = tc.HouseholdID
	}
	if _, declared := properties["user_id"]; declared {
		filtered["user_id"] = tc.UserID
	}
	return filtered, nil
}

// normalize round-trips a map through JSON so schema validation sees plain
// decoded types (float64 numbers, []any slices).
func normalize(args map[string]any) any {
	data, err := json.Marshal(args)
	if err != nil {
		return args
	}
	var out any
	if err := json.Unmarshal(data, &out); err != nil {
		return args
	}
	return out
}

func compileSchema(name string, schema map[string]any) (*jsonschema.Schema, error) {
	data, err := json.Marshal(schema)
	if err != nil {
		return nil, err
	}
	compiler := jsonschema.NewCompiler()
	url := name + ".schema.json"
	if err := compiler.AddResource(url, bytes.NewReader(data)); err != nil {
		return nil, err
	}
	return compiler.Compile(url)
}
