package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/kaptinlin/jsonrepair"

	"github.com/CriticalRange/arula-go/internal/llm"
)

// Registry manages tool registration, lookup and execution. Lookups are
// concurrent-safe; mutation happens at startup and on MCP server
// connect/disconnect.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]Tool
}

// NewRegistry creates a new tool registry.
func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]Tool)}
}

// Register adds a tool. Duplicate names are rejected.
func (r *Registry) Register(tool Tool) error {
	def := tool.Definition()
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tools[def.Name]; exists {
		return fmt.Errorf("tool already registered: %s", def.Name)
	}
	r.tools[def.Name] = tool
	return nil
}

// Unregister removes a tool by name.
func (r *Registry) Unregister(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.tools, name)
}

// UnregisterPrefix removes every tool whose name starts with prefix.
// Used when an MCP server disconnects.
func (r *Registry) UnregisterPrefix(prefix string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for name := range r.tools {
		if strings.HasPrefix(name, prefix) {
			delete(r.tools, name)
		}
	}
}

// Get retrieves a tool by name.
func (r *Registry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	return t, ok
}

// List returns all registered tool definitions sorted by name.
func (r *Registry) List() []ToolDefinition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	defs := make([]ToolDefinition, 0, len(r.tools))
	for _, t := range r.tools {
		defs = append(defs, t.Definition())
	}
	sort.Slice(defs, func(i, j int) bool { return defs[i].Name < defs[j].Name })
	return defs
}

// Advertisement builds the tool list attached to every provider
// request. The order is deterministic for a given registry state.
func (r *Registry) Advertisement() []llm.Tool {
	defs := r.List()
	ad := make([]llm.Tool, 0, len(defs))
	for _, def := range defs {
		ad = append(ad, llm.Tool{
			Type: "function",
			Function: llm.Function{
				Name:        def.Name,
				Description: def.Description,
				Parameters:  def.SchemaMap(),
			},
		})
	}
	return ad
}

// Execute runs the tool named by a model tool call: parse arguments,
// validate against the declared schema, execute. Every failure mode is
// returned as a result the model can read, never raised.
func (r *Registry) Execute(ctx context.Context, call llm.ToolCall) ToolResult {
	name := call.Function.Name
	tool, ok := r.Get(name)
	if !ok {
		res := Failure(ErrKindUnknownTool, fmt.Sprintf("unknown tool: %s", name))
		res.ToolName = name
		return res
	}

	args, err := ParseArguments(call.Function.Arguments)
	if err != nil {
		return Failure(ErrKindInvalidParams, err.Error())
	}

	if err := tool.Validate(args); err != nil {
		return Failure(ErrKindInvalidParams, err.Error())
	}

	res := tool.Execute(ctx, args)
	if ctx.Err() == context.DeadlineExceeded && !res.Success && res.ErrorKind == "" {
		res.ErrorKind = ErrKindTimeout
	}
	return res
}

// ParseArguments decodes a tool-call argument string. Models
// occasionally emit slightly broken JSON; a repair pass is attempted
// before giving up. An empty string is the empty object.
func ParseArguments(raw string) (map[string]any, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return map[string]any{}, nil
	}

	var args map[string]any
	if err := json.Unmarshal([]byte(raw), &args); err == nil {
		return ensureObject(args), nil
	}

	repaired, err := jsonrepair.JSONRepair(raw)
	if err != nil {
		return nil, fmt.Errorf("arguments are not valid JSON: %s", truncateArgs(raw))
	}
	if err := json.Unmarshal([]byte(repaired), &args); err != nil {
		return nil, fmt.Errorf("arguments are not valid JSON: %s", truncateArgs(raw))
	}
	return ensureObject(args), nil
}

func ensureObject(args map[string]any) map[string]any {
	if args == nil {
		return map[string]any{}
	}
	return args
}

func truncateArgs(raw string) string {
	const max = 120
	if len(raw) > max {
		return raw[:max] + "..."
	}
	return raw
}
