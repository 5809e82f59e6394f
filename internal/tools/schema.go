package tools

import "encoding/json"

// JSONSchema is the typed schema built-in tools declare for their
// parameters.
type JSONSchema struct {
	Type        string                 `json:"type"`
	Description string                 `json:"description,omitempty"`
	Properties  map[string]*JSONSchema `json:"properties,omitempty"`
	Items       *JSONSchema            `json:"items,omitempty"`
	Required    []string               `json:"required,omitempty"`
	Enum        []string               `json:"enum,omitempty"`
}

// ToolDefinition is the structured tool definition advertised to the
// model.
type ToolDefinition struct {
	Name        string      `json:"name"`
	Description string      `json:"description"`
	Parameters  *JSONSchema `json:"parameters"`

	// RawSchema preserves a schema received off the wire (MCP) verbatim.
	// When set it takes precedence over Parameters.
	RawSchema map[string]any `json:"-"`
}

// SchemaMap returns the parameter schema as a generic map, the form
// attached to provider requests and fed to the validator.
func (d ToolDefinition) SchemaMap() map[string]any {
	if d.RawSchema != nil {
		return d.RawSchema
	}
	if d.Parameters == nil {
		return map[string]any{"type": "object"}
	}
	raw, err := json.Marshal(d.Parameters)
	if err != nil {
		return map[string]any{"type": "object"}
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return map[string]any{"type": "object"}
	}
	return m
}

// Tool error kinds reported back to the model.
const (
	ErrKindInvalidParams = "invalid_params"
	ErrKindTimeout       = "tool_timeout"
	ErrKindExecution     = "execution_error"
	ErrKindUnknownTool   = "unknown_tool"
)

// ToolResult represents the output of a tool execution.
type ToolResult struct {
	Success   bool   `json:"success"`
	Output    string `json:"output"`
	Error     string `json:"error,omitempty"`
	ErrorKind string `json:"error_kind,omitempty"`

	// set on unknown_tool results so the error payload can name the
	// missing tool
	ToolName string `json:"-"`
}

type errorPayload struct {
	Kind    string `json:"kind"`
	Message string `json:"message,omitempty"`
	Name    string `json:"name,omitempty"`
}

// Content renders the result as the body of a tool message. Failures
// become a structured error description the model can recover from.
func (r ToolResult) Content() string {
	if r.Success {
		return r.Output
	}
	kind := r.ErrorKind
	if kind == "" {
		kind = ErrKindExecution
	}
	body, err := json.Marshal(map[string]errorPayload{
		"error": {Kind: kind, Message: r.Error, Name: r.ToolName},
	})
	if err != nil {
		return `{"error":{"kind":"execution_error"}}`
	}
	return string(body)
}

// Failure builds an error result of the given kind.
func Failure(kind, message string) ToolResult {
	return ToolResult{Success: false, ErrorKind: kind, Error: message}
}
