package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

// ConfirmFunc is a function that asks for user confirmation before a
// destructive action.
type ConfirmFunc func(prompt string) bool

// Tool is the interface all tools must implement. Execute must observe
// ctx at natural boundaries; long-running tools are cancelled through
// it.
type Tool interface {
	// Definition returns the structured tool definition
	Definition() ToolDefinition

	// Execute runs the tool with the given arguments
	Execute(ctx context.Context, args map[string]any) ToolResult

	// Validate checks if the arguments are valid
	Validate(args map[string]any) error
}

// BaseTool provides the definition and schema validation shared by all
// tools. The declared parameter schema is compiled once on first use.
type BaseTool struct {
	Def ToolDefinition

	compileOnce sync.Once
	schema      *jsonschema.Schema
	compileErr  error
}

// Definition returns the tool definition.
func (b *BaseTool) Definition() ToolDefinition {
	return b.Def
}

// Validate checks the arguments against the declared parameter schema.
func (b *BaseTool) Validate(args map[string]any) error {
	b.compileOnce.Do(func() {
		b.schema, b.compileErr = compileSchema(b.Def.SchemaMap())
	})
	if b.compileErr != nil {
		// An uncompilable schema falls back to the required-fields check
		// so a bad MCP advertisement doesn't brick the tool.
		return b.validateRequired(args)
	}

	raw, err := json.Marshal(args)
	if err != nil {
		return fmt.Errorf("arguments are not valid JSON: %w", err)
	}
	instance, err := jsonschema.UnmarshalJSON(bytes.NewReader(raw))
	if err != nil {
		return fmt.Errorf("arguments are not valid JSON: %w", err)
	}
	if err := b.schema.Validate(instance); err != nil {
		return err
	}
	return nil
}

func (b *BaseTool) validateRequired(args map[string]any) error {
	if b.Def.Parameters == nil {
		return nil
	}
	for _, required := range b.Def.Parameters.Required {
		if _, ok := args[required]; !ok {
			return fmt.Errorf("missing required argument: %s", required)
		}
	}
	return nil
}

func compileSchema(schemaMap map[string]any) (*jsonschema.Schema, error) {
	raw, err := json.Marshal(schemaMap)
	if err != nil {
		return nil, err
	}
	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(raw))
	if err != nil {
		return nil, err
	}
	c := jsonschema.NewCompiler()
	if err := c.AddResource("tool.json", doc); err != nil {
		return nil, err
	}
	return c.Compile("tool.json")
}
