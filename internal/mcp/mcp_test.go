package mcp

import (
	"testing"
	"time"

	mcpproto "github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
)

func TestServerConfig_CallTimeout(t *testing.T) {
	assert.Equal(t, defaultCallTimeout, ServerConfig{}.callTimeout())
	assert.Equal(t, 5*time.Second, ServerConfig{Timeout: 5 * time.Second}.callTimeout())
}

func TestToolPrefix(t *testing.T) {
	assert.Equal(t, "files_", toolPrefix("files"))
}

func TestNewRemoteTool_NamespacedAndVerbatimSchema(t *testing.T) {
	conn := &serverConn{label: "files", cfg: ServerConfig{}}
	remote := mcpproto.Tool{
		Name:        "read",
		Description: "read a file",
		InputSchema: mcpproto.ToolInputSchema{
			Type: "object",
			Properties: map[string]any{
				"path": map[string]any{"type": "string"},
			},
			Required: []string{"path"},
		},
	}

	wrapped := newRemoteTool(conn, remote)
	def := wrapped.Definition()

	assert.Equal(t, "files_read", def.Name, "remote tools are namespaced with the server prefix")
	assert.Equal(t, "read a file", def.Description)

	schema := def.SchemaMap()
	assert.Equal(t, "object", schema["type"])
	props, ok := schema["properties"].(map[string]any)
	assert.True(t, ok, "schema properties copied verbatim: %v", schema)
	assert.Contains(t, props, "path")

	// Validation runs against the copied schema before any remote call.
	assert.Error(t, wrapped.Validate(map[string]any{}), "missing required field should fail")
	assert.NoError(t, wrapped.Validate(map[string]any{"path": "/tmp"}))
}

func TestDial_RequiresEndpoint(t *testing.T) {
	_, err := dial(t.Context(), ServerConfig{})
	assert.Error(t, err)
}
