package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	mcpproto "github.com/mark3labs/mcp-go/mcp"

	"github.com/CriticalRange/arula-go/internal/tools"
)

// remoteTool adapts one discovered MCP tool to the local Tool contract.
// Its registered name is "<server>_<remote name>" and its schema is the
// server's, copied verbatim.
type remoteTool struct {
	tools.BaseTool
	conn       *serverConn
	remoteName string
}

func newRemoteTool(conn *serverConn, remote mcpproto.Tool) *remoteTool {
	return &remoteTool{
		conn:       conn,
		remoteName: remote.Name,
		BaseTool: tools.BaseTool{
			Def: tools.ToolDefinition{
				Name:        toolPrefix(conn.label) + remote.Name,
				Description: remote.Description,
				RawSchema:   schemaAsMap(remote),
			},
		},
	}
}

// schemaAsMap preserves the advertised input schema without
// reinterpretation.
func schemaAsMap(remote mcpproto.Tool) map[string]any {
	raw, err := json.Marshal(remote.InputSchema)
	if err != nil {
		return map[string]any{"type": "object"}
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil || m == nil {
		return map[string]any{"type": "object"}
	}
	return m
}

// Execute forwards to tools/call on the owning connection with a
// per-call timeout so a slow server cannot stall the agent loop.
func (t *remoteTool) Execute(ctx context.Context, args map[string]any) tools.ToolResult {
	callCtx, cancel := context.WithTimeout(ctx, t.conn.cfg.callTimeout())
	defer cancel()

	req := mcpproto.CallToolRequest{}
	req.Params.Name = t.remoteName
	req.Params.Arguments = args

	res, err := t.conn.client.CallTool(callCtx, req)
	if err != nil {
		if callCtx.Err() == context.DeadlineExceeded {
			return tools.Failure(tools.ErrKindTimeout,
				fmt.Sprintf("mcp tool %s timed out after %s", t.remoteName, t.conn.cfg.callTimeout()))
		}
		return tools.Failure(tools.ErrKindExecution, fmt.Sprintf("mcp call failed: %v", err))
	}

	text := flattenContent(res)
	if res.IsError {
		if text == "" {
			text = "mcp tool reported an error"
		}
		return tools.Failure(tools.ErrKindExecution, text)
	}
	return tools.ToolResult{Success: true, Output: text}
}

func flattenContent(res *mcpproto.CallToolResult) string {
	var parts []string
	for _, content := range res.Content {
		if tc, ok := mcpproto.AsTextContent(content); ok {
			parts = append(parts, tc.Text)
		}
	}
	return strings.Join(parts, "\n")
}
