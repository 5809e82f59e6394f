package tools

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const (
	fetchTimeout     = 30 * time.Second
	fetchMaxBodySize = 1 * 1024 * 1024
)

// WebFetchTool performs a bounded HTTP GET and returns the body text.
type WebFetchTool struct {
	BaseTool
	client *http.Client
}

// NewWebFetchTool creates a new web fetch tool.
func NewWebFetchTool() *WebFetchTool {
	return &WebFetchTool{
		client: &http.Client{Timeout: fetchTimeout},
		BaseTool: BaseTool{
			Def: ToolDefinition{
				Name:        "web_fetch",
				Description: "Fetch a URL over HTTP GET and return the response body (truncated to 1MB)",
				Parameters: &JSONSchema{
					Type: "object",
					Properties: map[string]*JSONSchema{
						"url": {
							Type:        "string",
							Description: "The http(s) URL to fetch",
						},
					},
					Required: []string{"url"},
				},
			},
		},
	}
}

// Execute fetches the URL.
func (t *WebFetchTool) Execute(ctx context.Context, args map[string]any) ToolResult {
	url, _ := args["url"].(string)
	if !strings.HasPrefix(url, "http://") && !strings.HasPrefix(url, "https://") {
		return Failure(ErrKindInvalidParams, "url must start with http:// or https://")
	}

	fetchCtx, cancel := context.WithTimeout(ctx, fetchTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(fetchCtx, "GET", url, nil)
	if err != nil {
		return Failure(ErrKindInvalidParams, fmt.Sprintf("invalid url: %v", err))
	}

	resp, err := t.client.Do(req)
	if err != nil {
		if fetchCtx.Err() == context.DeadlineExceeded {
			return Failure(ErrKindTimeout, fmt.Sprintf("fetch timed out after %s", fetchTimeout))
		}
		return Failure(ErrKindExecution, fmt.Sprintf("fetch failed: %v", err))
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, fetchMaxBodySize))
	if err != nil {
		return Failure(ErrKindExecution, fmt.Sprintf("failed to read response: %v", err))
	}

	if resp.StatusCode >= 400 {
		return Failure(ErrKindExecution, fmt.Sprintf("HTTP %d: %s", resp.StatusCode, truncateArgs(string(body))))
	}

	return ToolResult{
		Success: true,
		Output:  fmt.Sprintf("HTTP %d (%s, %d bytes)\n%s", resp.StatusCode, resp.Header.Get("Content-Type"), len(body), string(body)),
	}
}
