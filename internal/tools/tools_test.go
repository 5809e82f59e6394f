package tools

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestBaseTool_Validate(t *testing.T) {
	tool := &BaseTool{
		Def: ToolDefinition{
			Name: "test_tool",
			Parameters: &JSONSchema{
				Type: "object",
				Properties: map[string]*JSONSchema{
					"path":  {Type: "string"},
					"count": {Type: "integer"},
				},
				Required: []string{"path"},
			},
		},
	}

	tests := []struct {
		name    string
		args    map[string]any
		wantErr bool
	}{
		{"valid", map[string]any{"path": "/tmp"}, false},
		{"missing required", map[string]any{}, true},
		{"wrong type", map[string]any{"path": 42}, true},
		{"extra field allowed", map[string]any{"path": "/tmp", "other": true}, false},
		{"integer field", map[string]any{"path": "/tmp", "count": float64(3)}, false},
		{"string for integer", map[string]any{"path": "/tmp", "count": "three"}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tool.Validate(tt.args)
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate(%v) error = %v, wantErr %v", tt.args, err, tt.wantErr)
			}
		})
	}
}

func TestBaseTool_ValidateNoParams(t *testing.T) {
	tool := &BaseTool{Def: ToolDefinition{Name: "bare"}}
	if err := tool.Validate(map[string]any{"anything": 1}); err != nil {
		t.Errorf("Validate() with no declared schema = %v, want nil", err)
	}
}

func TestParseArguments(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		want    map[string]any
		wantErr bool
	}{
		{"valid", `{"path":"/tmp"}`, map[string]any{"path": "/tmp"}, false},
		{"empty string is empty object", "", map[string]any{}, false},
		{"empty object", "{}", map[string]any{}, false},
		{"trailing comma repaired", `{"path":"/tmp",}`, map[string]any{"path": "/tmp"}, false},
		{"single quotes repaired", `{'path': '/tmp'}`, map[string]any{"path": "/tmp"}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseArguments(tt.raw)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseArguments(%q) error = %v, wantErr %v", tt.raw, err, tt.wantErr)
			}
			if err != nil {
				return
			}
			if got == nil {
				t.Fatal("ParseArguments() returned nil map, want empty object")
			}
			if len(got) != len(tt.want) {
				t.Errorf("ParseArguments(%q) = %v, want %v", tt.raw, got, tt.want)
			}
			for k, v := range tt.want {
				if got[k] != v {
					t.Errorf("ParseArguments(%q)[%s] = %v, want %v", tt.raw, k, got[k], v)
				}
			}
		})
	}
}

func TestToolResult_Content(t *testing.T) {
	ok := ToolResult{Success: true, Output: "all good"}
	if ok.Content() != "all good" {
		t.Errorf("Content() = %q, want raw output on success", ok.Content())
	}

	fail := Failure(ErrKindTimeout, "took too long")
	content := fail.Content()
	if !strings.Contains(content, `"kind":"tool_timeout"`) || !strings.Contains(content, "took too long") {
		t.Errorf("Content() = %q, want structured error payload", content)
	}
}

func TestReadFileTool(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "hello.txt")
	if err := os.WriteFile(path, []byte("hello world"), 0644); err != nil {
		t.Fatal(err)
	}

	tool := NewReadFileTool()
	result := tool.Execute(context.Background(), map[string]any{"path": path})
	if !result.Success {
		t.Fatalf("Execute() failed: %s", result.Error)
	}
	if result.Output != "hello world" {
		t.Errorf("Output = %q, want file contents", result.Output)
	}

	missing := tool.Execute(context.Background(), map[string]any{"path": filepath.Join(dir, "nope")})
	if missing.Success {
		t.Error("Execute() on missing file should fail")
	}
	if missing.ErrorKind != ErrKindExecution {
		t.Errorf("ErrorKind = %q, want execution_error", missing.ErrorKind)
	}
}

func TestListDirTool(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "a"), nil, 0644); err != nil {
		t.Fatal(err)
	}
	if err := os.Mkdir(filepath.Join(dir, "sub"), 0755); err != nil {
		t.Fatal(err)
	}

	tool := NewListDirTool()
	result := tool.Execute(context.Background(), map[string]any{"path": dir})
	if !result.Success {
		t.Fatalf("Execute() failed: %s", result.Error)
	}
	if !strings.Contains(result.Output, `"a"`) || !strings.Contains(result.Output, `"sub/"`) {
		t.Errorf("Output = %q, want entries array with file and dir/", result.Output)
	}
}

func TestWriteFileTool(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nested", "out.txt")

	tool := NewWriteFileTool(nil)
	result := tool.Execute(context.Background(), map[string]any{"path": path, "content": "data"})
	if !result.Success {
		t.Fatalf("Execute() failed: %s", result.Error)
	}

	content, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("written file unreadable: %v", err)
	}
	if string(content) != "data" {
		t.Errorf("file content = %q, want %q", content, "data")
	}
}

func TestWriteFileTool_Denied(t *testing.T) {
	deny := func(prompt string) bool { return false }
	tool := NewWriteFileTool(deny)
	result := tool.Execute(context.Background(), map[string]any{
		"path":    filepath.Join(t.TempDir(), "x"),
		"content": "data",
	})
	if result.Success {
		t.Error("Execute() should fail when confirmation is denied")
	}
}

func TestEditTool(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "code.go")
	original := "func first() {}\nfunc target() {}\nfunc last() {}\n"
	if err := os.WriteFile(path, []byte(original), 0644); err != nil {
		t.Fatal(err)
	}

	tool := NewEditTool(nil)
	result := tool.Execute(context.Background(), map[string]any{
		"path":       path,
		"old_string": "func target() {}",
		"new_string": "func target() { return }",
	})
	if !result.Success {
		t.Fatalf("Execute() failed: %s", result.Error)
	}

	content, _ := os.ReadFile(path)
	if !strings.Contains(string(content), "func target() { return }") {
		t.Error("edit was not applied")
	}
	if !strings.Contains(string(content), "func first() {}") {
		t.Error("unrelated content was altered")
	}
}

func TestEditTool_NonUnique(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "dup.txt")
	if err := os.WriteFile(path, []byte("x\nx\n"), 0644); err != nil {
		t.Fatal(err)
	}

	tool := NewEditTool(nil)
	result := tool.Execute(context.Background(), map[string]any{
		"path":       path,
		"old_string": "x",
		"new_string": "y",
	})
	if result.Success {
		t.Error("Execute() should fail when old_string is not unique")
	}
}

func TestBashTool(t *testing.T) {
	tool := NewBashTool(nil)
	result := tool.Execute(context.Background(), map[string]any{"command": "echo hello"})
	if !result.Success {
		t.Fatalf("Execute() failed: %s", result.Error)
	}
	if strings.TrimSpace(result.Output) != "hello" {
		t.Errorf("Output = %q, want hello", result.Output)
	}
}

func TestBashTool_Timeout(t *testing.T) {
	tool := NewBashTool(nil)
	result := tool.Execute(context.Background(), map[string]any{
		"command":         "sleep 5",
		"timeout_seconds": float64(1),
	})
	if result.Success {
		t.Fatal("Execute() should fail on timeout")
	}
	if result.ErrorKind != ErrKindTimeout {
		t.Errorf("ErrorKind = %q, want tool_timeout", result.ErrorKind)
	}
}

func TestGlobTool(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"a.go", "b.go", "c.txt"} {
		if err := os.WriteFile(filepath.Join(dir, name), nil, 0644); err != nil {
			t.Fatal(err)
		}
	}

	tool := NewGlobTool()
	result := tool.Execute(context.Background(), map[string]any{"pattern": "*.go", "path": dir})
	if !result.Success {
		t.Fatalf("Execute() failed: %s", result.Error)
	}
	if !strings.Contains(result.Output, "a.go") || !strings.Contains(result.Output, "b.go") {
		t.Errorf("Output = %q, want both .go files", result.Output)
	}
	if strings.Contains(result.Output, "c.txt") {
		t.Errorf("Output = %q, should not list c.txt", result.Output)
	}
}

func TestGrepTool(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "main.go"), []byte("package main\nfunc main() {}\n"), 0644); err != nil {
		t.Fatal(err)
	}

	tool := NewGrepTool()
	result := tool.Execute(context.Background(), map[string]any{"pattern": "func main", "path": dir})
	if !result.Success {
		t.Fatalf("Execute() failed: %s", result.Error)
	}
	if !strings.Contains(result.Output, "main.go:2") {
		t.Errorf("Output = %q, want file:line match", result.Output)
	}
}
