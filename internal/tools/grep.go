package tools

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

// GrepTool searches for content in files.
type GrepTool struct {
	BaseTool
}

// NewGrepTool creates a new content search tool.
func NewGrepTool() *GrepTool {
	return &GrepTool{
		BaseTool: BaseTool{
			Def: ToolDefinition{
				Name:        "grep",
				Description: "Search for text or regex patterns in files. Returns matching lines with file paths and line numbers.",
				Parameters: &JSONSchema{
					Type: "object",
					Properties: map[string]*JSONSchema{
						"pattern": {
							Type:        "string",
							Description: "The text or regex pattern to search for",
						},
						"path": {
							Type:        "string",
							Description: "File or directory to search in (defaults to current directory)",
						},
						"glob": {
							Type:        "string",
							Description: "Optional glob pattern to filter files (e.g., '*.go', '*.ts')",
						},
						"case_insensitive": {
							Type:        "boolean",
							Description: "If true, search is case-insensitive",
						},
					},
					Required: []string{"pattern"},
				},
			},
		},
	}
}

const (
	grepMaxMatches  = 200
	grepMaxFileSize = 10 * 1024 * 1024
)

// Execute searches for the pattern in files.
func (t *GrepTool) Execute(ctx context.Context, args map[string]any) ToolResult {
	pattern, _ := args["pattern"].(string)
	searchPath, _ := args["path"].(string)
	fileGlob, _ := args["glob"].(string)
	caseInsensitive, _ := args["case_insensitive"].(bool)

	if searchPath == "" {
		searchPath = "."
	}

	exprText := pattern
	if caseInsensitive {
		exprText = "(?i)" + exprText
	}
	expr, err := regexp.Compile(exprText)
	if err != nil {
		// Fall back to a literal search when the pattern is not a
		// valid regex.
		expr = regexp.MustCompile(regexp.QuoteMeta(exprText))
	}

	info, err := os.Stat(searchPath)
	if err != nil {
		return Failure(ErrKindExecution, fmt.Sprintf("path not found: %v", err))
	}

	var matches []string
	truncated := false

	searchFile := func(path string) {
		if truncated {
			return
		}
		if st, err := os.Stat(path); err != nil || st.Size() > grepMaxFileSize {
			return
		}
		f, err := os.Open(path)
		if err != nil {
			return
		}
		defer f.Close()

		scanner := bufio.NewScanner(f)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		lineNum := 0
		for scanner.Scan() {
			lineNum++
			line := scanner.Text()
			if strings.ContainsRune(line, '\x00') {
				return // binary file
			}
			if expr.MatchString(line) {
				matches = append(matches, fmt.Sprintf("%s:%d: %s", path, lineNum, strings.TrimSpace(line)))
				if len(matches) >= grepMaxMatches {
					truncated = true
					return
				}
			}
		}
	}

	if info.IsDir() {
		err = filepath.Walk(searchPath, func(path string, fi os.FileInfo, err error) error {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if err != nil {
				return nil
			}
			if fi.IsDir() {
				if strings.HasPrefix(fi.Name(), ".") && fi.Name() != "." && path != searchPath {
					return filepath.SkipDir
				}
				return nil
			}
			if fileGlob != "" {
				if ok, _ := filepath.Match(fileGlob, fi.Name()); !ok {
					return nil
				}
			}
			searchFile(path)
			return nil
		})
		if err != nil && ctx.Err() != nil {
			return Failure(ErrKindExecution, "search cancelled")
		}
	} else {
		searchFile(searchPath)
	}

	if len(matches) == 0 {
		return ToolResult{Success: true, Output: "No matches found for pattern: " + pattern}
	}

	output := strings.Join(matches, "\n")
	if truncated {
		output += fmt.Sprintf("\n... results truncated at %d matches", grepMaxMatches)
	}
	return ToolResult{
		Success: true,
		Output:  fmt.Sprintf("Found %d matches:\n%s", len(matches), output),
	}
}
