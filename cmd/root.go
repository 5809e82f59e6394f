package cmd

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/CriticalRange/arula-go/internal/agent"
	"github.com/CriticalRange/arula-go/internal/config"
	"github.com/CriticalRange/arula-go/internal/llm"
	"github.com/CriticalRange/arula-go/internal/mcp"
	"github.com/CriticalRange/arula-go/internal/session"
	"github.com/CriticalRange/arula-go/internal/tools"
	"github.com/CriticalRange/arula-go/internal/tui"
)

var (
	providerFlag string
	modelFlag    string
	resumeFlag   string
)

var rootCmd = &cobra.Command{
	Use:   "arula",
	Short: "AI assistant with streaming chat, local tools and MCP servers",
	Long: `Arula is an interactive AI assistant. It maintains a conversation with a
remote model provider, streams replies to the terminal and lets the model
act on your machine through local tools and remote MCP tool servers.

Supported providers:
  anthropic  - Claude API (ANTHROPIC_API_KEY)
  openai     - OpenAI API (OPENAI_API_KEY)
  openrouter - OpenRouter API (OPENROUTER_API_KEY)
  zai        - Z.AI coding endpoint (ZAI_API_KEY)
  ollama     - local Ollama server (no key)`,
	Run: runChat,
}

func runChat(cmd *cobra.Command, args []string) {
	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("Error loading config: %v\n", err)
		os.Exit(1)
	}

	setupLogging(cfg.Debug)

	selectedProvider := providerFlag
	if selectedProvider == "" {
		selectedProvider = cfg.ActiveProvider
	}
	if selectedProvider == "" {
		selectedProvider = "anthropic"
	}

	backend, options, err := buildBackend(cfg, selectedProvider, modelFlag)
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		os.Exit(1)
	}

	registry := tools.NewRegistry()
	var shell *tui.Model // created below; ask_user needs its prompt surface

	builtins := []tools.Tool{
		tools.NewReadFileTool(),
		tools.NewListDirTool(),
		tools.NewWriteFileTool(tui.ConfirmAction),
		tools.NewEditTool(tui.ConfirmAction),
		tools.NewBashTool(tui.ConfirmAction),
		tools.NewGlobTool(),
		tools.NewGrepTool(),
		tools.NewWebFetchTool(),
		tools.NewAskUserTool(func(q string) (string, bool) {
			if shell == nil {
				return "", false
			}
			return shell.AskUser(q)
		}),
	}
	for _, t := range builtins {
		if err := registry.Register(t); err != nil {
			fmt.Printf("Error registering tool: %v\n", err)
			os.Exit(1)
		}
	}

	mcpManager := mcp.NewManager(registry)
	defer mcpManager.Close()
	connectMCPServers(cfg, mcpManager)

	var store *session.Store
	if cfg.AutoSaveConversations {
		store, err = session.NewStore(config.ConversationsDir())
		if err != nil {
			fmt.Printf("Error opening conversation store: %v\n", err)
			os.Exit(1)
		}
		defer store.Close()
	}

	conv, err := openConversation(store, backend.Name())
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		os.Exit(1)
	}
	if store != nil {
		store.Watch(conv)
	}

	ag := agent.New(agent.Config{
		Backend:      backend,
		Registry:     registry,
		Conversation: conv,
		Store:        store,
		Options:      options,
		SystemPrompt: systemPrompt(cfg),
		LoopLimit:    cfg.ToolLoopLimit,
	})

	shell = tui.New(ag, store, options.Model)
	p := tea.NewProgram(
		shell,
		tea.WithAltScreen(),
		tea.WithoutBracketedPaste(),
	)
	if _, err := p.Run(); err != nil {
		fmt.Printf("Error running TUI: %v\n", err)
		os.Exit(1)
	}
}

// buildBackend selects and configures the provider backend.
func buildBackend(cfg *config.Config, name, modelOverride string) (llm.Backend, llm.Options, error) {
	p := cfg.Providers[name]
	model := modelOverride
	if model == "" {
		model = p.Model
	}
	apiKey := cfg.APIKey(name)

	var backend llm.Backend
	switch strings.ToLower(name) {
	case "openai":
		if model == "" {
			model = "gpt-4o"
		}
		b := llm.NewOpenAI(apiKey, model, p.APIURL)
		b.Debug = cfg.Debug
		backend = b
	case "openrouter":
		if model == "" {
			model = "anthropic/claude-sonnet-4"
		}
		b := llm.NewOpenRouter(apiKey, model, p.APIURL)
		b.Debug = cfg.Debug
		backend = b
	case "zai":
		if model == "" {
			model = "glm-4.6"
		}
		b := llm.NewZAI(apiKey, model, p.APIURL)
		b.Debug = cfg.Debug
		backend = b
	case "anthropic":
		if model == "" {
			model = "claude-sonnet-4-20250514"
		}
		b := llm.NewAnthropic(apiKey, model, p.APIURL)
		b.Debug = cfg.Debug
		backend = b
	case "ollama":
		if model == "" {
			model = "llama3.2"
		}
		b := llm.NewOllama(model, p.APIURL)
		b.Debug = cfg.Debug
		backend = b
	default:
		return nil, llm.Options{}, fmt.Errorf("unknown provider: %s (supported: anthropic, openai, openrouter, zai, ollama)", name)
	}

	return backend, llm.Options{
		Model:       model,
		MaxTokens:   p.MaxTokens,
		Temperature: p.Temperature,
		Thinking:    p.ThinkingEnabled,
	}, nil
}

// connectMCPServers dials configured servers in the background so a
// slow server never delays startup.
func connectMCPServers(cfg *config.Config, manager *mcp.Manager) {
	for label, server := range cfg.MCPServers {
		go func(label string, server config.MCPServer) {
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			err := manager.Connect(ctx, label, mcp.ServerConfig{
				URL:     server.URL,
				Command: server.Command,
				Args:    server.Args,
				Headers: server.Headers,
				Timeout: time.Duration(server.Timeout) * time.Second,
			})
			if err != nil {
				slog.Warn("mcp server unavailable", "server", label, "error", err)
			}
		}(label, server)
	}
}

func openConversation(store *session.Store, provider string) (*session.Conversation, error) {
	if resumeFlag == "" {
		return session.NewConversation(provider), nil
	}
	if store == nil {
		return nil, fmt.Errorf("cannot resume: conversation persistence is disabled")
	}
	conv, err := store.Load(resumeFlag)
	if err != nil {
		return nil, fmt.Errorf("cannot resume %s: %w", resumeFlag, err)
	}
	return conv, nil
}

func systemPrompt(cfg *config.Config) string {
	if cfg.SystemPrompt != "" {
		return cfg.SystemPrompt
	}
	cwd, _ := os.Getwd()
	return fmt.Sprintf("You are a helpful assistant running in a terminal.\n\nCurrent working directory: %s\n\nPrefer using the available tools to inspect the machine before guessing.", cwd)
}

// setupLogging sends structured logs to a file in debug mode and
// discards them otherwise; the terminal belongs to the TUI.
func setupLogging(debug bool) {
	if !debug {
		slog.SetDefault(slog.New(slog.NewTextHandler(io.Discard, nil)))
		return
	}
	logPath := filepath.Join(filepath.Dir(config.ConfigPath()), "debug.log")
	f, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0600)
	if err != nil {
		slog.SetDefault(slog.New(slog.NewTextHandler(io.Discard, nil)))
		return
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(f, &slog.HandlerOptions{Level: slog.LevelDebug})))
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.Flags().StringVarP(&providerFlag, "provider", "p", "", "LLM provider (anthropic, openai, openrouter, zai, ollama)")
	rootCmd.Flags().StringVarP(&modelFlag, "model", "m", "", "Model to use (provider-specific)")
	rootCmd.Flags().StringVarP(&resumeFlag, "resume", "r", "", "Conversation id to resume")
}
