// Package config reads and writes the per-user configuration file.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Provider holds one backend's settings.
type Provider struct {
	APIKey          string  `json:"api_key" yaml:"api_key"`
	APIURL          string  `json:"api_url,omitempty" yaml:"api_url"`
	Model           string  `json:"model" yaml:"model"`
	MaxTokens       int     `json:"max_tokens,omitempty" yaml:"max_tokens"`
	Temperature     float64 `json:"temperature,omitempty" yaml:"temperature"`
	Streaming       bool    `json:"streaming" yaml:"streaming"`
	ThinkingEnabled bool    `json:"thinking_enabled,omitempty" yaml:"thinking_enabled"`
}

// MCPServer describes one remote tool server.
type MCPServer struct {
	URL     string            `json:"url,omitempty" yaml:"url"`
	Command string            `json:"command,omitempty" yaml:"command"`
	Args    []string          `json:"args,omitempty" yaml:"args"`
	Headers map[string]string `json:"headers,omitempty" yaml:"headers"`
	Timeout int               `json:"timeout,omitempty" yaml:"timeout"` // seconds
}

// Config holds all application configuration.
type Config struct {
	ActiveProvider        string               `json:"active_provider" yaml:"active_provider"`
	Providers             map[string]Provider  `json:"providers" yaml:"providers"`
	MCPServers            map[string]MCPServer `json:"mcp_servers,omitempty" yaml:"mcp_servers"`
	SystemPrompt          string               `json:"system_prompt,omitempty" yaml:"system_prompt"`
	AutoSaveConversations bool                 `json:"auto_save_conversations" yaml:"auto_save_conversations"`
	ToolLoopLimit         int                  `json:"tool_loop_limit" yaml:"tool_loop_limit"`
	Debug                 bool                 `json:"debug,omitempty" yaml:"debug"`
}

var (
	configDir  string
	configFile string
	legacyFile string
	current    *Config
)

func init() {
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	configDir = filepath.Join(home, ".config", "arula")
	configFile = filepath.Join(configDir, "config.json")
	legacyFile = filepath.Join(configDir, "config.yaml")
}

// defaults returns a usable empty configuration.
func defaults() *Config {
	return &Config{
		ActiveProvider:        "anthropic",
		Providers:             map[string]Provider{},
		AutoSaveConversations: true,
		ToolLoopLimit:         25,
	}
}

// Load reads the config from disk, migrating a legacy YAML file on
// first run. Missing fields are defaulted, unknown fields ignored.
func Load() (*Config, error) {
	if current != nil {
		return current, nil
	}

	cfg := defaults()

	data, err := os.ReadFile(configFile)
	switch {
	case err == nil:
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	case os.IsNotExist(err):
		migrated, merr := migrateLegacy(cfg)
		if merr != nil {
			return nil, merr
		}
		if !migrated {
			current = cfg
			return current, nil // no file yet, run with defaults
		}
	default:
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	applyDefaults(cfg)
	current = cfg
	return current, nil
}

// migrateLegacy converts a previously-used YAML config to JSON
// atomically and removes the YAML file after a successful conversion.
func migrateLegacy(cfg *Config) (bool, error) {
	data, err := os.ReadFile(legacyFile)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("failed to read legacy config: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return false, fmt.Errorf("failed to parse legacy config: %w", err)
	}
	applyDefaults(cfg)
	if err := write(cfg); err != nil {
		return false, fmt.Errorf("failed to convert legacy config: %w", err)
	}
	if err := os.Remove(legacyFile); err != nil {
		return false, fmt.Errorf("failed to remove legacy config: %w", err)
	}
	return true, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Providers == nil {
		cfg.Providers = map[string]Provider{}
	}
	if cfg.ToolLoopLimit <= 0 {
		cfg.ToolLoopLimit = 25
	}
	if cfg.ActiveProvider == "" {
		cfg.ActiveProvider = "anthropic"
	}
}

// Save writes the config to disk atomically.
func Save(cfg *Config) error {
	if err := write(cfg); err != nil {
		return err
	}
	current = cfg
	return nil
}

func write(cfg *Config) error {
	if err := os.MkdirAll(configDir, 0700); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	tmp, err := os.CreateTemp(configDir, ".config-*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("failed to write config: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to close temp file: %w", err)
	}
	if err := os.Chmod(tmpName, 0600); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to set config mode: %w", err)
	}
	if err := os.Rename(tmpName, configFile); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to replace config file: %w", err)
	}
	return nil
}

// Get returns the current config, loading if necessary.
func Get() *Config {
	if current == nil {
		_, _ = Load()
	}
	if current == nil {
		current = defaults()
	}
	return current
}

// APIKey resolves a provider's key from the config or the conventional
// environment variable.
func (c *Config) APIKey(provider string) string {
	if p, ok := c.Providers[provider]; ok && p.APIKey != "" {
		return p.APIKey
	}
	return os.Getenv(strings.ToUpper(provider) + "_API_KEY")
}

// Set updates a value by key. Provider fields use "<name>.<field>"
// paths, e.g. "openai.api_key" or "anthropic.model".
func Set(key, value string) error {
	cfg, err := Load()
	if err != nil {
		return err
	}

	if name, field, ok := strings.Cut(key, "."); ok {
		p := cfg.Providers[name]
		switch field {
		case "api_key":
			p.APIKey = value
		case "api_url":
			p.APIURL = value
		case "model":
			p.Model = value
		case "max_tokens":
			n, err := strconv.Atoi(value)
			if err != nil {
				return fmt.Errorf("max_tokens must be an integer: %w", err)
			}
			p.MaxTokens = n
		case "temperature":
			t, err := strconv.ParseFloat(value, 64)
			if err != nil {
				return fmt.Errorf("temperature must be a number: %w", err)
			}
			p.Temperature = t
		case "streaming":
			p.Streaming = value == "true"
		case "thinking_enabled":
			p.ThinkingEnabled = value == "true"
		default:
			return fmt.Errorf("unknown provider field: %s", field)
		}
		cfg.Providers[name] = p
		return Save(cfg)
	}

	switch key {
	case "active_provider", "provider":
		cfg.ActiveProvider = value
	case "system_prompt":
		cfg.SystemPrompt = value
	case "auto_save_conversations":
		cfg.AutoSaveConversations = value == "true"
	case "tool_loop_limit":
		n, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("tool_loop_limit must be an integer: %w", err)
		}
		cfg.ToolLoopLimit = n
	case "debug":
		cfg.Debug = value == "true"
	default:
		return fmt.Errorf("unknown config key: %s", key)
	}
	return Save(cfg)
}

// Delete clears a value by key, using the same paths as Set.
func Delete(key string) error {
	cfg, err := Load()
	if err != nil {
		return err
	}

	if name, field, ok := strings.Cut(key, "."); ok {
		p, exists := cfg.Providers[name]
		if !exists {
			return fmt.Errorf("unknown provider: %s", name)
		}
		switch field {
		case "api_key":
			p.APIKey = ""
		case "api_url":
			p.APIURL = ""
		case "model":
			p.Model = ""
		default:
			return fmt.Errorf("unknown provider field: %s", field)
		}
		cfg.Providers[name] = p
		return Save(cfg)
	}

	switch key {
	case "system_prompt":
		cfg.SystemPrompt = ""
	case "debug":
		cfg.Debug = false
	default:
		return fmt.Errorf("unknown config key: %s", key)
	}
	return Save(cfg)
}

// ConfigPath returns the path to the config file.
func ConfigPath() string {
	return configFile
}

// ConversationsDir returns the directory persisted conversations live
// in.
func ConversationsDir() string {
	return filepath.Join(configDir, "conversations")
}

// ListKeys returns configured values for display, with keys masked.
func ListKeys() map[string]string {
	cfg := Get()
	result := make(map[string]string)

	result["active_provider"] = cfg.ActiveProvider
	result["tool_loop_limit"] = strconv.Itoa(cfg.ToolLoopLimit)
	result["auto_save_conversations"] = strconv.FormatBool(cfg.AutoSaveConversations)
	if cfg.Debug {
		result["debug"] = "true"
	}
	if cfg.SystemPrompt != "" {
		result["system_prompt"] = truncate(cfg.SystemPrompt, 40)
	}

	for name, p := range cfg.Providers {
		if p.APIKey != "" {
			result[name+".api_key"] = maskKey(p.APIKey)
		}
		if p.Model != "" {
			result[name+".model"] = p.Model
		}
		if p.APIURL != "" {
			result[name+".api_url"] = p.APIURL
		}
	}
	for label := range cfg.MCPServers {
		result["mcp_servers."+label] = "configured"
	}
	return result
}

// maskKey shows only the first 4 and last 4 characters.
func maskKey(key string) string {
	if len(key) <= 8 {
		return "****"
	}
	return key[:4] + "..." + key[len(key)-4:]
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

// SetPathsForTest points the package at a temporary directory. Test
// hook only.
func SetPathsForTest(dir string) {
	configDir = dir
	configFile = filepath.Join(dir, "config.json")
	legacyFile = filepath.Join(dir, "config.yaml")
	current = nil
}
