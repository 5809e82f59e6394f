package cmd

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"github.com/CriticalRange/arula-go/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage arula configuration",
	Long: `Manage arula configuration including provider credentials and defaults.

Examples:
  arula config                              # Show current config
  arula config set anthropic.api_key <key>  # Set the Anthropic API key
  arula config set provider openai          # Set the active provider
  arula config set openai.model gpt-4o      # Set a provider's model
  arula config delete anthropic.api_key     # Remove a key`,
	Run: func(cmd *cobra.Command, args []string) {
		showConfig()
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a configuration value",
	Long: `Set a configuration value.

Top-level keys:
  provider                - active provider (anthropic, openai, openrouter, zai, ollama)
  system_prompt           - system prompt sent on every conversation
  tool_loop_limit         - max tool rounds per request
  auto_save_conversations - true/false
  debug                   - true/false

Provider keys use "<provider>.<field>":
  <provider>.api_key, <provider>.api_url, <provider>.model,
  <provider>.max_tokens, <provider>.temperature, <provider>.streaming,
  <provider>.thinking_enabled`,
	Args: cobra.ExactArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		if err := config.Set(args[0], args[1]); err != nil {
			fmt.Printf("Error: %v\n", err)
			return
		}
		fmt.Printf("Set %s successfully.\n", args[0])
	},
}

var configGetCmd = &cobra.Command{
	Use:   "get <key>",
	Short: "Get a configuration value",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		keys := config.ListKeys()
		if val, ok := keys[args[0]]; ok {
			fmt.Printf("%s: %s\n", args[0], val)
		} else {
			fmt.Printf("%s is not set\n", args[0])
		}
	},
}

var configDeleteCmd = &cobra.Command{
	Use:     "delete <key>",
	Aliases: []string{"remove", "unset"},
	Short:   "Delete a configuration value",
	Args:    cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		if err := config.Delete(args[0]); err != nil {
			fmt.Printf("Error: %v\n", err)
			return
		}
		fmt.Printf("Deleted %s.\n", args[0])
	},
}

var configPathCmd = &cobra.Command{
	Use:   "path",
	Short: "Show config file path",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println(config.ConfigPath())
	},
}

func showConfig() {
	fmt.Printf("Configuration file: %s\n\n", config.ConfigPath())

	keys := config.ListKeys()
	if len(keys) == 0 {
		fmt.Println("No configuration set.")
		fmt.Println("\nUse 'arula config set <key> <value>' to configure.")
		return
	}

	names := make([]string, 0, len(keys))
	for k := range keys {
		names = append(names, k)
	}
	sort.Strings(names)
	for _, k := range names {
		fmt.Printf("  %s: %s\n", k, keys[k])
	}
}

func init() {
	configCmd.AddCommand(configSetCmd)
	configCmd.AddCommand(configGetCmd)
	configCmd.AddCommand(configDeleteCmd)
	configCmd.AddCommand(configPathCmd)
	rootCmd.AddCommand(configCmd)
}
