package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

var callCmd = &cobra.Command{
	Use:   "call <server> <tool> [json-arguments]",
	Short: "Invoke one MCP tool and print its result",
	Long: `Connects the configured servers, runs a single tool call through the
hook chain, and prints the textual result. Arguments are a JSON object.

Example:
  agenthost call fs read_file '{"path": "README.md"}'`,
	Args: cobra.RangeArgs(2, 3),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runCall(cmd, args)
	},
}

func init() {
	rootCmd.AddCommand(callCmd)
}

func runCall(cmd *cobra.Command, args []string) error {
	setupLogging()

	server, toolName := args[0], args[1]
	toolArgs := map[string]any{}
	if len(args) == 3 {
		if err := json.Unmarshal([]byte(args[2]), &toolArgs); err != nil {
			return fmt.Errorf("invalid JSON arguments: %v", err)
		}
	}

	host, err := newHost(cmd.Context())
	if err != nil {
		return fmt.Errorf("error starting host: %v", err)
	}
	defer host.Close(cmd.Context())

	result, err := host.CallTool(cmd.Context(), server, toolName, toolArgs)
	if err != nil {
		return fmt.Errorf("error calling tool: %v", err)
	}

	fmt.Println(result)
	return nil
}
