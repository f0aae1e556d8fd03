package cmd

import (
	"fmt"
	"os"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/agenthost/agenthost/internal/mcp"
)

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Show configured MCP servers and their status",
	Long: `Connects every enabled MCP server, prints a status listing with the
discovered tool counts, and shuts the servers back down.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runMCPStatus(cmd)
	},
}

func init() {
	rootCmd.AddCommand(mcpCmd)
}

var (
	serverNameStyle = lipgloss.NewStyle().Bold(true)
	connectedStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	failedStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	disabledStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("240"))
	detailStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
)

func terminalWidth() int {
	width, _, err := term.GetSize(int(os.Stdout.Fd()))
	if err != nil || width <= 0 {
		return 80
	}
	return width
}

func statusStyle(status mcp.ServerStatus) lipgloss.Style {
	switch status {
	case mcp.StatusConnected:
		return connectedStyle
	case mcp.StatusFailed:
		return failedStyle
	case mcp.StatusDisabled:
		return disabledStyle
	default:
		return detailStyle
	}
}

func runMCPStatus(cmd *cobra.Command) error {
	setupLogging()

	host, err := newHost(cmd.Context())
	if err != nil {
		return fmt.Errorf("error starting host: %v", err)
	}
	defer host.Close(cmd.Context())

	states := host.ServerStatuses()
	if len(states) == 0 {
		fmt.Println("No MCP servers configured.")
		return nil
	}

	width := terminalWidth()
	fmt.Println(serverNameStyle.Render("MCP servers") + detailStyle.Render("  ("+host.StatusSummary()+")"))
	fmt.Println(detailStyle.Render(strings.Repeat("─", min(width, 60))))

	for _, state := range states {
		line := fmt.Sprintf("%s  %s",
			serverNameStyle.Render(state.Config.Name),
			statusStyle(state.Status).Render(string(state.Status)))
		switch {
		case state.Status == mcp.StatusConnected:
			line += detailStyle.Render(fmt.Sprintf("  %d tools", state.ToolCount))
		case state.Error != "":
			line += detailStyle.Render("  " + state.Error)
		}
		fmt.Println(line)
	}
	return nil
}
