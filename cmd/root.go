package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/agenthost/agenthost/internal/hooks"
	"github.com/agenthost/agenthost/sdk"
)

var (
	configFile string
	hookFiles  []string
	debugMode  bool
	timeout    time.Duration
)

var rootCmd = &cobra.Command{
	Use:   "agenthost",
	Short: "Host MCP tool servers behind a hook-governed boundary",
	Long: `Agenthost launches the MCP servers declared in mcp_config.json,
adapts their tools for agent use, and runs every tool call through the
hook chain (built-in security guards, plus any shell hooks declared in
hooks.yml).

Example:
  agenthost --config .agenthost/mcp_config.json
  agenthost mcp
  agenthost call fs read_file '{"path": "README.md"}'`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runSession(cmd.Context())
	},
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.StringVar(&configFile, "config", "", "MCP server config file (default: .agenthost/mcp_config.json, then ~/.agenthost/mcp_config.json)")
	flags.StringSliceVar(&hookFiles, "hooks", nil, "hook config files (default: .agenthost/hooks.yml, then ~/.agenthost/hooks.yml)")
	flags.BoolVar(&debugMode, "debug", false, "enable debug logging")
	flags.DurationVar(&timeout, "timeout", 0, "per-request MCP timeout (default 30s)")

	viper.BindPFlag("config", flags.Lookup("config"))
	viper.BindPFlag("hooks", flags.Lookup("hooks"))
	viper.BindPFlag("debug", flags.Lookup("debug"))
	viper.BindPFlag("timeout", flags.Lookup("timeout"))
	viper.SetEnvPrefix("AGENTHOST")
	viper.AutomaticEnv()
}

func setupLogging() {
	if viper.GetBool("debug") {
		log.SetLevel(log.DebugLevel)
		log.SetReportCaller(true)
	} else {
		log.SetLevel(log.InfoLevel)
		log.SetReportCaller(false)
	}
}

// hookConfigPaths returns the hook files to load: the --hooks flag when
// given, otherwise the default search locations (missing files are skipped
// by the loader).
func hookConfigPaths() []string {
	if files := viper.GetStringSlice("hooks"); len(files) > 0 {
		return files
	}
	paths := []string{filepath.Join(".agenthost", "hooks.yml")}
	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".agenthost", "hooks.yml"))
	}
	return paths
}

func newHost(ctx context.Context) (*sdk.Host, error) {
	return sdk.New(ctx, &sdk.Options{
		ConfigFile:      viper.GetString("config"),
		HookConfigFiles: hookConfigPaths(),
		RequestTimeout:  viper.GetDuration("timeout"),
	})
}

// runSession connects the configured servers, keeps them alive until an
// interrupt arrives, and runs the session lifecycle hooks around it.
func runSession(ctx context.Context) error {
	setupLogging()

	log.Info("Connecting to MCP servers...")
	host, err := newHost(ctx)
	if err != nil {
		return fmt.Errorf("error starting host: %v", err)
	}
	defer func() {
		log.Info("Shutting down MCP servers...")
		if err := host.Close(context.Background()); err != nil {
			log.Error("Shutdown failed", "error", err)
		}
	}()

	result := host.FireEvent(ctx, hooks.SessionStart, map[string]any{
		"session_id": host.SessionID(),
	})
	if !result.ShouldContinue() {
		return fmt.Errorf("session blocked by hook: %s", result.Error)
	}

	log.Info("MCP status", "summary", host.StatusSummary())
	for _, state := range host.ServerStatuses() {
		switch {
		case state.Error != "":
			log.Warn("Server failed", "name", state.Config.Name, "reason", state.Error)
		case state.ToolCount > 0:
			log.Info("Server connected", "name", state.Config.Name,
				"tools", state.ToolCount, "took", state.ConnectTime.Round(time.Millisecond))
		}
	}

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	select {
	case sig := <-stop:
		log.Info("Received signal, shutting down", "signal", sig)
	case <-ctx.Done():
	}
	return nil
}
