package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/charmbracelet/log"
)

// TransportStdio is the only transport currently supported for MCP
// servers. Configs naming any other transport are rejected.
const TransportStdio = "stdio"

// ServerConfig describes one MCP server to launch and connect to.
// A config is immutable once a client has been built from it.
type ServerConfig struct {
	Name      string            `json:"name"`
	Command   string            `json:"command"`
	Args      []string          `json:"args,omitempty"`
	Env       map[string]string `json:"env,omitempty"`
	Transport string            `json:"transport,omitempty"`
	Enabled   bool              `json:"enabled"`
}

// Validate checks the structural constraints on a server config.
func (c *ServerConfig) Validate() error {
	if c.Name == "" {
		return fmt.Errorf("server config missing name")
	}
	if c.Command == "" {
		return fmt.Errorf("server config %q missing command", c.Name)
	}
	if c.Transport != "" && c.Transport != TransportStdio {
		return fmt.Errorf("server config %q: unsupported transport %q (only %q is supported)",
			c.Name, c.Transport, TransportStdio)
	}
	return nil
}

// Config is the loaded MCP server configuration document.
type Config struct {
	Servers []ServerConfig `json:"servers"`
}

// configDirName is the per-project and per-user directory holding
// agenthost configuration files.
const configDirName = ".agenthost"

// DefaultConfigPaths returns the candidate config file locations in
// search order: project-level first, then user-level.
func DefaultConfigPaths() []string {
	paths := []string{filepath.Join(configDirName, "mcp_config.json")}
	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, configDirName, "mcp_config.json"))
	}
	return paths
}

// Load reads the MCP server configuration. If explicitPath is non-empty
// it is the only location tried; otherwise the default search order is
// used and a missing file yields an empty config rather than an error.
func Load(explicitPath string) (*Config, error) {
	if explicitPath != "" {
		return loadFile(explicitPath)
	}

	for _, path := range DefaultConfigPaths() {
		if _, err := os.Stat(path); err == nil {
			log.Debug("Loading MCP config", "path", path)
			return loadFile(path)
		}
	}

	log.Debug("No MCP config file found")
	return &Config{}, nil
}

// loadFile reads, substitutes environment variables into, and parses one
// config file. Entries missing a name or command are skipped with a
// warning; invalid transports fail the whole load.
func loadFile(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file %s: %w", path, err)
	}

	content := string(raw)
	if HasEnvVars(content) {
		substituter := &EnvSubstituter{}
		content, err = substituter.SubstituteEnvVars(content)
		if err != nil {
			return nil, fmt.Errorf("config file %s: %w", path, err)
		}
	}

	var doc struct {
		Servers []json.RawMessage `json:"servers"`
	}
	if err := json.Unmarshal([]byte(content), &doc); err != nil {
		return nil, fmt.Errorf("parse config file %s: %w", path, err)
	}

	cfg := &Config{}
	for _, entry := range doc.Servers {
		server := ServerConfig{Transport: TransportStdio, Enabled: true}
		if err := json.Unmarshal(entry, &server); err != nil {
			log.Warn("Skipping malformed server entry", "path", path, "error", err)
			continue
		}
		if server.Name == "" || server.Command == "" {
			log.Warn("Skipping server config without name or command", "path", path)
			continue
		}
		if err := server.Validate(); err != nil {
			return nil, err
		}
		cfg.Servers = append(cfg.Servers, server)
	}

	log.Debug("Loaded MCP server configs", "count", len(cfg.Servers), "path", path)
	return cfg, nil
}
