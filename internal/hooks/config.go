package hooks

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/agenthost/agenthost/internal/config"
)

// HookConfig is the parsed form of one or more hooks.yml files. Only
// shell hooks are declared in configuration; in-process hooks are
// registered programmatically.
type HookConfig struct {
	Hooks []ShellHook `yaml:"hooks"`
}

// LoadHookConfig reads and merges hook configuration files in order.
// Environment variable references (${env://VAR:-default}) are substituted
// before parsing. Missing files are skipped silently so callers can pass
// the full search path.
func LoadHookConfig(paths ...string) (*HookConfig, error) {
	merged := &HookConfig{}

	for _, path := range paths {
		raw, err := os.ReadFile(path)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return nil, fmt.Errorf("read hooks config %s: %w", path, err)
		}

		content := string(raw)
		if config.HasEnvVars(content) {
			substituter := &config.EnvSubstituter{}
			content, err = substituter.SubstituteEnvVars(content)
			if err != nil {
				return nil, fmt.Errorf("hooks config %s: %w", path, err)
			}
		}

		var cfg HookConfig
		if err := yaml.Unmarshal([]byte(content), &cfg); err != nil {
			return nil, fmt.Errorf("parse hooks config %s: %w", path, err)
		}

		for _, hook := range cfg.Hooks {
			if err := validateShellHook(hook); err != nil {
				return nil, fmt.Errorf("hooks config %s: %w", path, err)
			}
		}
		merged.Hooks = append(merged.Hooks, cfg.Hooks...)
	}

	return merged, nil
}

// RegisterAll registers every configured shell hook into the registry.
func (c *HookConfig) RegisterAll(registry *Registry) error {
	for _, hook := range c.Hooks {
		if err := registry.RegisterShell(hook); err != nil {
			return err
		}
	}
	return nil
}

func validateShellHook(hook ShellHook) error {
	if hook.Name == "" {
		return fmt.Errorf("shell hook missing name")
	}
	if hook.ScriptPath == "" {
		return fmt.Errorf("shell hook %q missing script", hook.Name)
	}
	if len(hook.Events) == 0 {
		return fmt.Errorf("shell hook %q declares no events", hook.Name)
	}
	for _, event := range hook.Events {
		if !event.IsValid() {
			return fmt.Errorf("shell hook %q: unknown event %q", hook.Name, event)
		}
	}
	return nil
}
