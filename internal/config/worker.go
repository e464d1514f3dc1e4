package config

import (
	"fmt"
	"os"
)

// WorkerScriptConfig binds one enrollment category to the worker script that handles it.
type WorkerScriptConfig struct {
	Category    string   `mapstructure:"category"`    // Enrollment category this script serves
	Script      string   `mapstructure:"script"`      // Script path handed to the worker command
	ScriptEnv   string   `mapstructure:"script_env"`  // Environment variable overriding Script
	Args        []string `mapstructure:"args"`        // Extra static arguments after the script path
	Passthrough []string `mapstructure:"passthrough"` // Host environment variables forwarded to the worker
}

// ResolveEnvVars resolves environment variable references in the configuration.
// A non-empty ScriptEnv variable overrides the configured script path.
func (c *WorkerScriptConfig) ResolveEnvVars() {
	if c.ScriptEnv == "" {
		return
	}
	if val := os.Getenv(c.ScriptEnv); val != "" {
		c.Script = val
	}
}

// Validate checks that the script binding has all required fields.
func (c *WorkerScriptConfig) Validate() error {
	if c.Category == "" {
		return fmt.Errorf("worker script: category is required")
	}
	if c.Script == "" {
		return fmt.Errorf("worker script %q: script is required (set directly or via %s)", c.Category, c.ScriptEnv)
	}
	return nil
}

// Clone creates a deep copy of the script binding.
func (c *WorkerScriptConfig) Clone() *WorkerScriptConfig {
	return &WorkerScriptConfig{
		Category:    c.Category,
		Script:      c.Script,
		ScriptEnv:   c.ScriptEnv,
		Args:        append([]string(nil), c.Args...),
		Passthrough: append([]string(nil), c.Passthrough...),
	}
}
