// Package setup registers the MCP server with desktop MCP clients.
package setup

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"github.com/clinical-trial-matcher/internal/config"
)

// ServerName is the key the server is registered under.
const ServerName = "clinical-trial-matcher"

// ServerEntry is one entry of the client's mcpServers map.
type ServerEntry struct {
	Command string            `json:"command"`
	Args    []string          `json:"args,omitempty"`
	Env     map[string]string `json:"env,omitempty"`
}

// ClientConfig is an MCP client configuration file. Keys other than mcpServers are
// kept as read so that registering never drops the client's own settings.
type ClientConfig struct {
	MCPServers map[string]ServerEntry
	other      map[string]json.RawMessage
}

// Options describes the server entry to register.
type Options struct {
	// ClientConfigPath overrides the platform default location.
	ClientConfigPath string
	BinaryPath       string
	// ConfigFile is passed to the server as --config when set.
	ConfigFile string
	// DataDir receives the run logs; empty keeps the server default.
	DataDir string
}

// DefaultClientConfigPath returns where the desktop client keeps its configuration
// on the current platform.
func DefaultClientConfigPath() (string, error) {
	return clientConfigPath(runtime.GOOS, os.Getenv)
}

func clientConfigPath(goos string, getenv func(string) string) (string, error) {
	var configDir string

	switch goos {
	case "darwin":
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("failed to get home directory: %w", err)
		}
		configDir = filepath.Join(home, "Library", "Application Support", "Claude")
	case "linux":
		if xdg := getenv("XDG_CONFIG_HOME"); xdg != "" {
			configDir = filepath.Join(xdg, "Claude")
		} else {
			home, err := os.UserHomeDir()
			if err != nil {
				return "", fmt.Errorf("failed to get home directory: %w", err)
			}
			configDir = filepath.Join(home, ".config", "Claude")
		}
	case "windows":
		appData := getenv("APPDATA")
		if appData == "" {
			return "", fmt.Errorf("APPDATA environment variable not set")
		}
		configDir = filepath.Join(appData, "Claude")
	default:
		return "", fmt.Errorf("unsupported operating system: %s", goos)
	}

	return filepath.Join(configDir, "claude_desktop_config.json"), nil
}

// LoadClientConfig reads a client configuration. A missing file yields an empty one.
func LoadClientConfig(path string) (*ClientConfig, error) {
	cfg := &ClientConfig{
		MCPServers: make(map[string]ServerEntry),
		other:      make(map[string]json.RawMessage),
	}

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return cfg, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read client config: %w", err)
	}

	if err := json.Unmarshal(data, &cfg.other); err != nil {
		return nil, fmt.Errorf("failed to parse client config: %w", err)
	}
	if raw, ok := cfg.other["mcpServers"]; ok {
		if err := json.Unmarshal(raw, &cfg.MCPServers); err != nil {
			return nil, fmt.Errorf("failed to parse mcpServers: %w", err)
		}
		if cfg.MCPServers == nil {
			cfg.MCPServers = make(map[string]ServerEntry)
		}
		delete(cfg.other, "mcpServers")
	}

	return cfg, nil
}

// Save writes the configuration to path, creating its directory.
func (c *ClientConfig) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	out := make(map[string]any, len(c.other)+1)
	for k, v := range c.other {
		out[k] = v
	}
	out["mcpServers"] = c.MCPServers

	data, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal client config: %w", err)
	}
	if err := os.WriteFile(path, append(data, '\n'), 0644); err != nil {
		return fmt.Errorf("failed to write client config: %w", err)
	}
	return nil
}

// NewServerEntry builds the entry that launches the server with opts.
func NewServerEntry(opts Options) ServerEntry {
	entry := ServerEntry{Command: opts.BinaryPath}
	if opts.ConfigFile != "" {
		entry.Args = []string{"--config", opts.ConfigFile}
	}
	if opts.DataDir != "" {
		entry.Env = map[string]string{
			config.EnvPrefix + "_LOGGING_DIR": filepath.Join(opts.DataDir, "logs"),
		}
	}
	return entry
}

// Register adds or replaces the server entry in the client configuration and returns
// the path it wrote.
func Register(opts Options) (string, error) {
	if opts.BinaryPath == "" {
		return "", fmt.Errorf("server binary path is required")
	}

	path := opts.ClientConfigPath
	if path == "" {
		var err error
		if path, err = DefaultClientConfigPath(); err != nil {
			return "", err
		}
	}

	cfg, err := LoadClientConfig(path)
	if err != nil {
		return "", err
	}
	cfg.MCPServers[ServerName] = NewServerEntry(opts)

	if err := cfg.Save(path); err != nil {
		return "", err
	}
	if opts.DataDir != "" {
		if err := os.MkdirAll(filepath.Join(opts.DataDir, "logs"), 0755); err != nil {
			return path, fmt.Errorf("failed to create data directory: %w", err)
		}
	}
	return path, nil
}

// Status describes the registration found in a client configuration.
type Status struct {
	ClientConfigPath string
	Registered       bool
	Entry            ServerEntry
	Issues           []string
}

// CheckStatus inspects the client configuration at path, or the platform default
// when path is empty.
func CheckStatus(path string) (*Status, error) {
	if path == "" {
		var err error
		if path, err = DefaultClientConfigPath(); err != nil {
			return nil, err
		}
	}

	status := &Status{ClientConfigPath: path}

	cfg, err := LoadClientConfig(path)
	if err != nil {
		status.Issues = append(status.Issues, err.Error())
		return status, nil
	}

	entry, ok := cfg.MCPServers[ServerName]
	if !ok {
		status.Issues = append(status.Issues, "server is not registered")
		return status, nil
	}
	status.Registered = true
	status.Entry = entry

	info, err := os.Stat(entry.Command)
	switch {
	case err != nil:
		status.Issues = append(status.Issues, fmt.Sprintf("server binary not found: %s", entry.Command))
	case info.Mode()&0111 == 0:
		status.Issues = append(status.Issues, fmt.Sprintf("server binary is not executable: %s", entry.Command))
	}

	if len(entry.Args) == 2 && entry.Args[0] == "--config" {
		if _, err := os.Stat(entry.Args[1]); err != nil {
			status.Issues = append(status.Issues, fmt.Sprintf("config file not found: %s", entry.Args[1]))
		}
	}

	return status, nil
}
