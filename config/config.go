package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"github.com/BurntSushi/toml"
)

// Config holds Etch's runtime configuration, loaded from an optional TOML
// file and falling back to DefaultConfig for anything the file omits.
type Config struct {
	// Execution settings
	Execution struct {
		CycleInterval  int    `toml:"cycle_interval"`  // instructions between cycle-collection passes, 0 disables
		GlobalCapacity int    `toml:"global_capacity"` // initial capacity hint for the globals table
		DefaultEntry   string `toml:"default_entry"`   // mangled name of the function run when none is given
		EnableTrace    bool   `toml:"enable_trace"`
		EnableStats    bool   `toml:"enable_stats"`
	} `toml:"execution"`

	// Debugger settings
	Debugger struct {
		HistorySize       int    `toml:"history_size"`
		SuppressJustStep  bool   `toml:"suppress_just_stepped"` // honor the justStepped breakpoint-suppression flag
		DefaultScope      string `toml:"default_scope"`         // "locals", "globals", or "registers"
		ShowRegisterScope bool   `toml:"show_register_scope"`
	} `toml:"debugger"`

	// DAP transport settings
	DAP struct {
		Port            int `toml:"port"`              // loopback TCP port; 0 means console-only
		AttachTimeoutMS int `toml:"attach_timeout_ms"` // see ETCH_DEBUG_TIMEOUT
	} `toml:"dap"`

	// Trace settings
	Trace struct {
		OutputFile string `toml:"output_file"`
		MaxEntries int    `toml:"max_entries"`
	} `toml:"trace"`
}

// DefaultConfig returns a Config with Etch's built-in defaults.
func DefaultConfig() *Config {
	cfg := &Config{}

	cfg.Execution.CycleInterval = 4096
	cfg.Execution.GlobalCapacity = 64
	cfg.Execution.DefaultEntry = "main"
	cfg.Execution.EnableTrace = false
	cfg.Execution.EnableStats = false

	cfg.Debugger.HistorySize = 1000
	cfg.Debugger.SuppressJustStep = true
	cfg.Debugger.DefaultScope = "locals"
	cfg.Debugger.ShowRegisterScope = true

	cfg.DAP.Port = 0
	cfg.DAP.AttachTimeoutMS = 0

	cfg.Trace.OutputFile = "trace.log"
	cfg.Trace.MaxEntries = 100000

	return cfg
}

// GetConfigPath returns the platform-specific config file path.
func GetConfigPath() string {
	var configDir string

	switch runtime.GOOS {
	case "windows":
		configDir = os.Getenv("APPDATA")
		if configDir == "" {
			configDir = filepath.Join(os.Getenv("USERPROFILE"), "AppData", "Roaming")
		}
		configDir = filepath.Join(configDir, "etch")

	case "darwin", "linux":
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "config.toml"
		}
		configDir = filepath.Join(homeDir, ".config", "etch")

	default:
		return "config.toml"
	}

	if err := os.MkdirAll(configDir, 0750); err != nil {
		return "config.toml"
	}

	return filepath.Join(configDir, "config.toml")
}

// GetLogPath returns the platform-specific log directory path, used when
// ETCH_DEBUG_LOG requests file-backed logging without naming a path.
func GetLogPath() string {
	var logDir string

	switch runtime.GOOS {
	case "windows":
		logDir = os.Getenv("APPDATA")
		if logDir == "" {
			logDir = filepath.Join(os.Getenv("USERPROFILE"), "AppData", "Roaming")
		}
		logDir = filepath.Join(logDir, "etch", "logs")

	case "darwin", "linux":
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "logs"
		}
		logDir = filepath.Join(homeDir, ".local", "share", "etch", "logs")

	default:
		return "logs"
	}

	if err := os.MkdirAll(logDir, 0750); err != nil {
		return "logs"
	}

	return logDir
}

// Load loads configuration from the default config file path.
func Load() (*Config, error) {
	return LoadFrom(GetConfigPath())
}

// LoadFrom loads configuration from path, falling back to defaults for
// anything the file doesn't set. A missing file is not an error.
func LoadFrom(path string) (*Config, error) {
	cfg := DefaultConfig()

	if _, err := os.Stat(path); os.IsNotExist(err) {
		return cfg, nil
	}

	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}

	return cfg, nil
}

// Save saves configuration to the default config file path.
func (c *Config) Save() error {
	return c.SaveTo(GetConfigPath())
}

// SaveTo saves configuration to path in TOML form.
func (c *Config) SaveTo(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0750); err != nil {
		return fmt.Errorf("config: create directory %s: %w", dir, err)
	}

	f, err := os.Create(path) // #nosec G304 -- user-supplied config file path
	if err != nil {
		return fmt.Errorf("config: create %s: %w", path, err)
	}
	defer f.Close()

	encoder := toml.NewEncoder(f)
	if err := encoder.Encode(c); err != nil {
		return fmt.Errorf("config: encode %s: %w", path, err)
	}

	return nil
}
