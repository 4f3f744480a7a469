package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds the global opsgate configuration.
type Config struct {
	BasePath string         `yaml:"base_path"` // audit memory root
	RulesDir string         `yaml:"rules_dir"` // per-tool rule files
	Exec     ExecConfig     `yaml:"exec"`
	Monitor  MonitorConfig  `yaml:"monitor"`
	Trace    TraceConfig    `yaml:"trace"`
	Index    IndexConfig    `yaml:"index"`
	Approval ApprovalConfig `yaml:"approval"`
	Debug    bool           `yaml:"debug"`
}

// ExecConfig controls the execution boundary.
type ExecConfig struct {
	DefaultTimeout string `yaml:"default_timeout"`
	Shell          string `yaml:"shell"`
}

// MonitorConfig controls the drift/audit monitor.
type MonitorConfig struct {
	TurnLimit  int `yaml:"turn_limit"`
	LoopWindow int `yaml:"loop_window"` // identical proposals in a row before loop_detected
}

// TraceConfig controls the optional trace sink.
type TraceConfig struct {
	Endpoint string `yaml:"endpoint"` // empty disables tracing
	Timeout  string `yaml:"timeout"`
}

// IndexConfig controls the derived sqlite index.
type IndexConfig struct {
	Path string `yaml:"path"` // empty disables indexing
}

// ApprovalConfig controls the human approval surface.
type ApprovalConfig struct {
	Socket string `yaml:"socket"`
}

// DefaultExecTimeout is used when exec.default_timeout is unset or invalid.
const DefaultExecTimeout = 30 * time.Second

// DefaultTimeoutDuration parses the configured default timeout.
func (e *ExecConfig) DefaultTimeoutDuration() time.Duration {
	if e.DefaultTimeout != "" {
		if d, err := time.ParseDuration(e.DefaultTimeout); err == nil {
			return d
		}
	}
	return DefaultExecTimeout
}

// TimeoutDuration parses the trace send timeout (default 2s).
func (t *TraceConfig) TimeoutDuration() time.Duration {
	if t.Timeout != "" {
		if d, err := time.ParseDuration(t.Timeout); err == nil {
			return d
		}
	}
	return 2 * time.Second
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	home, _ := os.UserHomeDir()
	return &Config{
		BasePath: filepath.Join(home, ".local", "share", "opsgate"),
		RulesDir: filepath.Join(home, ".config", "opsgate", "rules"),
		Exec: ExecConfig{
			DefaultTimeout: "30s",
		},
		Monitor: MonitorConfig{
			TurnLimit:  10,
			LoopWindow: 2,
		},
		Index: IndexConfig{
			Path: filepath.Join(home, ".local", "share", "opsgate", "index.db"),
		},
		Approval: ApprovalConfig{
			Socket: filepath.Join(home, ".local", "share", "opsgate", "approve.sock"),
		},
	}
}

// Load reads the config from the standard location
// (~/.config/opsgate/config.yaml). A missing file yields the defaults.
func Load() (*Config, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return DefaultConfig(), nil
	}
	return LoadFrom(filepath.Join(home, ".config", "opsgate", "config.yaml"))
}

// LoadFrom reads the config from the given path.
func LoadFrom(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return DefaultConfig(), nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}

	cfg.BasePath = expandHome(cfg.BasePath)
	cfg.RulesDir = expandHome(cfg.RulesDir)
	cfg.Index.Path = expandHome(cfg.Index.Path)
	cfg.Approval.Socket = expandHome(cfg.Approval.Socket)

	return cfg, nil
}

// ConfigPath returns the standard config file path.
func ConfigPath() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".config", "opsgate", "config.yaml")
}

func expandHome(path string) string {
	if path == "" || path[0] != '~' {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, path[1:])
}
