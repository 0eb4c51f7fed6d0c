// Package config holds the server daemon configuration.
//
// Config is a single YAML file (default /etc/silentsync/config.yaml).
// Secrets can be supplied via environment instead of the file:
// SILENTSYNC_AGENT_TOKEN overrides agent.pool_token.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Directory modes.
const (
	DirectoryMock       = "mock"
	DirectoryAgentsOnly = "agents-only"
)

// devPoolToken is the insecure default used in mock mode only.
const devPoolToken = "dev-agent-token"

// Duration is a time.Duration that unmarshals from YAML strings like
// "90s" or "1h".
type Duration time.Duration

func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var s string
	if err := node.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("parse duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

type Server struct {
	Listen string `yaml:"listen"`
	// PublicBaseURL is the address agents can reach this server on.
	// Relative download paths resolve against it; client Host headers
	// are never used for that.
	PublicBaseURL string `yaml:"public_base_url"`
}

type Database struct {
	Path string `yaml:"path"`
}

type Agent struct {
	// PoolToken is the coarse shared credential every agent presents in
	// X-Agent-Token. Per-machine tokens are minted by the registry.
	PoolToken string `yaml:"pool_token"`
}

type Directory struct {
	Mode   string `yaml:"mode"`
	BaseDN string `yaml:"base_dn"`
	// Entries seed the mock directory: full paths like
	// "CN=Sales01,OU=Sales,DC=example,DC=com".
	Entries []string `yaml:"entries"`
}

type Reconcile struct {
	RetryCooldown Duration `yaml:"retry_cooldown"`
}

type Limits struct {
	Window              Duration `yaml:"window"`
	HeartbeatsPerWindow int      `yaml:"heartbeats_per_window"`
	RegistersPerWindow  int      `yaml:"registers_per_window"`
	LogsPerWindow       int      `yaml:"logs_per_window"`
}

type NTP struct {
	Enabled bool   `yaml:"enabled"`
	Pool    string `yaml:"pool"`
}

type Config struct {
	Server    Server    `yaml:"server"`
	Database  Database  `yaml:"database"`
	Agent     Agent     `yaml:"agent"`
	Directory Directory `yaml:"directory"`
	Reconcile Reconcile `yaml:"reconcile"`
	Limits    Limits    `yaml:"limits"`
	NTP       NTP       `yaml:"ntp"`
	LogLevel  string    `yaml:"log_level"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Server:    Server{Listen: ":8432", PublicBaseURL: "http://localhost:8432"},
		Database:  Database{Path: "/var/lib/silentsync/silentsync.db"},
		Directory: Directory{Mode: DirectoryAgentsOnly, BaseDN: "OU=Agents,DC=silentsync,DC=local"},
		Reconcile: Reconcile{RetryCooldown: Duration(time.Hour)},
		Limits: Limits{
			Window:              Duration(time.Minute),
			HeartbeatsPerWindow: 30,
			RegistersPerWindow:  10,
			LogsPerWindow:       60,
		},
		LogLevel: "info",
	}
}

// Load reads the config file, applies environment overrides and
// validates. A missing file yields the defaults (mock/dev setups run
// configless).
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		// Defaults only.
	case err != nil:
		return nil, fmt.Errorf("read config: %w", err)
	default:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	if tok := os.Getenv("SILENTSYNC_AGENT_TOKEN"); tok != "" {
		cfg.Agent.PoolToken = tok
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the configuration and fills the dev pool token in mock
// mode. Running a non-mock directory without a real pool token is a
// refused misconfiguration, not a warning.
func (c *Config) Validate() error {
	if c.Server.Listen == "" {
		return errors.New("server.listen must be set")
	}
	base, err := url.Parse(c.Server.PublicBaseURL)
	if err != nil || !base.IsAbs() {
		return fmt.Errorf("server.public_base_url must be an absolute URL, got %q", c.Server.PublicBaseURL)
	}
	if c.Database.Path == "" {
		return errors.New("database.path must be set")
	}

	switch c.Directory.Mode {
	case DirectoryMock:
		if c.Agent.PoolToken == "" {
			c.Agent.PoolToken = devPoolToken
		}
	case DirectoryAgentsOnly:
		if c.Directory.BaseDN == "" {
			return errors.New("directory.base_dn must be set in agents-only mode")
		}
		if c.Agent.PoolToken == "" {
			return errors.New("agent.pool_token must be set (or SILENTSYNC_AGENT_TOKEN) outside mock mode")
		}
	default:
		return fmt.Errorf("directory.mode must be %q or %q, got %q", DirectoryMock, DirectoryAgentsOnly, c.Directory.Mode)
	}

	if c.Reconcile.RetryCooldown <= 0 {
		return errors.New("reconcile.retry_cooldown must be positive")
	}
	if c.Limits.Window <= 0 {
		return errors.New("limits.window must be positive")
	}
	return nil
}

// BaseURL returns the parsed public base URL. Call after Validate.
func (c *Config) BaseURL() *url.URL {
	base, err := url.Parse(c.Server.PublicBaseURL)
	if err != nil {
		return nil
	}
	return base
}
