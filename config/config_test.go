package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Server.Listen != ":8432" {
		t.Errorf("default listen: %q", cfg.Server.Listen)
	}
	if time.Duration(cfg.Reconcile.RetryCooldown) != time.Hour {
		t.Errorf("default cooldown: %v", cfg.Reconcile.RetryCooldown)
	}
}

func TestLoadParsesDurationsAndOverrides(t *testing.T) {
	path := writeConfig(t, `
server:
  listen: ":9000"
  public_base_url: "https://sync.corp.example.com"
database:
  path: "/tmp/sync.db"
agent:
  pool_token: "from-file"
directory:
  mode: agents-only
  base_dn: "OU=Agents,DC=corp,DC=example,DC=com"
reconcile:
  retry_cooldown: 90m
limits:
  window: 30s
  heartbeats_per_window: 5
`)
	t.Setenv("SILENTSYNC_AGENT_TOKEN", "from-env")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if time.Duration(cfg.Reconcile.RetryCooldown) != 90*time.Minute {
		t.Errorf("cooldown: %v", cfg.Reconcile.RetryCooldown)
	}
	if time.Duration(cfg.Limits.Window) != 30*time.Second {
		t.Errorf("window: %v", cfg.Limits.Window)
	}
	if cfg.Agent.PoolToken != "from-env" {
		t.Errorf("env must override file token, got %q", cfg.Agent.PoolToken)
	}
	if cfg.BaseURL() == nil || cfg.BaseURL().Host != "sync.corp.example.com" {
		t.Errorf("base url: %v", cfg.BaseURL())
	}
}

func TestValidateRejections(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantSub string
	}{
		{"relative base url", func(c *Config) { c.Server.PublicBaseURL = "/files" }, "public_base_url"},
		{"bad directory mode", func(c *Config) { c.Directory.Mode = "ldap" }, "directory.mode"},
		{"missing pool token outside mock", func(c *Config) {
			c.Directory.Mode = DirectoryAgentsOnly
			c.Agent.PoolToken = ""
		}, "pool_token"},
		{"zero cooldown", func(c *Config) { c.Reconcile.RetryCooldown = 0 }, "retry_cooldown"},
		{"empty db path", func(c *Config) { c.Database.Path = "" }, "database.path"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			cfg.Agent.PoolToken = "x"
			tt.mutate(cfg)
			err := cfg.Validate()
			if err == nil || !strings.Contains(err.Error(), tt.wantSub) {
				t.Errorf("want error mentioning %q, got %v", tt.wantSub, err)
			}
		})
	}
}

func TestMockModeFillsDevToken(t *testing.T) {
	cfg := Default()
	cfg.Directory.Mode = DirectoryMock
	cfg.Agent.PoolToken = ""
	if err := cfg.Validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}
	if cfg.Agent.PoolToken == "" {
		t.Error("mock mode must fill the dev pool token")
	}
}
