package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeConfig(t *testing.T, body string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("DAVGATE_CONFIG", path)
}

func TestLoadFromYAML(t *testing.T) {
	writeConfig(t, `
listen_addr: ":9090"
calendar:
  url: https://dav.example.com/calendars/agent/personal
  username: agent
  password: secret
agent:
  token_hash: "$2a$10$abcdefghijklmnopqrstuv"
rate_limit:
  per_second: 5
  burst: 10
trusted_proxies:
  - 10.0.0.1
`)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.ListenAddr != ":9090" {
		t.Errorf("ListenAddr = %q", cfg.ListenAddr)
	}
	if cfg.Calendar.URL == "" || cfg.Calendar.Username != "agent" {
		t.Errorf("calendar upstream = %+v", cfg.Calendar)
	}
	if cfg.RateLimit.PerSecond != 5 || cfg.RateLimit.Burst != 10 {
		t.Errorf("rate limit = %+v", cfg.RateLimit)
	}
}

func TestEnvOverridesYAML(t *testing.T) {
	writeConfig(t, `
calendar:
  url: https://old.example.com
agent:
  token_hash: hash
`)
	t.Setenv("APP_CALENDAR_URL", "https://new.example.com")
	t.Setenv("APP_LISTEN_ADDR", ":7070")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Calendar.URL != "https://new.example.com" {
		t.Errorf("env override lost: %q", cfg.Calendar.URL)
	}
	if cfg.ListenAddr != ":7070" {
		t.Errorf("ListenAddr = %q", cfg.ListenAddr)
	}
}

func TestLoadEnvOnly(t *testing.T) {
	t.Setenv("DAVGATE_CONFIG", "")
	t.Setenv("APP_FILES_URL", "https://dav.example.com/files/agent")
	t.Setenv("APP_AGENT_TOKEN_HASH", "hash")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Files.URL == "" {
		t.Error("files upstream not picked up from env")
	}
	if cfg.ListenAddr != ":8080" {
		t.Errorf("default listen addr = %q", cfg.ListenAddr)
	}
	if cfg.Audit.RetentionDays != 30 || cfg.Audit.PruneSchedule == "" {
		t.Errorf("audit defaults = %+v", cfg.Audit)
	}
}

func TestLoadRequiresUpstream(t *testing.T) {
	t.Setenv("DAVGATE_CONFIG", "")
	t.Setenv("APP_AGENT_TOKEN_HASH", "hash")

	if _, err := Load(); err == nil {
		t.Error("want error when no upstream configured")
	}
}

func TestLoadRequiresAgentAuth(t *testing.T) {
	t.Setenv("DAVGATE_CONFIG", "")
	t.Setenv("APP_FILES_URL", "https://dav.example.com/files/agent")

	if _, err := Load(); err == nil {
		t.Error("want error when agent auth missing")
	}
}

func TestLoadRejectsPartialUpstreamOAuth(t *testing.T) {
	t.Setenv("DAVGATE_CONFIG", "")
	t.Setenv("APP_FILES_URL", "https://dav.example.com/files/agent")
	t.Setenv("APP_AGENT_TOKEN_HASH", "hash")
	t.Setenv("APP_UPSTREAM_OAUTH_TOKEN_URL", "https://idp.example.com/token")

	if _, err := Load(); err == nil {
		t.Error("want error for token_url without client credentials")
	}
}
