package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Upstream describes one DAV endpoint the gateway fronts.
type Upstream struct {
	URL      string `yaml:"url"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

type Config struct {
	ListenAddr string `yaml:"listen_addr"`

	// Upstreams are optional individually: a deployment may front only a
	// calendar, only files, or any combination. At least one is required.
	Files    Upstream `yaml:"files"`
	Calendar Upstream `yaml:"calendar"`
	Contacts Upstream `yaml:"contacts"`

	// UpstreamOAuth, when set, replaces basic auth on every upstream with
	// client-credentials bearer tokens.
	UpstreamOAuth struct {
		TokenURL     string   `yaml:"token_url"`
		ClientID     string   `yaml:"client_id"`
		ClientSecret string   `yaml:"client_secret"`
		Scopes       []string `yaml:"scopes"`
	} `yaml:"upstream_oauth"`

	// Agent holds the inbound credential check: a bcrypt hash of the
	// bearer token the agent presents, or an OIDC issuer whose ID tokens
	// are accepted, or both.
	Agent struct {
		TokenHash    string `yaml:"token_hash"`
		OIDCIssuer   string `yaml:"oidc_issuer"`
		OIDCClientID string `yaml:"oidc_client_id"`
	} `yaml:"agent"`

	DB struct {
		DSN string `yaml:"dsn"`
	} `yaml:"db"`

	Audit struct {
		RetentionDays int    `yaml:"retention_days"`
		PruneSchedule string `yaml:"prune_schedule"`
	} `yaml:"audit"`

	RateLimit struct {
		PerSecond float64 `yaml:"per_second"`
		Burst     int     `yaml:"burst"`
	} `yaml:"rate_limit"`

	PrometheusEnabled bool     `yaml:"prometheus_enabled"`
	TrustedProxies    []string `yaml:"trusted_proxies"`
}

// Load reads the YAML file named by DAVGATE_CONFIG (when set), applies
// APP_* environment overrides on top, then validates.
func Load() (*Config, error) {
	cfg := &Config{}

	if path := os.Getenv("DAVGATE_CONFIG"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	applyEnv(cfg)
	setDefaults(cfg)

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	if len(cfg.TrustedProxies) == 0 {
		fmt.Println("WARNING: No APP_TRUSTED_PROXIES configured. DAVGate will trust all proxies - Not recommended for public environments.")
	}

	return cfg, nil
}

func applyEnv(cfg *Config) {
	setenv := func(dst *string, key string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}

	setenv(&cfg.ListenAddr, "APP_LISTEN_ADDR")

	setenv(&cfg.Files.URL, "APP_FILES_URL")
	setenv(&cfg.Files.Username, "APP_FILES_USERNAME")
	setenv(&cfg.Files.Password, "APP_FILES_PASSWORD")
	setenv(&cfg.Calendar.URL, "APP_CALENDAR_URL")
	setenv(&cfg.Calendar.Username, "APP_CALENDAR_USERNAME")
	setenv(&cfg.Calendar.Password, "APP_CALENDAR_PASSWORD")
	setenv(&cfg.Contacts.URL, "APP_CONTACTS_URL")
	setenv(&cfg.Contacts.Username, "APP_CONTACTS_USERNAME")
	setenv(&cfg.Contacts.Password, "APP_CONTACTS_PASSWORD")

	setenv(&cfg.UpstreamOAuth.TokenURL, "APP_UPSTREAM_OAUTH_TOKEN_URL")
	setenv(&cfg.UpstreamOAuth.ClientID, "APP_UPSTREAM_OAUTH_CLIENT_ID")
	setenv(&cfg.UpstreamOAuth.ClientSecret, "APP_UPSTREAM_OAUTH_CLIENT_SECRET")
	if scopes := getenvList("APP_UPSTREAM_OAUTH_SCOPES"); scopes != nil {
		cfg.UpstreamOAuth.Scopes = scopes
	}

	setenv(&cfg.Agent.TokenHash, "APP_AGENT_TOKEN_HASH")
	setenv(&cfg.Agent.OIDCIssuer, "APP_AGENT_OIDC_ISSUER")
	setenv(&cfg.Agent.OIDCClientID, "APP_AGENT_OIDC_CLIENT_ID")

	setenv(&cfg.DB.DSN, "APP_DB_DSN")

	if v := os.Getenv("APP_PROMETHEUS_ENDPOINT_ENABLED"); v != "" {
		cfg.PrometheusEnabled = getenvBool("APP_PROMETHEUS_ENDPOINT_ENABLED", cfg.PrometheusEnabled)
	}
	if proxies := getenvList("APP_TRUSTED_PROXIES"); proxies != nil {
		cfg.TrustedProxies = proxies
	}
}

func setDefaults(cfg *Config) {
	if cfg.ListenAddr == "" {
		cfg.ListenAddr = ":8080"
	}
	if cfg.Audit.RetentionDays <= 0 {
		cfg.Audit.RetentionDays = 30
	}
	if cfg.Audit.PruneSchedule == "" {
		cfg.Audit.PruneSchedule = "0 3 * * *"
	}
	if cfg.RateLimit.PerSecond <= 0 {
		cfg.RateLimit.PerSecond = 10
	}
	if cfg.RateLimit.Burst <= 0 {
		cfg.RateLimit.Burst = 20
	}
}

func (cfg *Config) validate() error {
	if cfg.Files.URL == "" && cfg.Calendar.URL == "" && cfg.Contacts.URL == "" {
		return errors.New("at least one upstream (files, calendar, contacts) must be configured")
	}
	if cfg.Agent.TokenHash == "" && cfg.Agent.OIDCIssuer == "" {
		return errors.New("agent auth is required: set agent.token_hash or agent.oidc_issuer")
	}
	if cfg.UpstreamOAuth.TokenURL != "" {
		if cfg.UpstreamOAuth.ClientID == "" || cfg.UpstreamOAuth.ClientSecret == "" {
			return errors.New("upstream oauth requires client id and secret")
		}
	}
	return nil
}

func getenvBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		switch strings.ToLower(v) {
		case "1", "true", "yes", "on":
			return true
		case "0", "false", "no", "off":
			return false
		}
	}
	return def
}

func getenvList(key string) []string {
	if v := os.Getenv(key); v != "" {
		var result []string
		for _, item := range strings.Split(v, ",") {
			if trimmed := strings.TrimSpace(item); trimmed != "" {
				result = append(result, trimmed)
			}
		}
		return result
	}
	return nil
}
