// Package config loads the confsync configuration: tree roots, the
// per-direction rule sets, and the reload endpoint credentials.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/hass-tools/confsync/pkg/rules"
)

const (
	defaultBaseURL       = "http://homeassistant.local:8123"
	defaultReloadTimeout = 30 * time.Second
)

// Config is the complete confsync configuration.
type Config struct {
	Paths  PathsConfig     `yaml:"paths"`
	Push   DirectionConfig `yaml:"push"`
	Pull   DirectionConfig `yaml:"pull"`
	Reload ReloadConfig    `yaml:"reload"`
	Backup BackupConfig    `yaml:"backup"`
}

// PathsConfig names the two tree roots.
type PathsConfig struct {
	Local  string `yaml:"local"`
	Remote string `yaml:"remote"`
}

// DirectionConfig carries the ordered rule list for one sync direction.
type DirectionConfig struct {
	Rules []RuleConfig `yaml:"rules"`
}

// RuleConfig is one pattern/action pair as written in YAML.
type RuleConfig struct {
	Pattern string `yaml:"pattern"`
	Action  string `yaml:"action"`
}

// ReloadConfig configures the post-push reload notification.
type ReloadConfig struct {
	Enabled        bool `yaml:"enabled"`
	TimeoutSeconds int  `yaml:"timeout_seconds"`
}

// BackupConfig configures the object-storage backup destination.
type BackupConfig struct {
	// Destination is an s3://bucket/prefix URI.
	Destination string `yaml:"destination"`
}

// Load reads and parses a configuration file. An empty path returns the
// built-in defaults. Environment variables in string fields are expanded.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(os.ExpandEnv(path))
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}

	cfg.expandEnv()
	cfg.applyDefaults()

	// Build both rule sets once so malformed patterns abort before any
	// filesystem mutation.
	if _, err := cfg.PushRuleSet(); err != nil {
		return nil, fmt.Errorf("push rules: %w", err)
	}
	if _, err := cfg.PullRuleSet(); err != nil {
		return nil, fmt.Errorf("pull rules: %w", err)
	}

	return cfg, nil
}

// Default returns the built-in configuration. The rule sets reproduce the
// conventional Home Assistant exclude files: a push never touches the
// instance's runtime state, a pull never carries secrets off the instance.
func Default() *Config {
	return &Config{
		Push: DirectionConfig{Rules: []RuleConfig{
			{Pattern: ".storage", Action: "exclude"},
			{Pattern: ".cloud", Action: "exclude"},
			{Pattern: "home-assistant_v2.db*", Action: "exclude"},
			{Pattern: "home-assistant.log*", Action: "exclude"},
			{Pattern: "__pycache__", Action: "exclude"},
			{Pattern: ".DS_Store", Action: "exclude"},
			{Pattern: "backups", Action: "protect"},
			{Pattern: "tmp_backups", Action: "protect"},
			{Pattern: "www", Action: "protect"},
			{Pattern: "custom_components", Action: "protect"},
			{Pattern: "media", Action: "protect"},
			{Pattern: "deps", Action: "protect"},
			{Pattern: "tts", Action: "protect"},
			{Pattern: "image", Action: "protect"},
		}},
		Pull: DirectionConfig{Rules: []RuleConfig{
			{Pattern: ".storage/auth", Action: "exclude"},
			{Pattern: ".storage/auth_provider.homeassistant", Action: "exclude"},
			{Pattern: "secrets.yaml", Action: "exclude"},
			{Pattern: ".cloud", Action: "exclude"},
			{Pattern: "home-assistant_v2.db*", Action: "exclude"},
			{Pattern: "home-assistant.log*", Action: "exclude"},
			{Pattern: "backups", Action: "exclude"},
			{Pattern: "tmp_backups", Action: "exclude"},
			{Pattern: "media", Action: "exclude"},
			{Pattern: "deps", Action: "exclude"},
			{Pattern: "tts", Action: "exclude"},
			{Pattern: "image", Action: "exclude"},
			{Pattern: "__pycache__", Action: "exclude"},
			{Pattern: ".DS_Store", Action: "exclude"},
		}},
		Reload: ReloadConfig{
			Enabled:        true,
			TimeoutSeconds: int(defaultReloadTimeout / time.Second),
		},
	}
}

func (c *Config) expandEnv() {
	c.Paths.Local = os.ExpandEnv(c.Paths.Local)
	c.Paths.Remote = os.ExpandEnv(c.Paths.Remote)
	c.Backup.Destination = os.ExpandEnv(c.Backup.Destination)
}

func (c *Config) applyDefaults() {
	if c.Reload.TimeoutSeconds <= 0 {
		c.Reload.TimeoutSeconds = int(defaultReloadTimeout / time.Second)
	}
	if len(c.Push.Rules) == 0 {
		c.Push.Rules = Default().Push.Rules
	}
	if len(c.Pull.Rules) == 0 {
		c.Pull.Rules = Default().Pull.Rules
	}
}

// PushRuleSet builds the rule set for push (local -> remote).
func (c *Config) PushRuleSet() (*rules.Set, error) {
	return buildRuleSet(c.Push.Rules)
}

// PullRuleSet builds the rule set for pull (remote -> local).
func (c *Config) PullRuleSet() (*rules.Set, error) {
	return buildRuleSet(c.Pull.Rules)
}

// ReloadTimeout returns the reload call timeout as a duration.
func (c *Config) ReloadTimeout() time.Duration {
	return time.Duration(c.Reload.TimeoutSeconds) * time.Second
}

func buildRuleSet(rcs []RuleConfig) (*rules.Set, error) {
	rs := make([]rules.Rule, 0, len(rcs))
	for _, rc := range rcs {
		rs = append(rs, rules.Rule{Pattern: rc.Pattern, Action: rules.Action(rc.Action)})
	}
	return rules.New(rs)
}

// Credentials is the reload endpoint credential pair.
type Credentials struct {
	BaseURL string
	Token   string
}

// LoadCredentials reads HA_URL and HA_TOKEN from the environment, first
// merging a .env file in the working directory if one exists. A missing
// token is a hard error: it must be caught before any network call.
func LoadCredentials() (*Credentials, error) {
	// Ignore a missing .env file; explicit environment variables win.
	_ = godotenv.Load()

	baseURL := os.Getenv("HA_URL")
	if baseURL == "" {
		baseURL = defaultBaseURL
	}

	token := os.Getenv("HA_TOKEN")
	if token == "" {
		return nil, fmt.Errorf("HA_TOKEN not found in environment or .env file")
	}

	return &Credentials{BaseURL: baseURL, Token: token}, nil
}
