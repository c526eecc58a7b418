// ABOUTME: Configuration loading and parsing for coven-relay.
// ABOUTME: Supports YAML and TOML files with env var expansion and duration parsing.

package config

import (
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"github.com/2389/coven-relay/internal/access"
	"github.com/2389/coven-relay/internal/auth"
	"github.com/2389/coven-relay/internal/routing"
)

// Config represents the complete coven-relay configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server" toml:"server"`
	Tailscale TailscaleConfig `yaml:"tailscale" toml:"tailscale"`
	Database  DatabaseConfig  `yaml:"database" toml:"database"`
	Auth      auth.Config     `yaml:"auth" toml:"auth"`
	Policy    access.Policy   `yaml:"policy" toml:"policy"`
	Routes    routing.Routes  `yaml:"routes" toml:"routes"`
	Channels  ChannelsConfig  `yaml:"channels" toml:"channels"`
	Gateway   GatewayConfig   `yaml:"gateway" toml:"gateway"`
	Logging   LoggingConfig   `yaml:"logging" toml:"logging"`
}

// ServerConfig holds the client-facing listener address.
type ServerConfig struct {
	HTTPAddr string `yaml:"http_addr" toml:"http_addr"`
}

// TailscaleConfig holds tsnet configuration for serving on a tailnet.
type TailscaleConfig struct {
	Enabled   bool   `yaml:"enabled" toml:"enabled"`
	Hostname  string `yaml:"hostname" toml:"hostname"`
	AuthKey   string `yaml:"auth_key" toml:"auth_key"`
	StateDir  string `yaml:"state_dir" toml:"state_dir"`
	Ephemeral bool   `yaml:"ephemeral" toml:"ephemeral"`
	HTTPS     bool   `yaml:"https" toml:"https"`
}

// DatabaseConfig holds session store configuration.
type DatabaseConfig struct {
	Path string `yaml:"path" toml:"path"`
}

// GatewayConfig holds protocol timing configuration.
type GatewayConfig struct {
	TickInterval time.Duration `yaml:"-" toml:"-"`

	// Raw string value for unmarshaling
	TickIntervalRaw string `yaml:"tick_interval" toml:"tick_interval"`
}

// ChannelsConfig holds configuration for all channel adapters.
type ChannelsConfig struct {
	Webchat  WebchatConfig  `yaml:"webchat" toml:"webchat"`
	Telegram TelegramConfig `yaml:"telegram" toml:"telegram"`
	Discord  DiscordConfig  `yaml:"discord" toml:"discord"`
	Slack    SlackConfig    `yaml:"slack" toml:"slack"`
	Matrix   MatrixConfig   `yaml:"matrix" toml:"matrix"`
}

// WebchatConfig holds the in-process webchat adapter configuration.
type WebchatConfig struct {
	Enabled bool `yaml:"enabled" toml:"enabled"`
}

// TelegramConfig holds Telegram long-poll adapter configuration.
type TelegramConfig struct {
	Enabled      bool   `yaml:"enabled" toml:"enabled"`
	BotToken     string `yaml:"bot_token" toml:"bot_token"`
	PollInterval string `yaml:"poll_interval" toml:"poll_interval"`
}

// DiscordConfig holds Discord adapter configuration.
type DiscordConfig struct {
	Enabled  bool   `yaml:"enabled" toml:"enabled"`
	BotToken string `yaml:"bot_token" toml:"bot_token"`
}

// SlackConfig holds the webhook-driven Slack adapter configuration.
type SlackConfig struct {
	Enabled      bool   `yaml:"enabled" toml:"enabled"`
	BotToken     string `yaml:"bot_token" toml:"bot_token"`
	SigningToken string `yaml:"signing_token" toml:"signing_token"`
}

// MatrixConfig holds Matrix adapter configuration.
type MatrixConfig struct {
	Enabled     bool   `yaml:"enabled" toml:"enabled"`
	Homeserver  string `yaml:"homeserver" toml:"homeserver"`
	UserID      string `yaml:"user_id" toml:"user_id"`
	AccessToken string `yaml:"access_token" toml:"access_token"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `yaml:"level" toml:"level"`
	Format string `yaml:"format" toml:"format"`
}

// Load reads a configuration file and returns a parsed Config.
// Files ending in .toml are parsed as TOML; everything else as YAML.
// Environment variables in the format ${VAR_NAME} are expanded first.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	expanded := expandEnvVars(string(data))

	var cfg Config
	if strings.HasSuffix(path, ".toml") {
		if err := toml.Unmarshal([]byte(expanded), &cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	} else {
		if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}

	if err := parseDurations(&cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// expandEnvVars replaces ${VAR_NAME} patterns with environment values.
// Unset variables expand to the empty string.
func expandEnvVars(s string) string {
	re := regexp.MustCompile(`\$\{([^}]+)\}`)

	return re.ReplaceAllStringFunc(s, func(match string) string {
		varName := re.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}

// Validate checks that all required configuration fields are present and
// valid. Returns an error describing the first failure encountered.
func (c *Config) Validate() error {
	if !c.Tailscale.Enabled && c.Server.HTTPAddr == "" {
		return fmt.Errorf("server.http_addr is required (or enable tailscale)")
	}
	if c.Tailscale.Enabled && c.Tailscale.Hostname == "" {
		return fmt.Errorf("tailscale.hostname is required when tailscale is enabled")
	}
	if c.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}

	switch c.Auth.Mode {
	case "", auth.ModeNone:
	case auth.ModeToken:
		if c.Auth.Token == "" {
			return fmt.Errorf("auth.token is required in token mode")
		}
	case auth.ModePassword:
		if c.Auth.Password == "" && c.Auth.PasswordHash == "" {
			return fmt.Errorf("auth.password or auth.password_hash is required in password mode")
		}
	default:
		return fmt.Errorf("auth.mode must be none, token, or password")
	}

	if c.Channels.Telegram.Enabled && c.Channels.Telegram.BotToken == "" {
		return fmt.Errorf("channels.telegram.bot_token is required when telegram is enabled")
	}
	if c.Channels.Discord.Enabled && c.Channels.Discord.BotToken == "" {
		return fmt.Errorf("channels.discord.bot_token is required when discord is enabled")
	}
	if c.Channels.Slack.Enabled && c.Channels.Slack.BotToken == "" {
		return fmt.Errorf("channels.slack.bot_token is required when slack is enabled")
	}
	if c.Channels.Matrix.Enabled {
		if c.Channels.Matrix.Homeserver == "" || c.Channels.Matrix.UserID == "" || c.Channels.Matrix.AccessToken == "" {
			return fmt.Errorf("channels.matrix requires homeserver, user_id, and access_token")
		}
	}

	return nil
}

// parseDurations converts raw duration strings into time.Duration values.
func parseDurations(cfg *Config) error {
	var err error

	if cfg.Gateway.TickIntervalRaw != "" {
		cfg.Gateway.TickInterval, err = time.ParseDuration(cfg.Gateway.TickIntervalRaw)
		if err != nil {
			return fmt.Errorf("parsing tick_interval %q: %w", cfg.Gateway.TickIntervalRaw, err)
		}
	}
	if cfg.Gateway.TickInterval == 0 {
		cfg.Gateway.TickInterval = 30 * time.Second
	}

	return nil
}
