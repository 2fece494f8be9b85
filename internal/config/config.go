// Package config provides YAML-based configuration loading for Crewline.
package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config is the top-level Crewline configuration, loaded from crewline.yaml.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	DB        DBConfig        `yaml:"db"`
	Transport TransportConfig `yaml:"transport"`
	Digest    DigestConfig    `yaml:"digest"`
}

// ServerConfig holds HTTP listener settings.
type ServerConfig struct {
	Port int `yaml:"port"`
}

// DBConfig holds connection settings for the MySQL server.
type DBConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Database string `yaml:"database"`
}

// TransportConfig selects and configures the chat transport.
// Platform "webhook" means updates arrive via POST /conversation and outbound
// sends are POSTed to webhook.outbound_url; "slack" and "discord" run a live
// adapter alongside the HTTP server.
type TransportConfig struct {
	Platform string        `yaml:"platform"`
	Webhook  WebhookConfig `yaml:"webhook"`
	Slack    SlackConfig   `yaml:"slack"`
	Discord  DiscordConfig `yaml:"discord"`
}

// WebhookConfig holds the outbound delivery URL for webhook-mode transports.
// An empty URL leaves outbound sends undelivered.
type WebhookConfig struct {
	OutboundURL string `yaml:"outbound_url"`
}

// SlackConfig holds Slack Socket Mode credentials.
type SlackConfig struct {
	AppToken string `yaml:"app_token"`
	BotToken string `yaml:"bot_token"`
}

// DiscordConfig holds the Discord bot credential.
type DiscordConfig struct {
	BotToken string `yaml:"bot_token"`
}

// DigestConfig controls the daily owner digest.
type DigestConfig struct {
	Enabled bool   `yaml:"enabled"`
	Cron    string `yaml:"cron"`
}

// Load reads a YAML config file from path and returns a validated Config.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	return Parse(data)
}

// Parse unmarshals YAML bytes into a validated Config.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse: %w", err)
	}
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// applyDefaults fills in derived and default values.
func (c *Config) applyDefaults() {
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.DB.Host == "" {
		c.DB.Host = "127.0.0.1"
	}
	if c.DB.Port == 0 {
		c.DB.Port = 3306
	}
	if c.DB.Database == "" {
		c.DB.Database = "crewline"
	}
	if c.Transport.Platform == "" {
		c.Transport.Platform = "webhook"
	}
	if c.Digest.Enabled && c.Digest.Cron == "" {
		c.Digest.Cron = "0 18 * * *"
	}
}

// validate checks that all required fields are present and consistent.
func (c *Config) validate() error {
	var errs []string
	switch c.Transport.Platform {
	case "webhook":
	case "slack":
		if c.Transport.Slack.AppToken == "" {
			errs = append(errs, "transport.slack.app_token is required")
		}
		if c.Transport.Slack.BotToken == "" {
			errs = append(errs, "transport.slack.bot_token is required")
		}
	case "discord":
		if c.Transport.Discord.BotToken == "" {
			errs = append(errs, "transport.discord.bot_token is required")
		}
	default:
		errs = append(errs, fmt.Sprintf("transport.platform %q is not one of webhook, slack, discord", c.Transport.Platform))
	}
	if len(errs) > 0 {
		return fmt.Errorf("config: validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}
