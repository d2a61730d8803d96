package main

import (
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all healerd configuration.
type Config struct {
	DBPath     string           `yaml:"db_path"`
	ListenAddr string           `yaml:"listen_addr"`
	MCPStdio   bool             `yaml:"mcp_stdio"`
	Browser    BrowserConfig    `yaml:"browser"`
	Completion CompletionConfig `yaml:"completion"`
	Queue      QueueConfig      `yaml:"queue"`
	Webhook    WebhookConfig    `yaml:"webhook"`
}

// BrowserConfig controls the managed browser.
type BrowserConfig struct {
	RemoteURL       string        `yaml:"remote_url"`
	Headless        *bool         `yaml:"headless"`
	NavigateTimeout time.Duration `yaml:"navigate_timeout"`
	ElementTimeout  time.Duration `yaml:"element_timeout"`
}

// CompletionConfig controls the LLM backend for the AI strategy.
type CompletionConfig struct {
	Endpoint  string        `yaml:"endpoint"`
	Model     string        `yaml:"model"`
	APIKey    string        `yaml:"api_key"`
	MaxTokens int           `yaml:"max_tokens"`
	Timeout   time.Duration `yaml:"timeout"`
}

// QueueConfig controls the background scheduler.
type QueueConfig struct {
	Visibility   time.Duration `yaml:"visibility"`
	PollInterval time.Duration `yaml:"poll_interval"`
	MaxAttempts  int           `yaml:"max_attempts"`
}

// WebhookConfig controls outbound event delivery.
type WebhookConfig struct {
	URL    string `yaml:"url"`
	Secret string `yaml:"secret"`
}

func (c *Config) defaults() {
	if c.DBPath == "" {
		c.DBPath = "healerd.db"
	}
	if c.ListenAddr == "" {
		c.ListenAddr = ":8470"
	}
}

// LoadConfigFile reads a YAML config file.
func LoadConfigFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}
