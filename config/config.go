// Package config loads server and chat-client settings.
// Precedence: defaults, optional YAML file, environment, command-line flags.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"ollama-chat/logging"
)

// Defaults
const (
	DefaultPort         = "3000"
	DefaultOllamaURL    = "http://localhost:11434"
	DefaultDatabasePath = "chat_history.db"
	DefaultLogLevel     = "info"
	DefaultServerURL    = "http://localhost:3000"
	DefaultHistoryLimit = 50
)

// Config holds all settings.
type Config struct {
	Port         string `yaml:"port"`
	OllamaURL    string `yaml:"ollama_url"`
	DatabasePath string `yaml:"database_path"`
	LogLevel     string `yaml:"log_level"`

	// RequestTimeout bounds calls to the completion service. Zero waits for
	// the service or a transport failure.
	RequestTimeout time.Duration `yaml:"request_timeout"`

	Client ClientConfig `yaml:"client"`
}

// ClientConfig configures the terminal chat client.
type ClientConfig struct {
	ServerURL    string   `yaml:"server_url"`
	IdentityFile string   `yaml:"identity_file"`
	HistoryLimit int      `yaml:"history_limit"`
	ImageModels  []string `yaml:"image_models"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Port:         DefaultPort,
		OllamaURL:    DefaultOllamaURL,
		DatabasePath: DefaultDatabasePath,
		LogLevel:     DefaultLogLevel,
		Client: ClientConfig{
			ServerURL:    DefaultServerURL,
			HistoryLimit: DefaultHistoryLimit,
		},
	}
}

// Load builds the configuration from path (may be empty) and the environment.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	cfg.applyEnvOverrides()
	return cfg, nil
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func (c *Config) applyEnvOverrides() {
	c.Port = getEnv("PORT", c.Port)
	c.OllamaURL = getEnv("OLLAMA_URL", c.OllamaURL)
	c.DatabasePath = getEnv("CHAT_DB_PATH", c.DatabasePath)
	c.LogLevel = getEnv("CHAT_LOG_LEVEL", c.LogLevel)
	c.Client.ServerURL = getEnv("CHAT_SERVER_URL", c.Client.ServerURL)
}

// Addr is the listen address for the HTTP server.
func (c *Config) Addr() string {
	return ":" + c.Port
}

// Validate checks the server settings.
func (c *Config) Validate() error {
	port, err := strconv.Atoi(c.Port)
	if err != nil || port < 1 || port > 65535 {
		return fmt.Errorf("invalid port %q", c.Port)
	}
	if err := validURL("ollama_url", c.OllamaURL); err != nil {
		return err
	}
	if c.DatabasePath == "" {
		return errors.New("database_path is required")
	}
	if _, err := logging.ParseLevel(c.LogLevel); err != nil {
		return err
	}
	if c.RequestTimeout < 0 {
		return errors.New("request_timeout must not be negative")
	}
	return nil
}

// ValidateClient checks the chat-client settings.
func (c *Config) ValidateClient() error {
	if err := validURL("server_url", c.Client.ServerURL); err != nil {
		return err
	}
	if c.Client.HistoryLimit < 0 || c.Client.HistoryLimit > 100 {
		return fmt.Errorf("history_limit must be between 0 and 100, got %d", c.Client.HistoryLimit)
	}
	return nil
}

func validURL(field, raw string) error {
	if raw == "" {
		return fmt.Errorf("%s is required", field)
	}
	u, err := url.Parse(raw)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("%s must be an http(s) URL, got %q", field, raw)
	}
	return nil
}
