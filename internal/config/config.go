// Package config holds application configuration loaded from defaults, an
// optional YAML file, and environment overrides.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config holds application configuration.
type Config struct {
	// CompletionsURL is the upstream chat-completions endpoint.
	CompletionsURL string `yaml:"completions_url"`
	// PublicKey is the fallback authorization credential used when no
	// user session token is available.
	PublicKey string `yaml:"public_key"`
	Model     string `yaml:"model"`

	DatabasePath string `yaml:"database_path"`
	UploadDir    string `yaml:"upload_dir"`
	UploadURL    string `yaml:"upload_url"`

	ListenAddr string `yaml:"listen_addr"`
	Debug      bool   `yaml:"debug"`
}

// Default returns the baseline configuration.
func Default() Config {
	return Config{
		CompletionsURL: "http://localhost:11434/v1/chat/completions",
		Model:          "gpt-4o-mini",
		DatabasePath:   "carechat.db",
		UploadDir:      "uploads",
		UploadURL:      "/api/attachments",
		ListenAddr:     ":8080",
	}
}

// Load builds the configuration: defaults, then the YAML file at path if
// non-empty, then environment variables.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	cfg.applyEnv()
	return cfg, nil
}

func (c *Config) applyEnv() {
	if v := os.Getenv("CARECHAT_COMPLETIONS_URL"); v != "" {
		c.CompletionsURL = v
	}
	if v := os.Getenv("CARECHAT_PUBLIC_KEY"); v != "" {
		c.PublicKey = v
	}
	if v := os.Getenv("CARECHAT_MODEL"); v != "" {
		c.Model = v
	}
	if v := os.Getenv("CARECHAT_DB"); v != "" {
		c.DatabasePath = v
	}
	if v := os.Getenv("CARECHAT_UPLOAD_DIR"); v != "" {
		c.UploadDir = v
	}
	if v := os.Getenv("CARECHAT_LISTEN_ADDR"); v != "" {
		c.ListenAddr = v
	}
}
