package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// Config represents the global ~/.teamchat/config.toml.
type Config struct {
	DefaultProfile string  `toml:"default_profile"`
	API            API     `toml:"api"`
	Relay          Relay   `toml:"relay"`
	Team           Team    `toml:"team"`
	Metrics        Metrics `toml:"metrics"`
}

// API configures the REST backend.
type API struct {
	BaseURL string `toml:"base_url"`
	Token   string `toml:"token"`
}

// Relay configures the live message relay.
type Relay struct {
	URL string `toml:"url"`
}

// Team scopes the client to one team's conversations.
type Team struct {
	ID     int64 `toml:"id"`
	UserID int64 `toml:"user_id"`
}

// Metrics configures the optional debug /metrics listener.
// An empty Addr disables it.
type Metrics struct {
	Addr string `toml:"addr"`
}

// Load reads config from the given path. Returns an error if the file is missing.
func Load(path string) (*Config, error) {
	var cfg Config
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks the fields the daemon cannot run without.
func (c *Config) Validate() error {
	if c.API.BaseURL == "" {
		return fmt.Errorf("config: api.base_url is required")
	}
	if c.Relay.URL == "" {
		return fmt.Errorf("config: relay.url is required")
	}
	if c.Team.ID <= 0 {
		return fmt.Errorf("config: team.id is required")
	}
	if c.Team.UserID <= 0 {
		return fmt.Errorf("config: team.user_id is required")
	}
	return nil
}

// Save writes config to the given path, creating parent dirs as needed.
func Save(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}
	encErr := toml.NewEncoder(f).Encode(cfg)
	if closeErr := f.Close(); closeErr != nil && encErr == nil {
		return closeErr
	}
	return encErr
}
