package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// Config holds the stored credential and endpoint urls for editctl.
type Config struct {
	ApiUrl     string `toml:"api_url"`
	ConnectUrl string `toml:"connect_url"`
	ByJwt      string `toml:"jwt"`
	UserId     string `toml:"user_id,omitempty"`
}

func DefaultConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "editctl.toml"
	}
	return filepath.Join(home, ".editctl", "config.toml")
}

func ReadConfig(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	defer f.Close()
	return readConfig(f)
}

func readConfig(r io.Reader) (*Config, error) {
	var config Config
	if _, err := toml.NewDecoder(r).Decode(&config); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	return &config, nil
}

func WriteConfig(path string, config *Config) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create config file: %w", err)
	}
	defer f.Close()

	if err := toml.NewEncoder(f).Encode(config); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	return nil
}
