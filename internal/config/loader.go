package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	pkgconfig "github.com/goran-ethernal/ContractSync/pkg/config"
	"gopkg.in/yaml.v3"
)

// LoadFromFile loads configuration from a file, auto-detecting the format by extension.
// Supported formats: .yaml, .yml, .json, .toml
func LoadFromFile(path string) (*pkgconfig.Config, error) {
	ext := strings.ToLower(filepath.Ext(path))

	switch ext {
	case ".yaml", ".yml":
		return LoadFromYAML(path)
	case ".json":
		return LoadFromJSON(path)
	case ".toml":
		return LoadFromTOML(path)
	default:
		return nil, fmt.Errorf("unsupported config file format: %s (supported: .yaml, .yml, .json, .toml)", ext)
	}
}

// LoadFromYAML loads configuration from a YAML file.
func LoadFromYAML(path string) (*pkgconfig.Config, error) {
	return load(path, "YAML", yaml.Unmarshal)
}

// LoadFromJSON loads configuration from a JSON file.
func LoadFromJSON(path string) (*pkgconfig.Config, error) {
	return load(path, "JSON", json.Unmarshal)
}

// LoadFromTOML loads configuration from a TOML file.
func LoadFromTOML(path string) (*pkgconfig.Config, error) {
	return load(path, "TOML", toml.Unmarshal)
}

func load(path, format string, unmarshal func([]byte, any) error) (*pkgconfig.Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg pkgconfig.Config
	if err := unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse %s config: %w", format, err)
	}

	cfg.ApplyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}
