package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/udisondev/clunks/internal/appdir"
)

// Load загружает конфигурацию из файла.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}
	return Parse(data)
}

// Parse разбирает YAML поверх Default и проверяет результат.
func Parse(data []byte) (*Config, error) {
	cfg := Default()

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return cfg, nil
}

// LoadFromAppDir загружает конфигурацию из XDG директории приложения.
// Пустой log.file заменяется файлом в директории логов приложения.
func LoadFromAppDir() (*Config, error) {
	cfg, err := Load(appdir.ConfigPath())
	if err != nil {
		return nil, err
	}
	resolvePaths(cfg)
	return cfg, nil
}

// Open загружает конфигурацию из path, а при пустом path из директории приложения.
func Open(path string) (*Config, error) {
	if path == "" {
		return LoadFromAppDir()
	}
	return Load(path)
}

func resolvePaths(cfg *Config) {
	if cfg.Log.File == "" {
		cfg.Log.File = appdir.LogFilePath()
	}
}
