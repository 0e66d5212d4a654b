// Package appdir управляет директорией приложения с XDG-совместимыми путями.
package appdir

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/adrg/xdg"
)

const appName = "clunks"

// Dir возвращает путь к директории приложения.
// Linux: ~/.config/clunks
// macOS: ~/Library/Application Support/clunks
// Windows: %AppData%\clunks
func Dir() string {
	return filepath.Join(xdg.ConfigHome, appName)
}

// ConfigPath возвращает путь к файлу конфигурации.
func ConfigPath() string {
	return filepath.Join(Dir(), "config.yaml")
}

// LogsDir возвращает путь к директории логов.
func LogsDir() string {
	return filepath.Join(Dir(), "logs")
}

// LogFilePath возвращает путь к файлу логов.
func LogFilePath() string {
	return filepath.Join(LogsDir(), appName+".log")
}

// Init создаёт директорию приложения, директорию логов и дефолтный конфиг.
// Существующий конфиг не перезаписывается.
func Init() error {
	for _, dir := range []string{Dir(), LogsDir()} {
		if err := os.MkdirAll(dir, 0700); err != nil {
			return fmt.Errorf("create directory %s: %w", dir, err)
		}
	}

	if err := ensureDefaultConfig(ConfigPath()); err != nil {
		return fmt.Errorf("ensure default config: %w", err)
	}
	return nil
}

func ensureDefaultConfig(path string) error {
	if _, err := os.Stat(path); err == nil {
		return nil
	}
	return writeDefaultConfig(path)
}
