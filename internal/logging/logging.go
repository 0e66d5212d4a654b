// Package logging настраивает slog для бинарников clunks.
package logging

import (
	"io"
	"log/slog"
	"os"

	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/udisondev/clunks/pkg/config"
)

// Setup устанавливает логгер по умолчанию. Непустой cfg.File включает ротацию.
func Setup(cfg config.LogConfig) {
	slog.SetDefault(slog.New(NewHandler(cfg, Output(cfg))))
}

// Output возвращает writer для логов: stdout или файл с ротацией.
func Output(cfg config.LogConfig) io.Writer {
	if cfg.File == "" {
		return os.Stdout
	}
	return &lumberjack.Logger{
		Filename:   cfg.File,
		MaxSize:    100, // MB
		MaxAge:     7,   // days
		MaxBackups: 5,
		Compress:   true,
		LocalTime:  true,
	}
}

// NewHandler создаёт text или json handler с уровнем из cfg.
func NewHandler(cfg config.LogConfig, w io.Writer) slog.Handler {
	opts := &slog.HandlerOptions{Level: ParseLevel(cfg.Level)}
	if cfg.Format == "json" {
		return slog.NewJSONHandler(w, opts)
	}
	return slog.NewTextHandler(w, opts)
}

// ParseLevel разбирает уровень логирования. Неизвестное значение = info.
func ParseLevel(s string) slog.Level {
	switch s {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
