package logger

import (
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/hard-gainer/voting-ledger/internal/config"
	"gopkg.in/natefinch/lumberjack.v2"
)

// InitLogger installs a JSON slog handler as the default logger
func InitLogger(cfg config.LogConfig) {
	slog.SetDefault(New(cfg))
}

// New builds a JSON logger writing to stdout, or to a rotated file when
// LogFile is set
func New(cfg config.LogConfig) *slog.Logger {
	var out io.Writer = os.Stdout
	if cfg.LogFile != "" {
		out = &lumberjack.Logger{
			Filename:   cfg.LogFile,
			MaxSize:    50, // megabytes
			MaxBackups: 5,
			MaxAge:     28, // days
			Compress:   true,
		}
	}

	return slog.New(slog.NewJSONHandler(out, &slog.HandlerOptions{
		Level: ParseLevel(cfg.LogLevel),
	}))
}

// ParseLevel maps a level name to slog.Level, defaulting to info
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
