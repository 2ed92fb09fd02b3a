package logging

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"jukeboxd/pkg/config"

	"gopkg.in/natefinch/lumberjack.v2"
)

// LevelTrace sits below debug and is used for full request/response dumps.
const LevelTrace = slog.Level(-8)

const (
	maxLogSizeMB  = 5
	maxLogBackups = 5
	maxLogAgeDays = 14
)

// Init configures slog to write structured logs to stderr and, when
// cfg.LogFile is set, to a rotating log file as well.
func Init(cfg config.Config) (*slog.Logger, error) {
	return initWithConsole(cfg, os.Stderr)
}

func initWithConsole(cfg config.Config, console io.Writer) (*slog.Logger, error) {
	level := parseLogLevel(cfg.LogLevel)
	handlerOptions := &slog.HandlerOptions{Level: level}

	out := console
	if out == nil {
		out = io.Discard
	}

	logPath := strings.TrimSpace(cfg.LogFile)
	if logPath != "" {
		if err := os.MkdirAll(filepath.Dir(logPath), 0700); err != nil {
			logger := slog.New(newHandler(cfg.LogFormat, out, handlerOptions))
			slog.SetDefault(logger)
			return logger, err
		}

		writer := &lumberjack.Logger{
			Filename:   logPath,
			MaxSize:    maxLogSizeMB,
			MaxBackups: maxLogBackups,
			MaxAge:     maxLogAgeDays,
			Compress:   true,
		}
		out = io.MultiWriter(out, writer)
	}

	logger := slog.New(newHandler(cfg.LogFormat, out, handlerOptions))
	slog.SetDefault(logger)
	return logger, nil
}

func parseLogLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "trace":
		return LevelTrace
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	case "info", "":
		return slog.LevelInfo
	default:
		return slog.LevelInfo
	}
}

func newHandler(format string, out io.Writer, opts *slog.HandlerOptions) slog.Handler {
	switch strings.ToLower(strings.TrimSpace(format)) {
	case "text":
		return slog.NewTextHandler(out, opts)
	default:
		return slog.NewJSONHandler(out, opts)
	}
}
