// Package logger builds the process logger from the logging configuration.
package logger

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	charmLog "github.com/charmbracelet/log"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/gwillem/lerobot-relay/pkg/config"
)

// Environment variables that override the configuration file.
const (
	EnvLevel  = "LEROBOT_LOG_LEVEL"
	EnvFormat = "LEROBOT_LOG_FORMAT"
)

// New returns a logger for cfg and the closer of its output. The closer must
// be called on exit when logging to a file.
func New(cfg config.LoggingConfig) (*slog.Logger, io.Closer, error) {
	var out io.WriteCloser = nopCloser{os.Stderr}
	if cfg.File != "" {
		out = &lumberjack.Logger{
			Filename:   cfg.File,
			MaxSize:    cfg.MaxSizeMB,
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAgeDays,
		}
	}

	log, err := newWithWriter(cfg, out)
	if err != nil {
		_ = out.Close()
		return nil, nil, err
	}
	return log, out, nil
}

func newWithWriter(cfg config.LoggingConfig, w io.Writer) (*slog.Logger, error) {
	format := envOr(EnvFormat, cfg.Format, "text")
	level, err := parseLevel(envOr(EnvLevel, cfg.Level, "info"))
	if err != nil {
		return nil, err
	}

	switch format {
	case "text":
		return slog.New(charmLog.NewWithOptions(w, charmLog.Options{
			Level:           charmLevel(level),
			ReportTimestamp: true,
			TimeFormat:      time.TimeOnly,
			ReportCaller:    cfg.AddSource,
		})), nil
	case "json":
		return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{
			Level:       level,
			AddSource:   cfg.AddSource,
			ReplaceAttr: jsonKeys,
		})), nil
	default:
		return nil, fmt.Errorf("unsupported log format %q", format)
	}
}

func envOr(key, value, fallback string) string {
	if env := strings.TrimSpace(os.Getenv(key)); env != "" {
		value = env
	}
	value = strings.ToLower(strings.TrimSpace(value))
	if value == "" {
		return fallback
	}
	return value
}

func parseLevel(s string) (slog.Level, error) {
	switch s {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return 0, fmt.Errorf("unsupported log level %q", s)
	}
}

func charmLevel(level slog.Level) charmLog.Level {
	switch {
	case level <= slog.LevelDebug:
		return charmLog.DebugLevel
	case level <= slog.LevelInfo:
		return charmLog.InfoLevel
	case level <= slog.LevelWarn:
		return charmLog.WarnLevel
	default:
		return charmLog.ErrorLevel
	}
}

// jsonKeys renames the built-in keys to timestamp, level and message and
// lowercases the level.
func jsonKeys(groups []string, a slog.Attr) slog.Attr {
	if len(groups) > 0 {
		return a
	}
	switch a.Key {
	case slog.TimeKey:
		a.Key = "timestamp"
		a.Value = slog.StringValue(a.Value.Time().UTC().Format(time.RFC3339Nano))
	case slog.LevelKey:
		a.Value = slog.StringValue(strings.ToLower(a.Value.String()))
	case slog.MessageKey:
		a.Key = "message"
	}
	return a
}

type nopCloser struct {
	io.Writer
}

func (nopCloser) Close() error { return nil }
