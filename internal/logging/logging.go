// Package logging configures the process-wide slog.Logger from
// internal/config's [logging] section.
package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/google/uuid"

	"github.com/yeti-lnp/lnpresolver/internal/config"
)

// Config controls slog handler selection and the static attrs every
// record carries.
type Config struct {
	Level            string
	Structured       bool
	StructuredFormat string
	IncludePID       bool
	ExtraFields      map[string]string
}

// FromAppConfig builds a logging.Config from the [logging] section of a
// loaded config.Config, tagging every record with the node's role and a
// random per-process instance id so multiple daemon instances writing to
// a shared log aggregator can be told apart, the same way the teacher
// tags every node with a cluster-node-id.
func FromAppConfig(cfg config.LoggingConfig, role string) Config {
	extra := map[string]string{"instance": uuid.New().String()[:8]}
	if role != "" {
		extra["role"] = role
	}
	return Config{
		Level:            cfg.Level,
		Structured:       cfg.Structured,
		StructuredFormat: cfg.StructuredFormat,
		IncludePID:       true,
		ExtraFields:      extra,
	}
}

// Configure builds and installs the process-wide default logger.
func Configure(cfg Config) *slog.Logger {
	level := parseLevel(cfg.Level)
	var handler slog.Handler
	out := io.Writer(os.Stderr)

	attrs := make([]slog.Attr, 0, len(cfg.ExtraFields)+1)
	for k, v := range cfg.ExtraFields {
		attrs = append(attrs, slog.String(k, v))
	}
	if cfg.IncludePID {
		attrs = append(attrs, slog.Int("pid", os.Getpid()))
	}

	if cfg.Structured {
		if strings.ToLower(cfg.StructuredFormat) == "json" {
			handler = slog.NewJSONHandler(out, &slog.HandlerOptions{Level: level})
		} else {
			// key=value-ish output
			handler = slog.NewTextHandler(out, &slog.HandlerOptions{Level: level})
		}
	} else {
		handler = slog.NewTextHandler(out, &slog.HandlerOptions{Level: level})
	}

	if len(attrs) > 0 {
		handler = handler.WithAttrs(attrs)
	}
	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger
}

func parseLevel(s string) slog.Level {
	s = strings.ToUpper(strings.TrimSpace(s))
	switch s {
	case "DEBUG":
		return slog.LevelDebug
	case "INFO":
		return slog.LevelInfo
	case "WARN", "WARNING":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
