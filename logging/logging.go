// Package logging builds the slog loggers used by the toolqueue binaries.
//
// Every logger redacts a configurable set of attribute keys. Job input and
// output carry user data, so they are masked by default along with
// credentials.
package logging

import (
	"fmt"
	"io"
	"log/slog"
	"strings"
)

// Redacted replaces the value of a masked attribute.
const Redacted = "[REDACTED]"

// DefaultRedactKeys are masked unless Config.Redact overrides them.
var DefaultRedactKeys = []string{
	"input",
	"output",
	"authorization",
	"token",
	"secret",
	"cron_secret",
	"password",
	"dsn",
}

// Config selects the handler format and level.
type Config struct {
	// Level is debug, info, warn or error. Empty means info.
	Level string
	// Format is json or text. Empty means json.
	Format string
	// Redact lists attribute keys whose values are masked, compared
	// case-insensitively. Nil means DefaultRedactKeys.
	Redact []string
	// AddSource records the calling file and line.
	AddSource bool
}

// ParseLevel maps a level name to its slog.Level.
func ParseLevel(s string) (slog.Level, error) {
	var l slog.Level
	if s == "" {
		return slog.LevelInfo, nil
	}
	if err := l.UnmarshalText([]byte(s)); err != nil {
		return 0, fmt.Errorf("toolqueue/logging: unknown level %q", s)
	}
	return l, nil
}

// New builds a logger writing to w.
func New(w io.Writer, cfg Config) (*slog.Logger, error) {
	level, err := ParseLevel(cfg.Level)
	if err != nil {
		return nil, err
	}

	keys := cfg.Redact
	if keys == nil {
		keys = DefaultRedactKeys
	}
	opts := &slog.HandlerOptions{
		Level:       level,
		AddSource:   cfg.AddSource,
		ReplaceAttr: redactor(keys),
	}

	var h slog.Handler
	switch strings.ToLower(cfg.Format) {
	case "", "json":
		h = slog.NewJSONHandler(w, opts)
	case "text":
		h = slog.NewTextHandler(w, opts)
	default:
		return nil, fmt.Errorf("toolqueue/logging: unknown format %q", cfg.Format)
	}
	return slog.New(h), nil
}

func redactor(keys []string) func([]string, slog.Attr) slog.Attr {
	masked := make(map[string]struct{}, len(keys))
	for _, k := range keys {
		masked[strings.ToLower(k)] = struct{}{}
	}
	return func(_ []string, a slog.Attr) slog.Attr {
		if _, ok := masked[strings.ToLower(a.Key)]; ok {
			return slog.String(a.Key, Redacted)
		}
		return a
	}
}

// Discard returns a logger that drops every record.
func Discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError + 1}))
}
