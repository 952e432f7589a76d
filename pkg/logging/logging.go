package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
)

// Level represents a log level.
type Level = slog.Level

// Log levels.
const (
	LevelDebug = slog.LevelDebug
	LevelInfo  = slog.LevelInfo
	LevelWarn  = slog.LevelWarn
	LevelError = slog.LevelError
)

// Format represents the log output format.
type Format string

// Output formats.
const (
	FormatText Format = "text"
	FormatJSON Format = "json"
)

// Config holds logging configuration.
type Config struct {
	// Level is the minimum log level to output.
	Level Level

	// Format is the output format (text or json).
	Format Format

	// Output is the writer to send logs to. Defaults to os.Stderr.
	Output io.Writer

	// File, when set, receives a copy of every record in the same format.
	File string

	// AddSource adds source file and line to log entries.
	AddSource bool
}

// DefaultConfig returns the daemon defaults.
func DefaultConfig() Config {
	return Config{
		Level:  LevelInfo,
		Format: FormatText,
		Output: os.Stderr,
	}
}

// New creates a logger writing to cfg.Output only. File is ignored; use
// Open when a log file is wanted.
func New(cfg Config) *slog.Logger {
	if cfg.Output == nil {
		cfg.Output = os.Stderr
	}
	return slog.New(newHandler(cfg, cfg.Output))
}

// Open creates a logger that also appends to cfg.File when it is set.
// The returned closer releases the file and is safe to call when no file
// was opened.
func Open(cfg Config) (*slog.Logger, io.Closer, error) {
	if cfg.Output == nil {
		cfg.Output = os.Stderr
	}
	if cfg.File == "" {
		return New(cfg), nopCloser{}, nil
	}

	if err := os.MkdirAll(filepath.Dir(cfg.File), 0o755); err != nil {
		return nil, nil, fmt.Errorf("create log directory: %w", err)
	}
	f, err := os.OpenFile(cfg.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, nil, fmt.Errorf("open log file: %w", err)
	}

	handler := NewMultiHandler(newHandler(cfg, cfg.Output), newHandler(cfg, f))
	return slog.New(handler), f, nil
}

func newHandler(cfg Config, w io.Writer) slog.Handler {
	opts := &slog.HandlerOptions{
		Level:     cfg.Level,
		AddSource: cfg.AddSource,
	}
	if cfg.Format == FormatJSON {
		return slog.NewJSONHandler(w, opts)
	}
	return slog.NewTextHandler(w, opts)
}

// Nop returns a logger that discards all output.
func Nop() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// Component returns l tagged with a component attribute, or a no-op logger
// when l is nil.
func Component(l *slog.Logger, name string) *slog.Logger {
	if l == nil {
		return Nop()
	}
	return l.With("component", name)
}

// ParseLevel parses a log level string case-insensitively.
// Returns LevelInfo if the string is not recognized.
func ParseLevel(s string) Level {
	switch strings.ToLower(s) {
	case "debug":
		return LevelDebug
	case "warn", "warning":
		return LevelWarn
	case "error":
		return LevelError
	default:
		return LevelInfo
	}
}

// ParseFormat parses a log format string case-insensitively.
// Returns FormatText if the string is not recognized.
func ParseFormat(s string) Format {
	if strings.EqualFold(s, "json") {
		return FormatJSON
	}
	return FormatText
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
