// Package logging builds the service's slog logger. Output is text on a
// terminal and JSON otherwise, LOG_FORMAT and LOG_LEVEL override both, and
// every record picks up job_id/user_id from the context of *Context calls.
package logging

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
)

// Options controls logger construction.
type Options struct {
	JSON   bool
	Level  slog.Level
	Output io.Writer
	// Records are stamped with service=Service when set.
	Service string
}

// OptionsFromEnv reads LOG_FORMAT and LOG_LEVEL. Without LOG_FORMAT the
// format follows whether stdout is a terminal.
func OptionsFromEnv() Options {
	format := strings.ToLower(strings.TrimSpace(os.Getenv("LOG_FORMAT")))
	json := format == "json" || (format == "" && !isatty(os.Stdout))
	return Options{
		JSON:    json,
		Level:   parseLogLevel(os.Getenv("LOG_LEVEL")),
		Output:  os.Stdout,
		Service: "soundlab-api",
	}
}

// NewWithOptions creates a logger from opts.
func NewWithOptions(opts Options) *slog.Logger {
	if opts.Output == nil {
		opts.Output = os.Stdout
	}
	wd, _ := os.Getwd()
	handlerOpts := &slog.HandlerOptions{
		Level:       opts.Level,
		AddSource:   true,
		ReplaceAttr: shortSource(wd),
	}

	var handler slog.Handler
	if opts.JSON {
		handler = slog.NewJSONHandler(opts.Output, handlerOpts)
	} else {
		handler = slog.NewTextHandler(opts.Output, handlerOpts)
	}

	logger := slog.New(NewContextHandler(handler))
	if opts.Service != "" {
		logger = logger.With("service", opts.Service)
	}
	return logger
}

// New creates a logger configured from the environment.
func New() *slog.Logger {
	return NewWithOptions(OptionsFromEnv())
}

// SetDefault installs New() as the slog default and returns it.
func SetDefault() *slog.Logger {
	logger := New()
	slog.SetDefault(logger)
	return logger
}

// shortSource rewrites source paths relative to wd, or to the bare file
// name when that fails.
func shortSource(wd string) func([]string, slog.Attr) slog.Attr {
	return func(_ []string, a slog.Attr) slog.Attr {
		if a.Key != slog.SourceKey {
			return a
		}
		src, ok := a.Value.Any().(*slog.Source)
		if !ok {
			return a
		}
		if rel, err := filepath.Rel(wd, src.File); err == nil && !strings.HasPrefix(rel, "..") {
			src.File = rel
		} else {
			src.File = filepath.Base(src.File)
		}
		return a
	}
}

func parseLogLevel(level string) slog.Level {
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

func isatty(f *os.File) bool {
	stat, err := f.Stat()
	if err != nil {
		return false
	}
	return stat.Mode()&os.ModeCharDevice != 0
}
