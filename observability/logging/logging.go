package logging

import (
	"io"
	"log"
	"log/slog"
	"os"
	"strings"

	"gopkg.in/natefinch/lumberjack.v2"
)

// Options tunes where and how verbosely Setup logs.
type Options struct {
	// Level is one of debug, info, warn or error. Defaults to info.
	Level string
	// File, when set, receives the log stream through a rotating writer in
	// addition to stdout.
	File       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	// Output overrides stdout. Tests use it to capture lines.
	Output io.Writer
}

// ParseLevel maps a textual level onto slog.Level, defaulting to info.
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

func (o Options) writer() io.Writer {
	out := o.Output
	if out == nil {
		out = os.Stdout
	}
	file := strings.TrimSpace(o.File)
	if file == "" {
		return out
	}
	rotating := &lumberjack.Logger{
		Filename:   file,
		MaxSize:    o.MaxSizeMB,
		MaxBackups: o.MaxBackups,
		MaxAge:     o.MaxAgeDays,
		Compress:   true,
	}
	return io.MultiWriter(out, rotating)
}

// Setup configures the standard library logger to emit structured JSON and returns
// the underlying slog.Logger for richer logging within the service. All log lines
// include the service name and environment when provided.
func Setup(service, env string, opts Options) *slog.Logger {
	handler := slog.NewJSONHandler(opts.writer(), &slog.HandlerOptions{
		Level: ParseLevel(opts.Level),
		ReplaceAttr: func(groups []string, attr slog.Attr) slog.Attr {
			switch attr.Key {
			case slog.TimeKey:
				return slog.Attr{Key: "timestamp", Value: attr.Value}
			case slog.LevelKey:
				return slog.String("severity", strings.ToUpper(attr.Value.String()))
			case slog.MessageKey:
				return slog.Attr{Key: "message", Value: attr.Value}
			}
			return attr
		},
	})

	attrs := []slog.Attr{
		slog.String("service", strings.TrimSpace(service)),
	}
	if env = strings.TrimSpace(env); env != "" {
		attrs = append(attrs, slog.String("env", env))
	}

	base := slog.New(handler.WithAttrs(attrs))
	slog.SetDefault(base)

	// Bridge the standard library logger so existing packages continue to work.
	stdBridge := slog.NewLogLogger(handler.WithAttrs(attrs), slog.LevelInfo)
	stdBridge.SetFlags(0)
	log.SetOutput(stdBridge.Writer())
	log.SetFlags(0)
	log.SetPrefix("")

	return base
}
