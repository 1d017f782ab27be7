// Package logging adapts zerolog to the keepalive.Logger interface.
package logging

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

// Output formats.
const (
	FormatConsole = "console"
	FormatJSON    = "json"
)

// Logger writes slog-style key/value calls through zerolog.
type Logger struct {
	zl zerolog.Logger
}

// New returns a Logger writing to out at the given level and format.
// app is attached to every line.
func New(out io.Writer, app, level, format string) (*Logger, error) {
	lvl, ok := ParseLevel(level)
	if !ok {
		return nil, errors.Errorf("unknown log level %q", level)
	}

	switch strings.ToLower(strings.TrimSpace(format)) {
	case "", FormatConsole:
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339}
	case FormatJSON:
	default:
		return nil, errors.Errorf("unknown log format %q", format)
	}

	zl := zerolog.New(out).Level(lvl).With().Timestamp().Str("app", app).Logger()
	return &Logger{zl: zl}, nil
}

// Wrap adapts an existing zerolog logger.
func Wrap(zl zerolog.Logger) *Logger {
	return &Logger{zl: zl}
}

// Zerolog returns the underlying logger.
func (l *Logger) Zerolog() zerolog.Logger {
	return l.zl
}

func (l *Logger) Debug(msg string, args ...any) { write(l.zl.Debug(), msg, args) }
func (l *Logger) Info(msg string, args ...any)  { write(l.zl.Info(), msg, args) }
func (l *Logger) Warn(msg string, args ...any)  { write(l.zl.Warn(), msg, args) }
func (l *Logger) Error(msg string, args ...any) { write(l.zl.Error(), msg, args) }

// write turns alternating key/value args into fields. A dangling value is
// logged under !BADKEY, as slog does.
func write(e *zerolog.Event, msg string, args []any) {
	if e == nil {
		return
	}
	for len(args) > 0 {
		key, ok := args[0].(string)
		if !ok || len(args) == 1 {
			e = field(e, "!BADKEY", args[0])
			args = args[1:]
			continue
		}
		e = field(e, key, args[1])
		args = args[2:]
	}
	e.Msg(msg)
}

func field(e *zerolog.Event, key string, v any) *zerolog.Event {
	switch v := v.(type) {
	case nil:
		return e.Interface(key, nil)
	case string:
		return e.Str(key, v)
	case int:
		return e.Int(key, v)
	case int64:
		return e.Int64(key, v)
	case bool:
		return e.Bool(key, v)
	case time.Duration:
		return e.Dur(key, v)
	case time.Time:
		return e.Time(key, v)
	case error:
		return e.AnErr(key, v)
	case fmt.Stringer:
		return e.Stringer(key, v)
	default:
		return e.Interface(key, v)
	}
}

// ParseLevel accepts the usual level names. It reports false for anything
// it does not recognise.
func ParseLevel(raw string) (zerolog.Level, bool) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "":
		return zerolog.InfoLevel, true
	case "trace":
		return zerolog.TraceLevel, true
	case "debug":
		return zerolog.DebugLevel, true
	case "info":
		return zerolog.InfoLevel, true
	case "warn", "warning":
		return zerolog.WarnLevel, true
	case "error":
		return zerolog.ErrorLevel, true
	case "disabled", "off", "none":
		return zerolog.Disabled, true
	default:
		return zerolog.InfoLevel, false
	}
}
