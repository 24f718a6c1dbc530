// Package log is the application's levelled key/value logger. Call sites
// pass alternating keys and values; output goes through zerolog as either a
// human-readable console line or JSON.
package log

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

type Level string

const (
	LevelDebug Level = "DEBUG"
	LevelInfo  Level = "INFO"
	LevelWarn  Level = "WARN"
	LevelError Level = "ERROR"
)

// Format selects the line encoding.
type Format string

const (
	// FormatConsole is `2025-01-01T00:00:00Z INF msg key=value`.
	FormatConsole Format = "console"
	// FormatJSON is one JSON object per line.
	FormatJSON Format = "json"
)

var (
	mu     sync.Mutex
	out    io.Writer = os.Stderr
	format           = FormatConsole
	level            = LevelInfo
	logger           = build()
)

func (l Level) zerolog() zerolog.Level {
	switch l {
	case LevelDebug:
		return zerolog.DebugLevel
	case LevelInfo:
		return zerolog.InfoLevel
	case LevelWarn:
		return zerolog.WarnLevel
	case LevelError:
		return zerolog.ErrorLevel
	default:
		return zerolog.TraceLevel
	}
}

// ParseLevel accepts the level names in any case. An empty string is INFO.
func ParseLevel(s string) (Level, error) {
	s = strings.ToUpper(strings.TrimSpace(s))
	switch s {
	case "":
		return LevelInfo, nil
	case "WARNING":
		return LevelWarn, nil
	case string(LevelDebug), string(LevelInfo), string(LevelWarn), string(LevelError):
		return Level(s), nil
	}
	return LevelInfo, fmt.Errorf("log: unknown level %q", s)
}

// ParseFormat accepts "console" (default) or "json".
func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(strings.TrimSpace(s))); f {
	case "":
		return FormatConsole, nil
	case FormatConsole, FormatJSON:
		return f, nil
	}
	return FormatConsole, fmt.Errorf("log: unknown format %q", s)
}

// build must be called with mu held.
func build() zerolog.Logger {
	w := out
	if format == FormatConsole {
		w = zerolog.ConsoleWriter{Out: out, NoColor: true, TimeFormat: time.RFC3339Nano}
	}
	return zerolog.New(w).Level(level.zerolog()).With().Timestamp().Logger()
}

func SetLevel(l Level) {
	mu.Lock()
	defer mu.Unlock()
	level = l
	logger = build()
}

// SetOutput redirects all log lines, e.g. to a buffer in tests.
func SetOutput(w io.Writer, f Format) {
	mu.Lock()
	defer mu.Unlock()
	out, format = w, f
	logger = build()
}

func Debug(msg string, kv ...any) {
	logWithLevel(zerolog.DebugLevel, msg, nil, kv)
}

func Info(msg string, kv ...any) {
	logWithLevel(zerolog.InfoLevel, msg, nil, kv)
}

func Warn(msg string, kv ...any) {
	logWithLevel(zerolog.WarnLevel, msg, nil, kv)
}

func Error(msg string, err error, kv ...any) {
	logWithLevel(zerolog.ErrorLevel, msg, err, kv)
}

func logWithLevel(l zerolog.Level, msg string, err error, kv []any) {
	mu.Lock()
	lg := logger
	mu.Unlock()

	e := lg.WithLevel(l)
	if e == nil {
		return
	}
	if err != nil {
		e = e.Err(err)
	}
	// Expect kv as pairs: key, value, key, value, ...
	// If odd number of args, last one is ignored.
	for i := 0; i+1 < len(kv); i += 2 {
		key, ok := kv[i].(string)
		if !ok {
			continue
		}
		switch v := kv[i+1].(type) {
		case error:
			e = e.AnErr(key, v)
		case fmt.Stringer:
			e = e.Stringer(key, v)
		default:
			e = e.Interface(key, v)
		}
	}
	e.Msg(msg)
}
