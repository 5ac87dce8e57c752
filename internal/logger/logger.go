// Package logger owns the process-wide structured logger.
//
// Output is JSON on stdout by default. The level comes from the -log.level
// flag, then OPCUA_LOG_LEVEL, then info; OPCUA_LOG_FORMAT=text switches to the
// text handler. Level and writer can be changed at runtime.
package logger

import (
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
	"sync/atomic"
)

// Environment variables read by Init.
const (
	EnvLogLevel  = "OPCUA_LOG_LEVEL"
	EnvLogFormat = "OPCUA_LOG_FORMAT"
)

var (
	level    = &atomicLevel{}
	mu       sync.RWMutex
	global   *slog.Logger
	textMode bool
	initOnce sync.Once

	flagLevel = flag.String("log.level", "", "log level (debug, info, warn, error)")
)

// atomicLevel is a slog.Leveler that can be swapped while handlers use it.
type atomicLevel struct{ v atomic.Int64 }

func (a *atomicLevel) Level() slog.Level  { return slog.Level(a.v.Load()) }
func (a *atomicLevel) store(l slog.Level) { a.v.Store(int64(l)) }

// Init builds the global logger once. Later calls are no-ops; use SetLevel and
// UseWriter to change it.
func Init() {
	initOnce.Do(func() {
		level.store(initialLevel(os.Args[1:]))
		textMode = strings.EqualFold(os.Getenv(EnvLogFormat), "text")
		global = slog.New(newHandler(os.Stdout))
	})
}

func newHandler(w io.Writer) slog.Handler {
	opts := &slog.HandlerOptions{Level: level}
	if textMode {
		return slog.NewTextHandler(w, opts)
	}
	return slog.NewJSONHandler(w, opts)
}

// initialLevel resolves -log.level (parsed or still raw in args), then the
// environment, then info.
func initialLevel(args []string) slog.Level {
	raw := *flagLevel
	if raw == "" {
		for _, arg := range args {
			if v, ok := strings.CutPrefix(arg, "-log.level="); ok {
				raw = v
			}
		}
	}
	for _, candidate := range []string{raw, os.Getenv(EnvLogLevel)} {
		if candidate == "" {
			continue
		}
		if lvl, err := ParseLevel(candidate); err == nil {
			return lvl
		}
	}
	return slog.LevelInfo
}

// ParseLevel accepts debug, info, warn(ing) and err(or), case-insensitive.
func ParseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug, nil
	case "info", "":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error", "err":
		return slog.LevelError, nil
	}
	return 0, fmt.Errorf("invalid log level %q", s)
}

// SetLevel changes the level of the global logger.
func SetLevel(s string) error {
	Init()
	lvl, err := ParseLevel(s)
	if err != nil {
		return err
	}
	level.store(lvl)
	return nil
}

// Level returns the current level, e.g. "INFO".
func Level() string {
	Init()
	return level.Level().String()
}

// UseWriter redirects the global logger to w, keeping level and format.
func UseWriter(w io.Writer) {
	Init()
	mu.Lock()
	global = slog.New(newHandler(w))
	mu.Unlock()
}

// Logger returns the global logger.
func Logger() *slog.Logger {
	Init()
	mu.RLock()
	defer mu.RUnlock()
	return global
}

// Discard returns a logger that drops every record.
func Discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError + 1}))
}

func Debug(msg string, args ...any) { Logger().Debug(msg, args...) }
func Info(msg string, args ...any)  { Logger().Info(msg, args...) }

// WithChannel attaches the secure channel and request the message belongs to.
func WithChannel(l *slog.Logger, channelID, requestID uint32) *slog.Logger {
	return l.With("channel_id", channelID, "request_id", requestID)
}

// WithMessage attaches the message correlation id and 3-letter message type.
func WithMessage(l *slog.Logger, messageID, msgType string) *slog.Logger {
	return l.With("message_id", messageID, "msg_type", msgType)
}

// WithChunk groups per-chunk fields under "chunk". A zero sequence number has
// not been drawn yet and is left out.
func WithChunk(l *slog.Logger, index int, chunkType byte, seq uint32) *slog.Logger {
	attrs := []any{"index", index, "type", string(chunkType)}
	if seq != 0 {
		attrs = append(attrs, "seq", seq)
	}
	return l.With(slog.Group("chunk", attrs...))
}
