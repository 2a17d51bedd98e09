// Package logging builds the zerolog logger shared by droidctl commands.
package logging

import (
	"bytes"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fatih/color"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/pkgerrors"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Color modes accepted by Config.Color
const (
	ColorAuto   = "auto"
	ColorAlways = "always"
	ColorNever  = "never"
)

// Config holds logger configuration
type Config struct {
	Level   string
	LogFile string
	Color   string
	Console io.Writer // defaults to os.Stderr
}

// NewLogger creates a new zerolog logger with dual output (console + file)
func NewLogger(cfg Config) *zerolog.Logger {
	zerolog.ErrorStackMarshaler = pkgerrors.MarshalStack

	level := parseLevel(cfg.Level)

	out := cfg.Console
	if out == nil {
		out = os.Stderr
	}

	consoleWriter := zerolog.ConsoleWriter{
		Out:        newProgressSafeWriter(out),
		TimeFormat: "15:04:05",
		NoColor:    noColor(cfg.Color),
	}

	writers := []io.Writer{consoleWriter}

	if cfg.LogFile != "" {
		dir := filepath.Dir(cfg.LogFile)
		if err := os.MkdirAll(dir, 0o755); err == nil {
			writers = append(writers, &lumberjack.Logger{
				Filename:   cfg.LogFile,
				MaxSize:    10, // MB
				MaxBackups: 3,
				MaxAge:     28, // days
				Compress:   true,
			})
		}
	}

	logger := zerolog.New(zerolog.MultiLevelWriter(writers...)).
		Level(level).
		With().
		Timestamp().
		Logger()

	return &logger
}

func noColor(mode string) bool {
	switch strings.ToLower(mode) {
	case ColorAlways:
		return false
	case ColorNever:
		return true
	default:
		// fatih/color already honours NO_COLOR, TERM=dumb and non-tty stdout
		return color.NoColor || os.Getenv("NO_COLOR") != "" || os.Getenv("TERM") == "dumb"
	}
}

// parseLevel converts string level to zerolog.Level
func parseLevel(level string) zerolog.Level {
	switch strings.ToLower(level) {
	case "trace":
		return zerolog.TraceLevel
	case "debug":
		return zerolog.DebugLevel
	case "info":
		return zerolog.InfoLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	case "fatal":
		return zerolog.FatalLevel
	case "panic":
		return zerolog.PanicLevel
	default:
		return zerolog.InfoLevel
	}
}

// progressSafeWriter serializes console log lines and wipes any
// progress bar drawn on the current terminal line before each one.
type progressSafeWriter struct {
	mu        sync.Mutex
	out       io.Writer
	lineStart bool
}

const clearLine = "\r\033[K"

func newProgressSafeWriter(out io.Writer) io.Writer {
	return &progressSafeWriter{out: out, lineStart: true}
}

func (w *progressSafeWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if len(p) == 0 {
		return 0, nil
	}

	if w.lineStart {
		if _, err := io.WriteString(w.out, clearLine); err != nil {
			return 0, err
		}
	}

	n, err := w.out.Write(p)
	if err != nil {
		return n, err
	}
	w.lineStart = bytes.HasSuffix(p, []byte("\n"))
	return n, nil
}

// NewTestLogger creates a logger for testing that writes to a buffer
func NewTestLogger(w io.Writer) *zerolog.Logger {
	logger := zerolog.New(w).With().Timestamp().Logger()
	return &logger
}
