// Package logger provides the process-wide structured logger: JSON records
// written to a rotating file, optionally mirrored as text to the console.
package logger

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"gopkg.in/natefinch/lumberjack.v2"
)

// LogLevel represents the logging level
type LogLevel int

const (
	LevelDebug LogLevel = iota
	LevelInfo
	LevelWarn
	LevelError
)

// ParseLevel maps "debug", "info", "warn" and "error" to a LogLevel.
// Anything else is LevelInfo.
func ParseLevel(s string) LogLevel {
	switch strings.ToLower(strings.TrimSpace(s)) {
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

func (l LogLevel) slogLevel() slog.Level {
	switch l {
	case LevelDebug:
		return slog.LevelDebug
	case LevelWarn:
		return slog.LevelWarn
	case LevelError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Options configures InitLogger.
type Options struct {
	Level LogLevel

	// Path of the log file. Empty means ~/.config/devicealarm/devicealarm.log.
	Path string

	// Console mirrors records as text to stderr.
	Console bool

	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
}

var (
	// Log is the global structured logger
	Log *slog.Logger
	// LogPath is the path to the current log file
	LogPath string

	logWriter *lumberjack.Logger
	counter   = &counts{}
)

// InitLogger initializes the global logger.
func InitLogger(opts Options) {
	logPath := opts.Path
	if logPath == "" {
		logPath = DefaultPath()
	}
	_ = os.MkdirAll(filepath.Dir(logPath), 0755)
	LogPath = logPath

	logWriter = &lumberjack.Logger{
		Filename:   logPath,
		MaxSize:    orDefault(opts.MaxSizeMB, 10),
		MaxBackups: orDefault(opts.MaxBackups, 3),
		MaxAge:     orDefault(opts.MaxAgeDays, 7),
		Compress:   true,
	}

	handlerOpts := &slog.HandlerOptions{Level: opts.Level.slogLevel()}

	var handler slog.Handler = slog.NewJSONHandler(logWriter, handlerOpts)
	if opts.Console {
		handler = teeHandler{handler, slog.NewTextHandler(os.Stderr, handlerOpts)}
	}

	counter.reset()
	Log = slog.New(&countingHandler{inner: handler, counts: counter})
	slog.SetDefault(Log)
}

// InitWriter points the global logger at w. Used by tests and one-shot
// commands that should not touch the log file.
func InitWriter(w io.Writer, level LogLevel) {
	counter.reset()
	handler := slog.NewTextHandler(w, &slog.HandlerOptions{Level: level.slogLevel()})
	Log = slog.New(&countingHandler{inner: handler, counts: counter})
}

// DefaultPath returns ~/.config/devicealarm/devicealarm.log, falling back
// to the temp directory when there is no home directory.
func DefaultPath() string {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		homeDir = os.TempDir()
	}
	return filepath.Join(homeDir, ".config", "devicealarm", "devicealarm.log")
}

// Close closes the log file
func Close() {
	if logWriter != nil {
		logWriter.Close()
	}
}

// getLogger returns the global logger, or the default slog logger if not initialized.
func getLogger() *slog.Logger {
	if Log != nil {
		return Log
	}
	return slog.Default()
}

// Debug logs a debug message
func Debug(msg string, args ...any) {
	getLogger().Debug(msg, args...)
}

// Info logs an info message
func Info(msg string, args ...any) {
	getLogger().Info(msg, args...)
}

// Warn logs a warning message
func Warn(msg string, args ...any) {
	getLogger().Warn(msg, args...)
}

// Error logs an error message
func Error(msg string, args ...any) {
	getLogger().Error(msg, args...)
}

// With creates a new logger with additional attributes
func With(args ...any) *slog.Logger {
	return getLogger().With(args...)
}

// GetCounts returns how many warnings and errors were logged since init.
func GetCounts() (warn, err int) {
	return counter.get()
}

// LastError returns the message of the most recent ERROR record.
func LastError() string {
	counter.mu.Lock()
	defer counter.mu.Unlock()
	return counter.lastError
}

func orDefault(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}

type counts struct {
	mu        sync.Mutex
	warn      int
	err       int
	lastError string
}

func (c *counts) add(r slog.Record) {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch {
	case r.Level >= slog.LevelError:
		c.err++
		c.lastError = r.Message
		r.Attrs(func(a slog.Attr) bool {
			if a.Key == "error" {
				c.lastError = r.Message + ": " + a.Value.String()
				return false
			}
			return true
		})
	case r.Level >= slog.LevelWarn:
		c.warn++
	}
}

func (c *counts) get() (int, int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.warn, c.err
}

func (c *counts) reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.warn, c.err, c.lastError = 0, 0, ""
}

// countingHandler tallies WARN and ERROR records before passing them on.
type countingHandler struct {
	inner  slog.Handler
	counts *counts
}

func (h *countingHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.inner.Enabled(ctx, level)
}

func (h *countingHandler) Handle(ctx context.Context, r slog.Record) error {
	if r.Level >= slog.LevelWarn {
		h.counts.add(r)
	}
	return h.inner.Handle(ctx, r)
}

func (h *countingHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &countingHandler{inner: h.inner.WithAttrs(attrs), counts: h.counts}
}

func (h *countingHandler) WithGroup(name string) slog.Handler {
	return &countingHandler{inner: h.inner.WithGroup(name), counts: h.counts}
}

// teeHandler writes every record to both handlers.
type teeHandler [2]slog.Handler

func (t teeHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return t[0].Enabled(ctx, level) || t[1].Enabled(ctx, level)
}

func (t teeHandler) Handle(ctx context.Context, r slog.Record) error {
	var firstErr error
	for _, h := range t {
		if !h.Enabled(ctx, r.Level) {
			continue
		}
		if err := h.Handle(ctx, r.Clone()); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (t teeHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return teeHandler{t[0].WithAttrs(attrs), t[1].WithAttrs(attrs)}
}

func (t teeHandler) WithGroup(name string) slog.Handler {
	return teeHandler{t[0].WithGroup(name), t[1].WithGroup(name)}
}
