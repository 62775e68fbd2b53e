// Package logger provides tollgate's process-wide structured logger.
package logger

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"gopkg.in/natefinch/lumberjack.v2"
)

// Entry is a retained WARN or ERROR record.
type Entry struct {
	Time    time.Time  `json:"time"`
	Level   slog.Level `json:"level"`
	Message string     `json:"message"`
}

// Counts summarizes problems logged since start or the last Reset.
type Counts struct {
	Warnings int `json:"warnings"`
	Errors   int `json:"errors"`
}

// recentEntries keeps the last N problem entries.
type recentEntries struct {
	mu      sync.RWMutex
	entries []Entry
	head    int
	count   int
	counts  Counts
}

func newRecentEntries(size int) *recentEntries {
	return &recentEntries{entries: make([]Entry, size)}
}

func (r *recentEntries) add(e Entry) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.entries[r.head] = e
	r.head = (r.head + 1) % len(r.entries)
	if r.count < len(r.entries) {
		r.count++
	}

	if e.Level >= slog.LevelError {
		r.counts.Errors++
	} else {
		r.counts.Warnings++
	}
}

func (r *recentEntries) all() []Entry {
	r.mu.RLock()
	defer r.mu.RUnlock()

	size := len(r.entries)
	out := make([]Entry, r.count)
	for i := range out {
		out[i] = r.entries[(r.head-r.count+i+size)%size]
	}
	return out
}

// captureHandler records WARN and above before passing records on.
type captureHandler struct {
	inner  slog.Handler
	recent *recentEntries
}

func (h *captureHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.inner.Enabled(ctx, level)
}

func (h *captureHandler) Handle(ctx context.Context, r slog.Record) error {
	if r.Level >= slog.LevelWarn {
		h.recent.add(Entry{Time: r.Time, Level: r.Level, Message: r.Message})
	}
	return h.inner.Handle(ctx, r)
}

func (h *captureHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &captureHandler{inner: h.inner.WithAttrs(attrs), recent: h.recent}
}

func (h *captureHandler) WithGroup(name string) slog.Handler {
	return &captureHandler{inner: h.inner.WithGroup(name), recent: h.recent}
}

// Options configures Init.
type Options struct {
	// Level is one of debug, info, warn, error.
	Level string
	// Path of the rotated log file. Empty means ~/.config/tollgate/tollgate.log.
	Path string
	// Console also writes human-readable records to stderr.
	Console bool
}

var (
	// Log is the global structured logger.
	Log *slog.Logger
	// Path is the file currently being written.
	Path string

	writer *lumberjack.Logger
	recent = newRecentEntries(100)
)

// ParseLevel maps a level name to a slog level.
func ParseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("unknown log level %q", s)
	}
}

// Init installs the global logger. Records are written as JSON to a
// lumberjack-rotated file.
func Init(opts Options) error {
	level, err := ParseLevel(opts.Level)
	if err != nil {
		return err
	}

	path := opts.Path
	if path == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			home = os.TempDir()
		}
		path = filepath.Join(home, ".config", "tollgate", "tollgate.log")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create log directory: %w", err)
	}

	Close()
	writer = &lumberjack.Logger{
		Filename:   path,
		MaxSize:    10, // MB
		MaxBackups: 3,
		MaxAge:     7, // days
		Compress:   true,
	}
	Path = path

	Log = slog.New(newHandler(writer, level, opts.Console))
	slog.SetDefault(Log)
	return nil
}

// InitWriter installs a logger writing JSON to w. Used by tests and the
// one-shot CLI commands.
func InitWriter(w io.Writer, level slog.Level) {
	Log = slog.New(newHandler(w, level, false))
}

func newHandler(w io.Writer, level slog.Level, console bool) slog.Handler {
	opts := &slog.HandlerOptions{Level: level}

	var inner slog.Handler = slog.NewJSONHandler(w, opts)
	if console {
		inner = fanout{inner, slog.NewTextHandler(os.Stderr, opts)}
	}
	return &captureHandler{inner: inner, recent: recent}
}

// fanout sends each record to both handlers.
type fanout [2]slog.Handler

func (f fanout) Enabled(ctx context.Context, level slog.Level) bool {
	return f[0].Enabled(ctx, level) || f[1].Enabled(ctx, level)
}

func (f fanout) Handle(ctx context.Context, r slog.Record) error {
	err := f[0].Handle(ctx, r.Clone())
	if err2 := f[1].Handle(ctx, r.Clone()); err == nil {
		err = err2
	}
	return err
}

func (f fanout) WithAttrs(attrs []slog.Attr) slog.Handler {
	return fanout{f[0].WithAttrs(attrs), f[1].WithAttrs(attrs)}
}

func (f fanout) WithGroup(name string) slog.Handler {
	return fanout{f[0].WithGroup(name), f[1].WithGroup(name)}
}

// Close flushes and closes the log file.
func Close() {
	if writer != nil {
		_ = writer.Close()
		writer = nil
	}
}

func get() *slog.Logger {
	if Log != nil {
		return Log
	}
	return slog.Default()
}

// Debug logs at debug level.
func Debug(msg string, args ...any) { get().Debug(msg, args...) }

// Info logs at info level.
func Info(msg string, args ...any) { get().Info(msg, args...) }

// Warn logs at warn level.
func Warn(msg string, args ...any) { get().Warn(msg, args...) }

// Error logs at error level.
func Error(msg string, args ...any) { get().Error(msg, args...) }

// With returns a logger carrying args.
func With(args ...any) *slog.Logger {
	return get().With(args...)
}

// ProblemCounts returns WARN and ERROR totals.
func ProblemCounts() Counts {
	recent.mu.RLock()
	defer recent.mu.RUnlock()
	return recent.counts
}

// RecentProblems returns the retained WARN and ERROR entries, oldest first.
func RecentProblems() []Entry {
	return recent.all()
}

// Reset clears retained entries and counts.
func Reset() {
	recent.mu.Lock()
	defer recent.mu.Unlock()
	recent.head, recent.count = 0, 0
	recent.counts = Counts{}
}
