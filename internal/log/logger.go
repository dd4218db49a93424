package log

import (
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"

	"gopkg.in/natefinch/lumberjack.v2"
)

var (
	once   sync.Once
	logger *slog.Logger
)

// Options configures the global logger.
type Options struct {
	Level string
	// File, when set, sends logs to a size-rotated file instead of stdout.
	File       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
}

// Setup initializes the global logger.
// logic: default to INFO. If level is invalid, fallback to INFO.
func Setup(level string) {
	SetupWithOptions(Options{Level: level})
}

// SetupWithOptions initializes the global logger once.
func SetupWithOptions(opts Options) {
	once.Do(func() {
		logger = New(writerFor(opts), opts.Level)
		slog.SetDefault(logger)
	})
}

// New builds a JSON logger writing to w at the given level.
func New(w io.Writer, level string) *slog.Logger {
	handler := slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level: ParseLevel(level),
	})
	return slog.New(handler)
}

// ParseLevel maps a level name to a slog level, defaulting to INFO.
func ParseLevel(level string) slog.Level {
	switch strings.ToUpper(strings.TrimSpace(level)) {
	case "DEBUG":
		return slog.LevelDebug
	case "WARN":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func writerFor(opts Options) io.Writer {
	if opts.File == "" {
		return os.Stdout
	}
	maxSize := opts.MaxSizeMB
	if maxSize <= 0 {
		maxSize = 50
	}
	return &lumberjack.Logger{
		Filename:   opts.File,
		MaxSize:    maxSize,
		MaxBackups: opts.MaxBackups,
		MaxAge:     opts.MaxAgeDays,
		Compress:   true,
	}
}

// Get returns the configured logger, or a default one if Setup hasn't been called.
func Get() *slog.Logger {
	if logger == nil {
		Setup("INFO")
	}
	return logger
}

// WithComponent returns a logger with the component field set.
func WithComponent(name string) *slog.Logger {
	return Get().With(slog.String("component", name))
}

// WithWorker returns a logger with the worker field set.
func WithWorker(name string) *slog.Logger {
	return Get().With(slog.String("worker", name))
}

// WithChannel returns a logger with the worker and channel_id fields set.
func WithChannel(worker string, id uint64) *slog.Logger {
	return Get().With(slog.String("worker", worker), slog.Uint64("channel_id", id))
}

// Info logs at INFO level.
func Info(msg string, args ...any) {
	Get().Info(msg, args...)
}

// Debug logs at DEBUG level.
func Debug(msg string, args ...any) {
	Get().Debug(msg, args...)
}

// Warn logs at WARN level.
func Warn(msg string, args ...any) {
	Get().Warn(msg, args...)
}

// Error logs at ERROR level.
func Error(msg string, args ...any) {
	Get().Error(msg, args...)
}
