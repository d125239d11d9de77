package logger

import (
	"context"
	"fmt"
	"io"
	stdlog "log"
	"log/slog"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

var (
	currentLevel atomic.Int32

	mu     sync.RWMutex
	sink   emitter = newTextEmitter(os.Stdout)
	closer io.Closer
)

func init() {
	currentLevel.Store(int32(LevelInfo))
}

func (l Level) String() string {
	switch l {
	case LevelDebug:
		return "DEBUG"
	case LevelInfo:
		return "INFO"
	case LevelWarn:
		return "WARN"
	case LevelError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

func (l Level) slogLevel() slog.Level {
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

// ParseLevel maps a case-insensitive level name to a Level.
func ParseLevel(level string) (Level, bool) {
	switch strings.ToUpper(level) {
	case "DEBUG":
		return LevelDebug, true
	case "INFO":
		return LevelInfo, true
	case "WARN":
		return LevelWarn, true
	case "ERROR":
		return LevelError, true
	}
	return LevelInfo, false
}

// SetLevel sets the minimum level. Unknown names are ignored.
func SetLevel(level string) {
	if l, ok := ParseLevel(level); ok {
		currentLevel.Store(int32(l))
	}
}

// GetLevel returns the minimum level currently logged.
func GetLevel() Level {
	return Level(currentLevel.Load())
}

// Config selects the output of the package logger.
type Config struct {
	// Level is DEBUG, INFO, WARN or ERROR
	Level string

	// Format is "text" (the default) or "json"
	Format string

	// Output is "stdout" (the default), "stderr" or a file path
	Output string
}

// Configure applies cfg to the package logger. A previously opened log file
// is closed once the new output is in place.
func Configure(cfg Config) error {
	var (
		w    io.Writer
		file *os.File
	)
	switch strings.ToLower(cfg.Output) {
	case "", "stdout":
		w = os.Stdout
	case "stderr":
		w = os.Stderr
	default:
		f, err := os.OpenFile(cfg.Output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return fmt.Errorf("open log file: %w", err)
		}
		w, file = f, f
	}

	var next emitter
	switch strings.ToLower(cfg.Format) {
	case "", "text":
		next = newTextEmitter(w)
	case "json":
		next = newJSONEmitter(w)
	default:
		if file != nil {
			_ = file.Close()
		}
		return fmt.Errorf("unknown log format %q", cfg.Format)
	}

	SetLevel(cfg.Level)

	mu.Lock()
	prev := closer
	sink = next
	closer = nil
	if file != nil {
		closer = file
	}
	mu.Unlock()

	if prev != nil {
		_ = prev.Close()
	}
	return nil
}

// SetOutput redirects text output to w. It is meant for tests.
func SetOutput(w io.Writer) {
	mu.Lock()
	sink = newTextEmitter(w)
	mu.Unlock()
}

func log(level Level, format string, v ...any) {
	if level < GetLevel() {
		return
	}

	message := fmt.Sprintf(format, v...)
	mu.RLock()
	sink.emit(level, message)
	mu.RUnlock()
}

func Debug(format string, v ...any) {
	log(LevelDebug, format, v...)
}

func Info(format string, v ...any) {
	log(LevelInfo, format, v...)
}

func Warn(format string, v ...any) {
	log(LevelWarn, format, v...)
}

func Error(format string, v ...any) {
	log(LevelError, format, v...)
}

type emitter interface {
	emit(level Level, message string)
}

// textEmitter writes "[timestamp] [LEVEL] message" lines.
type textEmitter struct {
	out *stdlog.Logger
}

func newTextEmitter(w io.Writer) *textEmitter {
	return &textEmitter{out: stdlog.New(w, "", 0)}
}

func (e *textEmitter) emit(level Level, message string) {
	timestamp := time.Now().Format("2006-01-02 15:04:05")
	e.out.Println(fmt.Sprintf("[%s] [%s] ", timestamp, level.String()) + message)
}

// jsonEmitter writes one slog JSON record per line.
type jsonEmitter struct {
	out *slog.Logger
}

func newJSONEmitter(w io.Writer) *jsonEmitter {
	h := slog.NewJSONHandler(w, &slog.HandlerOptions{Level: slog.LevelDebug})
	return &jsonEmitter{out: slog.New(h)}
}

func (e *jsonEmitter) emit(level Level, message string) {
	e.out.Log(context.Background(), level.slogLevel(), message)
}
