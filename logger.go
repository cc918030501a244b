package kueri

import (
	"fmt"
	"log"
	"log/slog"
	"os"
	"strings"

	"github.com/google/uuid"
)

// Logger is the minimal leveled logging interface used for debug output.
// Arguments after the message are alternating keys and values.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Warn(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
}

// SimpleLogger writes leveled key=value lines to stderr.
type SimpleLogger struct {
	l *log.Logger
}

// NewSimpleLogger returns a console logger suitable for development use.
func NewSimpleLogger() *SimpleLogger {
	return &SimpleLogger{l: log.New(os.Stderr, "kueri ", log.LstdFlags|log.Lmsgprefix)}
}

func (s *SimpleLogger) Debug(msg string, keysAndValues ...any) { s.print("DEBUG", msg, keysAndValues) }
func (s *SimpleLogger) Info(msg string, keysAndValues ...any)  { s.print("INFO", msg, keysAndValues) }
func (s *SimpleLogger) Warn(msg string, keysAndValues ...any)  { s.print("WARN", msg, keysAndValues) }
func (s *SimpleLogger) Error(msg string, keysAndValues ...any) { s.print("ERROR", msg, keysAndValues) }

func (s *SimpleLogger) print(level, msg string, kv []any) {
	var b strings.Builder
	b.WriteString(level)
	b.WriteByte(' ')
	b.WriteString(msg)
	for i := 0; i+1 < len(kv); i += 2 {
		fmt.Fprintf(&b, " %v=%v", kv[i], kv[i+1])
	}
	if len(kv)%2 == 1 {
		fmt.Fprintf(&b, " %v=?", kv[len(kv)-1])
	}
	s.l.Print(b.String())
}

// SlogLogger adapts a *slog.Logger to the Logger interface.
type SlogLogger struct {
	l *slog.Logger
}

// NewSlogLogger wraps an slog logger; pass nil for slog.Default().
func NewSlogLogger(l *slog.Logger) *SlogLogger {
	if l == nil {
		l = slog.Default()
	}
	return &SlogLogger{l: l}
}

func (s *SlogLogger) Debug(msg string, keysAndValues ...any) { s.l.Debug(msg, keysAndValues...) }
func (s *SlogLogger) Info(msg string, keysAndValues ...any)  { s.l.Info(msg, keysAndValues...) }
func (s *SlogLogger) Warn(msg string, keysAndValues ...any)  { s.l.Warn(msg, keysAndValues...) }
func (s *SlogLogger) Error(msg string, keysAndValues ...any) { s.l.Error(msg, keysAndValues...) }

// DebugConfig gates debug logging per concern so a logger can be attached
// without drowning in output.
type DebugConfig struct {
	Enabled      bool
	LogRequests  bool
	LogCache     bool
	LogRetries   bool
	LogScheduler bool
	LogDebounce  bool
	LogFanOut    bool
	// RequestIDGen produces correlation IDs attached to log lines and
	// errors.
	RequestIDGen func() string
}

// DefaultDebugConfig returns a config with all concerns selected but
// logging disabled until WithDebug or WithSimpleLogger turns it on.
func DefaultDebugConfig() *DebugConfig {
	return &DebugConfig{
		Enabled:      false,
		LogRequests:  true,
		LogCache:     true,
		LogRetries:   true,
		LogScheduler: true,
		LogDebounce:  true,
		LogFanOut:    true,
		RequestIDGen: func() string { return uuid.NewString() },
	}
}

// requestID returns a new correlation ID when debug logging is active.
func (d *DebugConfig) requestID() string {
	if d == nil || !d.Enabled || d.RequestIDGen == nil {
		return ""
	}
	return d.RequestIDGen()
}

// Per-concern gates, nil-safe so call sites stay unconditional.

func (d *DebugConfig) logRequests() bool  { return d != nil && d.Enabled && d.LogRequests }
func (d *DebugConfig) logCache() bool     { return d != nil && d.Enabled && d.LogCache }
func (d *DebugConfig) logRetries() bool   { return d != nil && d.Enabled && d.LogRetries }
func (d *DebugConfig) logScheduler() bool { return d != nil && d.Enabled && d.LogScheduler }
func (d *DebugConfig) logDebounce() bool  { return d != nil && d.Enabled && d.LogDebounce }
func (d *DebugConfig) logFanOut() bool    { return d != nil && d.Enabled && d.LogFanOut }
