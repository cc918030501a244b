package kueri

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"testing"
)

// recordingLogger captures log calls for assertions.
type recordingLogger struct {
	mu    sync.Mutex
	lines []string
}

func (r *recordingLogger) log(level, msg string, kv []any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var b strings.Builder
	b.WriteString(level)
	b.WriteByte(' ')
	b.WriteString(msg)
	for _, v := range kv {
		b.WriteByte(' ')
		switch s := v.(type) {
		case string:
			b.WriteString(s)
		default:
			b.WriteString("?")
		}
	}
	r.lines = append(r.lines, b.String())
}

func (r *recordingLogger) Debug(msg string, kv ...any) { r.log("DEBUG", msg, kv) }
func (r *recordingLogger) Info(msg string, kv ...any)  { r.log("INFO", msg, kv) }
func (r *recordingLogger) Warn(msg string, kv ...any)  { r.log("WARN", msg, kv) }
func (r *recordingLogger) Error(msg string, kv ...any) { r.log("ERROR", msg, kv) }

func (r *recordingLogger) contains(substr string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, line := range r.lines {
		if strings.Contains(line, substr) {
			return true
		}
	}
	return false
}

func TestDebugLoggingOnCacheHit(t *testing.T) {
	rec := &recordingLogger{}
	c := New("http://api.invalid",
		WithLogger(rec),
		WithDebug(),
	)
	defer c.Close()
	if !c.IsValid() {
		t.Fatalf("configuration should validate: %v", c.ValidationError())
	}

	fetch := func(ctx context.Context) (any, error) { return "v", nil }
	key := K("logged")
	if _, err := c.Store().EnsureFresh(context.Background(), key, fetch, EnsureOptions{}); err != nil {
		t.Fatal(err)
	}
	if _, err := c.Store().EnsureFresh(context.Background(), key, fetch, EnsureOptions{}); err != nil {
		t.Fatal(err)
	}

	if !rec.contains("cache hit") {
		t.Errorf("expected a cache hit log line, got %v", rec.lines)
	}
}

func TestSimpleLoggerImplementsLogger(t *testing.T) {
	var _ Logger = NewSimpleLogger()
	var _ Logger = NewSlogLogger(nil)
	var _ Logger = NewSlogLogger(slog.Default())
}

func TestDebugConfigGating(t *testing.T) {
	cfg := DefaultDebugConfig()
	if cfg.logRequests() {
		t.Error("debug logging should be off by default")
	}

	cfg.Enabled = true
	if !cfg.logRequests() || !cfg.logCache() || !cfg.logRetries() {
		t.Error("enabled config with flags true should log")
	}
	cfg.LogRequests = false
	if cfg.logRequests() {
		t.Error("flag false should suppress logging")
	}

	var nilCfg *DebugConfig
	if nilCfg.logRequests() || nilCfg.logCache() || nilCfg.logScheduler() || nilCfg.logFanOut() {
		t.Error("nil config must never log")
	}
	if nilCfg.requestID() != "" {
		t.Error("nil config must not generate request IDs")
	}
}

func TestDebugConfigRequestIDs(t *testing.T) {
	cfg := DefaultDebugConfig()
	if cfg.requestID() != "" {
		t.Error("disabled config should not generate IDs")
	}

	cfg.Enabled = true
	a, b := cfg.requestID(), cfg.requestID()
	if a == "" || b == "" {
		t.Fatal("enabled config should generate IDs")
	}
	if a == b {
		t.Error("request IDs should be unique")
	}

	cfg.RequestIDGen = func() string { return "fixed" }
	if cfg.requestID() != "fixed" {
		t.Error("custom generator not used")
	}
}
