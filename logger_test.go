package keepalive

import (
	"log/slog"
	"sync"
	"testing"
)

func TestLogger_Interface(t *testing.T) {
	// Verify that *slog.Logger implements our Logger interface
	var _ Logger = slog.Default()
}

func TestDefaultLogger(t *testing.T) {
	logger := defaultLogger()

	if logger != slog.Default() {
		t.Error("defaultLogger did not return slog.Default()")
	}
}

func TestNopLogger(t *testing.T) {
	logger := NopLogger()

	// These should not panic
	logger.Debug("debug message", "key", "value")
	logger.Info("info message", "key", "value")
	logger.Warn("warn message", "key", "value")
	logger.Error("error message", "key", "value")
}

// recordLogger keeps every message it is given.
type recordLogger struct {
	mu   sync.Mutex
	msgs []string
}

func (l *recordLogger) record(msg string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.msgs = append(l.msgs, msg)
}

func (l *recordLogger) Debug(msg string, args ...any) { l.record(msg) }
func (l *recordLogger) Info(msg string, args ...any)  { l.record(msg) }
func (l *recordLogger) Warn(msg string, args ...any)  { l.record(msg) }
func (l *recordLogger) Error(msg string, args ...any) { l.record(msg) }

func (l *recordLogger) has(msg string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, m := range l.msgs {
		if m == msg {
			return true
		}
	}
	return false
}
