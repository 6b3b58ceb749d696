package logging

import (
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

// TestLogger captures log entries in memory for assertions.
type TestLogger struct {
	*Logger
	observed *observer.ObservedLogs
}

// NewTestLogger creates a logger that records every entry at debug level.
func NewTestLogger(t *testing.T) *TestLogger {
	t.Helper()
	core, observed := observer.New(zapcore.DebugLevel)
	return &TestLogger{
		Logger:   &Logger{zap: zap.New(core)},
		observed: observed,
	}
}

// All returns every captured entry.
func (tl *TestLogger) All() []observer.LoggedEntry {
	return tl.observed.All()
}

// FilterMessage returns entries whose message matches exactly.
func (tl *TestLogger) FilterMessage(msg string) []observer.LoggedEntry {
	return tl.observed.FilterMessage(msg).All()
}

// AssertLogged fails the test unless an entry with the message was
// recorded at the given level.
func (tl *TestLogger) AssertLogged(t *testing.T, level zapcore.Level, msg string) {
	t.Helper()
	for _, entry := range tl.observed.All() {
		if entry.Level == level && entry.Message == msg {
			return
		}
	}
	t.Errorf("expected log entry at %s with message %q, captured %d entries", level, msg, tl.observed.Len())
}

// AssertField fails the test unless an entry with the message carries
// the field with the given string value.
func (tl *TestLogger) AssertField(t *testing.T, msg, key, want string) {
	t.Helper()
	for _, entry := range tl.observed.FilterMessage(msg).All() {
		for _, field := range entry.Context {
			if field.Key == key && field.String == want {
				return
			}
		}
	}
	t.Errorf("expected log entry %q to carry field %s=%q", msg, key, want)
}
