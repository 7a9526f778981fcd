// Package mocklogger records log calls so tests can assert on what a component logged.
package mocklogger

import (
	"fmt"
	"sync"
	"testing"

	"github.com/bsv-blockchain/chainstate/ulogger"
)

// MockLogger implements ulogger.Logger and keeps every formatted message per method.
// Loggers derived with New or Duplicate share the same record.
type MockLogger struct {
	mu       *sync.Mutex
	messages map[string][]string
}

func NewTestLogger() *MockLogger {
	return &MockLogger{
		mu:       &sync.Mutex{},
		messages: make(map[string][]string),
	}
}

func (l *MockLogger) LogLevel() int {
	return 0
}

func (l *MockLogger) SetLogLevel(_ string) {}

func (l *MockLogger) New(_ string, _ ...ulogger.Option) ulogger.Logger {
	return l
}

func (l *MockLogger) Duplicate(_ ...ulogger.Option) ulogger.Logger {
	return l
}

func (l *MockLogger) Debugf(format string, args ...interface{}) {
	l.record("Debugf", format, args)
}

func (l *MockLogger) Infof(format string, args ...interface{}) {
	l.record("Infof", format, args)
}

func (l *MockLogger) Warnf(format string, args ...interface{}) {
	l.record("Warnf", format, args)
}

func (l *MockLogger) Errorf(format string, args ...interface{}) {
	l.record("Errorf", format, args)
}

func (l *MockLogger) Fatalf(format string, args ...interface{}) {
	l.record("Fatalf", format, args)
}

func (l *MockLogger) record(method, format string, args []interface{}) {
	msg := fmt.Sprintf(format, args...)

	l.mu.Lock()
	l.messages[method] = append(l.messages[method], msg)
	l.mu.Unlock()
}

// Calls returns how often method was called.
func (l *MockLogger) Calls(method string) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	return len(l.messages[method])
}

// Messages returns the formatted messages logged through method, oldest first.
func (l *MockLogger) Messages(method string) []string {
	l.mu.Lock()
	defer l.mu.Unlock()

	return append([]string(nil), l.messages[method]...)
}

// AssertNumberOfCalls is a test helper that verifies the expected number of calls to a method.
func (l *MockLogger) AssertNumberOfCalls(t *testing.T, method string, expectedCalls int) {
	t.Helper()

	if actualCalls := l.Calls(method); actualCalls != expectedCalls {
		t.Errorf("Expected %v calls to %s, got %v", expectedCalls, method, actualCalls)
	}
}

func (l *MockLogger) Reset() {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.messages = make(map[string][]string)
}
