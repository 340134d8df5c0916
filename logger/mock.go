package logger

import (
	"github.com/stretchr/testify/mock"
)

// MockLogger is a testify mock of the Logger interface for tests that assert
// on what gets logged.
type MockLogger struct {
	mock.Mock
}

var _ Logger = (*MockLogger)(nil)

func NewMockLogger() *MockLogger {
	return &MockLogger{}
}

// AllowAll registers catch-all expectations for every log method, for tests
// that need a Logger but make no assertions about the log output.
func (m *MockLogger) AllowAll() *MockLogger {
	m.On("Debug", mock.Anything, mock.Anything).Return()
	m.On("Info", mock.Anything, mock.Anything).Return()
	m.On("Warn", mock.Anything, mock.Anything).Return()
	m.On("Error", mock.Anything, mock.Anything).Return()

	return m
}

func (m *MockLogger) Debug(msg string, keysAndValues ...any) {
	m.Called(msg, keysAndValues)
}

func (m *MockLogger) Info(msg string, keysAndValues ...any) {
	m.Called(msg, keysAndValues)
}

func (m *MockLogger) Warn(msg string, keysAndValues ...any) {
	m.Called(msg, keysAndValues)
}

func (m *MockLogger) Error(msg string, keysAndValues ...any) {
	m.Called(msg, keysAndValues)
}

func (m *MockLogger) Fatal(msg string, keysAndValues ...any) {
	m.Called(msg, keysAndValues)
}

func (m *MockLogger) SetLevel(level LogLevel) {
	m.Called(level)
}

func (m *MockLogger) Level() LogLevel {
	args := m.Called()
	return args.Get(0).(LogLevel)
}

func (m *MockLogger) With(keyValues ...any) Logger {
	args := m.Called(keyValues...)
	return args.Get(0).(Logger)
}
