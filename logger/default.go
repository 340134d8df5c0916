package logger

var defLogger Logger = newSlog(InfoLevel, false)

func Debug(msg string, keysAndValues ...any) {
	defLogger.Debug(msg, keysAndValues...)
}

func Info(msg string, keysAndValues ...any) {
	defLogger.Info(msg, keysAndValues...)
}

func Warn(msg string, keysAndValues ...any) {
	defLogger.Warn(msg, keysAndValues...)
}

func Error(msg string, keysAndValues ...any) {
	defLogger.Error(msg, keysAndValues...)
}

func Fatal(msg string, keysAndValues ...any) {
	defLogger.Fatal(msg, keysAndValues...)
}

func SetLevel(level LogLevel) {
	defLogger.SetLevel(level)
}

// SetLogger replaces the package-level default logger.
// Passing nil restores the built-in slog implementation.
func SetLogger(l Logger) {
	if l == nil {
		defLogger = newSlog(InfoLevel, false)
		return
	}
	defLogger = l
}

func GetLogger() Logger {
	return defLogger
}

func With(keyValues ...any) Logger {
	return defLogger.With(keyValues...)
}
