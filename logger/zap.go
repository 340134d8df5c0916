package logger

import (
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type ZapLogger struct {
	logger *zap.SugaredLogger
	level  zap.AtomicLevel
}

// NewZap creates a go.uber.org/zap backed Logger. When the ENV environment variable
// is "development" it uses the console encoder, otherwise JSON with a "ts" timestamp key.
func NewZap(level LogLevel) Logger {
	atomicLevel := zap.NewAtomicLevelAt(toZapLevel(level))

	encCfg := zap.NewProductionEncoderConfig()
	encCfg.TimeKey = "ts"
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder

	var enc zapcore.Encoder
	if os.Getenv("ENV") == "development" {
		devCfg := zap.NewDevelopmentEncoderConfig()
		enc = zapcore.NewConsoleEncoder(devCfg)
	} else {
		enc = zapcore.NewJSONEncoder(encCfg)
	}

	core := zapcore.NewCore(enc, zapcore.Lock(os.Stdout), atomicLevel)
	inst := zap.New(core, zap.AddCaller(), zap.AddCallerSkip(1))

	return &ZapLogger{
		logger: inst.Sugar(),
		level:  atomicLevel,
	}
}

// WrapZap adapts an existing zap logger, for applications that already
// configured one. Level changes through SetLevel have no effect on the
// wrapped logger's own level configuration.
func WrapZap(l *zap.Logger) Logger {
	return &ZapLogger{
		logger: l.WithOptions(zap.AddCallerSkip(1)).Sugar(),
		level:  zap.NewAtomicLevelAt(l.Level()),
	}
}

func (l *ZapLogger) Debug(msg string, keysAndValues ...any) {
	l.logger.Debugw(msg, keysAndValues...)
}

func (l *ZapLogger) Info(msg string, keysAndValues ...any) {
	l.logger.Infow(msg, keysAndValues...)
}

func (l *ZapLogger) Warn(msg string, keysAndValues ...any) {
	l.logger.Warnw(msg, keysAndValues...)
}

func (l *ZapLogger) Error(msg string, keysAndValues ...any) {
	l.logger.Errorw(msg, keysAndValues...)
}

func (l *ZapLogger) Fatal(msg string, keysAndValues ...any) {
	l.logger.Fatalw(msg, keysAndValues...)
}

func (l *ZapLogger) With(keyValues ...any) Logger {
	return &ZapLogger{
		logger: l.logger.With(keyValues...),
		level:  l.level,
	}
}

func (l *ZapLogger) Level() LogLevel {
	levelMap := map[zapcore.Level]LogLevel{
		zapcore.DebugLevel: DebugLevel,
		zapcore.InfoLevel:  InfoLevel,
		zapcore.WarnLevel:  WarnLevel,
		zapcore.ErrorLevel: ErrorLevel,
		zapcore.FatalLevel: FatalLevel,
	}
	if level, ok := levelMap[l.level.Level()]; ok {
		return level
	}
	return ErrorLevel
}

func (l *ZapLogger) SetLevel(level LogLevel) {
	l.level.SetLevel(toZapLevel(level))
}

func toZapLevel(level LogLevel) zapcore.Level {
	levelMap := map[LogLevel]zapcore.Level{
		DebugLevel: zapcore.DebugLevel,
		InfoLevel:  zapcore.InfoLevel,
		WarnLevel:  zapcore.WarnLevel,
		ErrorLevel: zapcore.ErrorLevel,
		FatalLevel: zapcore.FatalLevel,
	}
	if zapLevel, ok := levelMap[level]; ok {
		return zapLevel
	}
	return zapcore.ErrorLevel
}
