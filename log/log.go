// Package log adapts zap to the logger interface the rest of the
// codebase consumes.
package log

import (
	"context"

	"github.com/sagernet/sing/common/logger"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var _ logger.ContextLogger = (*zapContextLogger)(nil)

type zapContextLogger struct {
	sugar *zap.SugaredLogger
}

// NewLogger builds a console logger writing to stderr. The debug flag
// lowers the level to include Debug/Trace output.
func NewLogger(name string, debug bool) logger.ContextLogger {
	level := zapcore.InfoLevel
	if debug {
		level = zapcore.DebugLevel
	}
	encoderConfig := zap.NewDevelopmentEncoderConfig()
	encoderConfig.EncodeTime = zapcore.TimeEncoderOfLayout("2006-01-02 15:04:05.000")
	zapLogger, err := zap.Config{
		Level:            zap.NewAtomicLevelAt(level),
		Development:      true,
		Encoding:         "console",
		EncoderConfig:    encoderConfig,
		OutputPaths:      []string{"stderr"},
		ErrorOutputPaths: []string{"stderr"},
	}.Build()
	if err != nil {
		zapLogger = zap.NewNop()
	}
	return &zapContextLogger{sugar: zapLogger.Named(name).Sugar()}
}

// NewNop discards everything, for tests.
func NewNop() logger.ContextLogger {
	return &zapContextLogger{sugar: zap.NewNop().Sugar()}
}

func (l *zapContextLogger) Trace(args ...any) {
	l.sugar.Debug(args...)
}

func (l *zapContextLogger) Debug(args ...any) {
	l.sugar.Debug(args...)
}

func (l *zapContextLogger) Info(args ...any) {
	l.sugar.Info(args...)
}

func (l *zapContextLogger) Warn(args ...any) {
	l.sugar.Warn(args...)
}

func (l *zapContextLogger) Error(args ...any) {
	l.sugar.Error(args...)
}

func (l *zapContextLogger) Fatal(args ...any) {
	l.sugar.Fatal(args...)
}

func (l *zapContextLogger) Panic(args ...any) {
	l.sugar.Panic(args...)
}

func (l *zapContextLogger) TraceContext(ctx context.Context, args ...any) {
	l.Trace(args...)
}

func (l *zapContextLogger) DebugContext(ctx context.Context, args ...any) {
	l.Debug(args...)
}

func (l *zapContextLogger) InfoContext(ctx context.Context, args ...any) {
	l.Info(args...)
}

func (l *zapContextLogger) WarnContext(ctx context.Context, args ...any) {
	l.Warn(args...)
}

func (l *zapContextLogger) ErrorContext(ctx context.Context, args ...any) {
	l.Error(args...)
}

func (l *zapContextLogger) FatalContext(ctx context.Context, args ...any) {
	l.Fatal(args...)
}

func (l *zapContextLogger) PanicContext(ctx context.Context, args ...any) {
	l.Panic(args...)
}
