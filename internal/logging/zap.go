package logging

import (
	"context"

	"go.uber.org/zap"
)

// ZapLogger adapts a zap.SugaredLogger to Logger. Key-value args are passed
// through as zap's loosely typed pairs.
type ZapLogger struct {
	l *zap.SugaredLogger
}

func NewZapLogger(l *zap.Logger) *ZapLogger {
	return &ZapLogger{l: l.Sugar()}
}

// NewZapProduction builds a JSON zap logger with production defaults.
func NewZapProduction() (*ZapLogger, error) {
	l, err := zap.NewProduction()
	if err != nil {
		return nil, err
	}
	return NewZapLogger(l), nil
}

func (z *ZapLogger) Debug(_ context.Context, msg string, args ...any) {
	z.l.Debugw(msg, args...)
}

func (z *ZapLogger) Info(_ context.Context, msg string, args ...any) {
	z.l.Infow(msg, args...)
}

func (z *ZapLogger) Warn(_ context.Context, msg string, args ...any) {
	z.l.Warnw(msg, args...)
}

func (z *ZapLogger) Error(_ context.Context, msg string, args ...any) {
	z.l.Errorw(msg, args...)
}

func (z *ZapLogger) With(args ...any) Logger {
	return &ZapLogger{l: z.l.With(args...)}
}

// Sync flushes buffered entries.
func (z *ZapLogger) Sync() error {
	return z.l.Sync()
}
