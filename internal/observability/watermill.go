package observability

import (
	"github.com/ThreeDotsLabs/watermill"
	"go.uber.org/zap"
)

// WatermillLogger adapts a zap logger to watermill.LoggerAdapter.
type WatermillLogger struct {
	logger *zap.Logger
}

// NewWatermillLogger wraps logger for use by watermill publishers and subscribers.
func NewWatermillLogger(logger *zap.Logger) *WatermillLogger {
	return &WatermillLogger{logger: logger.Named("watermill")}
}

func (l *WatermillLogger) Error(msg string, err error, fields watermill.LogFields) {
	l.logger.Error(msg, append(zapFields(fields), zap.Error(err))...)
}

func (l *WatermillLogger) Info(msg string, fields watermill.LogFields) {
	l.logger.Info(msg, zapFields(fields)...)
}

func (l *WatermillLogger) Debug(msg string, fields watermill.LogFields) {
	l.logger.Debug(msg, zapFields(fields)...)
}

// Trace is mapped to debug; zap has no lower level.
func (l *WatermillLogger) Trace(msg string, fields watermill.LogFields) {
	l.logger.Debug(msg, zapFields(fields)...)
}

func (l *WatermillLogger) With(fields watermill.LogFields) watermill.LoggerAdapter {
	return &WatermillLogger{logger: l.logger.With(zapFields(fields)...)}
}

func zapFields(fields watermill.LogFields) []zap.Field {
	out := make([]zap.Field, 0, len(fields))
	for k, v := range fields {
		out = append(out, zap.Any(k, v))
	}
	return out
}
