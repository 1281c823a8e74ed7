package observability

import (
	"os"

	"go.opentelemetry.io/contrib/bridges/otelzap"
	"go.opentelemetry.io/otel/log/global"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// NewLogger builds the JSON console logger. Unknown levels fall back to info.
func NewLogger(level string) *zap.Logger {
	return zap.New(consoleCore(parseLevel(level)),
		zap.AddCaller(),
		zap.AddStacktrace(zapcore.ErrorLevel),
		zap.Fields(zap.String("service.name", ServiceName)),
	)
}

// NewOTelLogger tees the console core with the otelzap bridge so every
// record is also shipped through the global OpenTelemetry log provider.
func NewOTelLogger(level string) *zap.Logger {
	otelCore := otelzap.NewCore(ServiceName+".manual",
		otelzap.WithLoggerProvider(global.GetLoggerProvider()),
	)
	core := zapcore.NewTee(otelCore, consoleCore(parseLevel(level)))
	return zap.New(core,
		zap.AddCaller(),
		zap.AddStacktrace(zapcore.ErrorLevel),
		zap.Fields(zap.String("service.name", ServiceName)),
	)
}

func consoleCore(level zapcore.Level) zapcore.Core {
	encoderConfig := zap.NewProductionEncoderConfig()
	encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	return zapcore.NewCore(
		zapcore.NewJSONEncoder(encoderConfig),
		zapcore.Lock(os.Stdout),
		level,
	)
}

func parseLevel(level string) zapcore.Level {
	l, err := zapcore.ParseLevel(level)
	if err != nil {
		return zapcore.InfoLevel
	}
	return l
}
