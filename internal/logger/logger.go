package logger

import (
	"fmt"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type Logger struct {
	zap *zap.Logger
}

// New builds a zap logger for the given environment. Development gets the
// colored console encoder, staging and production get JSON.
func New(env string, serviceName string) (*Logger, error) {
	var cfg zap.Config
	switch env {
	case "development":
		cfg = zap.NewDevelopmentConfig()
		cfg.EncoderConfig.TimeKey = "timestamp"
		cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
		cfg.EncoderConfig.CallerKey = "caller"
		cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	case "staging", "production":
		cfg = zap.NewProductionConfig()
		cfg.EncoderConfig.TimeKey = "timestamp"
		cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	default:
		return nil, fmt.Errorf("unknown environment: %s", env)
	}

	cfg.InitialFields = map[string]interface{}{"service": serviceName}

	zapLogger, err := cfg.Build()
	if err != nil {
		return nil, err
	}

	return &Logger{zap: zapLogger}, nil
}

// NewNop returns a logger that discards everything. For tests.
func NewNop() *Logger {
	return &Logger{zap: zap.NewNop()}
}

func (l *Logger) Info(msg string, fields ...zap.Field) {
	l.zap.Info(msg, fields...)
}

func (l *Logger) Warn(msg string, fields ...zap.Field) {
	l.zap.Warn(msg, fields...)
}

func (l *Logger) Error(msg string, err error, fields ...zap.Field) {
	l.zap.Error(msg, append(fields, zap.Error(err))...)
}

func (l *Logger) Zap() *zap.Logger {
	return l.zap
}

func (l *Logger) Sync() {
	_ = l.zap.Sync()
}
