package logger

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// ZapLogger логгер на основе zap
type ZapLogger struct {
	sugar *zap.SugaredLogger
}

// NewZapLogger создает новый логгер. В режиме отладки вывод консольный, иначе JSON.
func NewZapLogger(debugEnabled bool) (*ZapLogger, error) {
	var cfg zap.Config
	if debugEnabled {
		cfg = zap.NewDevelopmentConfig()
		cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	} else {
		cfg = zap.NewProductionConfig()
		cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	}
	l, err := cfg.Build(zap.AddCallerSkip(1))
	if err != nil {
		return nil, err
	}
	return &ZapLogger{sugar: l.Sugar()}, nil
}

// NewNop логгер, который ничего не пишет
func NewNop() *ZapLogger {
	return &ZapLogger{sugar: zap.NewNop().Sugar()}
}

// Info логирует информационное сообщение
func (l *ZapLogger) Info(msg string, args ...interface{}) {
	l.sugar.Infof(msg, args...)
}

// Error логирует сообщение об ошибке
func (l *ZapLogger) Error(msg string, args ...interface{}) {
	l.sugar.Errorf(msg, args...)
}

// Debug логирует отладочное сообщение
func (l *ZapLogger) Debug(msg string, args ...interface{}) {
	l.sugar.Debugf(msg, args...)
}

// Sync сбрасывает буферы
func (l *ZapLogger) Sync() error {
	return l.sugar.Sync()
}
