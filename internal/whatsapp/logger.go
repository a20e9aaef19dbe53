package whatsapp

import (
	"fmt"

	waLog "go.mau.fi/whatsmeow/util/log"
	"go.uber.org/zap"
)

// zapLogger routes whatsmeow logs through the global zap logger.
type zapLogger struct {
	module string
}

func newLogger(module string) waLog.Logger {
	return &zapLogger{module: module}
}

func (l *zapLogger) log() *zap.Logger {
	return zap.L().With(zap.String("namespace", "whatsmeow"), zap.String("module", l.module))
}

func (l *zapLogger) Errorf(msg string, args ...interface{}) {
	l.log().Error(fmt.Sprintf(msg, args...))
}

func (l *zapLogger) Warnf(msg string, args ...interface{}) {
	l.log().Warn(fmt.Sprintf(msg, args...))
}

func (l *zapLogger) Infof(msg string, args ...interface{}) {
	l.log().Info(fmt.Sprintf(msg, args...))
}

// Debugf is very chatty in whatsmeow; only forwarded when debug is enabled.
func (l *zapLogger) Debugf(msg string, args ...interface{}) {
	if zap.L().Core().Enabled(zap.DebugLevel) {
		l.log().Debug(fmt.Sprintf(msg, args...))
	}
}

func (l *zapLogger) Sub(module string) waLog.Logger {
	return &zapLogger{module: l.module + "/" + module}
}
