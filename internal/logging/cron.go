package logging

import (
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// CronLogger routes cron's scheduler messages and recovered job panics into
// zap, and therefore into the log buffer.
func CronLogger(l *zap.Logger) cron.Logger {
	return cronLogger{s: l.Named("cron").Sugar()}
}

type cronLogger struct {
	s *zap.SugaredLogger
}

// Info carries cron's routine wake and schedule chatter; it logs at debug.
func (c cronLogger) Info(msg string, keysAndValues ...interface{}) {
	c.s.Debugw(msg, keysAndValues...)
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	c.s.Errorw(msg, append(keysAndValues, "error", err)...)
}
