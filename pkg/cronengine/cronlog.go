package cronengine

import (
	"github.com/schedlens/core/pkg/logger"
)

// cronLogger routes robfig/cron's internal logging into zerolog. Scheduler
// chatter lands at debug, real errors at error.
type cronLogger struct {
	logger *logger.Logger
}

func (l *cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Debug().Fields(keysAndValues).Msg(msg)
}

func (l *cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Error().Err(err).Fields(keysAndValues).Msg(msg)
}
