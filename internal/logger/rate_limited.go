package logger

import (
	"time"

	"golang.org/x/time/rate"
)

type rateLimitedLogger struct {
	logger Logger
	limit  *rate.Limiter
}

func (rl *rateLimitedLogger) Debugf(format string, v ...interface{}) {
	if rl.limit.Allow() {
		rl.logger.Debugf(format, v...)
	}
}

func (rl *rateLimitedLogger) Infof(format string, v ...interface{}) {
	if rl.limit.Allow() {
		rl.logger.Infof(format, v...)
	}
}

func (rl *rateLimitedLogger) Warnf(format string, v ...interface{}) {
	if rl.limit.Allow() {
		rl.logger.Warnf(format, v...)
	}
}

// Errorf не ограничивается: ошибки видны всегда.
func (rl *rateLimitedLogger) Errorf(format string, v ...interface{}) {
	rl.logger.Errorf(format, v...)
}

// RateLimited возвращает Logger, который пишет в logger не чаще одного раза за every.
func RateLimited(logger Logger, every time.Duration) Logger {
	return &rateLimitedLogger{
		logger: logger,
		limit:  rate.NewLimiter(rate.Every(every), 1),
	}
}
