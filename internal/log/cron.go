package log

import "github.com/robfig/cron/v3"

type cronLogger struct{}

// CronLogger adapts the package logger to cron.Logger so job skips and
// panics recovered by the cron chain land in the same sink.
func CronLogger() cron.Logger {
	return cronLogger{}
}

func (cronLogger) Info(msg string, kv ...any) {
	Debug("cron: "+msg, kv...)
}

func (cronLogger) Error(err error, msg string, kv ...any) {
	Error("cron: "+msg, err, kv...)
}
