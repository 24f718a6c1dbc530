package main

import (
	"time"

	appLog "epdframe/internal/log"
)

// busyPoll is how often a Deadline wait samples the busy line. A refresh
// takes seconds, so millisecond resolution is plenty.
const busyPoll = 10 * time.Millisecond

// cronLogger adapts the application logger to cron.Logger. Scheduler chatter
// goes to DEBUG.
type cronLogger struct{}

func (cronLogger) Info(msg string, keysAndValues ...any) {
	appLog.Debug("cron: "+msg, keysAndValues...)
}

func (cronLogger) Error(err error, msg string, keysAndValues ...any) {
	appLog.Error("cron: "+msg, err, keysAndValues...)
}
