package logger

import "fmt"

// CronLogger adapts Logger to robfig/cron's Logger interface
// (Info(msg, keysAndValues...), Error(err, msg, keysAndValues...)).
type CronLogger struct {
	l *Logger
}

// NewCronLogger wraps l for use with cron.WithLogger and cron.SkipIfStillRunning
func NewCronLogger(l *Logger) *CronLogger {
	return &CronLogger{l: l.WithField("component", "cron")}
}

// Info logs routine scheduler messages at debug level
func (c *CronLogger) Info(msg string, keysAndValues ...interface{}) {
	c.l.WithFields(kvToFields(keysAndValues)).Debug(msg)
}

// Error logs scheduler errors
func (c *CronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	c.l.WithError(err).WithFields(kvToFields(keysAndValues)).Error(msg)
}

func kvToFields(kv []interface{}) map[string]interface{} {
	fields := make(map[string]interface{}, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		key, ok := kv[i].(string)
		if !ok {
			key = fmt.Sprint(kv[i])
		}
		fields[key] = kv[i+1]
	}
	if len(kv)%2 == 1 {
		fields["extra"] = kv[len(kv)-1]
	}
	return fields
}
