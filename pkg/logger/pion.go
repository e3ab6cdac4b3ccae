package logger

import (
	"fmt"

	"github.com/pion/logging"
)

// PionFactory routes pion's scoped loggers into a Logger. Pion is chatty at
// debug level, so trace goes nowhere and debug only when asked for.
type PionFactory struct {
	log   Logger
	debug bool
}

func NewPionFactory(log Logger, debug bool) *PionFactory {
	return &PionFactory{log: log, debug: debug}
}

func (f *PionFactory) NewLogger(scope string) logging.LeveledLogger {
	return pionLogger{log: f.log.With("mod", scope), debug: f.debug}
}

type pionLogger struct {
	log   Logger
	debug bool
}

func (p pionLogger) Trace(string)                  {}
func (p pionLogger) Tracef(string, ...interface{}) {}

func (p pionLogger) Debug(msg string) {
	if p.debug {
		p.log.Debug(msg)
	}
}

func (p pionLogger) Debugf(format string, args ...interface{}) {
	if p.debug {
		p.log.Debug(fmt.Sprintf(format, args...))
	}
}

func (p pionLogger) Info(msg string) { p.log.Info(msg) }

func (p pionLogger) Infof(format string, args ...interface{}) {
	p.log.Info(fmt.Sprintf(format, args...))
}

func (p pionLogger) Warn(msg string) { p.log.Warn(msg) }

func (p pionLogger) Warnf(format string, args ...interface{}) {
	p.log.Warn(fmt.Sprintf(format, args...))
}

func (p pionLogger) Error(msg string) { p.log.Error(msg) }

func (p pionLogger) Errorf(format string, args ...interface{}) {
	p.log.Error(fmt.Sprintf(format, args...))
}
