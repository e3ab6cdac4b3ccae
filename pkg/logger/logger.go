package logger

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Logger is a leveled key/value logger. Arguments after msg are read as
// alternating keys and values: log.Info("space created", "space_id", id).
type Logger interface {
	Debug(msg string, keysAndValues ...interface{})
	Info(msg string, keysAndValues ...interface{})
	Warn(msg string, keysAndValues ...interface{})
	Error(msg string, keysAndValues ...interface{})
	Fatal(msg string, keysAndValues ...interface{})
	With(keysAndValues ...interface{}) Logger
}

type zeroLogger struct {
	zl zerolog.Logger
}

// New returns a JSON logger on stderr. "console" as a level suffix
// ("debug,console") switches to the human readable writer.
func New(level string) Logger {
	lvl, console := parseLevel(level)
	var w io.Writer = os.Stderr
	if console {
		w = zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05.000"}
	}
	return NewWithWriter(w, lvl.String())
}

// NewWithWriter builds a logger writing to w.
func NewWithWriter(w io.Writer, level string) Logger {
	lvl, _ := parseLevel(level)
	zerolog.TimeFieldFormat = time.RFC3339Nano
	zl := zerolog.New(w).Level(lvl).With().Timestamp().Logger()
	return &zeroLogger{zl: zl}
}

// Nop discards everything.
func Nop() Logger {
	return &zeroLogger{zl: zerolog.Nop()}
}

func parseLevel(level string) (zerolog.Level, bool) {
	console := false
	parts := strings.Split(strings.ToLower(strings.TrimSpace(level)), ",")
	for _, p := range parts[1:] {
		if strings.TrimSpace(p) == "console" {
			console = true
		}
	}
	lvl, err := zerolog.ParseLevel(strings.TrimSpace(parts[0]))
	if err != nil || parts[0] == "" {
		lvl = zerolog.InfoLevel
	}
	return lvl, console
}

func (l *zeroLogger) Debug(msg string, kv ...interface{}) { l.emit(l.zl.Debug(), msg, kv) }
func (l *zeroLogger) Info(msg string, kv ...interface{})  { l.emit(l.zl.Info(), msg, kv) }
func (l *zeroLogger) Warn(msg string, kv ...interface{})  { l.emit(l.zl.Warn(), msg, kv) }
func (l *zeroLogger) Error(msg string, kv ...interface{}) { l.emit(l.zl.Error(), msg, kv) }
func (l *zeroLogger) Fatal(msg string, kv ...interface{}) { l.emit(l.zl.Fatal(), msg, kv) }

func (l *zeroLogger) With(kv ...interface{}) Logger {
	ctx := l.zl.With()
	for i := 0; i < len(kv); i += 2 {
		key, val := pair(kv, i)
		ctx = ctx.Interface(key, val)
	}
	return &zeroLogger{zl: ctx.Logger()}
}

func (l *zeroLogger) emit(ev *zerolog.Event, msg string, kv []interface{}) {
	if ev == nil {
		return
	}
	for i := 0; i < len(kv); i += 2 {
		key, val := pair(kv, i)
		if err, ok := val.(error); ok {
			ev = ev.AnErr(key, err)
			continue
		}
		ev = ev.Interface(key, val)
	}
	ev.Msg(msg)
}

func pair(kv []interface{}, i int) (string, interface{}) {
	key, ok := kv[i].(string)
	if !ok {
		key = fmt.Sprint(kv[i])
	}
	if i+1 >= len(kv) {
		return key, "(MISSING)"
	}
	return key, kv[i+1]
}
