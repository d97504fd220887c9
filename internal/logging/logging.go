// Package logging builds the zerolog loggers used by every lake command.
package logging

import (
	"io"
	"os"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

func init() {
	zerolog.TimeFieldFormat = time.RFC3339Nano
	zerolog.TimestampFieldName = "time"
	zerolog.CallerMarshalFunc = func(pc uintptr, file string, line int) string {
		function := ""
		if fun := runtime.FuncForPC(pc); fun != nil {
			name := fun.Name()
			if slash := strings.LastIndex(name, "/"); slash > 0 {
				name = name[slash+1:]
			}
			function = " " + name + "()"
		}
		return file + ":" + strconv.Itoa(line) + function
	}
}

// New returns a JSON logger on stderr tagged with the command name.
//
// PRETTY=1 switches to a human console writer, DEBUG=1 enables debug level.
func New(cmd string) zerolog.Logger {
	return NewWithWriter(os.Stderr, cmd)
}

// NewWithWriter is New with an explicit sink.
func NewWithWriter(w io.Writer, cmd string) zerolog.Logger {
	if os.Getenv("PRETTY") == "1" {
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339}
	}
	logger := zerolog.New(w).With().Timestamp().Str("cmd", cmd).Logger().Hook(CallerHook{})

	level := zerolog.InfoLevel
	if os.Getenv("DEBUG") == "1" {
		level = zerolog.DebugLevel
	}
	return logger.Level(level)
}

// Or returns l, or a disabled logger when l is nil. Library types keep an
// optional *zerolog.Logger field and call Or on every use.
func Or(l *zerolog.Logger) *zerolog.Logger {
	if l != nil {
		return l
	}
	nop := zerolog.Nop()
	return &nop
}

// CallerHook annotates every event with the calling file and line.
type CallerHook struct{}

func (CallerHook) Run(e *zerolog.Event, _ zerolog.Level, _ string) {
	e.Caller(3)
}
