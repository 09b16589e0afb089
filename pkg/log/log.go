// Package log provides leveled logging for the ACDB runtime.
//
// Time/date are omitted by default because systemd adds them for us; pass
// -logdate to re-enable. Uses the syslog-style priority prefixes documented
// at https://www.freedesktop.org/software/systemd/man/sd-daemon.html.
package log

import (
	"fmt"
	"io"
	"log"
	"os"
)

var logDateTime bool

var (
	debugWriter io.Writer = os.Stderr
	noteWriter  io.Writer = os.Stderr
	infoWriter  io.Writer = os.Stderr
	warnWriter  io.Writer = os.Stderr
	errWriter   io.Writer = os.Stderr
	critWriter  io.Writer = os.Stderr
)

const (
	debugPrefix = "<7>[DEBUG]    "
	infoPrefix  = "<6>[INFO]     "
	notePrefix  = "<5>[NOTICE]   "
	warnPrefix  = "<4>[WARNING]  "
	errPrefix   = "<3>[ERROR]    "
	critPrefix  = "<2>[CRITICAL] "
)

var (
	debugLog = log.New(debugWriter, debugPrefix, 0)
	infoLog  = log.New(infoWriter, infoPrefix, 0)
	noteLog  = log.New(noteWriter, notePrefix, log.Lshortfile)
	warnLog  = log.New(warnWriter, warnPrefix, log.Lshortfile)
	errLog   = log.New(errWriter, errPrefix, log.Llongfile)
	critLog  = log.New(critWriter, critPrefix, log.Llongfile)

	debugTimeLog = log.New(debugWriter, debugPrefix, log.LstdFlags)
	infoTimeLog  = log.New(infoWriter, infoPrefix, log.LstdFlags)
	noteTimeLog  = log.New(noteWriter, notePrefix, log.LstdFlags|log.Lshortfile)
	warnTimeLog  = log.New(warnWriter, warnPrefix, log.LstdFlags|log.Lshortfile)
	errTimeLog   = log.New(errWriter, errPrefix, log.LstdFlags|log.Llongfile)
	critTimeLog  = log.New(critWriter, critPrefix, log.LstdFlags|log.Llongfile)
)

// SetLevel discards everything below lvl ("debug", "info", "notice", "warn", "err", "crit").
func SetLevel(lvl string) {
	switch lvl {
	case "crit":
		errWriter = io.Discard
		fallthrough
	case "err", "fatal":
		warnWriter = io.Discard
		fallthrough
	case "warn":
		noteWriter = io.Discard
		fallthrough
	case "notice":
		infoWriter = io.Discard
		fallthrough
	case "info":
		debugWriter = io.Discard
	case "debug":
	default:
		fmt.Printf("log: invalid level %q, defaulting to debug\n", lvl)
		SetLevel("debug")
	}
}

// SetDateTime toggles date/time prefixes on every log line.
func SetDateTime(on bool) { logDateTime = on }

func Debug(v ...interface{}) { output(debugWriter, debugLog, debugTimeLog, fmt.Sprint(v...)) }
func Info(v ...interface{})  { output(infoWriter, infoLog, infoTimeLog, fmt.Sprint(v...)) }
func Note(v ...interface{})  { output(noteWriter, noteLog, noteTimeLog, fmt.Sprint(v...)) }
func Warn(v ...interface{})  { output(warnWriter, warnLog, warnTimeLog, fmt.Sprint(v...)) }
func Error(v ...interface{}) { output(errWriter, errLog, errTimeLog, fmt.Sprint(v...)) }
func Crit(v ...interface{})  { output(critWriter, critLog, critTimeLog, fmt.Sprint(v...)) }

func Debugf(format string, v ...interface{}) { output(debugWriter, debugLog, debugTimeLog, fmt.Sprintf(format, v...)) }
func Infof(format string, v ...interface{})  { output(infoWriter, infoLog, infoTimeLog, fmt.Sprintf(format, v...)) }
func Notef(format string, v ...interface{})  { output(noteWriter, noteLog, noteTimeLog, fmt.Sprintf(format, v...)) }
func Warnf(format string, v ...interface{})  { output(warnWriter, warnLog, warnTimeLog, fmt.Sprintf(format, v...)) }
func Errorf(format string, v ...interface{}) { output(errWriter, errLog, errTimeLog, fmt.Sprintf(format, v...)) }
func Critf(format string, v ...interface{})  { output(critWriter, critLog, critTimeLog, fmt.Sprintf(format, v...)) }

// Fatal logs at error level and terminates the process.
func Fatal(v ...interface{}) {
	Error(v...)
	os.Exit(1)
}

// Fatalf is Fatal with formatting.
func Fatalf(format string, v ...interface{}) {
	Errorf(format, v...)
	os.Exit(1)
}

func output(w io.Writer, l, timeLogger *log.Logger, msg string) {
	if w == io.Discard {
		return
	}
	if logDateTime {
		timeLogger.Output(3, msg)
	} else {
		l.Output(3, msg)
	}
}

// Logger is a component-tagged logger, e.g. log.Component("GRAPH").Infof(...).
type Logger struct {
	tag string
}

// Component returns a Logger that prefixes every message with "[tag] ".
func Component(tag string) *Logger {
	return &Logger{tag: tag}
}

func (c *Logger) prefix(msg string) string { return "[" + c.tag + "] " + msg }

func (c *Logger) Debug(v ...interface{}) { Debug(c.prefix(fmt.Sprint(v...))) }
func (c *Logger) Info(v ...interface{})  { Info(c.prefix(fmt.Sprint(v...))) }
func (c *Logger) Warn(v ...interface{})  { Warn(c.prefix(fmt.Sprint(v...))) }
func (c *Logger) Error(v ...interface{}) { Error(c.prefix(fmt.Sprint(v...))) }

func (c *Logger) Debugf(format string, v ...interface{}) { Debugf(c.prefix(format), v...) }
func (c *Logger) Infof(format string, v ...interface{})  { Infof(c.prefix(format), v...) }
func (c *Logger) Warnf(format string, v ...interface{})  { Warnf(c.prefix(format), v...) }
func (c *Logger) Errorf(format string, v ...interface{}) { Errorf(c.prefix(format), v...) }
