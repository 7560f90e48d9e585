// Package logging provides the process-wide structured logger for Kiwi.
package logging

import (
	"fmt"
	"io"
	"os"
	"strings"

	clog "github.com/charmbracelet/log"
)

// L is the package-level logger. Callers should use the helper functions
// below rather than holding on to L.
var L = clog.NewWithOptions(os.Stderr, clog.Options{ReportTimestamp: true})

// Setup configures level and output format. Unknown levels fall back to info,
// format is "text" or "json".
func Setup(level, format string) {
	SetOutput(os.Stderr, level, format)
}

// SetOutput is Setup with an explicit writer.
func SetOutput(w io.Writer, level, format string) {
	l := clog.NewWithOptions(w, clog.Options{ReportTimestamp: true})
	lvl, err := clog.ParseLevel(strings.ToLower(level))
	if err != nil {
		lvl = clog.InfoLevel
	}
	l.SetLevel(lvl)
	if strings.EqualFold(format, "json") {
		l.SetFormatter(clog.JSONFormatter)
	}
	L = l
}

// With returns a child logger carrying the given key/value pairs.
func With(keyvals ...interface{}) *clog.Logger {
	return L.With(keyvals...)
}

// Debugf logs a debug-level formatted message.
func Debugf(format string, v ...interface{}) {
	L.Debug(fmt.Sprintf(format, v...))
}

// Infof logs an info-level formatted message.
func Infof(format string, v ...interface{}) {
	L.Info(fmt.Sprintf(format, v...))
}

// Warnf logs a warning-level formatted message.
func Warnf(format string, v ...interface{}) {
	L.Warn(fmt.Sprintf(format, v...))
}

// Errorf logs an error-level formatted message.
func Errorf(format string, v ...interface{}) {
	L.Error(fmt.Sprintf(format, v...))
}
