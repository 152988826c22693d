package logging

import (
	"io"
	"log"
	"os"
)

var (
	DebugLogger *log.Logger
	InfoLogger  *log.Logger
	WarnLogger  *log.Logger
	ErrorLogger *log.Logger
)

// InitLogging initializes logging
func InitLogging() {
	InitLoggingWithOutput(os.Stdout, os.Stderr, false)
}

// InitLoggingWithOutput initializes logging with explicit writers.
// Debug messages are only emitted when debug is true.
func InitLoggingWithOutput(out, errOut io.Writer, debug bool) {
	flags := log.Ldate | log.Ltime | log.Lshortfile
	InfoLogger = log.New(out, "INFO: ", flags)
	WarnLogger = log.New(out, "WARN: ", flags)
	ErrorLogger = log.New(errOut, "ERROR: ", flags)
	DebugLogger = nil
	if debug {
		DebugLogger = log.New(out, "DEBUG: ", flags)
	}
}

// Debugf logs debug level messages
func Debugf(format string, v ...interface{}) {
	if DebugLogger != nil {
		DebugLogger.Printf(format, v...)
	}
}

// Infof logs info level messages
func Infof(format string, v ...interface{}) {
	if InfoLogger != nil {
		InfoLogger.Printf(format, v...)
	}
}

// Warnf logs warning level messages
func Warnf(format string, v ...interface{}) {
	if WarnLogger != nil {
		WarnLogger.Printf(format, v...)
	}
}

// Errorf logs error level messages
func Errorf(format string, v ...interface{}) {
	if ErrorLogger != nil {
		ErrorLogger.Printf(format, v...)
	}
}
