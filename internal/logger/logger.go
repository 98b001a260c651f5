// Package logger provides a leveled logging system backed by logrus.
package logger

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"
)

// Level represents a log level.
type Level int

const (
	// LevelDebug is the most verbose log level.
	LevelDebug Level = iota
	// LevelInfo is the default log level for general information.
	LevelInfo
	// LevelWarn is for warning messages.
	LevelWarn
	// LevelError is for error messages only.
	LevelError
)

// String returns the string representation of a log level.
func (l Level) String() string {
	switch l {
	case LevelDebug:
		return "DEBUG"
	case LevelInfo:
		return "INFO"
	case LevelWarn:
		return "WARN"
	case LevelError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

func (l Level) logrusLevel() logrus.Level {
	switch l {
	case LevelDebug:
		return logrus.DebugLevel
	case LevelWarn:
		return logrus.WarnLevel
	case LevelError:
		return logrus.ErrorLevel
	default:
		return logrus.InfoLevel
	}
}

// lineFormatter renders entries as: 2006-01-02T15:04:05.000Z LEVEL message key=value...
type lineFormatter struct{}

func (lineFormatter) Format(entry *logrus.Entry) ([]byte, error) {
	var b strings.Builder
	b.WriteString(entry.Time.UTC().Format("2006-01-02T15:04:05.000Z"))
	b.WriteByte(' ')
	b.WriteString(levelName(entry.Level))
	b.WriteByte(' ')
	b.WriteString(entry.Message)
	for _, key := range sortedKeys(entry.Data) {
		fmt.Fprintf(&b, " %s=%v", key, entry.Data[key])
	}
	b.WriteByte('\n')
	return []byte(b.String()), nil
}

func levelName(l logrus.Level) string {
	switch l {
	case logrus.DebugLevel, logrus.TraceLevel:
		return "DEBUG"
	case logrus.InfoLevel:
		return "INFO"
	case logrus.WarnLevel:
		return "WARN"
	default:
		return "ERROR"
	}
}

func sortedKeys(fields logrus.Fields) []string {
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Logger wraps a logrus logger with a configurable level, output and optional file sink.
type Logger struct {
	mu     sync.Mutex
	level  Level
	output io.Writer
	file   *os.File // optional log file
	entry  *logrus.Logger
}

func newLogger() *Logger {
	l := &Logger{
		level:  LevelInfo,
		output: os.Stderr,
		entry:  logrus.New(),
	}
	l.entry.SetFormatter(lineFormatter{})
	l.apply()
	return l
}

// apply pushes the current level and writers into logrus. Caller holds mu.
func (l *Logger) apply() {
	l.entry.SetLevel(l.level.logrusLevel())
	if l.file != nil {
		l.entry.SetOutput(io.MultiWriter(l.output, l.file))
	} else {
		l.entry.SetOutput(l.output)
	}
}

var defaultLogger = newLogger()

// SetLevel sets the minimum log level for the default logger.
func SetLevel(level Level) {
	defaultLogger.mu.Lock()
	defer defaultLogger.mu.Unlock()
	defaultLogger.level = level
	defaultLogger.apply()
}

// SetOutput sets the output writer for the default logger.
// This is primarily useful for testing.
func SetOutput(w io.Writer) {
	defaultLogger.mu.Lock()
	defer defaultLogger.mu.Unlock()
	defaultLogger.output = w
	defaultLogger.apply()
}

// SetLogFile opens a log file for writing in addition to the current output.
// Returns an error if the file cannot be opened.
func SetLogFile(path string) error {
	defaultLogger.mu.Lock()
	defer defaultLogger.mu.Unlock()

	if defaultLogger.file != nil {
		defaultLogger.file.Close()
		defaultLogger.file = nil
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		defaultLogger.apply()
		return fmt.Errorf("failed to open log file: %w", err)
	}

	defaultLogger.file = f
	defaultLogger.apply()
	return nil
}

// Close closes the log file if one is open.
func Close() {
	defaultLogger.mu.Lock()
	defer defaultLogger.mu.Unlock()

	if defaultLogger.file != nil {
		defaultLogger.file.Close()
		defaultLogger.file = nil
	}
	defaultLogger.apply()
}

func (l *Logger) log(level Level, fields logrus.Fields, format string, args ...interface{}) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if level < l.level {
		return
	}

	entry := logrus.NewEntry(l.entry)
	if len(fields) > 0 {
		entry = entry.WithFields(fields)
	}
	msg := fmt.Sprintf(format, args...)

	switch level {
	case LevelDebug:
		entry.Debug(msg)
	case LevelInfo:
		entry.Info(msg)
	case LevelWarn:
		entry.Warn(msg)
	default:
		entry.Error(msg)
	}
}

// Debug logs at debug level.
func Debug(format string, args ...interface{}) {
	defaultLogger.log(LevelDebug, nil, format, args...)
}

// Info logs at info level.
func Info(format string, args ...interface{}) {
	defaultLogger.log(LevelInfo, nil, format, args...)
}

// Warn logs at warn level.
func Warn(format string, args ...interface{}) {
	defaultLogger.log(LevelWarn, nil, format, args...)
}

// Error logs at error level.
func Error(format string, args ...interface{}) {
	defaultLogger.log(LevelError, nil, format, args...)
}

// Fields attaches key/value context to a single log line.
type Fields map[string]interface{}

// With returns a logging handle that appends fields to every line it writes.
func With(fields Fields) FieldLogger {
	return FieldLogger{fields: logrus.Fields(fields)}
}

// FieldLogger writes leveled lines carrying a fixed set of fields.
type FieldLogger struct {
	fields logrus.Fields
}

func (f FieldLogger) Debug(format string, args ...interface{}) {
	defaultLogger.log(LevelDebug, f.fields, format, args...)
}

func (f FieldLogger) Info(format string, args ...interface{}) {
	defaultLogger.log(LevelInfo, f.fields, format, args...)
}

func (f FieldLogger) Warn(format string, args ...interface{}) {
	defaultLogger.log(LevelWarn, f.fields, format, args...)
}

func (f FieldLogger) Error(format string, args ...interface{}) {
	defaultLogger.log(LevelError, f.fields, format, args...)
}

// ParseLevel converts a string to a Level.
// Accepts: debug, info, warn, error (case-insensitive).
func ParseLevel(s string) (Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return LevelDebug, nil
	case "info":
		return LevelInfo, nil
	case "warn", "warning":
		return LevelWarn, nil
	case "error":
		return LevelError, nil
	default:
		return LevelInfo, fmt.Errorf("unknown log level %q: valid levels are debug, info, warn, error", s)
	}
}

// GetLevel returns the current log level of the default logger.
func GetLevel() Level {
	defaultLogger.mu.Lock()
	defer defaultLogger.mu.Unlock()
	return defaultLogger.level
}
