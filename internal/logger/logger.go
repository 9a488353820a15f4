package logger

import (
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"

	"github.com/fatih/color"
	"github.com/jrick/logrotate/rotator"
)

// Log flags
const (
	LstdFlags     = log.LstdFlags
	Lmicroseconds = log.Lmicroseconds
)

// Rotation settings for file output
const (
	rotateThresholdKB = 10 * 1024
	rotateMaxRolls    = 3
)

var (
	foundColor = color.New(color.FgGreen, color.Bold).SprintFunc()
	warnColor  = color.New(color.FgYellow).SprintFunc()
	errorColor = color.New(color.FgRed).SprintFunc()
)

// Logger wraps the standard log.Logger with additional functionality
type Logger struct {
	*log.Logger
	verbose bool
	colored bool
	closer  io.Closer
}

// New creates a new logger
func New() *Logger {
	return &Logger{
		Logger:  log.New(os.Stdout, "", log.LstdFlags),
		colored: !color.NoColor,
	}
}

// NewWriter creates a new logger that writes to the provided writer
func NewWriter(w io.Writer) *Logger {
	return &Logger{
		Logger: log.New(w, "", log.LstdFlags),
	}
}

// NewRotating creates a logger writing to a size-rotated file at path
func NewRotating(path string) (*Logger, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0700); err != nil {
			return nil, fmt.Errorf("failed to create log directory: %w", err)
		}
	}
	r, err := rotator.New(path, rotateThresholdKB, false, rotateMaxRolls)
	if err != nil {
		return nil, fmt.Errorf("failed to create file rotator: %w", err)
	}
	l := NewWriter(r)
	l.closer = r
	return l, nil
}

// SetOutput sets the output destination for the logger
func (l *Logger) SetOutput(w io.Writer) {
	l.Logger.SetOutput(w)
}

// SetFlags sets the output flags for the logger
func (l *Logger) SetFlags(flag int) {
	l.Logger.SetFlags(flag)
}

// SetVerbose enables Debugf output
func (l *Logger) SetVerbose(v bool) {
	l.verbose = v
}

// Verbose reports whether debug output is enabled
func (l *Logger) Verbose() bool {
	return l.verbose
}

// Debugf logs only in verbose mode
func (l *Logger) Debugf(format string, v ...interface{}) {
	if l.verbose {
		l.Printf(format, v...)
	}
}

// Warnf logs a warning
func (l *Logger) Warnf(format string, v ...interface{}) {
	l.Print(l.paint(warnColor, "WARN: "+fmt.Sprintf(format, v...)))
}

// Errorf logs an error
func (l *Logger) Errorf(format string, v ...interface{}) {
	l.Print(l.paint(errorColor, "ERROR: "+fmt.Sprintf(format, v...)))
}

// Found logs a match line
func (l *Logger) Found(format string, v ...interface{}) {
	l.Print(l.paint(foundColor, fmt.Sprintf(format, v...)))
}

// Close releases the log file, if any
func (l *Logger) Close() error {
	if l.closer == nil {
		return nil
	}
	return l.closer.Close()
}

func (l *Logger) paint(f func(a ...interface{}) string, s string) string {
	if !l.colored {
		return s
	}
	return f(s)
}
