package persist

import (
	"log"
	"os"
	"time"
)

// Logger wraps the standard library logger with STARTUP/SHUTDOWN markers so
// that a log file's lifetime is visible at a glance, matching the file
// logger every long-lived component in this module uses.
type Logger struct {
	*log.Logger
	file *os.File
}

// NewLogger opens (or creates) filename for appending and returns a Logger
// that writes a STARTUP line immediately.
func NewLogger(filename string) (*Logger, error) {
	file, err := os.OpenFile(filename, os.O_RDWR|os.O_CREATE|os.O_APPEND, 0644)
	if err != nil {
		return nil, err
	}
	logger := log.New(file, "", log.Ldate|log.Ltime|log.Lmicroseconds)
	logger.Println("STARTUP:", time.Now().Format(time.RFC3339))
	return &Logger{Logger: logger, file: file}, nil
}

// Close writes a SHUTDOWN line and closes the underlying file.
func (l *Logger) Close() error {
	l.Println("SHUTDOWN:", time.Now().Format(time.RFC3339))
	return l.file.Close()
}

// Critical logs v prefixed so it stands out when grepping the log file.
func (l *Logger) Critical(v ...interface{}) {
	l.Println(append([]interface{}{"CRITICAL:"}, v...)...)
}
