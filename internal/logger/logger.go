// Copyright (c) 2025 Northbound System
// Author: Nicholas Skitch
package logger

import (
	"fmt"
	"io"
	"log"
	"os"
	"sync"
	"time"
)

// Logger writes leveled lines to stdout (and optionally a file) and fans each
// line out to subscribers such as the log stream endpoint.
type Logger struct {
	file        *os.File
	logger      *log.Logger
	broadcast   chan string
	subscribers map[chan string]bool
	subMu       sync.RWMutex
	mu          sync.RWMutex
	closed      bool
	debug       bool
}

var (
	defaultLogger *Logger
	defaultMu     sync.Mutex
)

// Init installs a default logger that also appends to logFile.
// An empty logFile logs to stdout only.
func Init(logFile string) (*Logger, error) {
	l, err := NewLogger(logFile)
	if err != nil {
		return nil, err
	}
	defaultMu.Lock()
	defaultLogger = l
	defaultMu.Unlock()
	return l, nil
}

// NewLogger creates a new logger instance
func NewLogger(logFile string) (*Logger, error) {
	var out io.Writer = os.Stdout
	var file *os.File
	if logFile != "" {
		f, err := os.OpenFile(logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0666)
		if err != nil {
			return nil, fmt.Errorf("failed to open log file: %w", err)
		}
		file = f
		out = io.MultiWriter(os.Stdout, f)
	}
	return newLogger(out, file), nil
}

func newLogger(out io.Writer, file *os.File) *Logger {
	l := &Logger{
		file:        file,
		logger:      log.New(out, "", 0),
		broadcast:   make(chan string, 100),
		subscribers: make(map[chan string]bool),
		debug:       os.Getenv("JOBHIVE_DEBUG") != "",
	}
	go l.broadcastLoop()
	return l
}

// GetDefault returns the default logger, creating a stdout logger if none is
// installed or the installed one was closed.
func GetDefault() *Logger {
	defaultMu.Lock()
	defer defaultMu.Unlock()

	if defaultLogger == nil || defaultLogger.isClosed() {
		defaultLogger = newLogger(os.Stdout, nil)
	}
	return defaultLogger
}

// SetDebug toggles DEBUG output.
func (l *Logger) SetDebug(enabled bool) {
	l.mu.Lock()
	l.debug = enabled
	l.mu.Unlock()
}

func (l *Logger) isClosed() bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.closed
}

// Subscribe registers a buffered channel that receives every subsequent line.
// It returns nil once the logger is closed.
func (l *Logger) Subscribe() chan string {
	if l == nil || l.isClosed() {
		return nil
	}

	ch := make(chan string, 10)
	l.subMu.Lock()
	l.subscribers[ch] = true
	l.subMu.Unlock()
	return ch
}

// Unsubscribe removes and closes a channel returned by Subscribe.
func (l *Logger) Unsubscribe(ch chan string) {
	if ch == nil {
		return
	}

	l.subMu.Lock()
	defer l.subMu.Unlock()

	if l.subscribers[ch] {
		delete(l.subscribers, ch)
		close(ch)
	}
}

// broadcastLoop forwards lines to subscribers until the logger closes.
func (l *Logger) broadcastLoop() {
	defer func() {
		l.subMu.Lock()
		for ch := range l.subscribers {
			close(ch)
		}
		l.subscribers = make(map[chan string]bool)
		l.subMu.Unlock()
	}()

	for line := range l.broadcast {
		l.subMu.RLock()
		for ch := range l.subscribers {
			select {
			case ch <- line:
			default:
				// slow subscriber, drop
			}
		}
		l.subMu.RUnlock()
	}
}

func (l *Logger) logMessage(level, format string, v ...interface{}) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if l.closed || (level == "DEBUG" && !l.debug) {
		return
	}

	line := fmt.Sprintf("[%s] [%s] %s", time.Now().Format("2006-01-02 15:04:05"), level, fmt.Sprintf(format, v...))
	l.logger.Print(line)

	select {
	case l.broadcast <- line:
	default:
	}
}

// Printf logs a message at INFO level
func (l *Logger) Printf(format string, v ...interface{}) {
	l.logMessage("INFO", format, v...)
}

// Errorf logs a message at ERROR level
func (l *Logger) Errorf(format string, v ...interface{}) {
	l.logMessage("ERROR", format, v...)
}

// Warnf logs a message at WARN level
func (l *Logger) Warnf(format string, v ...interface{}) {
	l.logMessage("WARN", format, v...)
}

// Debugf logs a message at DEBUG level
func (l *Logger) Debugf(format string, v ...interface{}) {
	l.logMessage("DEBUG", format, v...)
}

// Fatalf logs a message at FATAL level and exits
func (l *Logger) Fatalf(format string, v ...interface{}) {
	l.logMessage("FATAL", format, v...)
	os.Exit(1)
}

// Close stops broadcasting and closes the log file.
func (l *Logger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return nil
	}
	l.closed = true
	close(l.broadcast)

	if l.file != nil {
		return l.file.Close()
	}
	return nil
}

func Printf(format string, v ...interface{}) { GetDefault().Printf(format, v...) }
func Errorf(format string, v ...interface{}) { GetDefault().Errorf(format, v...) }
func Warnf(format string, v ...interface{})  { GetDefault().Warnf(format, v...) }
func Debugf(format string, v ...interface{}) { GetDefault().Debugf(format, v...) }
func Fatalf(format string, v ...interface{}) { GetDefault().Fatalf(format, v...) }
