package testutil

import (
	"fmt"
	"sync"
)

// Logger records messages logged through the port.Logger interface
type Logger struct {
	mu      sync.Mutex
	Entries []string
}

func (l *Logger) Info(msg string, keysAndValues ...interface{}) {
	l.record("INFO", msg, keysAndValues)
}

func (l *Logger) Error(msg string, keysAndValues ...interface{}) {
	l.record("ERROR", msg, keysAndValues)
}

func (l *Logger) record(level, msg string, kv []interface{}) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.Entries = append(l.Entries, fmt.Sprintf("%s %s %v", level, msg, kv))
}

// Count returns the number of entries logged
func (l *Logger) Count() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.Entries)
}
