package main

import (
	"fmt"
	"os"
	"sync"
)

// logFile is a log sink that can be reopened in place, so an external
// rotator can move the file away and the daemon picks up a fresh one.
type logFile struct {
	mu   sync.Mutex
	path string
	f    *os.File
}

func openLogFile(path string) (*logFile, error) {
	l := &logFile{path: path}
	if err := l.Rotate(); err != nil {
		return nil, err
	}
	return l, nil
}

func (l *logFile) Write(p []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.f.Write(p)
}

// Rotate reopens the file at path. The old handle is closed only after the
// new one is open.
func (l *logFile) Rotate() error {
	f, err := os.OpenFile(l.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("failed to open log file %s: %w", l.path, err)
	}

	l.mu.Lock()
	old := l.f
	l.f = f
	l.mu.Unlock()

	if old != nil {
		old.Close()
	}
	return nil
}

func (l *logFile) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.f.Close()
}
