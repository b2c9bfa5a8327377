package logging

import (
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

var (
	logFile *os.File
	logPath string
	mu      sync.Mutex
)

// Init sets up dual logging to stdout and a log file at path.
// When path is empty, dataPath/termgate.log is used.
func Init(path, dataPath string) {
	if path == "" {
		path = filepath.Join(dataPath, "termgate.log")
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		log.Printf("WARNING: cannot create log directory: %v", err)
		return
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		log.Printf("WARNING: cannot open log file %s: %v", path, err)
		return
	}

	mu.Lock()
	if logFile != nil {
		logFile.Close()
	}
	logFile = f
	logPath = path
	mu.Unlock()

	log.SetOutput(io.MultiWriter(os.Stdout, f))
	log.Printf("Logging to file: %s", path)
}

// Path returns the active log file path, or "" before Init succeeded.
func Path() string {
	mu.Lock()
	defer mu.Unlock()
	return logPath
}

// ReadTail returns the last n lines of the log file, oldest first.
func ReadTail(n int) (string, error) {
	mu.Lock()
	defer mu.Unlock()

	if logPath == "" || n <= 0 {
		return "", nil
	}
	data, err := os.ReadFile(logPath)
	if os.IsNotExist(err) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("read log file: %w", err)
	}

	text := strings.TrimRight(string(data), "\n")
	i := len(text)
	for ; n > 0 && i >= 0; n-- {
		i = strings.LastIndexByte(text[:i], '\n')
	}
	return text[i+1:], nil
}

// Clear truncates the log file.
func Clear() error {
	mu.Lock()
	defer mu.Unlock()

	if logFile == nil {
		return nil
	}
	if err := logFile.Truncate(0); err != nil {
		return fmt.Errorf("truncate log file: %w", err)
	}
	if _, err := logFile.Seek(0, 0); err != nil {
		return fmt.Errorf("seek log file: %w", err)
	}
	return nil
}
