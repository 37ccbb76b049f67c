package audit

import (
	"encoding/json"
	"io"
	"os"
	"sync"
)

// Logger mirrors trail entries to an operational sink as JSON lines so audit
// events can be shipped and filtered independently of the stored trail.
type Logger interface {
	Record(subjectID string, e Entry) error
}

type logger struct {
	mu     sync.Mutex
	writer io.Writer
}

// NewLogger creates a Logger writing to os.Stdout.
func NewLogger() Logger {
	return NewLoggerWithWriter(os.Stdout)
}

// NewLoggerWithWriter creates a Logger writing to the given writer.
// This allows injection for testing and custom sinks.
func NewLoggerWithWriter(w io.Writer) Logger {
	if w == nil {
		w = os.Stdout
	}
	return &logger{writer: w}
}

type loggedEvent struct {
	Subject string `json:"subject"`
	Entry
}

func (l *logger) Record(subjectID string, e Entry) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	bytes, err := json.Marshal(loggedEvent{Subject: subjectID, Entry: e})
	if err != nil {
		return err
	}
	// Prefix with AUDIT: for easy filtering
	_, err = l.writer.Write(append([]byte("AUDIT: "), append(bytes, '\n')...))
	return err
}
