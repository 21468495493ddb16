// Package journal writes a human-readable log of one listing session:
// state transitions, user actions and calls to remote services.
package journal

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// Journal appends prefixed lines to a per-session file. A nil *Journal
// discards everything, so callers never need to check.
type Journal struct {
	mu   sync.Mutex
	path string
}

// Start creates dir if needed and truncates a fresh journal file named
// after the start time.
func Start(dir string) (*Journal, error) {
	if dir == "" {
		dir = "."
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create journal directory: %w", err)
	}

	now := time.Now()
	j := &Journal{path: filepath.Join(dir, fmt.Sprintf("journal_%d.log", now.Unix()))}

	f, err := os.OpenFile(j.path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to start journal: %w", err)
	}
	defer f.Close()

	header := fmt.Sprintf("=== Listing Journal ===\nStarted: %s\n\n", now.Format("2006-01-02 15:04:05"))
	if _, err := f.WriteString(header); err != nil {
		return nil, fmt.Errorf("failed to write journal header: %w", err)
	}
	return j, nil
}

// Path returns the journal file path.
func (j *Journal) Path() string {
	if j == nil {
		return ""
	}
	return j.path
}

func (j *Journal) append(prefix, msg string) {
	if j == nil {
		return
	}
	j.mu.Lock()
	defer j.mu.Unlock()

	f, err := os.OpenFile(j.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		log.Error().Err(err).Str("path", j.path).Msg("failed to write journal")
		return
	}
	defer f.Close()

	line := fmt.Sprintf("[%s] %s %s\n", time.Now().Format("15:04:05"), prefix, msg)
	f.WriteString(line)
}

// User logs a user action.
func (j *Journal) User(format string, args ...any) {
	j.append("USER ", fmt.Sprintf(format, args...))
}

// State logs a state transition.
func (j *Journal) State(format string, args ...any) {
	j.append("STATE", fmt.Sprintf(format, args...))
}

// API logs a call to a remote service.
func (j *Journal) API(format string, args ...any) {
	j.append("API  ", fmt.Sprintf(format, args...))
}

// Voice logs a finalized utterance.
func (j *Journal) Voice(format string, args ...any) {
	j.append("VOICE", fmt.Sprintf(format, args...))
}

// Error logs a failure.
func (j *Journal) Error(format string, args ...any) {
	j.append("ERROR", fmt.Sprintf(format, args...))
}
