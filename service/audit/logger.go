package audit

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
)

// ErrAlreadyRecorded is returned when an entry for the run already exists.
var ErrAlreadyRecorded = errors.New("audit: run already recorded")

// Logger is an append-only audit sink. Append returns once the entry is
// durable.
type Logger interface {
	Append(ctx context.Context, entry *Entry) error
}

// FileLogger writes JSON lines to a file opened in append mode.
type FileLogger struct {
	mu       sync.Mutex
	file     *os.File
	recorded map[string]bool
}

// FileOption configures a FileLogger.
type FileOption func(*fileOptions)

type fileOptions struct {
	logger *slog.Logger
}

// WithLogger sets the logger used to report repaired tails.
func WithLogger(logger *slog.Logger) FileOption {
	return func(o *fileOptions) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// OpenFile opens (or creates) path and indexes the run ids it already holds.
// A final line cut short by a crash during Append was never acknowledged, so
// it is cut off and the log resumes on a fresh line.
func OpenFile(path string, options ...FileOption) (*FileLogger, error) {
	opts := &fileOptions{logger: slog.Default()}
	for _, opt := range options {
		opt(opts)
	}
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create audit directory: %w", err)
		}
	}
	entries, tail, err := scan(path)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}
	recorded := make(map[string]bool, len(entries))
	for _, entry := range entries {
		recorded[entry.RunID] = true
	}
	file, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to open audit log: %w", err)
	}
	if err = repair(file, tail); err != nil {
		_ = file.Close()
		return nil, err
	}
	if tail.torn {
		opts.logger.Warn("audit log ended with a partial entry, dropped it", "path", path, "offset", tail.offset, "bytes", tail.size)
	}
	return &FileLogger{file: file, recorded: recorded}, nil
}

// tailState describes the last line of an audit file: torn when it lacks a
// newline and does not decode, unterminated when it decodes but lacks the
// newline. offset and size locate a torn line.
type tailState struct {
	torn         bool
	unterminated bool
	offset       int64
	size         int64
}

func repair(file *os.File, tail tailState) error {
	switch {
	case tail.torn:
		if err := file.Truncate(tail.offset); err != nil {
			return fmt.Errorf("failed to drop partial audit entry: %w", err)
		}
	case tail.unterminated:
		if _, err := file.Write([]byte{'\n'}); err != nil {
			return fmt.Errorf("failed to terminate audit log: %w", err)
		}
	default:
		return nil
	}
	if err := file.Sync(); err != nil {
		return fmt.Errorf("failed to sync audit log: %w", err)
	}
	return nil
}

func (l *FileLogger) Append(_ context.Context, entry *Entry) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.recorded[entry.RunID] {
		return ErrAlreadyRecorded
	}
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to marshal audit entry: %w", err)
	}
	data = append(data, '\n')
	if _, err := l.file.Write(data); err != nil {
		return fmt.Errorf("failed to write audit entry: %w", err)
	}
	if err := l.file.Sync(); err != nil {
		return fmt.Errorf("failed to sync audit log: %w", err)
	}
	l.recorded[entry.RunID] = true
	return nil
}

func (l *FileLogger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.file.Close()
}

// ReadFile returns every entry of a JSON-lines audit file in write order. A
// partial final line left by an interrupted write is skipped.
func ReadFile(path string) ([]*Entry, error) {
	entries, _, err := scan(path)
	return entries, err
}

func scan(path string) ([]*Entry, tailState, error) {
	tail := tailState{}
	file, err := os.Open(path)
	if err != nil {
		return nil, tail, err
	}
	defer file.Close()
	var ret []*Entry
	reader := bufio.NewReaderSize(file, 64*1024)
	var offset int64
	for line := 1; ; line++ {
		data, err := reader.ReadBytes('\n')
		if len(data) > 0 {
			terminated := data[len(data)-1] == '\n'
			content := bytes.TrimSpace(data)
			if len(content) > 0 {
				entry := &Entry{}
				if decodeErr := json.Unmarshal(content, entry); decodeErr != nil {
					if terminated {
						return nil, tail, fmt.Errorf("audit log %s line %d: %w", path, line, decodeErr)
					}
					tail = tailState{torn: true, offset: offset, size: int64(len(data))}
				} else {
					ret = append(ret, entry)
					tail.unterminated = !terminated
				}
			}
			offset += int64(len(data))
		}
		if err == io.EOF {
			return ret, tail, nil
		}
		if err != nil {
			return nil, tail, fmt.Errorf("failed to read audit log %s: %w", path, err)
		}
	}
}

// MemoryLogger keeps entries in memory.
type MemoryLogger struct {
	mu      sync.Mutex
	entries []*Entry
}

func NewMemoryLogger() *MemoryLogger {
	return &MemoryLogger{}
}

func (l *MemoryLogger) Append(_ context.Context, entry *Entry) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, existing := range l.entries {
		if existing.RunID == entry.RunID {
			return ErrAlreadyRecorded
		}
	}
	cp := *entry
	l.entries = append(l.entries, &cp)
	return nil
}

// Entries returns a snapshot of the recorded entries.
func (l *MemoryLogger) Entries() []*Entry {
	l.mu.Lock()
	defer l.mu.Unlock()
	ret := make([]*Entry, len(l.entries))
	copy(ret, l.entries)
	return ret
}

// Count returns the number of entries recorded for runID.
func (l *MemoryLogger) Count(runID string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	count := 0
	for _, entry := range l.entries {
		if entry.RunID == runID {
			count++
		}
	}
	return count
}
