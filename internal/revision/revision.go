// Package revision holds the last server revision the client has seen.
package revision

import (
	"errors"
	"fmt"
	"io/fs"
	"log"
	"os"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/Mschirtzinger/tasksync/internal/store"
)

// Tracker is the shared last-known revision. Reads and writes are atomic.
type Tracker interface {
	Get() int64
	Set(rev int64)
}

// Memory is a Tracker that is not persisted.
type Memory struct {
	v atomic.Int64
}

// NewMemory returns a Memory tracker starting at rev.
func NewMemory(rev int64) *Memory {
	m := &Memory{}
	m.Set(rev)
	return m
}

// Get implements Tracker.
func (m *Memory) Get() int64 { return m.v.Load() }

// Set implements Tracker. Negative values are stored as 0.
func (m *Memory) Set(rev int64) {
	if rev < 0 {
		rev = 0
	}
	m.v.Store(rev)
}

// File is a Tracker persisted to a small text file. Every Set rewrites the
// file atomically; a failed write is logged and the in-memory value stays
// authoritative.
type File struct {
	path   string
	logger *log.Logger

	v  atomic.Int64
	mu sync.Mutex // serializes file writes
}

// OpenFile loads the revision stored at path. A missing file means 0.
func OpenFile(path string, logger *log.Logger) (*File, error) {
	if logger == nil {
		logger = log.New(os.Stderr, "[revision] ", log.LstdFlags)
	}
	f := &File{path: path, logger: logger}

	// #nosec G304 - path comes from configuration
	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return f, nil
	case err != nil:
		return nil, fmt.Errorf("failed to read revision file %s: %w", path, err)
	}

	rev, err := strconv.ParseInt(strings.TrimSpace(string(data)), 10, 64)
	if err != nil {
		return nil, fmt.Errorf("failed to parse revision file %s: %w", path, err)
	}
	if rev < 0 {
		rev = 0
	}
	f.v.Store(rev)
	return f, nil
}

// Get implements Tracker.
func (f *File) Get() int64 { return f.v.Load() }

// Set implements Tracker.
func (f *File) Set(rev int64) {
	if rev < 0 {
		rev = 0
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	f.v.Store(rev)
	data := []byte(strconv.FormatInt(rev, 10) + "\n")
	if err := store.WriteFileAtomic(f.path, data, 0644); err != nil {
		f.logger.Printf("WARNING: failed to persist revision %d: %v", rev, err)
	}
}

// Path returns the backing file location.
func (f *File) Path() string { return f.path }
