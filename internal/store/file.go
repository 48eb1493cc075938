package store

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"sync"

	"github.com/Mschirtzinger/tasksync/internal/task"
)

// FileBackend persists the list as one primary format document. Every
// mutation rewrites the document atomically.
type FileBackend struct {
	path  string
	mu    sync.Mutex
	items []task.Item
}

// NewFileBackend returns a backend for the document at path. A missing
// document is treated as an empty list.
func NewFileBackend(path string) (*FileBackend, error) {
	if path == "" {
		return nil, fmt.Errorf("%w: empty path", ErrPathUnavailable)
	}
	b := &FileBackend{path: path}
	if err := b.load(); err != nil {
		return nil, err
	}
	return b, nil
}

// Name implements Backend.
func (b *FileBackend) Name() string { return "file:" + b.path }

// Path returns the document location.
func (b *FileBackend) Path() string { return b.path }

func (b *FileBackend) load() error {
	data, err := readFile(b.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			b.items = nil
			return nil
		}
		return err
	}
	items, err := task.DecodeJSON(bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("%w: %s: %w", ErrDecodeFailure, b.path, err)
	}
	b.items = items
	return nil
}

// Reload re-reads the document from disk, picking up external edits.
func (b *FileBackend) Reload() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.load()
}

// Put implements Backend.
func (b *FileBackend) Put(_ context.Context, it task.Item) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	replaced := false
	for i := range b.items {
		if b.items[i].ID == it.ID {
			b.items[i] = it.Clone()
			replaced = true
			break
		}
	}
	if !replaced {
		b.items = append(b.items, it.Clone())
	}
	return b.flush()
}

// Remove implements Backend.
func (b *FileBackend) Remove(_ context.Context, id string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	for i := range b.items {
		if b.items[i].ID == id {
			b.items = append(b.items[:i], b.items[i+1:]...)
			return b.flush()
		}
	}
	return nil
}

// All implements Backend.
func (b *FileBackend) All(_ context.Context) ([]task.Item, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := make([]task.Item, len(b.items))
	for i, it := range b.items {
		out[i] = it.Clone()
	}
	return out, nil
}

// ReplaceAll implements Backend.
func (b *FileBackend) ReplaceAll(_ context.Context, items []task.Item) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.items = make([]task.Item, len(items))
	for i, it := range items {
		b.items[i] = it.Clone()
	}
	return b.flush()
}

// Close implements Backend.
func (b *FileBackend) Close() error { return nil }

// flush writes the document. The caller holds mu.
func (b *FileBackend) flush() error {
	var buf bytes.Buffer
	if err := task.EncodeJSON(&buf, b.items); err != nil {
		return fmt.Errorf("%w: %w", ErrEncodeFailure, err)
	}
	return WriteFileAtomic(b.path, buf.Bytes(), 0644)
}
