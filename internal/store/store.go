// Package store implements the local task store: an ordered, thread-safe
// key space of task records with write-through persistence to a Backend and
// import/export in the primary and secondary exchange formats.
package store

import (
	"bytes"
	"context"
	"fmt"
	"log"
	"os"
	"sync"

	"github.com/Mschirtzinger/tasksync/internal/task"
)

// Store holds task records in insertion order.
//
// Mutations never fail: the in-memory copy is authoritative for callers and
// the write-through to the backend is best effort. Backend failures are
// logged and retried implicitly by the next successful write.
type Store struct {
	mu      sync.RWMutex
	items   []task.Item
	index   map[string]int
	backend Backend
	logger  *log.Logger
}

// Open creates a store and loads its content from backend.
//
// If backend is nil the store is memory only. If logger is nil, a default
// logger writing to stderr is used.
func Open(ctx context.Context, backend Backend, logger *log.Logger) (*Store, error) {
	s := New(backend, logger)
	if backend == nil {
		return s, nil
	}
	items, err := backend.All(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load items from %s: %w", backend.Name(), err)
	}
	s.reset(items)
	s.logger.Printf("Loaded %d items from %s", len(items), backend.Name())
	return s, nil
}

// New creates an empty store without loading from backend.
func New(backend Backend, logger *log.Logger) *Store {
	if logger == nil {
		logger = log.New(os.Stderr, "[store] ", log.LstdFlags)
	}
	return &Store{
		index:   make(map[string]int),
		backend: backend,
		logger:  logger,
	}
}

// Upsert replaces the record with the same id in place, or appends it.
// It returns the stored value.
func (s *Store) Upsert(it task.Item) task.Item {
	it.Normalize()
	stored := it.Clone()

	s.mu.Lock()
	defer s.mu.Unlock()

	if i, ok := s.index[stored.ID]; ok {
		s.items[i] = stored
	} else {
		s.index[stored.ID] = len(s.items)
		s.items = append(s.items, stored)
	}

	if s.backend != nil {
		if err := s.backend.Put(context.Background(), stored); err != nil {
			s.logger.Printf("WARNING: failed to persist item %s: %v", stored.ID, err)
		}
	}
	return stored.Clone()
}

// Delete removes the record with id. It returns the removed record and
// true, or false when no such record exists.
func (s *Store) Delete(id string) (task.Item, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	i, ok := s.index[id]
	if !ok {
		return task.Item{}, false
	}
	removed := s.items[i]
	s.items = append(s.items[:i], s.items[i+1:]...)
	delete(s.index, id)
	for j := i; j < len(s.items); j++ {
		s.index[s.items[j].ID] = j
	}

	if s.backend != nil {
		if err := s.backend.Remove(context.Background(), id); err != nil {
			s.logger.Printf("WARNING: failed to remove item %s from backend: %v", id, err)
		}
	}
	return removed, true
}

// Get returns the record with id.
func (s *Store) Get(id string) (task.Item, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	i, ok := s.index[id]
	if !ok {
		return task.Item{}, false
	}
	return s.items[i].Clone(), true
}

// List returns a snapshot of all records in insertion order.
func (s *Store) List() []task.Item {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]task.Item, len(s.items))
	for i, it := range s.items {
		out[i] = it.Clone()
	}
	return out
}

// Len returns the number of records.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.items)
}

// Replace swaps the whole content for items. Later duplicates of an id
// replace earlier ones in place.
func (s *Store) Replace(items []task.Item) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.reset(items)
	if s.backend != nil {
		if err := s.backend.ReplaceAll(context.Background(), s.items); err != nil {
			s.logger.Printf("WARNING: failed to replace backend content: %v", err)
		}
	}
}

// reset rebuilds items and index. The caller holds mu or owns s exclusively.
func (s *Store) reset(items []task.Item) {
	s.items = make([]task.Item, 0, len(items))
	s.index = make(map[string]int, len(items))
	for _, it := range items {
		it.Normalize()
		if i, ok := s.index[it.ID]; ok {
			s.items[i] = it.Clone()
			continue
		}
		s.index[it.ID] = len(s.items)
		s.items = append(s.items, it.Clone())
	}
}

// ExportPrimary writes the full list to path in the primary (JSON) format,
// atomically replacing any previous content.
func (s *Store) ExportPrimary(path string) error {
	var buf bytes.Buffer
	if err := task.EncodeJSON(&buf, s.List()); err != nil {
		return fmt.Errorf("%w: %w", ErrEncodeFailure, err)
	}
	if err := WriteFileAtomic(path, buf.Bytes(), 0644); err != nil {
		return err
	}
	s.logger.Printf("Exported %d items to %s", s.Len(), path)
	return nil
}

// ImportPrimary replaces the content with the primary format list at path.
// Nothing is replaced unless the whole resource parses.
func (s *Store) ImportPrimary(path string) error {
	data, err := readFile(path)
	if err != nil {
		return err
	}
	items, err := task.DecodeJSON(bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("%w: %s: %w", ErrDecodeFailure, path, err)
	}
	s.Replace(items)
	s.logger.Printf("Imported %d items from %s", len(items), path)
	return nil
}

// ExportSecondary writes the full list to path in the secondary
// (line oriented) format, atomically replacing any previous content.
func (s *Store) ExportSecondary(path string) error {
	var buf bytes.Buffer
	if err := task.EncodeCSV(&buf, s.List()); err != nil {
		return fmt.Errorf("%w: %w", ErrEncodeFailure, err)
	}
	if err := WriteFileAtomic(path, buf.Bytes(), 0644); err != nil {
		return err
	}
	s.logger.Printf("Exported %d items to %s", s.Len(), path)
	return nil
}

// ImportSecondary replaces the content with the secondary format list at
// path. Unparseable lines are dropped; their count is returned.
func (s *Store) ImportSecondary(path string) (int, error) {
	data, err := readFile(path)
	if err != nil {
		return 0, err
	}
	items, skipped, err := task.DecodeCSV(bytes.NewReader(data))
	if err != nil {
		return 0, fmt.Errorf("%w: %s: %w", ErrDecodeFailure, path, err)
	}
	s.Replace(items)
	if skipped > 0 {
		s.logger.Printf("WARNING: skipped %d unparseable lines in %s", skipped, path)
	}
	s.logger.Printf("Imported %d items from %s", len(items), path)
	return skipped, nil
}
