package store

import (
	"context"
	"fmt"

	"github.com/Mschirtzinger/tasksync/internal/task"
)

// Backend is the durable persistence capability behind a Store.
//
// Two implementations exist: FileBackend keeps the list as a primary format
// document, SQLiteBackend keeps it in an embedded SQLite database. One is
// chosen at startup with OpenBackend.
type Backend interface {
	// Name identifies the backend in logs.
	Name() string

	// Put inserts or replaces one record, keeping the position of an
	// existing record.
	Put(ctx context.Context, it task.Item) error

	// Remove deletes one record. Removing an unknown id is not an error.
	Remove(ctx context.Context, id string) error

	// All returns every record in insertion order.
	All(ctx context.Context) ([]task.Item, error)

	// ReplaceAll swaps the whole content.
	ReplaceAll(ctx context.Context, items []task.Item) error

	// Close releases resources held by the backend.
	Close() error
}

// Backend kinds accepted by OpenBackend.
const (
	KindFile   = "file"
	KindSQLite = "sqlite"
)

// OpenBackend opens the backend of the given kind at path.
func OpenBackend(kind, path string) (Backend, error) {
	switch kind {
	case KindFile, "":
		return NewFileBackend(path)
	case KindSQLite:
		return OpenSQLite(path)
	default:
		return nil, fmt.Errorf("unknown store backend %q (want %q or %q)", kind, KindFile, KindSQLite)
	}
}
