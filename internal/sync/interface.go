// Package sync reconciles the local task store with the remote list service.
package sync

import (
	"context"

	"github.com/Mschirtzinger/tasksync/internal/remote"
	"github.com/Mschirtzinger/tasksync/internal/task"
)

// Local is the part of the local store the orchestrator drives.
// *store.Store implements it.
type Local interface {
	Upsert(it task.Item) task.Item
	Delete(id string) (task.Item, bool)
	Get(id string) (task.Item, bool)
	List() []task.Item
	Replace(items []task.Item)
}

// Remote is the part of the list API client the orchestrator drives.
// *remote.Client implements it.
type Remote interface {
	FetchAll(ctx context.Context) (remote.Snapshot, error)
	Create(ctx context.Context, it task.Item) (task.Item, error)
	Update(ctx context.Context, it task.Item) (task.Item, error)
	Delete(ctx context.Context, it task.Item) (task.Item, error)
	SyncBatch(ctx context.Context, items []task.Item) (remote.Snapshot, error)
}

// Action names a change reported to an Observer.
type Action string

const (
	ActionCreated   Action = "created"
	ActionUpdated   Action = "updated"
	ActionDeleted   Action = "deleted"
	ActionConfirmed Action = "confirmed"
)

// Change describes one applied mutation.
type Change struct {
	Action Action
	Item   task.Item
}

// SyncKind tells a refresh from a reconciliation sweep.
type SyncKind string

const (
	SyncRefresh SyncKind = "refresh"
	SyncSweep   SyncKind = "sweep"
)

// Stats are the derived counts of the visible list.
type Stats struct {
	Total     int   `json:"total"`
	Completed int   `json:"completed"`
	Visible   int   `json:"visible"`
	Pending   int   `json:"pending"`
	Dirty     bool  `json:"dirty"`
	Revision  int64 `json:"revision"`
}

// SyncReport is delivered after a successful refresh or sweep.
type SyncReport struct {
	Kind  SyncKind
	Items int
	Stats Stats
}

// Observer receives orchestrator events. Callbacks run outside the
// orchestrator lock, possibly from several goroutines at once.
type Observer interface {
	ItemChanged(c Change)
	SyncCompleted(r SyncReport)
	RemoteFailed(op string, err error)
}

// NopObserver ignores every event.
type NopObserver struct{}

func (NopObserver) ItemChanged(Change)          {}
func (NopObserver) SyncCompleted(SyncReport)    {}
func (NopObserver) RemoteFailed(string, error) {}
