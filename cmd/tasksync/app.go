package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/Mschirtzinger/tasksync/internal/remote"
	"github.com/Mschirtzinger/tasksync/internal/revision"
	"github.com/Mschirtzinger/tasksync/internal/store"
	tasksync "github.com/Mschirtzinger/tasksync/internal/sync"
	"github.com/Mschirtzinger/tasksync/internal/task"
)

// app is the wiring shared by every command that touches the list.
type app struct {
	backend store.Backend
	store   *store.Store
	tracker *revision.File
	client  *remote.Client // nil when no remote is configured
	orch    *tasksync.Orchestrator

	journal string
}

// openApp opens the local store, the revision file and, when a URL is
// configured, the remote client, and builds an orchestrator over them.
// Unconfirmed work saved by an earlier run is resumed.
func openApp(ctx context.Context, observer tasksync.Observer) (*app, error) {
	backend, err := store.OpenBackend(cfg.Store.Backend, cfg.Store.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to open store: %w", err)
	}
	local, err := store.Open(ctx, backend, logs.New("store"))
	if err != nil {
		backend.Close()
		return nil, fmt.Errorf("failed to load store: %w", err)
	}
	tracker, err := revision.OpenFile(cfg.Store.RevisionPath, logs.New("revision"))
	if err != nil {
		backend.Close()
		return nil, fmt.Errorf("failed to open revision file: %w", err)
	}

	a := &app{
		backend: backend,
		store:   local,
		tracker: tracker,
		journal: filepath.Join(filepath.Dir(cfg.Store.RevisionPath), "pending.json"),
	}

	var rem tasksync.Remote = offlineRemote{}
	if cfg.Remote.URL != "" {
		a.client, err = remote.New(remote.Config{
			BaseURL: cfg.Remote.URL,
			Token:   cfg.Remote.Token,
			Timeout: cfg.Remote.Timeout,
			Logger:  logs.New("remote"),
		}, tracker)
		if err != nil {
			backend.Close()
			return nil, err
		}
		rem = a.client
	}

	resume, err := tasksync.LoadPending(a.journal)
	if err != nil {
		logs.New("sync").Printf("Warning: ignoring pending journal: %v", err)
		resume = tasksync.Pending{}
	}

	a.orch = tasksync.New(local, rem, tracker, tasksync.Config{
		Actor:         cfg.Sync.Actor,
		ShowCompleted: cfg.Sync.ShowCompleted,
		Observer:      observer,
		Logger:        logs.New("sync"),
		Resume:        resume,
	})
	return a, nil
}

// mustOpenApp is openApp for commands that cannot continue without it.
func mustOpenApp(ctx context.Context, observer tasksync.Observer) *app {
	a, err := openApp(ctx, observer)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		exit(1)
	}
	return a
}

// Close waits for in-flight remote calls, saves what is still unconfirmed
// and releases the store.
func (a *app) Close() error {
	a.orch.Wait()
	if err := a.orch.Close(); err != nil {
		a.backend.Close()
		return err
	}
	if err := tasksync.SavePending(a.journal, a.orch.Pending()); err != nil {
		a.backend.Close()
		return err
	}
	return a.backend.Close()
}

// exit is swapped out by tests.
var exit = os.Exit

// closeAndExit reports a failure, then closes a before exiting with
// status 1. os.Exit skips deferred calls, so commands holding an app use
// this instead of exiting directly.
func closeAndExit(a *app, format string, args ...any) {
	fmt.Fprintf(os.Stderr, "Error: "+format+"\n", args...)
	closeApp(a)
	exit(1)
}

// closeApp closes a and reports, but does not exit on, failure.
func closeApp(a *app) {
	if err := a.Close(); err != nil {
		fmt.Fprintf(os.Stderr, "Error closing store: %v\n", err)
	}
}

// offlineRemote stands in for the client when no URL is configured. Every
// call fails, so changes stay local and are marked for a later sweep.
type offlineRemote struct{}

var errOffline = &remote.Error{Kind: remote.KindUnknown, Op: "offline", Message: "remote.url is not set"}

func (offlineRemote) FetchAll(context.Context) (remote.Snapshot, error) {
	return remote.Snapshot{}, errOffline
}

func (offlineRemote) Create(context.Context, task.Item) (task.Item, error) {
	return task.Item{}, errOffline
}

func (offlineRemote) Update(context.Context, task.Item) (task.Item, error) {
	return task.Item{}, errOffline
}

func (offlineRemote) Delete(context.Context, task.Item) (task.Item, error) {
	return task.Item{}, errOffline
}

func (offlineRemote) SyncBatch(context.Context, []task.Item) (remote.Snapshot, error) {
	return remote.Snapshot{}, errOffline
}

// requireRemote exits when a command needs the service and none is set.
func requireRemote() {
	if err := cfg.RequireRemote(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		exit(1)
	}
}
