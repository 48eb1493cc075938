// Package daemon keeps a local task list in sync while running in the
// background.
//
// The daemon:
//  1. Refreshes from the remote service on startup and on a fixed interval
//  2. Watches an inbox directory for *.json and *.csv files
//  3. Imports each dropped file as local mutations and moves it to processed/
//  4. Handles graceful shutdown
package daemon

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/Mschirtzinger/tasksync/internal/task"
)

// ProcessedDirName is the inbox subdirectory that receives imported files.
const ProcessedDirName = "processed"

// Syncer is the part of the orchestrator the daemon drives.
// *sync.Orchestrator implements it.
type Syncer interface {
	Refresh(ctx context.Context) error
	Get(id string) (task.Item, bool)
	Add(it task.Item) (task.Item, error)
	Edit(it task.Item) (task.Item, error)
}

// Config holds configuration for the daemon.
type Config struct {
	// RefreshInterval is how often to pull the remote list
	RefreshInterval time.Duration

	// DebounceInterval is how long a file must stay quiet before it is
	// imported. This batches the create and write events of one copy.
	DebounceInterval time.Duration

	// Logger for daemon activity
	Logger *log.Logger
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		RefreshInterval:  5 * time.Minute,
		DebounceInterval: 500 * time.Millisecond,
		Logger:           log.New(os.Stderr, "[daemon] ", log.LstdFlags),
	}
}

// ImportResult counts what one inbox file did.
type ImportResult struct {
	Added   int
	Updated int
	Skipped int
}

// Daemon drives periodic refreshes and inbox imports.
type Daemon struct {
	syncer   Syncer
	inbox    string
	config   *Config
	watcher  *FileWatcher
	stopOnce sync.Once

	changeQueue   map[string]time.Time // path -> last event
	changeQueueMu sync.Mutex

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a daemon with the default configuration.
func New(syncer Syncer, inbox string) (*Daemon, error) {
	return NewWithConfig(syncer, inbox, DefaultConfig())
}

// NewWithConfig creates a daemon with custom configuration.
func NewWithConfig(syncer Syncer, inbox string, config *Config) (*Daemon, error) {
	if syncer == nil {
		return nil, fmt.Errorf("syncer cannot be nil")
	}
	if inbox == "" {
		return nil, fmt.Errorf("inbox cannot be empty")
	}
	if config == nil {
		config = DefaultConfig()
	}
	if config.Logger == nil {
		config.Logger = DefaultConfig().Logger
	}
	if config.RefreshInterval <= 0 {
		return nil, fmt.Errorf("refresh interval must be positive")
	}
	if config.DebounceInterval <= 0 {
		config.DebounceInterval = DefaultConfig().DebounceInterval
	}

	watcher, err := NewFileWatcher()
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Daemon{
		syncer:      syncer,
		inbox:       inbox,
		config:      config,
		watcher:     watcher,
		changeQueue: make(map[string]time.Time),
		ctx:         ctx,
		cancel:      cancel,
	}, nil
}

// Start runs the daemon until ctx is cancelled or Stop is called.
//
// A failed initial refresh is logged, not returned: local mutations from
// the inbox are still accepted and pushed once the service is reachable.
// Files already waiting in the inbox are imported right away.
func (d *Daemon) Start(ctx context.Context) error {
	d.config.Logger.Println("Starting daemon")

	if err := os.MkdirAll(filepath.Join(d.inbox, ProcessedDirName), 0o755); err != nil {
		return fmt.Errorf("failed to create inbox: %w", err)
	}

	d.refresh()

	if err := d.watcher.Start(d.inbox); err != nil {
		return err
	}
	d.config.Logger.Printf("Watching inbox: %s", d.inbox)

	if err := d.queueExisting(); err != nil {
		d.config.Logger.Printf("Warning: failed to scan inbox: %v", err)
	}

	d.wg.Add(3)
	go d.watchFileEvents()
	go d.processChangeQueue()
	go d.refreshLoop()

	select {
	case <-ctx.Done():
		d.config.Logger.Println("Shutdown signal received")
		return d.Stop()
	case <-d.ctx.Done():
		return nil
	}
}

// Stop gracefully shuts down the daemon. It is safe to call more than once.
func (d *Daemon) Stop() error {
	d.stopOnce.Do(func() {
		d.config.Logger.Println("Stopping daemon")
		d.cancel()
		if err := d.watcher.Stop(); err != nil {
			d.config.Logger.Printf("Error closing watcher: %v", err)
		}
		d.wg.Wait()
		d.config.Logger.Println("Daemon stopped")
	})
	return nil
}

func (d *Daemon) refresh() {
	if err := d.syncer.Refresh(d.ctx); err != nil {
		d.config.Logger.Printf("Warning: refresh failed: %v", err)
	}
}

// refreshLoop pulls the remote list on every tick.
func (d *Daemon) refreshLoop() {
	defer d.wg.Done()

	ticker := time.NewTicker(d.config.RefreshInterval)
	defer ticker.Stop()

	for {
		select {
		case <-d.ctx.Done():
			return
		case <-ticker.C:
			d.refresh()
		}
	}
}

// watchFileEvents queues inbox changes.
func (d *Daemon) watchFileEvents() {
	defer d.wg.Done()

	for {
		select {
		case <-d.ctx.Done():
			return

		case event, ok := <-d.watcher.Events():
			if !ok {
				return
			}
			if event.Op == OpDelete {
				d.dequeue(event.Path)
				continue
			}
			d.queueChange(event.Path)

		case err, ok := <-d.watcher.Errors():
			if !ok {
				return
			}
			d.config.Logger.Printf("Watcher error: %v", err)
		}
	}
}

func (d *Daemon) queueExisting() error {
	entries, err := os.ReadDir(d.inbox)
	if err != nil {
		return err
	}
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if _, ok := task.FormatFromPath(e.Name()); ok {
			path, err := filepath.Abs(filepath.Join(d.inbox, e.Name()))
			if err != nil {
				return err
			}
			d.queueChange(path)
		}
	}
	return nil
}

// queueChange records the latest event time of path.
func (d *Daemon) queueChange(path string) {
	d.changeQueueMu.Lock()
	defer d.changeQueueMu.Unlock()

	d.changeQueue[path] = time.Now()
}

func (d *Daemon) dequeue(path string) {
	d.changeQueueMu.Lock()
	defer d.changeQueueMu.Unlock()

	delete(d.changeQueue, path)
}

// processChangeQueue imports queued files once they have settled.
func (d *Daemon) processChangeQueue() {
	defer d.wg.Done()

	ticker := time.NewTicker(d.config.DebounceInterval / 2)
	defer ticker.Stop()

	for {
		select {
		case <-d.ctx.Done():
			return
		case <-ticker.C:
			d.processPendingChanges()
		}
	}
}

// processPendingChanges imports files that have been quiet long enough.
func (d *Daemon) processPendingChanges() {
	now := time.Now()

	d.changeQueueMu.Lock()
	var ready []string
	for path, queuedAt := range d.changeQueue {
		if now.Sub(queuedAt) < d.config.DebounceInterval {
			continue
		}
		ready = append(ready, path)
		delete(d.changeQueue, path)
	}
	d.changeQueueMu.Unlock()

	for _, path := range ready {
		res, err := d.ImportFile(path)
		if err != nil {
			d.config.Logger.Printf("Error importing %s: %v", path, err)
			continue
		}
		d.config.Logger.Printf("Imported %s: %d added, %d updated, %d skipped",
			filepath.Base(path), res.Added, res.Updated, res.Skipped)
	}
}

// ImportFile applies every record of the file at path as a local
// mutation, then moves the file into the processed directory. Records
// whose id already exists are edits; the rest are additions. A file that
// cannot be decoded is left in place.
func (d *Daemon) ImportFile(path string) (ImportResult, error) {
	var res ImportResult

	format, ok := task.FormatFromPath(path)
	if !ok {
		return res, fmt.Errorf("unsupported file type: %s", path)
	}

	f, err := os.Open(path)
	if err != nil {
		return res, fmt.Errorf("failed to open %s: %w", path, err)
	}
	items, skipped, err := task.Decode(f, format)
	f.Close()
	if err != nil {
		return res, fmt.Errorf("failed to decode %s: %w", path, err)
	}
	res.Skipped = skipped

	for _, it := range items {
		if _, exists := d.syncer.Get(it.ID); exists {
			if _, err := d.syncer.Edit(it); err != nil {
				d.config.Logger.Printf("Warning: failed to apply %s: %v", it.ID, err)
				res.Skipped++
				continue
			}
			res.Updated++
			continue
		}
		if _, err := d.syncer.Add(it); err != nil {
			d.config.Logger.Printf("Warning: failed to add %s: %v", it.ID, err)
			res.Skipped++
			continue
		}
		res.Added++
	}

	if err := d.archive(path); err != nil {
		return res, err
	}
	return res, nil
}

// archive moves path into the processed directory under a timestamped name.
func (d *Daemon) archive(path string) error {
	dir := filepath.Join(d.inbox, ProcessedDirName)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create %s: %w", dir, err)
	}
	dest := filepath.Join(dir, time.Now().UTC().Format("20060102T150405.000000000")+"-"+filepath.Base(path))
	if err := os.Rename(path, dest); err != nil {
		return fmt.Errorf("failed to move %s to %s: %w", path, dir, err)
	}
	return nil
}
