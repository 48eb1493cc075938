package daemon

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/Mschirtzinger/tasksync/internal/task"
)

// fakeSyncer records the calls the daemon makes.
type fakeSyncer struct {
	mu         sync.Mutex
	items      map[string]task.Item
	added      []string
	edited     []string
	refreshes  int
	refreshErr error
}

func newFakeSyncer(existing ...task.Item) *fakeSyncer {
	f := &fakeSyncer{items: make(map[string]task.Item)}
	for _, it := range existing {
		f.items[it.ID] = it
	}
	return f
}

func (f *fakeSyncer) Refresh(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.refreshes++
	return f.refreshErr
}

func (f *fakeSyncer) Get(id string) (task.Item, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	it, ok := f.items[id]
	return it, ok
}

func (f *fakeSyncer) Add(it task.Item) (task.Item, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.items[it.ID] = it
	f.added = append(f.added, it.ID)
	return it, nil
}

func (f *fakeSyncer) Edit(it task.Item) (task.Item, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.items[it.ID] = it
	f.edited = append(f.edited, it.ID)
	return it, nil
}

func (f *fakeSyncer) counts() (added, edited, refreshes int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.added), len(f.edited), f.refreshes
}

func quietConfig() *Config {
	config := DefaultConfig()
	config.DebounceInterval = 30 * time.Millisecond
	config.RefreshInterval = time.Hour
	config.Logger = log.New(io.Discard, "", 0)
	return config
}

func record(id, text string) task.Item {
	return task.Item{
		ID:        id,
		Text:      text,
		CreatedAt: time.Unix(1700000000, 0),
		Color:     task.DefaultColor,
	}
}

func writeJSONFile(t *testing.T, path string, items ...task.Item) {
	t.Helper()
	var buf bytes.Buffer
	if err := task.EncodeJSON(&buf, items); err != nil {
		t.Fatalf("EncodeJSON failed: %v", err)
	}
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestNewWithConfig_Validation(t *testing.T) {
	if _, err := NewWithConfig(nil, t.TempDir(), quietConfig()); err == nil {
		t.Error("expected error for nil syncer")
	}
	if _, err := NewWithConfig(newFakeSyncer(), "", quietConfig()); err == nil {
		t.Error("expected error for empty inbox")
	}
	config := quietConfig()
	config.RefreshInterval = 0
	if _, err := NewWithConfig(newFakeSyncer(), t.TempDir(), config); err == nil {
		t.Error("expected error for zero refresh interval")
	}
}

func TestImportFile_AddsAndUpdates(t *testing.T) {
	inbox := t.TempDir()
	syncer := newFakeSyncer(record("existing", "old text"))

	d, err := NewWithConfig(syncer, inbox, quietConfig())
	if err != nil {
		t.Fatalf("NewWithConfig failed: %v", err)
	}
	defer d.Stop()

	path := filepath.Join(inbox, "batch.json")
	writeJSONFile(t, path, record("existing", "new text"), record("fresh", "brand new"))

	res, err := d.ImportFile(path)
	if err != nil {
		t.Fatalf("ImportFile failed: %v", err)
	}
	if res.Added != 1 || res.Updated != 1 || res.Skipped != 0 {
		t.Errorf("result = %+v, want 1 added 1 updated", res)
	}
	if it, _ := syncer.Get("existing"); it.Text != "new text" {
		t.Errorf("existing text = %q", it.Text)
	}

	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Error("imported file still in inbox")
	}
	moved, err := filepath.Glob(filepath.Join(inbox, ProcessedDirName, "*-batch.json"))
	if err != nil || len(moved) != 1 {
		t.Errorf("processed files = %v, err = %v", moved, err)
	}
}

func TestImportFile_SecondaryCountsSkipped(t *testing.T) {
	inbox := t.TempDir()
	syncer := newFakeSyncer()
	d, err := NewWithConfig(syncer, inbox, quietConfig())
	if err != nil {
		t.Fatalf("NewWithConfig failed: %v", err)
	}
	defer d.Stop()

	content := task.CSVHeader + "\n" +
		"a,Buy milk,basic,,false,1700000000,,#000000\n" +
		"broken line\n"
	path := filepath.Join(inbox, "list.csv")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	res, err := d.ImportFile(path)
	if err != nil {
		t.Fatalf("ImportFile failed: %v", err)
	}
	if res.Added != 1 || res.Skipped != 1 {
		t.Errorf("result = %+v, want 1 added 1 skipped", res)
	}
}

func TestImportFile_UndecodableStaysInInbox(t *testing.T) {
	inbox := t.TempDir()
	d, err := NewWithConfig(newFakeSyncer(), inbox, quietConfig())
	if err != nil {
		t.Fatalf("NewWithConfig failed: %v", err)
	}
	defer d.Stop()

	path := filepath.Join(inbox, "bad.json")
	if err := os.WriteFile(path, []byte("{not json"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := d.ImportFile(path); err == nil {
		t.Fatal("ImportFile accepted malformed JSON")
	}
	if _, err := os.Stat(path); err != nil {
		t.Errorf("malformed file was moved: %v", err)
	}
	if _, err := d.ImportFile(filepath.Join(inbox, "notes.txt")); err == nil {
		t.Error("ImportFile accepted an unsupported extension")
	}
}

func TestDaemon_WatchesInbox(t *testing.T) {
	inbox := t.TempDir()
	syncer := newFakeSyncer()

	// A file already waiting before startup is imported too.
	writeJSONFile(t, filepath.Join(inbox, "early.json"), record("early", "queued before start"))

	d, err := NewWithConfig(syncer, inbox, quietConfig())
	if err != nil {
		t.Fatalf("NewWithConfig failed: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	errCh := make(chan error, 1)
	go func() { errCh <- d.Start(ctx) }()

	waitFor(t, "initial refresh and early import", func() bool {
		added, _, refreshes := syncer.counts()
		return added == 1 && refreshes >= 1
	})

	writeJSONFile(t, filepath.Join(inbox, "late.json"), record("late", "dropped while running"))
	waitFor(t, "watched import", func() bool {
		_, ok := syncer.Get("late")
		return ok
	})

	cancel()
	select {
	case err := <-errCh:
		if err != nil {
			t.Errorf("Start returned %v", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("daemon did not stop")
	}
}

func TestDaemon_PeriodicRefreshSurvivesErrors(t *testing.T) {
	syncer := newFakeSyncer()
	syncer.refreshErr = errors.New("offline")

	config := quietConfig()
	config.RefreshInterval = 20 * time.Millisecond
	d, err := NewWithConfig(syncer, t.TempDir(), config)
	if err != nil {
		t.Fatalf("NewWithConfig failed: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	go d.Start(ctx)

	waitFor(t, "repeated refreshes", func() bool {
		_, _, refreshes := syncer.counts()
		return refreshes >= 3
	})
	cancel()
	d.Stop()
}
