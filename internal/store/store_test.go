package store

import (
	"context"
	"errors"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/Mschirtzinger/tasksync/internal/task"
)

func testLogger() *log.Logger {
	return log.New(io.Discard, "[test] ", 0)
}

func newItem(id, text string) task.Item {
	created := time.Unix(1767225600, 0)
	changed := created.Add(time.Minute)
	return task.Item{
		ID:        id,
		Text:      text,
		CreatedAt: created,
		ChangedAt: &changed,
		Color:     task.DefaultColor,
	}
}

func TestUpsert_AppendsAndReplacesInPlace(t *testing.T) {
	s := New(nil, testLogger())

	s.Upsert(newItem("a", "first"))
	s.Upsert(newItem("b", "second"))
	s.Upsert(newItem("c", "third"))

	updated := newItem("b", "second, edited")
	got := s.Upsert(updated)
	if got.Text != "second, edited" {
		t.Errorf("Upsert returned %q, want edited text", got.Text)
	}

	list := s.List()
	if len(list) != 3 {
		t.Fatalf("expected 3 items, got %d", len(list))
	}
	ids := []string{list[0].ID, list[1].ID, list[2].ID}
	if diff := cmp.Diff([]string{"a", "b", "c"}, ids); diff != "" {
		t.Errorf("order changed (-want +got):\n%s", diff)
	}
	if list[1].Text != "second, edited" {
		t.Errorf("item b text = %q", list[1].Text)
	}
}

func TestUpsert_Idempotent(t *testing.T) {
	s := New(nil, testLogger())
	it := newItem("a", "same")

	s.Upsert(it)
	s.Upsert(it)

	if s.Len() != 1 {
		t.Fatalf("expected exactly one entry, got %d", s.Len())
	}
	got, ok := s.Get("a")
	if !ok {
		t.Fatal("item a not found")
	}
	if diff := cmp.Diff(it, got); diff != "" {
		t.Errorf("stored item mismatch (-want +got):\n%s", diff)
	}
}

func TestUpsert_AssignsMissingID(t *testing.T) {
	s := New(nil, testLogger())
	got := s.Upsert(task.Item{Text: "no id"})
	if got.ID == "" {
		t.Fatal("expected generated id")
	}
	if _, ok := s.Get(got.ID); !ok {
		t.Error("generated id not stored")
	}
}

func TestDelete(t *testing.T) {
	s := New(nil, testLogger())
	r := newItem("a", "to delete")
	s.Upsert(r)
	s.Upsert(newItem("b", "keep"))

	removed, ok := s.Delete("a")
	if !ok {
		t.Fatal("Delete reported not found")
	}
	if removed.ID != "a" || removed.Text != "to delete" {
		t.Errorf("Delete returned %+v", removed)
	}
	if _, ok := s.Get("a"); ok {
		t.Error("item a still present after delete")
	}
	if got, ok := s.Get("b"); !ok || got.Text != "keep" {
		t.Error("index broken after delete")
	}
}

func TestDelete_UnknownID(t *testing.T) {
	s := New(nil, testLogger())
	s.Upsert(newItem("a", "x"))

	if _, ok := s.Delete("nonexistent"); ok {
		t.Error("Delete of unknown id reported found")
	}
	if s.Len() != 1 {
		t.Errorf("store size changed to %d", s.Len())
	}
}

func TestList_IsSnapshot(t *testing.T) {
	s := New(nil, testLogger())
	s.Upsert(newItem("a", "x"))

	list := s.List()
	list[0].Text = "mutated"

	got, _ := s.Get("a")
	if got.Text != "x" {
		t.Error("List must return a copy")
	}
}

func TestExportImportPrimary_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out", "items.json")

	src := New(nil, testLogger())
	src.Upsert(newItem("a", "one"))
	deadline := time.Unix(1767312000, 0)
	b := newItem("b", "two, with comma")
	b.Deadline = &deadline
	b.Importance = task.ImportanceLow
	src.Upsert(b)

	if err := src.ExportPrimary(path); err != nil {
		t.Fatalf("ExportPrimary failed: %v", err)
	}

	dst := New(nil, testLogger())
	dst.Upsert(newItem("stale", "replaced"))
	if err := dst.ImportPrimary(path); err != nil {
		t.Fatalf("ImportPrimary failed: %v", err)
	}
	if diff := cmp.Diff(src.List(), dst.List()); diff != "" {
		t.Errorf("round trip mismatch (-want +got):\n%s", diff)
	}
}

func TestExportPrimary_Overwrites(t *testing.T) {
	path := filepath.Join(t.TempDir(), "items.json")
	if err := os.WriteFile(path, []byte("old content that is long enough to notice"), 0644); err != nil {
		t.Fatal(err)
	}

	s := New(nil, testLogger())
	if err := s.ExportPrimary(path); err != nil {
		t.Fatalf("ExportPrimary failed: %v", err)
	}
	data, _ := os.ReadFile(path)
	if strings.TrimSpace(string(data)) != "[]" {
		t.Errorf("expected empty array, got %q", data)
	}

	entries, _ := os.ReadDir(filepath.Dir(path))
	if len(entries) != 1 {
		t.Errorf("temp files left behind: %d entries", len(entries))
	}
}

func TestImportPrimary_Errors(t *testing.T) {
	dir := t.TempDir()
	bad := filepath.Join(dir, "bad.json")
	if err := os.WriteFile(bad, []byte(`[{"id": "a",`), 0644); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name string
		path string
		want error
	}{
		{"missing file", filepath.Join(dir, "missing.json"), ErrPathUnavailable},
		{"empty path", "", ErrPathUnavailable},
		{"malformed", bad, ErrDecodeFailure},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := New(nil, testLogger())
			s.Upsert(newItem("keep", "x"))

			err := s.ImportPrimary(tt.path)
			if !errors.Is(err, tt.want) {
				t.Fatalf("ImportPrimary error = %v, want %v", err, tt.want)
			}
			if s.Len() != 1 {
				t.Errorf("content changed after failed import: %d items", s.Len())
			}
		})
	}
}

func TestExportPrimary_PathUnavailable(t *testing.T) {
	dir := t.TempDir()
	blocker := filepath.Join(dir, "file")
	if err := os.WriteFile(blocker, nil, 0644); err != nil {
		t.Fatal(err)
	}

	s := New(nil, testLogger())
	err := s.ExportPrimary(filepath.Join(blocker, "items.json"))
	if !errors.Is(err, ErrPathUnavailable) {
		t.Errorf("expected ErrPathUnavailable, got %v", err)
	}
}

func TestExportImportSecondary(t *testing.T) {
	path := filepath.Join(t.TempDir(), "items.csv")

	src := New(nil, testLogger())
	src.Upsert(newItem("a", "a,b,c"))
	src.Upsert(newItem("b", "plain"))
	if err := src.ExportSecondary(path); err != nil {
		t.Fatalf("ExportSecondary failed: %v", err)
	}

	// Append a malformed line by hand.
	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		t.Fatal(err)
	}
	_, _ = f.WriteString("x,y\n")
	f.Close()

	dst := New(nil, testLogger())
	skipped, err := dst.ImportSecondary(path)
	if err != nil {
		t.Fatalf("ImportSecondary failed: %v", err)
	}
	if skipped != 1 {
		t.Errorf("skipped = %d, want 1", skipped)
	}
	if diff := cmp.Diff(src.List(), dst.List()); diff != "" {
		t.Errorf("round trip mismatch (-want +got):\n%s", diff)
	}
	if _, ok := dst.Get("x"); ok {
		t.Error("malformed line should not be imported")
	}
}

// backendFactories returns one constructor per Backend implementation so
// behavioral tests run against both.
func backendFactories() map[string]func(t *testing.T, dir string) Backend {
	return map[string]func(t *testing.T, dir string) Backend{
		KindFile: func(t *testing.T, dir string) Backend {
			b, err := NewFileBackend(filepath.Join(dir, "items.json"))
			if err != nil {
				t.Fatalf("NewFileBackend failed: %v", err)
			}
			return b
		},
		KindSQLite: func(t *testing.T, dir string) Backend {
			b, err := OpenSQLite(filepath.Join(dir, "items.db"))
			if err != nil {
				t.Fatalf("OpenSQLite failed: %v", err)
			}
			return b
		},
	}
}

func TestBackends_Persistence(t *testing.T) {
	for name, factory := range backendFactories() {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			dir := t.TempDir()

			b := factory(t, dir)
			s, err := Open(ctx, b, testLogger())
			if err != nil {
				t.Fatalf("Open failed: %v", err)
			}
			s.Upsert(newItem("a", "one"))
			s.Upsert(newItem("b", "two"))
			s.Upsert(newItem("c", "three"))
			s.Upsert(newItem("a", "one, edited"))
			s.Delete("b")
			want := s.List()
			if err := b.Close(); err != nil {
				t.Fatalf("Close failed: %v", err)
			}

			reopened := factory(t, dir)
			defer reopened.Close()
			s2, err := Open(ctx, reopened, testLogger())
			if err != nil {
				t.Fatalf("reopen failed: %v", err)
			}
			if diff := cmp.Diff(want, s2.List()); diff != "" {
				t.Errorf("persisted content mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestBackends_ReplaceAll(t *testing.T) {
	for name, factory := range backendFactories() {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			b := factory(t, t.TempDir())
			defer b.Close()

			s, err := Open(ctx, b, testLogger())
			if err != nil {
				t.Fatalf("Open failed: %v", err)
			}
			s.Upsert(newItem("old", "gone soon"))

			replacement := []task.Item{newItem("z", "last"), newItem("y", "first? no, second")}
			s.Replace(replacement)

			got, err := b.All(ctx)
			if err != nil {
				t.Fatalf("All failed: %v", err)
			}
			if diff := cmp.Diff(replacement, got); diff != "" {
				t.Errorf("backend content mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestOpenBackend_UnknownKind(t *testing.T) {
	if _, err := OpenBackend("postgres", filepath.Join(t.TempDir(), "x")); err == nil {
		t.Error("expected error for unknown backend kind")
	}
}

func TestFileBackend_CorruptDocument(t *testing.T) {
	path := filepath.Join(t.TempDir(), "items.json")
	if err := os.WriteFile(path, []byte("nope"), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := NewFileBackend(path); !errors.Is(err, ErrDecodeFailure) {
		t.Errorf("expected ErrDecodeFailure, got %v", err)
	}
}
