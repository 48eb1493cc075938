package migrate

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/Mschirtzinger/tasksync/internal/task"
)

func sampleItems() []task.Item {
	deadline := time.Unix(1800000000, 0)
	changed := time.Unix(1700000500, 0)
	return []task.Item{
		{
			ID:         "a1",
			Text:       "Buy milk, eggs",
			Importance: task.ImportanceHigh,
			Deadline:   &deadline,
			CreatedAt:  time.Unix(1700000000, 0),
			ChangedAt:  &changed,
			Color:      task.DefaultColor,
		},
		{
			ID:        "b2",
			Text:      "Call mom",
			Done:      true,
			CreatedAt: time.Unix(1700000100, 0),
			ChangedAt: &changed,
			Color:     "#ff0000",
		},
	}
}

func writeItems(t *testing.T, path string, f task.Format, items []task.Item) {
	t.Helper()
	var buf bytes.Buffer
	if err := task.Encode(&buf, f, items); err != nil {
		t.Fatalf("Encode failed: %v", err)
	}
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}
}

func readItems(t *testing.T, path string) []task.Item {
	t.Helper()
	f, ok := task.FormatFromPath(path)
	if !ok {
		t.Fatalf("unknown format for %s", path)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile failed: %v", err)
	}
	items, _, err := task.Decode(bytes.NewReader(data), f)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	return items
}

func TestConvert_RoundTrip(t *testing.T) {
	dir := t.TempDir()
	jsonPath := filepath.Join(dir, "items.json")
	csvPath := filepath.Join(dir, "items.csv")
	backPath := filepath.Join(dir, "back.json")
	writeItems(t, jsonPath, task.FormatPrimary, sampleItems())

	res, err := Convert(context.Background(), Options{From: jsonPath, To: csvPath})
	if err != nil {
		t.Fatalf("Convert to csv failed: %v", err)
	}
	if res.Converted != 2 || !res.Written || res.ToFormat != task.FormatSecondary {
		t.Errorf("result = %+v", res)
	}

	if _, err := Convert(context.Background(), Options{From: csvPath, To: backPath}); err != nil {
		t.Fatalf("Convert to json failed: %v", err)
	}

	got := readItems(t, backPath)
	if diff := cmp.Diff(sampleItems(), got); diff != "" {
		t.Errorf("round trip mismatch (-want +got):\n%s", diff)
	}
}

func TestConvert_DryRun(t *testing.T) {
	dir := t.TempDir()
	in := filepath.Join(dir, "items.json")
	out := filepath.Join(dir, "items.csv")
	writeItems(t, in, task.FormatPrimary, sampleItems())

	res, err := Convert(context.Background(), Options{From: in, To: out, DryRun: true})
	if err != nil {
		t.Fatalf("Convert failed: %v", err)
	}
	if res.Converted != 2 || res.Written {
		t.Errorf("result = %+v", res)
	}
	if _, err := os.Stat(out); !os.IsNotExist(err) {
		t.Error("dry run wrote the output file")
	}
}

func TestConvert_ExistingOutput(t *testing.T) {
	dir := t.TempDir()
	in := filepath.Join(dir, "items.json")
	out := filepath.Join(dir, "items.csv")
	writeItems(t, in, task.FormatPrimary, sampleItems())
	if err := os.WriteFile(out, []byte("old content"), 0o644); err != nil {
		t.Fatal(err)
	}

	if _, err := Convert(context.Background(), Options{From: in, To: out}); err == nil {
		t.Fatal("Convert overwrote without Overwrite")
	}

	res, err := Convert(context.Background(), Options{From: in, To: out, Overwrite: true, Backup: true})
	if err != nil {
		t.Fatalf("Convert failed: %v", err)
	}
	if res.BackupCreated == "" {
		t.Fatal("no backup reported")
	}
	backup, err := os.ReadFile(res.BackupCreated)
	if err != nil || string(backup) != "old content" {
		t.Errorf("backup = %q, err = %v", backup, err)
	}
	if got := readItems(t, out); len(got) != 2 {
		t.Errorf("output has %d items, want 2", len(got))
	}
}

func TestConvert_SkipsMalformedLines(t *testing.T) {
	dir := t.TempDir()
	in := filepath.Join(dir, "in.csv")
	out := filepath.Join(dir, "out.json")
	content := task.CSVHeader + "\n" +
		"a,ok,,,false,1700000000,,#000000\n" +
		"b,bad bool,,,maybe,1700000000,,#000000\n"
	if err := os.WriteFile(in, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	res, err := Convert(context.Background(), Options{From: in, To: out})
	if err != nil {
		t.Fatalf("Convert failed: %v", err)
	}
	if res.Converted != 1 || res.Skipped != 1 {
		t.Errorf("result = %+v, want 1 converted 1 skipped", res)
	}
}

func TestConvert_Errors(t *testing.T) {
	dir := t.TempDir()
	tests := []struct {
		name string
		opts Options
	}{
		{"unsupported input", Options{From: filepath.Join(dir, "a.txt"), To: filepath.Join(dir, "b.csv")}},
		{"unsupported output", Options{From: filepath.Join(dir, "a.json"), To: filepath.Join(dir, "b.xml")}},
		{"missing input", Options{From: filepath.Join(dir, "missing.json"), To: filepath.Join(dir, "b.csv")}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Convert(context.Background(), tt.opts); err == nil {
				t.Error("expected error")
			}
		})
	}
}
