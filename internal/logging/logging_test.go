package logging

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestFactory_ConsoleOnly(t *testing.T) {
	var buf bytes.Buffer
	f, err := Setup(Options{Console: &buf, Flags: -1})
	if err != nil {
		t.Fatalf("Setup failed: %v", err)
	}
	defer f.Close()

	f.New("sync").Print("hello")
	if got := buf.String(); got != "[sync] hello\n" {
		t.Errorf("output = %q", got)
	}
}

func TestFactory_FileAndConsole(t *testing.T) {
	var buf bytes.Buffer
	path := filepath.Join(t.TempDir(), "logs", "tasksync.log")
	f, err := Setup(Options{File: path, MaxSizeMB: 1, Console: &buf})
	if err != nil {
		t.Fatalf("Setup failed: %v", err)
	}

	f.New("daemon").Printf("refreshed %d items", 3)
	if err := f.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("log file not written: %v", err)
	}
	for name, out := range map[string]string{"file": string(data), "console": buf.String()} {
		if !strings.Contains(out, "[daemon] ") || !strings.Contains(out, "refreshed 3 items") {
			t.Errorf("%s output = %q", name, out)
		}
	}
}

func TestFactory_QuietKeepsFile(t *testing.T) {
	var buf bytes.Buffer
	path := filepath.Join(t.TempDir(), "tasksync.log")
	f, err := Setup(Options{File: path, Quiet: true, Console: &buf})
	if err != nil {
		t.Fatalf("Setup failed: %v", err)
	}
	f.New("store").Print("saved")
	f.Close()

	if buf.Len() != 0 {
		t.Errorf("console received %q in quiet mode", buf.String())
	}
	data, err := os.ReadFile(path)
	if err != nil || !strings.Contains(string(data), "saved") {
		t.Errorf("file content = %q, err = %v", data, err)
	}
}
