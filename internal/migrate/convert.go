// Package migrate converts task lists between the primary (JSON) and
// secondary (CSV-like) file formats without touching any store.
package migrate

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"time"

	"github.com/Mschirtzinger/tasksync/internal/store"
	"github.com/Mschirtzinger/tasksync/internal/task"
)

// Options contains configuration for a conversion
type Options struct {
	From      string // input file, format from extension
	To        string // output file, format from extension
	DryRun    bool   // parse and count without writing
	Backup    bool   // keep a copy of an existing output file
	Overwrite bool   // replace an existing output file
}

// Result contains statistics about the conversion
type Result struct {
	FromFormat    task.Format
	ToFormat      task.Format
	Converted     int
	Skipped       int
	Written       bool
	BackupCreated string
}

// Convert reads opts.From and writes the same records to opts.To in the
// format of its extension. Lines of a secondary input that do not parse
// are skipped and counted.
func Convert(ctx context.Context, opts Options) (*Result, error) {
	from, ok := task.FormatFromPath(opts.From)
	if !ok {
		return nil, fmt.Errorf("unsupported input file %s (want .json or .csv)", opts.From)
	}
	to, ok := task.FormatFromPath(opts.To)
	if !ok {
		return nil, fmt.Errorf("unsupported output file %s (want .json or .csv)", opts.To)
	}
	result := &Result{FromFormat: from, ToFormat: to}

	// #nosec G304 - controlled path from CLI
	input, err := os.ReadFile(opts.From)
	if err != nil {
		return nil, fmt.Errorf("failed to read input: %w", err)
	}
	items, skipped, err := task.Decode(bytes.NewReader(input), from)
	if err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", opts.From, err)
	}
	result.Converted = len(items)
	result.Skipped = skipped

	if opts.DryRun {
		return result, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	existing, err := os.ReadFile(opts.To)
	switch {
	case err == nil:
		if !opts.Overwrite {
			return nil, fmt.Errorf("output file %s already exists", opts.To)
		}
		if opts.Backup {
			backupPath := opts.To + ".backup." + time.Now().Format("20060102-150405")
			if err := store.WriteFileAtomic(backupPath, existing, 0o600); err != nil {
				return nil, fmt.Errorf("failed to create backup: %w", err)
			}
			result.BackupCreated = backupPath
		}
	case !os.IsNotExist(err):
		return nil, fmt.Errorf("failed to inspect output: %w", err)
	}

	var buf bytes.Buffer
	if err := task.Encode(&buf, to, items); err != nil {
		return nil, fmt.Errorf("failed to encode output: %w", err)
	}
	if err := store.WriteFileAtomic(opts.To, buf.Bytes(), 0o644); err != nil {
		return nil, fmt.Errorf("failed to write output: %w", err)
	}
	result.Written = true
	return result, nil
}
