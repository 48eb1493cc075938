package sync

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sort"

	"github.com/Mschirtzinger/tasksync/internal/store"
)

// Pending is the unconfirmed local work of an orchestrator. Saving it on
// shutdown and passing it back through Config.Resume lets a later process
// finish reconciling what an earlier one could not push.
type Pending struct {
	Dirty   bool     `json:"dirty"`
	Upserts []string `json:"upserts,omitempty"`
	Deletes []string `json:"deletes,omitempty"`
}

// Empty reports whether there is nothing to carry over.
func (p Pending) Empty() bool {
	return !p.Dirty && len(p.Upserts) == 0 && len(p.Deletes) == 0
}

// Pending returns the current unconfirmed local work.
func (o *Orchestrator) Pending() Pending {
	o.mu.Lock()
	defer o.mu.Unlock()

	p := Pending{Dirty: o.dirty}
	for id, deleted := range o.pending {
		if deleted {
			p.Deletes = append(p.Deletes, id)
		} else {
			p.Upserts = append(p.Upserts, id)
		}
	}
	sort.Strings(p.Upserts)
	sort.Strings(p.Deletes)
	return p
}

// resume seeds state from a previous run. Called from New only.
func (o *Orchestrator) resume(p Pending) {
	o.dirty = p.Dirty
	for _, id := range p.Upserts {
		o.pending[id] = false
		o.states[id] = StateDirty
	}
	for _, id := range p.Deletes {
		o.pending[id] = true
		o.states[id] = StateDirty
	}
	if len(o.pending) > 0 {
		o.dirty = true
	}
}

// LoadPending reads a journal written by SavePending. A missing file
// yields an empty Pending.
func LoadPending(path string) (Pending, error) {
	var p Pending
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return p, nil
	}
	if err != nil {
		return p, fmt.Errorf("failed to read pending journal: %w", err)
	}
	if err := json.Unmarshal(data, &p); err != nil {
		return p, fmt.Errorf("failed to parse pending journal %s: %w", path, err)
	}
	return p, nil
}

// SavePending writes p atomically. An empty p removes the journal.
func SavePending(path string, p Pending) error {
	if p.Empty() {
		if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("failed to remove pending journal: %w", err)
		}
		return nil
	}
	data, err := json.MarshalIndent(p, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode pending journal: %w", err)
	}
	return store.WriteFileAtomic(path, data, 0o644)
}
