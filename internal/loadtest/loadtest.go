// Package loadtest drives concurrent writers against an orchestrator backed
// by an in-process list service and measures how fast local mutations are
// applied and how long the remote side takes to settle.
//
// Every run ends with a consistency check: once all queued remote calls
// have finished (and a final sweep has run if the list was dirty), the
// local store and the service must hold the same items.
package loadtest

import (
	"context"
	"fmt"
	"io"
	"log"
	"math/rand"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/Mschirtzinger/tasksync/internal/remote"
	"github.com/Mschirtzinger/tasksync/internal/remote/remotetest"
	"github.com/Mschirtzinger/tasksync/internal/revision"
	"github.com/Mschirtzinger/tasksync/internal/store"
	tasksync "github.com/Mschirtzinger/tasksync/internal/sync"
	"github.com/Mschirtzinger/tasksync/internal/task"
)

const token = "loadtest"

// Config describes one load run.
type Config struct {
	Writers      int    // concurrent writers
	OpsPerWriter int    // mutations per writer
	Backend      string // "memory", "file" or "sqlite"
	Dir          string // where file and sqlite backends keep their data
	Faults       int    // leading requests answered with HTTP 500
	Strict       bool   // enforce the revision check on writes
	Seed         int64
	Logger       *log.Logger
}

// DefaultConfig returns a small in-memory run.
func DefaultConfig() Config {
	return Config{
		Writers:      10,
		OpsPerWriter: 20,
		Backend:      "memory",
		Seed:         42,
	}
}

// LatencyStats summarizes a set of durations.
type LatencyStats struct {
	Min        time.Duration
	Max        time.Duration
	Mean       time.Duration
	P50        time.Duration
	P95        time.Duration
	P99        time.Duration
	Operations int
	Errors     int
}

// Result is the outcome of a run.
type Result struct {
	Local       *LatencyStats // time spent in the mutation call itself
	Settle      time.Duration // from the last mutation until remote work drained
	Total       time.Duration
	Swept       bool // a final sweep was needed
	LocalItems  int
	ServerItems int
	Consistent  bool
	Mismatch    string // first difference found, if any
}

// Harness owns the service, the store and the orchestrator of a run.
type Harness struct {
	config  Config
	Server  *remotetest.Server
	Store   *store.Store
	Orch    *tasksync.Orchestrator
	backend store.Backend
}

// NewHarness starts an in-process service and an orchestrator over the
// requested backend.
func NewHarness(ctx context.Context, cfg Config) (*Harness, error) {
	if cfg.Writers <= 0 || cfg.OpsPerWriter <= 0 {
		return nil, fmt.Errorf("writers and ops per writer must be positive")
	}
	if cfg.Logger == nil {
		cfg.Logger = log.New(io.Discard, "", 0)
	}

	var backend store.Backend
	switch cfg.Backend {
	case "memory", "":
	case store.KindFile, store.KindSQLite:
		if cfg.Dir == "" {
			return nil, fmt.Errorf("%s backend needs a directory", cfg.Backend)
		}
		name := "items.json"
		if cfg.Backend == store.KindSQLite {
			name = "items.db"
		}
		var err error
		backend, err = store.OpenBackend(cfg.Backend, filepath.Join(cfg.Dir, name))
		if err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("unknown backend %q (want memory, file or sqlite)", cfg.Backend)
	}

	local, err := store.Open(ctx, backend, cfg.Logger)
	if err != nil {
		if backend != nil {
			_ = backend.Close()
		}
		return nil, err
	}
	local.Replace(nil)

	srv := remotetest.NewServer(token)
	srv.SetLenientRevision(!cfg.Strict)
	if cfg.Faults > 0 {
		statuses := make([]int, cfg.Faults)
		for i := range statuses {
			statuses[i] = 500
		}
		srv.FailNext(statuses...)
	}

	tracker := revision.NewMemory(0)
	client, err := remote.New(remote.Config{
		BaseURL: srv.URL,
		Token:   token,
		Timeout: 10 * time.Second,
		Retry: &remote.RetryPolicy{
			MinDelay:   time.Millisecond,
			MaxDelay:   10 * time.Millisecond,
			Factor:     1.5,
			Jitter:     0.05,
			MaxRetries: 2,
		},
		Logger: cfg.Logger,
	}, tracker)
	if err != nil {
		srv.Close()
		if backend != nil {
			_ = backend.Close()
		}
		return nil, err
	}

	orch := tasksync.New(local, client, tracker, tasksync.Config{
		Actor:         "loadtest",
		ShowCompleted: true,
		Logger:        cfg.Logger,
	})

	return &Harness{
		config:  cfg,
		Server:  srv,
		Store:   local,
		Orch:    orch,
		backend: backend,
	}, nil
}

// Close stops the orchestrator and the service and releases the backend.
func (h *Harness) Close() error {
	_ = h.Orch.Close()
	h.Server.Close()
	if h.backend != nil {
		return h.backend.Close()
	}
	return nil
}

// Run performs the configured mutations concurrently, waits for the remote
// side to settle and checks that both sides agree.
func (h *Harness) Run(ctx context.Context) (*Result, error) {
	start := time.Now()

	var wg sync.WaitGroup
	results := make(chan writerResult, h.config.Writers)
	for i := 0; i < h.config.Writers; i++ {
		wg.Add(1)
		go func(writer int) {
			defer wg.Done()
			results <- h.runWriter(ctx, writer)
		}(i)
	}
	wg.Wait()
	close(results)

	var durations []time.Duration
	errCount := 0
	for r := range results {
		durations = append(durations, r.durations...)
		errCount += r.errors
	}
	if len(durations) == 0 {
		return nil, fmt.Errorf("no mutations completed")
	}

	settleStart := time.Now()
	h.Orch.Wait()
	res := &Result{Local: computeLatencyStats(durations)}
	res.Local.Errors = errCount

	if h.Orch.Dirty() {
		res.Swept = true
		if err := h.Orch.Reconcile(ctx); err != nil {
			return nil, fmt.Errorf("final sweep failed: %w", err)
		}
	}
	res.Settle = time.Since(settleStart)
	res.Total = time.Since(start)

	localItems := h.Store.List()
	serverItems := h.Server.Items()
	res.LocalItems = len(localItems)
	res.ServerItems = len(serverItems)
	res.Mismatch = compareItems(localItems, serverItems)
	res.Consistent = res.Mismatch == ""
	return res, nil
}

type writerResult struct {
	durations []time.Duration
	errors    int
}

// runWriter mixes adds, edits, toggles and removals over the items the
// writer itself created, so writers never race on the same id.
func (h *Harness) runWriter(ctx context.Context, writer int) writerResult {
	rng := rand.New(rand.NewSource(h.config.Seed + int64(writer)))
	var own []string
	res := writerResult{durations: make([]time.Duration, 0, h.config.OpsPerWriter)}

	for op := 0; op < h.config.OpsPerWriter; op++ {
		if ctx.Err() != nil {
			break
		}
		roll := rng.Intn(10)
		if len(own) == 0 {
			roll = 0
		}

		start := time.Now()
		var err error
		switch {
		case roll < 4:
			var it task.Item
			it, err = h.Orch.Add(task.New(fmt.Sprintf("writer %d item %d", writer, op), task.Importance(rng.Intn(3)), nil))
			if err == nil {
				own = append(own, it.ID)
			}
		case roll < 7:
			id := own[rng.Intn(len(own))]
			it, ok := h.Orch.Get(id)
			if !ok {
				err = fmt.Errorf("item %s vanished", id)
				break
			}
			it.Text = fmt.Sprintf("writer %d item edited at %d", writer, op)
			_, err = h.Orch.Edit(it)
		case roll < 9:
			_, err = h.Orch.ToggleDone(own[rng.Intn(len(own))])
		default:
			i := rng.Intn(len(own))
			_, _, err = h.Orch.Remove(own[i])
			own = append(own[:i], own[i+1:]...)
		}
		res.durations = append(res.durations, time.Since(start))
		if err != nil {
			res.errors++
			h.config.Logger.Printf("Warning: writer %d op %d: %v", writer, op, err)
		}
	}
	return res
}

// compareItems returns a description of the first difference between the
// two lists, ignoring order, or "" when they agree.
func compareItems(local, server []task.Item) string {
	byID := make(map[string]task.Item, len(server))
	for _, it := range server {
		byID[it.ID] = it
	}
	if len(local) != len(server) {
		return fmt.Sprintf("local has %d items, server has %d", len(local), len(server))
	}
	for _, l := range local {
		s, ok := byID[l.ID]
		switch {
		case !ok:
			return fmt.Sprintf("item %s missing on server", l.ID)
		case l.Text != s.Text:
			return fmt.Sprintf("item %s text differs: %q vs %q", l.ID, l.Text, s.Text)
		case l.Done != s.Done:
			return fmt.Sprintf("item %s done differs: %v vs %v", l.ID, l.Done, s.Done)
		}
	}
	return ""
}

// computeLatencyStats calculates statistics from a slice of durations.
func computeLatencyStats(durations []time.Duration) *LatencyStats {
	if len(durations) == 0 {
		return &LatencyStats{}
	}

	sorted := make([]time.Duration, len(durations))
	copy(sorted, durations)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i] < sorted[j]
	})

	var sum time.Duration
	for _, d := range durations {
		sum += d
	}

	return &LatencyStats{
		Min:        sorted[0],
		Max:        sorted[len(sorted)-1],
		Mean:       sum / time.Duration(len(durations)),
		P50:        sorted[len(sorted)*50/100],
		P95:        sorted[len(sorted)*95/100],
		P99:        sorted[len(sorted)*99/100],
		Operations: len(durations),
	}
}

// PrintStats writes the statistics in a fixed layout.
func (s *LatencyStats) PrintStats(w io.Writer) {
	fmt.Fprintf(w, "Latency Statistics:\n")
	fmt.Fprintf(w, "  Operations:    %d\n", s.Operations)
	fmt.Fprintf(w, "  Errors:        %d\n", s.Errors)
	fmt.Fprintf(w, "  Min:           %v\n", s.Min)
	fmt.Fprintf(w, "  P50 (Median):  %v\n", s.P50)
	fmt.Fprintf(w, "  Mean:          %v\n", s.Mean)
	fmt.Fprintf(w, "  P95:           %v\n", s.P95)
	fmt.Fprintf(w, "  P99:           %v\n", s.P99)
	fmt.Fprintf(w, "  Max:           %v\n", s.Max)
}
