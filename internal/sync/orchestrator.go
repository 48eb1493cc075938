package sync

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/Mschirtzinger/tasksync/internal/remote"
	"github.com/Mschirtzinger/tasksync/internal/revision"
	"github.com/Mschirtzinger/tasksync/internal/task"
)

// State is the lifecycle position of the latest mutation of one record.
type State int

const (
	// StateIdle means no mutation was made through this orchestrator.
	StateIdle State = iota
	// StatePendingRemote means the local copy is applied and the remote
	// call is queued or in flight.
	StatePendingRemote
	// StateConfirmed means the server accepted the latest mutation.
	StateConfirmed
	// StateDirty means the remote call failed and the record waits for
	// the next reconciliation sweep.
	StateDirty
)

func (s State) String() string {
	switch s {
	case StatePendingRemote:
		return "pending-remote"
	case StateConfirmed:
		return "confirmed"
	case StateDirty:
		return "dirty"
	default:
		return "idle"
	}
}

// ErrClosed is returned by operations started after Close.
var ErrClosed = errors.New("orchestrator closed")

// ErrNotFound is returned when a mutation names a record the local store
// does not hold.
var ErrNotFound = errors.New("not found")

// Config configures an Orchestrator.
type Config struct {
	// Actor is written to LastUpdatedBy on every local mutation.
	Actor string
	// ShowCompleted makes Visible include completed records.
	ShowCompleted bool
	// Observer receives change and sync events. Nil means NopObserver.
	Observer Observer
	// Logger defaults to stderr with a "[sync] " prefix.
	Logger *log.Logger
	// Resume restores unconfirmed work saved by an earlier process.
	Resume Pending
}

// DefaultConfig returns the configuration used by the CLI.
func DefaultConfig() Config {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "local"
	}
	return Config{
		Actor:         host,
		ShowCompleted: false,
		Logger:        log.New(os.Stderr, "[sync] ", log.LstdFlags),
	}
}

type opKind int

const (
	opCreate opKind = iota
	opUpdate
	opDelete
)

func (k opKind) String() string {
	switch k {
	case opCreate:
		return "create"
	case opUpdate:
		return "update"
	default:
		return "delete"
	}
}

// Orchestrator applies every mutation to the local store first, then
// pushes it to the remote in the background. Failed pushes mark the
// state dirty; the next successful remote call triggers a sweep that
// merges local pending work into the remote list and writes the result
// back with a single batch call.
//
// Mutations never block on the network. Remote calls for the same
// record are dispatched in the order the local mutations were applied.
type Orchestrator struct {
	local    Local
	remote   Remote
	tracker  revision.Tracker
	observer Observer
	logger   *log.Logger
	actor    string

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	sweeps singleflight.Group

	mu            sync.Mutex
	closed        bool
	dirty         bool
	failEpoch     uint64
	batchSeq      uint64 // bumped when a sweep batch starts and ends
	lastErr       error
	items         []task.Item
	showCompleted bool
	completed     int
	generation    map[string]uint64 // bumped by local mutations
	touched       map[string]uint64 // bumped by local mutations and adopted confirmations
	pending       map[string]bool // id -> deleted
	states        map[string]State
	tails         map[string]chan struct{}
	inflight      map[string]int // remote calls not yet settled
}

// New creates an Orchestrator and seeds the visible list from local.
func New(local Local, remote Remote, tracker revision.Tracker, cfg Config) *Orchestrator {
	if cfg.Logger == nil {
		cfg.Logger = log.New(os.Stderr, "[sync] ", log.LstdFlags)
	}
	if cfg.Observer == nil {
		cfg.Observer = NopObserver{}
	}
	if tracker == nil {
		tracker = revision.NewMemory(0)
	}

	ctx, cancel := context.WithCancel(context.Background())
	o := &Orchestrator{
		local:         local,
		remote:        remote,
		tracker:       tracker,
		observer:      cfg.Observer,
		logger:        cfg.Logger,
		actor:         cfg.Actor,
		ctx:           ctx,
		cancel:        cancel,
		showCompleted: cfg.ShowCompleted,
		generation:    make(map[string]uint64),
		touched:       make(map[string]uint64),
		pending:       make(map[string]bool),
		states:        make(map[string]State),
		tails:         make(map[string]chan struct{}),
		inflight:      make(map[string]int),
	}
	o.resume(cfg.Resume)
	o.items = local.List()
	o.completed = task.CountDone(o.items)
	return o
}

// Add stores a new record locally and schedules its creation remotely.
func (o *Orchestrator) Add(it task.Item) (task.Item, error) {
	it.Normalize()
	if err := it.Validate(); err != nil {
		return task.Item{}, fmt.Errorf("invalid item: %w", err)
	}
	return o.apply(opCreate, it.ID, func(task.Item, bool) (task.Item, error) {
		return it, nil
	})
}

// Edit stores changed fields locally and schedules the update remotely.
func (o *Orchestrator) Edit(it task.Item) (task.Item, error) {
	it.Normalize()
	if err := it.Validate(); err != nil {
		return task.Item{}, fmt.Errorf("invalid item: %w", err)
	}
	return o.apply(opUpdate, it.ID, func(_ task.Item, exists bool) (task.Item, error) {
		if !exists {
			return task.Item{}, fmt.Errorf("item %s %w", it.ID, ErrNotFound)
		}
		return it, nil
	})
}

// ToggleDone flips the completion flag of the record with the given id.
func (o *Orchestrator) ToggleDone(id string) (task.Item, error) {
	return o.apply(opUpdate, id, func(cur task.Item, exists bool) (task.Item, error) {
		if !exists {
			return task.Item{}, fmt.Errorf("item %s %w", id, ErrNotFound)
		}
		cur.Done = !cur.Done
		return cur, nil
	})
}

// Remove deletes the record locally and schedules the remote delete.
// It reports false when the id is unknown locally.
func (o *Orchestrator) Remove(id string) (task.Item, bool, error) {
	it, err := o.apply(opDelete, id, nil)
	if errors.Is(err, ErrNotFound) {
		return task.Item{}, false, nil
	}
	if err != nil {
		return task.Item{}, false, err
	}
	return it, true, nil
}

// apply performs the local half of a mutation and queues the remote half.
// build derives the new record from the stored one under o.mu; it is nil
// for deletes.
func (o *Orchestrator) apply(kind opKind, id string, build func(cur task.Item, exists bool) (task.Item, error)) (task.Item, error) {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return task.Item{}, ErrClosed
	}

	cur, exists := o.local.Get(id)
	var (
		it     task.Item
		action Action
	)
	switch kind {
	case opDelete:
		if !exists {
			o.mu.Unlock()
			return task.Item{}, fmt.Errorf("item %s %w", id, ErrNotFound)
		}
		it, _ = o.local.Delete(id)
		o.items = removeItem(o.items, id)
		o.pending[id] = true
		action = ActionDeleted
	default:
		var err error
		if it, err = build(cur, exists); err != nil {
			o.mu.Unlock()
			return task.Item{}, err
		}
		it.Touch(o.actor)
		it = o.local.Upsert(it)
		o.items = upsertItem(o.items, it)
		o.pending[it.ID] = false
		action = ActionUpdated
		if kind == opCreate {
			action = ActionCreated
		}
	}
	o.generation[it.ID]++
	o.touched[it.ID]++
	gen := o.generation[it.ID]
	o.states[it.ID] = StatePendingRemote
	o.completed = task.CountDone(o.items)

	prev := o.tails[it.ID]
	mine := make(chan struct{})
	o.tails[it.ID] = mine
	o.inflight[it.ID]++
	o.wg.Add(1)
	o.mu.Unlock()

	o.observer.ItemChanged(Change{Action: action, Item: it.Clone()})

	go o.dispatch(kind, it.Clone(), gen, prev, mine)
	return it, nil
}

// dispatch runs the remote half of a mutation once every earlier
// mutation of the same record has finished.
func (o *Orchestrator) dispatch(kind opKind, it task.Item, gen uint64, prev, mine chan struct{}) {
	defer o.wg.Done()
	defer o.release(it.ID, mine)

	if prev != nil {
		select {
		case <-prev:
		case <-o.ctx.Done():
			o.fail(kind.String(), it.ID, gen, o.ctx.Err())
			return
		}
	}

	o.mu.Lock()
	seq := o.batchSeq
	o.mu.Unlock()

	var (
		confirmed task.Item
		err       error
	)
	switch kind {
	case opCreate:
		confirmed, err = o.remote.Create(o.ctx, it)
	case opUpdate:
		confirmed, err = o.remote.Update(o.ctx, it)
	case opDelete:
		confirmed, err = o.remote.Delete(o.ctx, it)
		if errors.Is(err, remote.ErrNotFound) {
			// Already gone on the server.
			confirmed, err = it, nil
		}
	}
	if err != nil {
		o.fail(kind.String(), it.ID, gen, err)
		return
	}
	if confirmed.ID == "" {
		confirmed.ID = it.ID
	}

	o.mu.Lock()
	o.settledLocked(it.ID)
	wasDirty := o.dirty
	current := o.generation[it.ID] == gen
	if current && o.batchSeq != seq {
		// A sweep batch may have overwritten this write on the server.
		o.states[it.ID] = StateDirty
		o.dirty = true
		o.mu.Unlock()
		o.triggerSweep()
		return
	}
	renamed := false
	if current {
		delete(o.pending, it.ID)
		o.states[it.ID] = StateConfirmed
		o.touched[it.ID]++
		if kind != opDelete {
			if confirmed.ID != it.ID {
				o.local.Delete(it.ID)
				o.items = removeItem(o.items, it.ID)
				o.states[confirmed.ID] = StateConfirmed
				o.touched[confirmed.ID]++
				renamed = true
			}
			confirmed = o.local.Upsert(confirmed)
			o.items = upsertItem(o.items, confirmed)
			o.completed = task.CountDone(o.items)
		}
	}
	o.mu.Unlock()

	if renamed {
		o.logger.Printf("Server stored %s as %s", it.ID, confirmed.ID)
	}
	if current && kind != opDelete {
		o.observer.ItemChanged(Change{Action: ActionConfirmed, Item: confirmed.Clone()})
	}
	if wasDirty {
		o.triggerSweep()
	}
}

func (o *Orchestrator) settledLocked(id string) {
	o.inflight[id]--
	if o.inflight[id] <= 0 {
		delete(o.inflight, id)
	}
}

func (o *Orchestrator) release(id string, mine chan struct{}) {
	close(mine)
	o.mu.Lock()
	if o.tails[id] == mine {
		delete(o.tails, id)
	}
	o.mu.Unlock()
}

// fail records a remote failure. A non-empty id settles one call of that
// record and, with a current generation, moves it to StateDirty.
func (o *Orchestrator) fail(op, id string, gen uint64, err error) {
	o.mu.Lock()
	o.dirty = true
	o.failEpoch++
	o.lastErr = err
	if id != "" {
		o.settledLocked(id)
		if o.generation[id] == gen {
			o.states[id] = StateDirty
		}
	}
	o.mu.Unlock()

	o.logger.Printf("WARNING: %s %s failed, local state marked dirty: %v", op, id, err)
	o.observer.RemoteFailed(op, err)
}

// triggerSweep runs a sweep on behalf of a background unit of work.
func (o *Orchestrator) triggerSweep() {
	if err := o.Reconcile(o.ctx); err != nil && !errors.Is(err, ErrClosed) {
		o.logger.Printf("WARNING: reconciliation failed: %v", err)
	}
}

// Refresh loads the remote list, writes every returned record into the
// local store and replaces the visible list with it. Records with local
// mutations that the server has not confirmed keep their local version.
// A successful refresh while dirty triggers a sweep.
func (o *Orchestrator) Refresh(ctx context.Context) error {
	ctx, done, err := o.begin(ctx)
	if err != nil {
		return err
	}
	defer done()

	o.mu.Lock()
	before := o.touchedLocked()
	seq := o.batchSeq
	o.mu.Unlock()

	snap, err := o.remote.FetchAll(ctx)
	if err != nil {
		o.fail("refresh", "", 0, err)
		return fmt.Errorf("failed to refresh: %w", err)
	}

	o.mu.Lock()
	wasDirty := o.dirty
	var items []task.Item
	if o.batchSeq != seq {
		// A sweep wrote the list while the fetch was in flight, so the
		// snapshot may predate what the local store already holds.
		items = o.local.List()
	} else {
		carry := o.touchedSinceLocked(before)
		for id := range o.pending {
			carry[id] = true
		}
		items = make([]task.Item, 0, len(snap.Items))
		for _, it := range snap.Items {
			if carry[it.ID] {
				continue
			}
			items = append(items, o.local.Upsert(it))
		}
		items = o.carryLocalLocked(items, carry)
	}
	o.items = items
	o.completed = task.CountDone(o.items)
	stats := o.statsLocked()
	o.mu.Unlock()

	o.logger.Printf("Refreshed %d items at revision %d", len(snap.Items), snap.Revision)
	o.observer.SyncCompleted(SyncReport{Kind: SyncRefresh, Items: len(snap.Items), Stats: stats})

	if wasDirty {
		return o.Reconcile(ctx)
	}
	return nil
}

// Reconcile runs a reconciliation sweep. Concurrent calls share the
// sweep that is already running instead of starting another one.
func (o *Orchestrator) Reconcile(ctx context.Context) error {
	ctx, done, err := o.begin(ctx)
	if err != nil {
		return err
	}
	defer done()

	_, err, _ = o.sweeps.Do("sweep", func() (any, error) {
		return nil, o.sweep(ctx)
	})
	return err
}

// sweep fetches the remote list, merges pending local work into it,
// pushes the merged list and adopts the server result locally.
//
// Every record touched after the fetch started, by a mutation or by a
// confirmation, carries its local version into the merge. Records touched
// after the merge keep their local version in the result and, if already
// confirmed, go back to pending. Records with remote calls still
// unsettled stay pending; those calls settle them.
func (o *Orchestrator) sweep(ctx context.Context) error {
	o.mu.Lock()
	epoch := o.failEpoch
	before := o.touchedLocked()
	o.mu.Unlock()

	snap, err := o.remote.FetchAll(ctx)
	if err != nil {
		o.fail("sweep", "", 0, err)
		return fmt.Errorf("failed to fetch remote list: %w", err)
	}

	o.mu.Lock()
	o.batchSeq++
	carry := o.touchedSinceLocked(before)
	for id := range o.pending {
		carry[id] = true
	}
	merged := o.carryLocalLocked(cloneItems(snap.Items), carry)
	pushed := o.touchedLocked()
	o.mu.Unlock()

	result, err := o.remote.SyncBatch(ctx, merged)
	if err != nil {
		o.mu.Lock()
		o.batchSeq++
		o.mu.Unlock()
		o.fail("sweep", "", 0, err)
		return fmt.Errorf("failed to push merged list: %w", err)
	}
	o.tracker.Set(result.Revision)

	o.mu.Lock()
	o.batchSeq++
	changed := o.touchedSinceLocked(pushed)
	requeued := false
	for id := range changed {
		if _, ok := o.pending[id]; ok {
			continue
		}
		_, exists := o.local.Get(id)
		o.pending[id] = !exists
		o.states[id] = StateDirty
		requeued = true
	}
	final := o.carryLocalLocked(cloneItems(result.Items), changed)
	o.local.Replace(final)
	o.items = o.local.List()
	o.completed = task.CountDone(o.items)
	for id := range o.pending {
		if changed[id] || o.inflight[id] > 0 {
			continue
		}
		delete(o.pending, id)
		o.states[id] = StateConfirmed
	}
	if o.failEpoch == epoch && !requeued {
		o.dirty = false
	}
	if requeued {
		o.dirty = true
	}
	stats := o.statsLocked()
	o.mu.Unlock()

	o.logger.Printf("Reconciled %d items at revision %d", len(final), result.Revision)
	o.observer.SyncCompleted(SyncReport{Kind: SyncSweep, Items: len(final), Stats: stats})
	return nil
}

// touchedLocked copies the per-record touch counters. Callers hold o.mu.
func (o *Orchestrator) touchedLocked() map[string]uint64 {
	out := make(map[string]uint64, len(o.touched))
	for id, n := range o.touched {
		out[id] = n
	}
	return out
}

// touchedSinceLocked returns the records mutated or confirmed after
// before was taken. Callers hold o.mu.
func (o *Orchestrator) touchedSinceLocked(before map[string]uint64) map[string]bool {
	out := make(map[string]bool)
	for id, n := range o.touched {
		if before[id] != n {
			out[id] = true
		}
	}
	return out
}

// carryLocalLocked makes items agree with the local store for every id in
// ids: stored records replace or append, missing ones are removed.
// Callers hold o.mu.
func (o *Orchestrator) carryLocalLocked(items []task.Item, ids map[string]bool) []task.Item {
	for id := range ids {
		if it, ok := o.local.Get(id); ok {
			items = upsertItem(items, it)
		} else {
			items = removeItem(items, id)
		}
	}
	return items
}

// begin registers a caller-driven unit of work bound to both ctx and the
// orchestrator lifetime.
func (o *Orchestrator) begin(ctx context.Context) (context.Context, func(), error) {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return nil, nil, ErrClosed
	}
	o.wg.Add(1)
	o.mu.Unlock()

	ctx, cancel := context.WithCancel(ctx)
	stop := context.AfterFunc(o.ctx, cancel)
	return ctx, func() {
		stop()
		cancel()
		o.wg.Done()
	}, nil
}

// Visible returns the list shown to the user, honoring ShowCompleted.
func (o *Orchestrator) Visible() []task.Item {
	o.mu.Lock()
	defer o.mu.Unlock()

	out := make([]task.Item, 0, len(o.items))
	for _, it := range o.items {
		if it.Done && !o.showCompleted {
			continue
		}
		out = append(out, it.Clone())
	}
	return out
}

// Get returns the locally stored record with id.
func (o *Orchestrator) Get(id string) (task.Item, bool) {
	return o.local.Get(id)
}

// Items returns every record of the in-memory list.
func (o *Orchestrator) Items() []task.Item {
	o.mu.Lock()
	defer o.mu.Unlock()
	return cloneItems(o.items)
}

// SetShowCompleted toggles whether Visible includes completed records.
func (o *Orchestrator) SetShowCompleted(show bool) {
	o.mu.Lock()
	o.showCompleted = show
	o.mu.Unlock()
}

// CompletedCount returns the number of completed records.
func (o *Orchestrator) CompletedCount() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.completed
}

// Dirty reports whether local state may have diverged from the server.
func (o *Orchestrator) Dirty() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.dirty
}

// State returns the lifecycle state of the latest mutation of id.
func (o *Orchestrator) State(id string) State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.states[id]
}

// LastError returns the most recent remote failure, or nil.
func (o *Orchestrator) LastError() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.lastErr
}

// Stats returns the derived counts of the in-memory list.
func (o *Orchestrator) Stats() Stats {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.statsLocked()
}

func (o *Orchestrator) statsLocked() Stats {
	visible := len(o.items)
	if !o.showCompleted {
		visible -= o.completed
	}
	return Stats{
		Total:     len(o.items),
		Completed: o.completed,
		Visible:   visible,
		Pending:   len(o.pending),
		Dirty:     o.dirty,
		Revision:  o.tracker.Get(),
	}
}

// Wait blocks until every queued remote call and sweep has finished.
func (o *Orchestrator) Wait() {
	o.wg.Wait()
}

// Close abandons in-flight remote work and waits for it to unwind.
// Abandoned calls count as failures, so Dirty reports true afterwards
// when anything was still pending.
func (o *Orchestrator) Close() error {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return nil
	}
	o.closed = true
	o.mu.Unlock()

	o.cancel()
	o.wg.Wait()
	return nil
}

func upsertItem(items []task.Item, it task.Item) []task.Item {
	for i := range items {
		if items[i].ID == it.ID {
			items[i] = it.Clone()
			return items
		}
	}
	return append(items, it.Clone())
}

func removeItem(items []task.Item, id string) []task.Item {
	for i := range items {
		if items[i].ID == id {
			return append(items[:i], items[i+1:]...)
		}
	}
	return items
}

func cloneItems(items []task.Item) []task.Item {
	out := make([]task.Item, len(items))
	for i, it := range items {
		out[i] = it.Clone()
	}
	return out
}
