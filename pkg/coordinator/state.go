package coordinator

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/subvault/subvault/pkg/work"
)

// Status is a worker's lifecycle state.
//
// Transitions:
//
//	Idle      -> Working    worker dequeued an item
//	Working   -> Idle       item succeeded, or failed and was requeued
//	Working   -> Idle       forced reset by the Monitor during a restart
//	any       -> Failed     unexpected error; retried after a pause, not terminal
//	Failed    -> Working    next item dequeued after the pause
//	Idle      -> Completed  collection finished and queue drained; terminal
type Status string

const (
	// StatusIdle means the worker is waiting for an item.
	StatusIdle Status = "idle"

	// StatusWorking means the worker owns an in-flight item.
	StatusWorking Status = "working"

	// StatusFailed means the worker hit an unexpected error and is pausing.
	StatusFailed Status = "failed"

	// StatusCompleted means the worker drained the queue after collection
	// finished. Terminal.
	StatusCompleted Status = "completed"
)

// WorkerState is the mutable per-worker record. The owning worker writes all
// fields; the Monitor additionally resets status and the current item during
// a forced restart, so mutation goes through the mutex. The heartbeat is an
// atomic: the owner writes it every loop iteration and the Monitor reads it
// concurrently, brief staleness is fine.
type WorkerState struct {
	id int

	mu        sync.Mutex
	status    Status
	current   *work.Item
	processed int64
	failed    int64

	lastHeartbeat atomic.Int64 // unix nanos
}

// NewWorkerState creates an Idle state with a fresh heartbeat.
func NewWorkerState(id int) *WorkerState {
	ws := &WorkerState{id: id, status: StatusIdle}
	ws.Heartbeat()
	return ws
}

// ID returns the worker id.
func (ws *WorkerState) ID() int {
	return ws.id
}

// Heartbeat records liveness at the current time.
func (ws *WorkerState) Heartbeat() {
	ws.lastHeartbeat.Store(time.Now().UnixNano())
}

// HeartbeatAge returns how long ago the worker last reported liveness.
func (ws *WorkerState) HeartbeatAge(now time.Time) time.Duration {
	return now.Sub(time.Unix(0, ws.lastHeartbeat.Load()))
}

// StartItem transitions to Working with the given item as current.
func (ws *WorkerState) StartItem(item work.Item) {
	ws.mu.Lock()
	defer ws.mu.Unlock()
	ws.status = StatusWorking
	ws.current = &item
}

// FinishItem records a success: Working -> Idle, current cleared.
func (ws *WorkerState) FinishItem() {
	ws.mu.Lock()
	defer ws.mu.Unlock()
	ws.processed++
	ws.status = StatusIdle
	ws.current = nil
}

// FailItem records an item failure: Working -> Idle, current cleared. The
// item itself is requeued (or dead-lettered) by the worker.
func (ws *WorkerState) FailItem() {
	ws.mu.Lock()
	defer ws.mu.Unlock()
	ws.failed++
	ws.status = StatusIdle
	ws.current = nil
}

// MarkFailed records an unexpected error. Not terminal: the worker pauses
// and keeps looping.
func (ws *WorkerState) MarkFailed() {
	ws.mu.Lock()
	defer ws.mu.Unlock()
	ws.status = StatusFailed
}

// MarkCompleted records the terminal drained state.
func (ws *WorkerState) MarkCompleted() {
	ws.mu.Lock()
	defer ws.mu.Unlock()
	ws.status = StatusCompleted
	ws.current = nil
}

// Reset is the Monitor's forced transition back to Idle with no current
// item, applied before a replacement worker task is spawned.
func (ws *WorkerState) Reset() {
	ws.mu.Lock()
	defer ws.mu.Unlock()
	ws.status = StatusIdle
	ws.current = nil
	ws.Heartbeat()
}

// Status returns the current status.
func (ws *WorkerState) Status() Status {
	ws.mu.Lock()
	defer ws.mu.Unlock()
	return ws.status
}

// CurrentItem returns a copy of the in-flight item, if any.
func (ws *WorkerState) CurrentItem() (work.Item, bool) {
	ws.mu.Lock()
	defer ws.mu.Unlock()
	if ws.current == nil {
		return work.Item{}, false
	}
	return *ws.current, true
}

// Processed returns the worker's success count.
func (ws *WorkerState) Processed() int64 {
	ws.mu.Lock()
	defer ws.mu.Unlock()
	return ws.processed
}

// WorkerSnapshot is a point-in-time copy of a WorkerState.
type WorkerSnapshot struct {
	ID        int        `json:"worker_id"`
	Status    Status     `json:"status"`
	Current   *work.Item `json:"current_item,omitempty"`
	Processed int64      `json:"items_processed"`
	Failed    int64      `json:"items_failed"`
}

// Snapshot returns a consistent copy of the state.
func (ws *WorkerState) Snapshot() WorkerSnapshot {
	ws.mu.Lock()
	defer ws.mu.Unlock()

	snap := WorkerSnapshot{
		ID:        ws.id,
		Status:    ws.status,
		Processed: ws.processed,
		Failed:    ws.failed,
	}
	if ws.current != nil {
		item := *ws.current
		snap.Current = &item
	}
	return snap
}

// Registry is the worker-state map owned by the Coordinator and shared, by
// reference, with the Monitor. No hidden globals.
type Registry struct {
	mu     sync.RWMutex
	states map[int]*WorkerState
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{states: make(map[int]*WorkerState)}
}

// Add registers a worker state, replacing any previous entry for the id.
func (r *Registry) Add(ws *WorkerState) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.states[ws.ID()] = ws
}

// Get returns the state for a worker id.
func (r *Registry) Get(id int) (*WorkerState, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ws, ok := r.states[id]
	return ws, ok
}

// States returns the registered worker states.
func (r *Registry) States() []*WorkerState {
	r.mu.RLock()
	defer r.mu.RUnlock()

	states := make([]*WorkerState, 0, len(r.states))
	for _, ws := range r.states {
		states = append(states, ws)
	}
	return states
}

// AnyWorking reports whether any worker currently owns an item.
func (r *Registry) AnyWorking() bool {
	for _, ws := range r.States() {
		if ws.Status() == StatusWorking {
			return true
		}
	}
	return false
}

// Snapshot returns a point-in-time copy of every worker state.
func (r *Registry) Snapshot() map[int]WorkerSnapshot {
	states := r.States()
	snaps := make(map[int]WorkerSnapshot, len(states))
	for _, ws := range states {
		snaps[ws.ID()] = ws.Snapshot()
	}
	return snaps
}

// Totals are the aggregate counters incremented concurrently by the
// collector and all workers.
type Totals struct {
	Collected    atomic.Int64
	Processed    atomic.Int64
	Failed       atomic.Int64
	DeadLettered atomic.Int64
}
