package coordinator

import (
	"testing"
	"time"

	"github.com/subvault/subvault/pkg/work"
)

func TestWorkerStateTransitions(t *testing.T) {
	ws := NewWorkerState(1)
	if got := ws.Status(); got != StatusIdle {
		t.Fatalf("initial Status() = %q, want %q", got, StatusIdle)
	}

	item := work.Item{PostID: "a"}
	ws.StartItem(item)
	if got := ws.Status(); got != StatusWorking {
		t.Errorf("Status() after StartItem = %q, want %q", got, StatusWorking)
	}
	current, ok := ws.CurrentItem()
	if !ok || current.PostID != "a" {
		t.Errorf("CurrentItem() = %+v, %v; want item a", current, ok)
	}

	ws.FinishItem()
	if got := ws.Status(); got != StatusIdle {
		t.Errorf("Status() after FinishItem = %q, want %q", got, StatusIdle)
	}
	if _, ok := ws.CurrentItem(); ok {
		t.Error("CurrentItem() set after FinishItem")
	}
	if got := ws.Processed(); got != 1 {
		t.Errorf("Processed() = %d, want 1", got)
	}

	ws.StartItem(item)
	ws.FailItem()
	snap := ws.Snapshot()
	if snap.Failed != 1 || snap.Status != StatusIdle || snap.Current != nil {
		t.Errorf("Snapshot() after FailItem = %+v", snap)
	}

	ws.MarkCompleted()
	if got := ws.Status(); got != StatusCompleted {
		t.Errorf("Status() after MarkCompleted = %q, want %q", got, StatusCompleted)
	}
}

func TestWorkerStateResetRefreshesHeartbeat(t *testing.T) {
	ws := NewWorkerState(1)
	ws.StartItem(work.Item{PostID: "a"})
	ws.lastHeartbeat.Store(time.Now().Add(-time.Hour).UnixNano())

	ws.Reset()
	if got := ws.Status(); got != StatusIdle {
		t.Errorf("Status() after Reset = %q, want %q", got, StatusIdle)
	}
	if _, ok := ws.CurrentItem(); ok {
		t.Error("CurrentItem() set after Reset")
	}
	if age := ws.HeartbeatAge(time.Now()); age > time.Minute {
		t.Errorf("HeartbeatAge() after Reset = %v, want fresh", age)
	}
}

func TestRegistryAnyWorking(t *testing.T) {
	r := NewRegistry()
	a := NewWorkerState(1)
	b := NewWorkerState(2)
	r.Add(a)
	r.Add(b)

	if r.AnyWorking() {
		t.Error("AnyWorking() = true with all idle")
	}

	b.StartItem(work.Item{PostID: "x"})
	if !r.AnyWorking() {
		t.Error("AnyWorking() = false with one working")
	}

	b.FinishItem()
	a.MarkCompleted()
	if r.AnyWorking() {
		t.Error("AnyWorking() = true after all finished")
	}
}

func TestRegistrySnapshot(t *testing.T) {
	r := NewRegistry()
	ws := NewWorkerState(3)
	r.Add(ws)
	ws.StartItem(work.Item{PostID: "x", BatchID: 1})

	snaps := r.Snapshot()
	snap, ok := snaps[3]
	if !ok {
		t.Fatal("Snapshot() missing worker 3")
	}
	if snap.Status != StatusWorking || snap.Current == nil || snap.Current.PostID != "x" {
		t.Errorf("Snapshot() = %+v, want working on x", snap)
	}

	// Snapshot copies must not alias the live item.
	snap.Current.PostID = "mutated"
	current, _ := ws.CurrentItem()
	if current.PostID != "x" {
		t.Errorf("live item = %q after snapshot mutation, want %q", current.PostID, "x")
	}
}
