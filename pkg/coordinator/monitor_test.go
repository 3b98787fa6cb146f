package coordinator

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/subvault/subvault/pkg/events"
	"github.com/subvault/subvault/pkg/work"
)

func TestMonitorRestartsStalledWorker(t *testing.T) {
	registry := NewRegistry()
	queue := work.NewQueue(10)

	stalled := NewWorkerState(1)
	registry.Add(stalled)
	stalled.StartItem(work.Item{PostID: "stuck"})

	var mu sync.Mutex
	var restarted []int
	restart := func(id int) {
		mu.Lock()
		restarted = append(restarted, id)
		mu.Unlock()
		// Mimic the coordinator: requeue the held item, reset the state.
		if item, ok := stalled.CurrentItem(); ok {
			queue.TryPut(item)
		}
		stalled.Reset()
	}

	m := NewMonitor(registry, queue, &Totals{}, func() bool { return false }, restart, events.Discard, MonitorConfig{
		PollInterval:     5 * time.Millisecond,
		HeartbeatTimeout: 10 * time.Millisecond,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	go m.Run(ctx)

	deadline := time.After(150 * time.Millisecond)
	for {
		mu.Lock()
		n := len(restarted)
		mu.Unlock()
		if n > 0 {
			break
		}
		select {
		case <-deadline:
			t.Fatal("stalled worker was never restarted")
		case <-time.After(2 * time.Millisecond):
		}
	}

	item, ok, err := queue.Get(context.Background(), 50*time.Millisecond)
	if err != nil || !ok {
		t.Fatalf("Get() = ok %v, err %v; want requeued item", ok, err)
	}
	if item.PostID != "stuck" {
		t.Errorf("requeued item = %q, want %q", item.PostID, "stuck")
	}
	if got := stalled.Status(); got != StatusIdle {
		t.Errorf("Status() after reset = %q, want %q", got, StatusIdle)
	}
	if _, held := stalled.CurrentItem(); held {
		t.Error("CurrentItem() still set after reset")
	}
}

func TestMonitorIgnoresHealthyWorker(t *testing.T) {
	registry := NewRegistry()
	healthy := NewWorkerState(1)
	registry.Add(healthy)
	healthy.StartItem(work.Item{PostID: "fine"})

	restarts := 0
	restart := func(int) { restarts++ }

	m := NewMonitor(registry, work.NewQueue(1), &Totals{}, func() bool { return false }, restart, nil, MonitorConfig{
		PollInterval:     5 * time.Millisecond,
		HeartbeatTimeout: time.Minute,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 40*time.Millisecond)
	defer cancel()
	if err := m.Run(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Run() error = %v, want deadline exceeded", err)
	}

	if restarts != 0 {
		t.Errorf("restarts = %d, want 0", restarts)
	}
}

func TestMonitorIgnoresIdleWorkerHeartbeat(t *testing.T) {
	// Idle workers block in queue waits without heartbeating; a stale
	// heartbeat alone must not trigger a restart.
	registry := NewRegistry()
	idle := NewWorkerState(1)
	registry.Add(idle)

	restarts := 0
	m := NewMonitor(registry, work.NewQueue(1), &Totals{}, func() bool { return false }, func(int) { restarts++ }, nil, MonitorConfig{
		PollInterval:     5 * time.Millisecond,
		HeartbeatTimeout: time.Nanosecond,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 40*time.Millisecond)
	defer cancel()
	m.Run(ctx)

	if restarts != 0 {
		t.Errorf("restarts = %d, want 0", restarts)
	}
}

func TestMonitorExitsWhenPipelineQuiescent(t *testing.T) {
	registry := NewRegistry()
	done := NewWorkerState(1)
	registry.Add(done)
	done.MarkCompleted()

	m := NewMonitor(registry, work.NewQueue(1), &Totals{}, func() bool { return true }, func(int) {}, nil, MonitorConfig{
		PollInterval:     5 * time.Millisecond,
		HeartbeatTimeout: time.Minute,
	})

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := m.Run(ctx); err != nil {
		t.Errorf("Run() error = %v, want nil quiescent exit", err)
	}
}

func TestMonitorPublishesStats(t *testing.T) {
	registry := NewRegistry()
	ws := NewWorkerState(1)
	registry.Add(ws)
	ws.StartItem(work.Item{PostID: "a"})
	ws.FinishItem()

	totals := &Totals{}
	totals.Collected.Store(5)
	totals.Processed.Store(3)

	queue := work.NewQueue(10)
	queue.TryPut(work.Item{PostID: "b"})

	var mu sync.Mutex
	var stats []events.StatsEvent
	var workerStats []events.WorkerStatsEvent
	sink := sinkFunc(func(e events.Event) {
		mu.Lock()
		defer mu.Unlock()
		switch ev := e.(type) {
		case events.StatsEvent:
			stats = append(stats, ev)
		case events.WorkerStatsEvent:
			workerStats = append(workerStats, ev)
		}
	})

	m := NewMonitor(registry, queue, totals, func() bool { return false }, func(int) {}, sink, MonitorConfig{
		PollInterval:     5 * time.Millisecond,
		HeartbeatTimeout: time.Minute,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 40*time.Millisecond)
	defer cancel()
	m.Run(ctx)

	mu.Lock()
	defer mu.Unlock()
	if len(stats) == 0 {
		t.Fatal("no stats events published")
	}
	last := stats[len(stats)-1]
	if last.Collected != 5 || last.Processed != 3 || last.QueueDepth != 1 {
		t.Errorf("stats = %+v, want collected 5, processed 3, depth 1", last)
	}
	if len(workerStats) == 0 {
		t.Fatal("no worker stats events published")
	}
	wstats := workerStats[len(workerStats)-1].Workers[1]
	if wstats.Status != string(StatusIdle) || wstats.Processed != 1 {
		t.Errorf("worker stats = %+v, want idle with 1 processed", wstats)
	}
}

// sinkFunc adapts a function to the events.Sink interface.
type sinkFunc func(events.Event)

func (f sinkFunc) Publish(e events.Event) { f(e) }
