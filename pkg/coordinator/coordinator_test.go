package coordinator

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/subvault/subvault/pkg/store"
	"github.com/subvault/subvault/pkg/work"
)

func testConfig() Config {
	return Config{
		JobID:         "e2e-job",
		Subreddit:     "test",
		Workers:       3,
		QueueCapacity: 8,
		StopBefore:    time.Unix(1000, 0),
		Collector: CollectorConfig{
			StopBefore:        time.Unix(1000, 0),
			PageDelay:         time.Millisecond,
			FetchFailureDelay: time.Millisecond,
		},
		Worker: WorkerConfig{
			GetTimeout:      20 * time.Millisecond,
			ItemDelay:       time.Millisecond,
			FailureDelay:    time.Millisecond,
			ErrorPause:      time.Millisecond,
			FlushEvery:      2,
			MaxItemAttempts: 5,
		},
		Monitor: MonitorConfig{
			PollInterval:     10 * time.Millisecond,
			HeartbeatTimeout: time.Minute,
		},
		ShutdownGrace: time.Second,
	}
}

func pagesOf(idsPerPage ...[]string) []fakeStep {
	steps := make([]fakeStep, 0, len(idsPerPage))
	for i, ids := range idsPerPage {
		next := ""
		if i < len(idsPerPage)-1 {
			next = "p" + ids[0]
		}
		steps = append(steps, fakeStep{page: &Page{Records: recordsAt(2000, ids...), Next: next}})
	}
	return steps
}

func loadAllOutputs(t *testing.T, st store.Store, jobID string) []Output {
	t.Helper()
	workers, err := st.ListWorkers(context.Background(), jobID)
	if err != nil {
		t.Fatalf("ListWorkers() error = %v", err)
	}
	outs := make([]Output, 0, len(workers))
	for _, id := range workers {
		payload, err := st.LoadResults(context.Background(), jobID, id)
		if err != nil {
			t.Fatalf("LoadResults(%d) error = %v", id, err)
		}
		var out Output
		if err := json.Unmarshal(payload, &out); err != nil {
			t.Fatalf("Unmarshal output %d: %v", id, err)
		}
		outs = append(outs, out)
	}
	return outs
}

func TestCoordinatorEndToEnd(t *testing.T) {
	source := &fakeSource{steps: pagesOf(
		[]string{"a", "b", "c"},
		[]string{"d", "e"},
		[]string{"f", "g", "h"},
	)}

	// Every item fails exactly once before succeeding, exercising the
	// requeue path under concurrency.
	proc := newFakeProcessor(func(_ context.Context, item work.Item) (json.RawMessage, error) {
		if item.Attempts == 0 {
			return nil, errors.New("transient detail failure")
		}
		return okResult(item)
	})

	st := store.NewMemoryStore()
	c, err := New(testConfig(), source, proc, st, nil)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := c.Run(ctx); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	status := c.Status()
	if status.Collected != 8 {
		t.Errorf("Collected = %d, want 8", status.Collected)
	}
	if status.Processed != 8 {
		t.Errorf("Processed = %d, want 8", status.Processed)
	}
	if status.Failed != 8 {
		t.Errorf("Failed = %d, want 8", status.Failed)
	}
	if status.DeadLettered != 0 {
		t.Errorf("DeadLettered = %d, want 0", status.DeadLettered)
	}
	for id, snap := range status.Workers {
		if snap.Status != StatusCompleted {
			t.Errorf("worker %d status = %q, want %q", id, snap.Status, StatusCompleted)
		}
	}

	total := 0
	seen := make(map[string]bool)
	for _, out := range loadAllOutputs(t, st, "e2e-job") {
		total += len(out.Posts)
		for _, raw := range out.Posts {
			var post struct {
				ID string `json:"id"`
			}
			if err := json.Unmarshal(raw, &post); err != nil {
				t.Fatalf("Unmarshal post: %v", err)
			}
			seen[post.ID] = true
		}
	}
	if total != 8 || len(seen) != 8 {
		t.Errorf("stored posts = %d (%d unique), want 8 unique", total, len(seen))
	}
}

func TestCoordinatorDeadLettersPoisonItem(t *testing.T) {
	source := &fakeSource{steps: pagesOf([]string{"good", "poison"})}

	proc := newFakeProcessor(func(_ context.Context, item work.Item) (json.RawMessage, error) {
		if item.PostID == "poison" {
			return nil, errors.New("permanent failure")
		}
		return okResult(item)
	})

	cfg := testConfig()
	cfg.JobID = "dl-job"
	cfg.Workers = 2
	cfg.Worker.MaxItemAttempts = 2

	st := store.NewMemoryStore()
	c, err := New(cfg, source, proc, st, nil)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := c.Run(ctx); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	status := c.Status()
	if status.Processed != 1 {
		t.Errorf("Processed = %d, want 1", status.Processed)
	}
	if status.DeadLettered != 1 {
		t.Errorf("DeadLettered = %d, want 1", status.DeadLettered)
	}
	if got := proc.callCount("poison"); got != 2 {
		t.Errorf("poison processed %d times, want 2", got)
	}

	var deadLetters []work.Item
	for _, out := range loadAllOutputs(t, st, "dl-job") {
		deadLetters = append(deadLetters, out.DeadLetters...)
	}
	if len(deadLetters) != 1 || deadLetters[0].PostID != "poison" {
		t.Errorf("dead letters = %+v, want one entry for poison", deadLetters)
	}
}

func TestCoordinatorRestartsHungWorker(t *testing.T) {
	source := &fakeSource{steps: pagesOf([]string{"hang", "b", "c"})}

	// The first attempt at "hang" blocks until cancelled; the replacement
	// worker must still finish the run.
	var once sync.Once
	proc := newFakeProcessor(func(ctx context.Context, item work.Item) (json.RawMessage, error) {
		hung := false
		if item.PostID == "hang" {
			once.Do(func() { hung = true })
		}
		if hung {
			<-ctx.Done()
			return nil, ctx.Err()
		}
		return okResult(item)
	})

	cfg := testConfig()
	cfg.JobID = "hang-job"
	cfg.Workers = 2
	cfg.Monitor.PollInterval = 10 * time.Millisecond
	cfg.Monitor.HeartbeatTimeout = 50 * time.Millisecond

	st := store.NewMemoryStore()
	c, err := New(cfg, source, proc, st, nil)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := c.Run(ctx); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	status := c.Status()
	if status.Processed != 3 {
		t.Errorf("Processed = %d, want 3", status.Processed)
	}
	if got := proc.callCount("hang"); got < 2 {
		t.Errorf("hang processed %d times, want at least 2", got)
	}
}

func TestCoordinatorStop(t *testing.T) {
	// Endless source: pages forever until stopped.
	source := endlessSource{}
	proc := newFakeProcessor(func(ctx context.Context, item work.Item) (json.RawMessage, error) {
		return okResult(item)
	})

	cfg := testConfig()
	cfg.JobID = "stop-job"
	c, err := New(cfg, source, proc, store.NewMemoryStore(), nil)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	done := make(chan error, 1)
	go func() { done <- c.Run(context.Background()) }()

	time.Sleep(50 * time.Millisecond)
	c.Stop()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) && err != nil {
			t.Errorf("Run() after Stop = %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after Stop")
	}

	if c.Status().Running {
		t.Error("Status().Running = true after Stop")
	}
}

func TestCoordinatorRejectsBadConfig(t *testing.T) {
	st := store.NewMemoryStore()
	src := endlessSource{}
	proc := newFakeProcessor(okProcess)

	tests := []struct {
		name   string
		source PageSource
		proc   Processor
		store  store.Store
		cfg    Config
	}{
		{"nil source", nil, proc, st, Config{Subreddit: "x"}},
		{"nil processor", src, nil, st, Config{Subreddit: "x"}},
		{"nil store", src, proc, nil, Config{Subreddit: "x"}},
		{"empty subreddit", src, proc, st, Config{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := New(tt.cfg, tt.source, tt.proc, tt.store, nil); err == nil {
				t.Error("New() error = nil, want error")
			}
		})
	}
}

func okProcess(_ context.Context, item work.Item) (json.RawMessage, error) {
	return okResult(item)
}

// endlessSource returns a fresh page for every cursor.
type endlessSource struct{}

func (endlessSource) FetchPage(ctx context.Context, cursor string) (*Page, error) {
	return &Page{
		Records: recordsAt(2000, "x"+cursor),
		Next:    cursor + "x",
	}, nil
}
