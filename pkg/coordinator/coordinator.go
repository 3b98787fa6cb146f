package coordinator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/subvault/subvault/pkg/events"
	"github.com/subvault/subvault/pkg/logging"
	"github.com/subvault/subvault/pkg/store"
	"github.com/subvault/subvault/pkg/work"
)

// Config carries every tunable of one pipeline run.
type Config struct {
	// JobID addresses this run's checkpoints and results in the store.
	// Defaults to a fresh UUID.
	JobID string

	// Subreddit is the archive target, recorded in all output documents.
	Subreddit string

	// Workers is the consumer pool size.
	Workers int

	// QueueCapacity bounds the work queue; the collector blocks when full.
	QueueCapacity int

	// StopBefore ends collection at the first record older than this time.
	StopBefore time.Time

	Collector CollectorConfig
	Worker    WorkerConfig
	Monitor   MonitorConfig

	// ShutdownGrace bounds how long Stop waits for cooperative exit before
	// reporting that workers are still unwinding.
	ShutdownGrace time.Duration
}

// DefaultConfig returns a run configuration with production pacing.
func DefaultConfig(subreddit string, stopBefore time.Time) Config {
	return Config{
		JobID:         uuid.NewString(),
		Subreddit:     subreddit,
		Workers:       4,
		QueueCapacity: 2000,
		StopBefore:    stopBefore,
		Collector: CollectorConfig{
			StopBefore:        stopBefore,
			PageDelay:         500 * time.Millisecond,
			FetchFailureDelay: 5 * time.Second,
		},
		Worker: WorkerConfig{
			Subreddit:       subreddit,
			GetTimeout:      5 * time.Second,
			ItemDelay:       time.Second,
			FailureDelay:    2 * time.Second,
			ErrorPause:      5 * time.Second,
			FlushEvery:      5,
			MaxItemAttempts: 10,
		},
		Monitor: MonitorConfig{
			PollInterval:     2 * time.Second,
			HeartbeatTimeout: 30 * time.Second,
		},
		ShutdownGrace: 15 * time.Second,
	}
}

// workerHandle tracks one spawned worker task so it can be cancelled
// individually during a forced restart.
type workerHandle struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// Coordinator owns the pipeline: the bounded queue, the worker registry, the
// collector, the monitor, and the run lifecycle including forced worker
// restarts.
type Coordinator struct {
	cfg    Config
	source PageSource
	proc   Processor
	st     store.Store
	sink   events.Sink
	logger zerolog.Logger

	queue     *work.Queue
	registry  *Registry
	totals    *Totals
	collector *Collector

	mu        sync.Mutex
	running   bool
	runCtx    context.Context
	cancelRun context.CancelFunc
	handles   map[int]*workerHandle
	wg        sync.WaitGroup
}

// New validates the configuration and builds a coordinator.
func New(cfg Config, source PageSource, proc Processor, st store.Store, sink events.Sink) (*Coordinator, error) {
	if source == nil {
		return nil, errors.New("coordinator: page source is required")
	}
	if proc == nil {
		return nil, errors.New("coordinator: processor is required")
	}
	if st == nil {
		return nil, errors.New("coordinator: store is required")
	}
	if cfg.Subreddit == "" {
		return nil, errors.New("coordinator: subreddit is required")
	}
	if cfg.JobID == "" {
		cfg.JobID = uuid.NewString()
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	if cfg.QueueCapacity <= 0 {
		cfg.QueueCapacity = 2000
	}
	if cfg.ShutdownGrace <= 0 {
		cfg.ShutdownGrace = 15 * time.Second
	}
	if cfg.Collector.StopBefore.IsZero() {
		cfg.Collector.StopBefore = cfg.StopBefore
	}
	cfg.Worker.JobID = cfg.JobID
	if cfg.Worker.Subreddit == "" {
		cfg.Worker.Subreddit = cfg.Subreddit
	}
	if sink == nil {
		sink = events.Discard
	}

	totals := &Totals{}
	queue := work.NewQueue(cfg.QueueCapacity)

	return &Coordinator{
		cfg:       cfg,
		source:    source,
		proc:      proc,
		st:        st,
		sink:      sink,
		logger:    logging.NewLogger("coordinator"),
		queue:     queue,
		registry:  NewRegistry(),
		totals:    totals,
		collector: NewCollector(source, queue, totals, sink, cfg.Collector),
		handles:   make(map[int]*workerHandle),
	}, nil
}

// JobID returns the run's job id.
func (c *Coordinator) JobID() string {
	return c.cfg.JobID
}

// Run executes the pipeline to completion: collector, worker pool, and
// monitor all run concurrently; Run returns once the workers have drained the
// queue (or the context ended) and the monitor has stopped. A collector
// failure does not abort the run, workers still drain what was queued.
func (c *Coordinator) Run(ctx context.Context) error {
	c.mu.Lock()
	if c.running {
		c.mu.Unlock()
		return errors.New("coordinator: already running")
	}
	c.running = true
	c.runCtx, c.cancelRun = context.WithCancel(ctx)
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		c.cancelRun()
		c.running = false
		c.mu.Unlock()
	}()

	c.logger.Info().
		Str("job_id", c.cfg.JobID).
		Str("subreddit", c.cfg.Subreddit).
		Int("workers", c.cfg.Workers).
		Int("queue_capacity", c.cfg.QueueCapacity).
		Time("stop_before", c.cfg.StopBefore).
		Msg("Run starting")
	c.sink.Publish(events.LogEvent{
		Level:   events.LevelInfo,
		Message: fmt.Sprintf("Run %s starting with %d workers", c.cfg.JobID, c.cfg.Workers),
	})

	collectorErr := make(chan error, 1)
	go func() {
		collectorErr <- c.collector.Run(c.runCtx)
	}()

	for id := 1; id <= c.cfg.Workers; id++ {
		state := NewWorkerState(id)
		c.registry.Add(state)
		c.spawnWorker(id, state)
	}

	monitor := NewMonitor(c.registry, c.queue, c.totals, c.collector.Finished, c.restartWorker, c.sink, c.cfg.Monitor)
	monitorDone := make(chan error, 1)
	monCtx, cancelMon := context.WithCancel(c.runCtx)
	go func() {
		monitorDone <- monitor.Run(monCtx)
	}()

	cErr := <-collectorErr
	if cErr != nil && !errors.Is(cErr, context.Canceled) {
		c.logger.Error().Err(cErr).Msg("Collector failed, draining queued items")
	}

	c.wg.Wait()
	cancelMon()
	<-monitorDone

	c.logger.Info().
		Int64("collected", c.totals.Collected.Load()).
		Int64("processed", c.totals.Processed.Load()).
		Int64("failed", c.totals.Failed.Load()).
		Int64("dead_lettered", c.totals.DeadLettered.Load()).
		Msg("Run finished")
	c.sink.Publish(events.LogEvent{
		Level: events.LevelSuccess,
		Message: fmt.Sprintf("Run %s finished: %d processed, %d dead-lettered",
			c.cfg.JobID, c.totals.Processed.Load(), c.totals.DeadLettered.Load()),
	})

	if err := ctx.Err(); err != nil {
		return err
	}
	if cErr != nil && !errors.Is(cErr, context.Canceled) {
		return cErr
	}
	return nil
}

// spawnWorker starts a worker task under its own cancelable context so the
// monitor can force-restart it individually.
func (c *Coordinator) spawnWorker(id int, state *WorkerState) {
	wctx, cancel := context.WithCancel(c.runCtx)
	handle := &workerHandle{cancel: cancel, done: make(chan struct{})}

	c.mu.Lock()
	c.handles[id] = handle
	c.mu.Unlock()

	w := NewWorker(id, state, c.queue, c.proc, c.st, c.collector.Finished, c.totals, c.sink, c.cfg.Worker)

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		defer close(handle.done)
		if err := w.Run(wctx); err != nil && !errors.Is(err, context.Canceled) {
			c.logger.Error().Err(err).Int("worker_id", id).Msg("Worker exited with error")
		}
	}()
}

// restartWorker is the monitor's callback for a stalled worker: cancel the
// old task, requeue its in-flight item exactly once, reset the state, and
// spawn a replacement. It does not wait for the old goroutine to unwind; the
// old task observes its dead context and exits without touching the item
// again.
func (c *Coordinator) restartWorker(id int) {
	c.mu.Lock()
	handle, ok := c.handles[id]
	runCtx := c.runCtx
	c.mu.Unlock()
	if !ok || runCtx == nil {
		return
	}

	state, ok := c.registry.Get(id)
	if !ok {
		return
	}

	// Hold a pool slot across the restart so the run's wait cannot observe
	// an empty pool between the old task exiting and the replacement
	// starting.
	c.wg.Add(1)
	defer c.wg.Done()

	handle.cancel()

	if item, held := state.CurrentItem(); held {
		if err := c.queue.Put(runCtx, item); err == nil {
			itemsRequeuedTotal.WithLabelValues(requeueReasonStalled).Inc()
			c.logger.Info().Int("worker_id", id).Str("post_id", item.Key()).Msg("Requeued stalled worker's item")
		}
	}

	state.Reset()
	c.spawnWorker(id, state)
}

// Stop requests a shutdown: forced cancellation of every in-flight task plus
// the run context, then a bounded wait for workers to flush and exit.
func (c *Coordinator) Stop() {
	c.mu.Lock()
	cancel := c.cancelRun
	c.mu.Unlock()
	if cancel == nil {
		return
	}

	c.logger.Info().Msg("Stop requested")
	cancel()

	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(c.cfg.ShutdownGrace):
		c.logger.Warn().Msg("Workers still unwinding after shutdown grace")
	}
}

// StatusSnapshot is a point-in-time view of the run, served by the status
// endpoint.
type StatusSnapshot struct {
	JobID        string                 `json:"job_id"`
	Subreddit    string                 `json:"subreddit"`
	Running      bool                   `json:"running"`
	Collecting   bool                   `json:"collecting"`
	QueueDepth   int                    `json:"queue_depth"`
	Collected    int64                  `json:"items_collected"`
	Processed    int64                  `json:"items_processed"`
	Failed       int64                  `json:"items_failed"`
	DeadLettered int64                  `json:"items_dead_lettered"`
	Workers      map[int]WorkerSnapshot `json:"workers"`
}

// Status returns a consistent-enough snapshot for observability. Counters are
// read individually; exactness across them is not required.
func (c *Coordinator) Status() StatusSnapshot {
	c.mu.Lock()
	running := c.running
	c.mu.Unlock()

	return StatusSnapshot{
		JobID:        c.cfg.JobID,
		Subreddit:    c.cfg.Subreddit,
		Running:      running,
		Collecting:   running && !c.collector.Finished(),
		QueueDepth:   c.queue.Len(),
		Collected:    c.totals.Collected.Load(),
		Processed:    c.totals.Processed.Load(),
		Failed:       c.totals.Failed.Load(),
		DeadLettered: c.totals.DeadLettered.Load(),
		Workers:      c.registry.Snapshot(),
	}
}
