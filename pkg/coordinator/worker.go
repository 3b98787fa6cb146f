package coordinator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/subvault/subvault/pkg/events"
	"github.com/subvault/subvault/pkg/logging"
	"github.com/subvault/subvault/pkg/store"
	"github.com/subvault/subvault/pkg/work"
)

// Processor is the detail-fetch operation: it turns one work item into a
// result record. Implementations own their internal retry budget; a returned
// error means the item attempt failed.
type Processor interface {
	Process(ctx context.Context, item work.Item) (json.RawMessage, error)
}

// WorkerConfig bounds one worker's pacing and retry policy.
type WorkerConfig struct {
	// JobID addresses this run's records in the store.
	JobID string

	// Subreddit is recorded in the output document.
	Subreddit string

	// GetTimeout bounds each queue wait so the worker can notice that
	// collection finished.
	GetTimeout time.Duration

	// ItemDelay is the politeness pause after each successful item.
	ItemDelay time.Duration

	// FailureDelay is the short pause after an item failure.
	FailureDelay time.Duration

	// ErrorPause is the longer pause after an unexpected error.
	ErrorPause time.Duration

	// FlushEvery persists the partial output document every N successes.
	FlushEvery int

	// MaxItemAttempts dead-letters an item after this many failed
	// attempts instead of requeueing it forever.
	MaxItemAttempts int
}

// Output is the per-worker result document persisted to the store and later
// merged across workers.
type Output struct {
	WorkerID    int               `json:"worker_id"`
	JobID       string            `json:"job_id"`
	Subreddit   string            `json:"subreddit"`
	ScrapedAt   time.Time         `json:"scraped_at"`
	Posts       []json.RawMessage `json:"posts"`
	DeadLetters []work.Item       `json:"dead_letters,omitempty"`
}

// Worker is one consumer task. It dequeues items, checkpoints them before
// any externally visible work, processes them, and records the outcome.
// Items that fail are requeued; items that exhaust their attempt budget are
// dead-lettered. An ordinary error never terminates the task, only
// cancellation does.
type Worker struct {
	id            int
	state         *WorkerState
	queue         *work.Queue
	proc          Processor
	checkpoints   store.CheckpointStore
	results       store.ResultStore
	collectorDone func() bool
	totals        *Totals
	sink          events.Sink
	cfg           WorkerConfig
	logger        zerolog.Logger

	output Output
}

// NewWorker creates a worker bound to an existing state record.
func NewWorker(id int, state *WorkerState, queue *work.Queue, proc Processor,
	st store.Store, collectorDone func() bool, totals *Totals,
	sink events.Sink, cfg WorkerConfig) *Worker {

	if cfg.GetTimeout <= 0 {
		cfg.GetTimeout = 5 * time.Second
	}
	if cfg.ItemDelay < 0 {
		cfg.ItemDelay = 0
	}
	if cfg.FailureDelay <= 0 {
		cfg.FailureDelay = 2 * time.Second
	}
	if cfg.ErrorPause <= 0 {
		cfg.ErrorPause = 5 * time.Second
	}
	if cfg.FlushEvery <= 0 {
		cfg.FlushEvery = 5
	}
	if cfg.MaxItemAttempts <= 0 {
		cfg.MaxItemAttempts = 10
	}
	if sink == nil {
		sink = events.Discard
	}

	return &Worker{
		id:            id,
		state:         state,
		queue:         queue,
		proc:          proc,
		checkpoints:   st,
		results:       st,
		collectorDone: collectorDone,
		totals:        totals,
		sink:          sink,
		cfg:           cfg,
		logger:        logging.ForWorker("worker", id),
		output: Output{
			WorkerID:  id,
			JobID:     cfg.JobID,
			Subreddit: cfg.Subreddit,
			ScrapedAt: time.Now().UTC(),
			Posts:     []json.RawMessage{},
		},
	}
}

// Run drives the worker loop until cancellation or until collection is
// finished and the queue is drained. Whatever the exit path, accumulated
// results are flushed one final time.
func (w *Worker) Run(ctx context.Context) error {
	w.recover(ctx)

	defer w.finalFlush()

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		w.state.Heartbeat()

		item, ok, err := w.queue.Get(ctx, w.cfg.GetTimeout)
		if err != nil {
			// Cooperative stop or forced cancellation.
			return err
		}
		if !ok {
			if w.collectorDone() && w.queue.Len() == 0 {
				w.state.MarkCompleted()
				// Stale checkpoint would only requeue an already finished
				// item on the next run; delete it for clarity.
				_ = w.checkpoints.DeleteCheckpoint(ctx, w.cfg.JobID, w.id)
				w.logger.Info().Int64("processed", w.state.Processed()).Msg("Worker completed")
				return nil
			}
			continue
		}

		w.handleItem(ctx, item)
	}
}

// recover requeues the checkpointed in-flight item from a prior crash, if
// any. At-least-once: the item is reprocessed even if the prior run had
// partially completed it.
func (w *Worker) recover(ctx context.Context) {
	cp, err := w.checkpoints.LoadCheckpoint(ctx, w.cfg.JobID, w.id)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			w.logger.Error().Err(err).Msg("Checkpoint load failed, starting clean")
		}
		return
	}

	w.logger.Info().
		Str("post_id", cp.Item.Key()).
		Int("item_index", cp.Item.ItemIndex).
		Msg("Recovering checkpointed item")

	if err := w.queue.Put(ctx, cp.Item); err != nil {
		w.logger.Error().Err(err).Msg("Could not requeue checkpointed item")
		return
	}
	itemsRequeuedTotal.WithLabelValues(requeueReasonRecovery).Inc()
	w.sink.Publish(events.LogEvent{
		Level:   events.LevelInfo,
		Message: fmt.Sprintf("Worker %d recovered item %s from checkpoint", w.id, cp.Item.Key()),
	})
}

// handleItem runs one item through checkpoint, processing, and outcome
// recording.
func (w *Worker) handleItem(ctx context.Context, item work.Item) {
	w.state.StartItem(item)

	// Checkpoint before any externally visible work, so a crash from here
	// on is recoverable.
	cp := store.Checkpoint{
		JobID:     w.cfg.JobID,
		WorkerID:  w.id,
		Timestamp: time.Now().UTC(),
		Item:      item,
		Processed: w.state.Processed(),
	}
	if err := w.checkpoints.SaveCheckpoint(ctx, cp); err != nil {
		if ctx.Err() != nil {
			return
		}
		// Unexpected error path: pause and keep the item alive.
		w.logger.Error().Err(err).Str("post_id", item.Key()).Msg("Checkpoint write failed")
		w.state.MarkFailed()
		w.requeue(ctx, item, requeueReasonCheckpoint)
		sleepCtx(ctx, w.cfg.ErrorPause)
		return
	}

	start := time.Now()
	result, err := w.proc.Process(ctx, item)
	itemProcessDuration.Observe(time.Since(start).Seconds())

	if err != nil {
		if ctx.Err() != nil {
			// Forced cancellation mid-call: leave the state Working with
			// the current item set; the monitor requeues it exactly once.
			return
		}

		w.state.FailItem()
		w.totals.Failed.Add(1)
		itemsFailedTotal.Inc()
		w.logger.Warn().Err(err).Str("post_id", item.Key()).Int("attempts", item.Attempts+1).Msg("Item processing failed")
		w.sink.Publish(events.LogEvent{
			Level:   events.LevelError,
			Message: fmt.Sprintf("Worker %d failed item %s: %v", w.id, item.Key(), err),
		})

		w.requeueOrDeadLetter(ctx, item)
		sleepCtx(ctx, w.cfg.FailureDelay)
		return
	}

	w.output.Posts = append(w.output.Posts, result)
	w.state.FinishItem()
	w.totals.Processed.Add(1)
	itemsProcessedTotal.Inc()
	queueDepth.Set(float64(w.queue.Len()))

	if len(w.output.Posts)%w.cfg.FlushEvery == 0 {
		w.flush(ctx)
	}

	sleepCtx(ctx, w.cfg.ItemDelay)
}

// requeueOrDeadLetter puts a failed item back on the queue with its attempt
// counter advanced, or dead-letters it once the budget is spent.
func (w *Worker) requeueOrDeadLetter(ctx context.Context, item work.Item) {
	next := item.NextAttempt()
	if next.Attempts >= w.cfg.MaxItemAttempts {
		w.output.DeadLetters = append(w.output.DeadLetters, next)
		w.totals.DeadLettered.Add(1)
		itemsDeadLetteredTotal.Inc()
		w.logger.Error().Str("post_id", item.Key()).Int("attempts", next.Attempts).Msg("Item dead-lettered")
		w.sink.Publish(events.LogEvent{
			Level:   events.LevelError,
			Message: fmt.Sprintf("Item %s dead-lettered after %d attempts", item.Key(), next.Attempts),
		})
		return
	}

	w.requeue(ctx, next, requeueReasonFailure)
}

func (w *Worker) requeue(ctx context.Context, item work.Item, reason string) {
	if err := w.queue.Put(ctx, item); err != nil {
		// Shutdown while requeueing; the checkpoint still covers the item.
		w.logger.Warn().Err(err).Str("post_id", item.Key()).Msg("Requeue interrupted")
		return
	}
	itemsRequeuedTotal.WithLabelValues(reason).Inc()
}

// flush persists the partial output document. Best effort: a failed write
// costs at most FlushEvery items of durability, not correctness.
func (w *Worker) flush(ctx context.Context) {
	payload, err := json.Marshal(w.output)
	if err != nil {
		w.logger.Error().Err(err).Msg("Output marshal failed")
		return
	}
	if err := w.results.SaveResults(ctx, w.cfg.JobID, w.id, payload); err != nil {
		w.logger.Error().Err(err).Msg("Partial results save failed")
	}
}

// finalFlush saves accumulated results on any exit path, including
// cancellation, under its own bounded context.
func (w *Worker) finalFlush() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	w.flush(ctx)
}
