package coordinator

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"github.com/subvault/subvault/pkg/events"
	"github.com/subvault/subvault/pkg/logging"
	"github.com/subvault/subvault/pkg/reddit"
	"github.com/subvault/subvault/pkg/work"
)

// Record is one entry of a listing page, the raw material for a work item.
type Record struct {
	ID          string
	Permalink   string
	CreatedUTC  int64
	NumComments int
}

// Page is one page of the paginated list operation.
type Page struct {
	Records []Record

	// Next is the opaque cursor for the following page; empty when the
	// source is exhausted.
	Next string
}

// PageSource is the paginated list operation the collector consumes. A
// source handles its own transient retries internally (the backoff
// primitive); errors it returns are either exhausted budgets or permanent.
type PageSource interface {
	FetchPage(ctx context.Context, cursor string) (*Page, error)
}

// CollectorConfig bounds the collector's pacing and stop condition.
type CollectorConfig struct {
	// StopBefore ends collection at the first record created before this
	// time.
	StopBefore time.Time

	// PageDelay is the politeness pause between pages.
	PageDelay time.Duration

	// FetchFailureDelay is the longer pause after a page fetch fails even
	// with retries, before trying the same cursor again.
	FetchFailureDelay time.Duration
}

// Collector is the single producer task. It paginates the source, builds
// work items tagged with a batch id and a running item index, and enqueues
// them under backpressure until the stop condition triggers or the source is
// exhausted.
type Collector struct {
	source PageSource
	queue  *work.Queue
	totals *Totals
	sink   events.Sink
	cfg    CollectorConfig
	logger zerolog.Logger

	finished atomic.Bool
}

// NewCollector creates a collector.
func NewCollector(source PageSource, queue *work.Queue, totals *Totals, sink events.Sink, cfg CollectorConfig) *Collector {
	if cfg.PageDelay <= 0 {
		cfg.PageDelay = 500 * time.Millisecond
	}
	if cfg.FetchFailureDelay <= 0 {
		cfg.FetchFailureDelay = 5 * time.Second
	}
	if sink == nil {
		sink = events.Discard
	}
	return &Collector{
		source: source,
		queue:  queue,
		totals: totals,
		sink:   sink,
		cfg:    cfg,
		logger: logging.NewLogger("collector"),
	}
}

// Finished reports whether collection has ended. Monotonic: once true it
// never reverts, which together with queue emptiness tells workers and the
// monitor that no more work is coming.
func (c *Collector) Finished() bool {
	return c.finished.Load()
}

// Run drives collection to completion. It returns nil on normal exhaustion
// or stop-condition exit, the context error on cancellation, and a non-nil
// error on an unrecoverable source failure. In every case Finished() is true
// afterwards.
func (c *Collector) Run(ctx context.Context) error {
	defer c.finished.Store(true)

	c.logger.Info().Time("stop_before", c.cfg.StopBefore).Msg("Collector starting")
	c.sink.Publish(events.LogEvent{Level: events.LevelInfo, Message: "Collector started"})

	var (
		cursor    string
		batchID   int64
		itemIndex int
	)

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		page, err := c.source.FetchPage(ctx, cursor)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if errors.Is(err, reddit.ErrMalformedResponse) {
				// Unrecoverable: abort the producer only; workers keep
				// draining whatever is queued.
				c.logger.Error().Err(err).Msg("Collector aborting on malformed response")
				c.sink.Publish(events.LogEvent{Level: events.LevelError, Message: "Collection aborted: malformed response"})
				return err
			}

			// Retries already exhausted inside the source; wait longer and
			// try the same cursor again.
			c.logger.Warn().Err(err).Str("cursor", cursor).Msg("Page fetch failed, retrying cursor")
			if !sleepCtx(ctx, c.cfg.FetchFailureDelay) {
				return ctx.Err()
			}
			continue
		}

		if len(page.Records) == 0 {
			break
		}

		stop := false
		for _, rec := range page.Records {
			if rec.CreatedUTC < c.cfg.StopBefore.Unix() {
				stop = true
				break
			}

			item := work.Item{
				PostID:      rec.ID,
				Permalink:   rec.Permalink,
				CreatedUTC:  rec.CreatedUTC,
				NumComments: rec.NumComments,
				BatchID:     batchID,
				ItemIndex:   itemIndex,
			}

			// May suspend under backpressure.
			if err := c.queue.Put(ctx, item); err != nil {
				return err
			}

			itemIndex++
			collected := c.totals.Collected.Add(1)
			itemsCollectedTotal.Inc()
			queueDepth.Set(float64(c.queue.Len()))

			if collected%100 == 0 {
				msg := fmt.Sprintf("Collected %d items, queue depth %d", collected, c.queue.Len())
				c.logger.Info().Int64("collected", collected).Int("queue_depth", c.queue.Len()).Msg("Collection progress")
				c.sink.Publish(events.LogEvent{Level: events.LevelInfo, Message: msg})
			}
		}

		batchID++

		if stop {
			c.logger.Info().Int64("batches", batchID).Msg("Stop condition reached")
			break
		}
		if page.Next == "" {
			c.logger.Info().Msg("Source exhausted")
			break
		}
		cursor = page.Next

		if !sleepCtx(ctx, c.cfg.PageDelay) {
			return ctx.Err()
		}
	}

	total := c.totals.Collected.Load()
	c.logger.Info().Int64("collected", total).Msg("Collection finished")
	c.sink.Publish(events.LogEvent{
		Level:   events.LevelSuccess,
		Message: fmt.Sprintf("Collection finished, %d items total", total),
	})
	return nil
}

// sleepCtx sleeps for d, returning false if ctx ended first.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	select {
	case <-time.After(d):
		return true
	case <-ctx.Done():
		return false
	}
}
