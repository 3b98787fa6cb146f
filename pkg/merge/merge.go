// Package merge combines the per-worker result documents of one job into a
// single archive ordered newest first. Workers finish out of order and
// retries shuffle items between workers, so global ordering is restored here,
// after the run, rather than in the pipeline.
package merge

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/rs/zerolog"
	"github.com/subvault/subvault/pkg/logging"
	"github.com/subvault/subvault/pkg/store"
	"github.com/subvault/subvault/pkg/work"
)

// Archive is the merged output document for one job.
type Archive struct {
	JobID        string            `json:"job_id"`
	Subreddit    string            `json:"subreddit"`
	ScrapedAt    time.Time         `json:"scraped_at"`
	TotalWorkers int               `json:"total_workers"`
	TotalPosts   int               `json:"total_posts"`
	Posts        []json.RawMessage `json:"posts"`
	DeadLetters  []work.Item       `json:"dead_letters,omitempty"`
}

// workerOutput mirrors the worker result document. Declared locally so the
// merge stays decoupled from the pipeline package.
type workerOutput struct {
	WorkerID    int               `json:"worker_id"`
	JobID       string            `json:"job_id"`
	Subreddit   string            `json:"subreddit"`
	ScrapedAt   time.Time         `json:"scraped_at"`
	Posts       []json.RawMessage `json:"posts"`
	DeadLetters []work.Item       `json:"dead_letters"`
}

// sortablePost pairs a raw post with the one field the ordering needs.
type sortablePost struct {
	raw        json.RawMessage
	createdUTC int64
}

// Merger loads and combines worker results from a result store.
type Merger struct {
	results store.ResultStore
	logger  zerolog.Logger
}

// New creates a merger over the given result store.
func New(results store.ResultStore) *Merger {
	return &Merger{
		results: results,
		logger:  logging.NewLogger("merge"),
	}
}

// Merge loads every worker's output for the job and returns the combined
// archive with posts ordered by creation time, newest first. Ties keep a
// stable order.
func (m *Merger) Merge(ctx context.Context, jobID string) (*Archive, error) {
	workers, err := m.results.ListWorkers(ctx, jobID)
	if err != nil {
		return nil, fmt.Errorf("list workers for job %s: %w", jobID, err)
	}
	if len(workers) == 0 {
		return nil, fmt.Errorf("no results stored for job %s", jobID)
	}

	archive := &Archive{
		JobID:        jobID,
		ScrapedAt:    time.Now().UTC(),
		TotalWorkers: len(workers),
	}

	var posts []sortablePost
	for _, workerID := range workers {
		payload, err := m.results.LoadResults(ctx, jobID, workerID)
		if err != nil {
			return nil, fmt.Errorf("load results for worker %d: %w", workerID, err)
		}

		var out workerOutput
		if err := json.Unmarshal(payload, &out); err != nil {
			return nil, fmt.Errorf("decode results for worker %d: %w", workerID, err)
		}

		if archive.Subreddit == "" {
			archive.Subreddit = out.Subreddit
		}
		archive.DeadLetters = append(archive.DeadLetters, out.DeadLetters...)

		for _, raw := range out.Posts {
			var stamp struct {
				CreatedUTC int64 `json:"created_utc"`
			}
			if err := json.Unmarshal(raw, &stamp); err != nil {
				return nil, fmt.Errorf("decode post from worker %d: %w", workerID, err)
			}
			posts = append(posts, sortablePost{raw: raw, createdUTC: stamp.CreatedUTC})
		}

		m.logger.Debug().
			Int("worker_id", workerID).
			Int("posts", len(out.Posts)).
			Msg("Loaded worker results")
	}

	sort.SliceStable(posts, func(i, j int) bool {
		return posts[i].createdUTC > posts[j].createdUTC
	})

	archive.Posts = make([]json.RawMessage, 0, len(posts))
	for _, p := range posts {
		archive.Posts = append(archive.Posts, p.raw)
	}
	archive.TotalPosts = len(archive.Posts)

	m.logger.Info().
		Str("job_id", jobID).
		Int("workers", archive.TotalWorkers).
		Int("posts", archive.TotalPosts).
		Int("dead_letters", len(archive.DeadLetters)).
		Msg("Merge complete")

	return archive, nil
}
