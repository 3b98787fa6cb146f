package coordinator

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/rs/zerolog"
	"github.com/subvault/subvault/pkg/logging"
	"github.com/subvault/subvault/pkg/reddit"
	"github.com/subvault/subvault/pkg/work"
)

// RedditSource adapts the listing endpoint to the collector's PageSource. It
// honors the API's published rate-limit budget by pausing before a fetch when
// the remaining allowance is nearly spent.
type RedditSource struct {
	client    *reddit.Client
	subreddit string
	logger    zerolog.Logger
}

// NewRedditSource creates a source for one subreddit's newest-first listing.
func NewRedditSource(client *reddit.Client, subreddit string) *RedditSource {
	return &RedditSource{
		client:    client,
		subreddit: subreddit,
		logger:    logging.NewLogger("reddit_source"),
	}
}

// FetchPage fetches one listing page at the cursor.
func (s *RedditSource) FetchPage(ctx context.Context, cursor string) (*Page, error) {
	if pause := s.client.Limits().SuggestedPause(); pause > 0 {
		s.logger.Info().Dur("pause", pause).Msg("Rate limit budget low, pausing")
		if !sleepCtx(ctx, pause) {
			return nil, ctx.Err()
		}
	}

	listing, err := s.client.FetchPage(ctx, s.subreddit, cursor)
	if err != nil {
		return nil, err
	}

	page := &Page{
		Records: make([]Record, 0, len(listing.Posts)),
		Next:    listing.After,
	}
	for _, stub := range listing.Posts {
		page.Records = append(page.Records, Record{
			ID:          stub.ID,
			Permalink:   stub.Permalink,
			CreatedUTC:  stub.CreatedUTC,
			NumComments: stub.NumComments,
		})
	}
	return page, nil
}

// RedditProcessor adapts the detail endpoint to the worker's Processor: one
// item in, one fully hydrated post document out.
type RedditProcessor struct {
	client *reddit.Client
}

// NewRedditProcessor creates a processor backed by the given client.
func NewRedditProcessor(client *reddit.Client) *RedditProcessor {
	return &RedditProcessor{client: client}
}

// Process fetches the post detail with its comment tree, tags it with the
// item's batch coordinates, and returns the marshaled document.
func (p *RedditProcessor) Process(ctx context.Context, item work.Item) (json.RawMessage, error) {
	post, err := p.client.FetchDetail(ctx, item.Permalink)
	if err != nil {
		return nil, fmt.Errorf("fetch detail for %s: %w", item.Key(), err)
	}

	post.BatchID = item.BatchID
	post.ItemIndex = item.ItemIndex

	payload, err := json.Marshal(post)
	if err != nil {
		return nil, fmt.Errorf("marshal post %s: %w", item.Key(), err)
	}
	return payload, nil
}
