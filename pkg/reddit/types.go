package reddit

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// PostStub is one listing entry: just enough to build a work item.
type PostStub struct {
	ID          string `json:"id"`
	Permalink   string `json:"permalink"`
	CreatedUTC  int64  `json:"created_utc"`
	NumComments int    `json:"num_comments"`
}

// Listing is one page of a subreddit's /new feed.
type Listing struct {
	Posts []PostStub

	// After is the opaque pagination cursor for the next page; empty when
	// the feed is exhausted.
	After string
}

// Post is the fully fetched result record for one post.
type Post struct {
	PostID          string    `json:"post_id"`
	URL             string    `json:"url"`
	Title           string    `json:"title"`
	Body            string    `json:"body"`
	Author          string    `json:"author"`
	CreatedUTC      int64     `json:"created_utc"`
	Subreddit       string    `json:"subreddit"`
	Flair           string    `json:"flair,omitempty"`
	Score           int       `json:"score"`
	UpvoteRatio     float64   `json:"upvote_ratio"`
	NumComments     int       `json:"num_comments"`
	Awards          int       `json:"awards"`
	IsNSFW          bool      `json:"is_nsfw"`
	BatchID         int64     `json:"batch_id"`
	ItemIndex       int       `json:"item_index"`
	Comments        []Comment `json:"comments"`
	CommentsScraped int       `json:"comments_scraped_count"`
}

// Comment is one flattened comment from a post's tree.
type Comment struct {
	CommentID  string `json:"comment_id"`
	ParentID   string `json:"parent_id"`
	Author     string `json:"author"`
	Body       string `json:"body"`
	CreatedUTC int64  `json:"created_utc"`
	Score      int    `json:"score"`
	Depth      int    `json:"depth"`
}

// Wire shapes. Reddit wraps everything in {"kind": ..., "data": ...} things;
// created_utc arrives as float seconds.

type wireThing struct {
	Kind string          `json:"kind"`
	Data json.RawMessage `json:"data"`
}

type wireListing struct {
	Children []wireThing `json:"children"`
	After    string      `json:"after"`
}

type wirePost struct {
	ID          string  `json:"id"`
	Permalink   string  `json:"permalink"`
	Title       string  `json:"title"`
	Selftext    string  `json:"selftext"`
	Author      string  `json:"author"`
	CreatedUTC  float64 `json:"created_utc"`
	Subreddit   string  `json:"subreddit"`
	Flair       string  `json:"link_flair_text"`
	Score       int     `json:"score"`
	UpvoteRatio float64 `json:"upvote_ratio"`
	NumComments int     `json:"num_comments"`
	Awards      int     `json:"total_awards_received"`
	Over18      bool    `json:"over_18"`
}

type wireComment struct {
	ID         string  `json:"id"`
	ParentID   string  `json:"parent_id"`
	Author     string  `json:"author"`
	Body       string  `json:"body"`
	CreatedUTC float64 `json:"created_utc"`
	Score      int     `json:"score"`

	// Replies is either an empty string or a nested listing thing.
	Replies json.RawMessage `json:"replies"`
}

// parseListing decodes one page of /r/<sub>/new.json.
func parseListing(payload []byte) (*Listing, error) {
	var root wireThing
	if err := json.Unmarshal(payload, &root); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}

	var data wireListing
	if err := json.Unmarshal(root.Data, &data); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}

	listing := &Listing{After: data.After}
	for _, child := range data.Children {
		if child.Kind != "t3" {
			continue
		}
		var post wirePost
		if err := json.Unmarshal(child.Data, &post); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
		}
		listing.Posts = append(listing.Posts, PostStub{
			ID:          post.ID,
			Permalink:   post.Permalink,
			CreatedUTC:  int64(post.CreatedUTC),
			NumComments: post.NumComments,
		})
	}

	return listing, nil
}

// parseDetail decodes a post detail document: a two-element array of listings,
// post first, comment tree second.
func parseDetail(payload []byte) (*Post, error) {
	var docs []wireThing
	if err := json.Unmarshal(payload, &docs); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	if len(docs) < 1 {
		return nil, fmt.Errorf("%w: empty detail document", ErrMalformedResponse)
	}

	var postListing wireListing
	if err := json.Unmarshal(docs[0].Data, &postListing); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	if len(postListing.Children) < 1 {
		return nil, fmt.Errorf("%w: detail document has no post", ErrMalformedResponse)
	}

	var raw wirePost
	if err := json.Unmarshal(postListing.Children[0].Data, &raw); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}

	post := &Post{
		PostID:      raw.ID,
		URL:         "https://reddit.com" + raw.Permalink,
		Title:       raw.Title,
		Body:        raw.Selftext,
		Author:      authorOrDeleted(raw.Author),
		CreatedUTC:  int64(raw.CreatedUTC),
		Subreddit:   raw.Subreddit,
		Flair:       raw.Flair,
		Score:       raw.Score,
		UpvoteRatio: raw.UpvoteRatio,
		NumComments: raw.NumComments,
		Awards:      raw.Awards,
		IsNSFW:      raw.Over18,
		Comments:    []Comment{},
	}

	if len(docs) > 1 && raw.NumComments > 0 {
		var commentListing wireListing
		if err := json.Unmarshal(docs[1].Data, &commentListing); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
		}
		post.Comments = extractComments(commentListing.Children, 0)
		post.CommentsScraped = len(post.Comments)
	}

	return post, nil
}

// extractComments flattens a comment tree depth first. Non-comment things
// ("more" placeholders) are skipped.
func extractComments(children []wireThing, depth int) []Comment {
	var comments []Comment

	for _, child := range children {
		if child.Kind != "t1" {
			continue
		}
		var raw wireComment
		if err := json.Unmarshal(child.Data, &raw); err != nil {
			continue
		}

		comments = append(comments, Comment{
			CommentID:  raw.ID,
			ParentID:   raw.ParentID,
			Author:     authorOrDeleted(raw.Author),
			Body:       raw.Body,
			CreatedUTC: int64(raw.CreatedUTC),
			Score:      raw.Score,
			Depth:      depth,
		})

		// Replies is "" for leaves; only descend into object payloads.
		if len(raw.Replies) > 0 && bytes.HasPrefix(bytes.TrimSpace(raw.Replies), []byte("{")) {
			var replies wireThing
			if err := json.Unmarshal(raw.Replies, &replies); err != nil {
				continue
			}
			var repliesListing wireListing
			if err := json.Unmarshal(replies.Data, &repliesListing); err != nil {
				continue
			}
			comments = append(comments, extractComments(repliesListing.Children, depth+1)...)
		}
	}

	return comments
}

func authorOrDeleted(author string) string {
	if author == "" {
		return "[deleted]"
	}
	return author
}
