// Package work defines the unit of work flowing through the pipeline and the
// bounded queue that carries it from the collector to the workers.
package work

import "fmt"

// Item describes one post to fetch and process in full. Items are value types:
// the collector creates them and nothing mutates them afterwards, except the
// Attempts counter which is advanced on a copy when an item is requeued.
type Item struct {
	// PostID is the source identifier and the item's identity.
	PostID string `json:"post_id"`

	// Permalink is the relative path to the post's detail document.
	Permalink string `json:"permalink"`

	// CreatedUTC is the post creation time as unix seconds.
	CreatedUTC int64 `json:"created_utc"`

	// NumComments is the comment count reported by the listing.
	NumComments int `json:"num_comments"`

	// BatchID is the monotonic page counter assigned by the collector.
	BatchID int64 `json:"batch_id"`

	// ItemIndex is the running position across all collected items.
	ItemIndex int `json:"item_index"`

	// Attempts counts processing attempts so far. Not part of identity.
	Attempts int `json:"attempts,omitempty"`
}

// Key returns the item's identity. Falls back to (batch_id, item_index) when
// the source did not carry an id.
func (i Item) Key() string {
	if i.PostID != "" {
		return i.PostID
	}
	return fmt.Sprintf("%d/%d", i.BatchID, i.ItemIndex)
}

// NextAttempt returns a copy of the item with the attempt counter advanced.
// Identity is unchanged.
func (i Item) NextAttempt() Item {
	i.Attempts++
	return i
}
