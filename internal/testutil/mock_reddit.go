// Package testutil provides testing utilities for the subvault pipeline.
package testutil

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"time"
)

// MockResponse defines the behavior for a mock endpoint response.
type MockResponse struct {
	StatusCode int
	Body       string
	Headers    map[string]string
	Delay      time.Duration
}

// MockReddit is a configurable mock Reddit server for testing.
type MockReddit struct {
	server   *httptest.Server
	mu       sync.RWMutex
	handlers map[string]func(w http.ResponseWriter, r *http.Request)

	// Tracking
	RequestCount      int
	LastRequestHeader http.Header
}

// NewMockReddit creates a new mock Reddit server.
func NewMockReddit() *MockReddit {
	mock := &MockReddit{
		handlers: make(map[string]func(w http.ResponseWriter, r *http.Request)),
	}

	mock.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mock.mu.Lock()
		mock.RequestCount++
		mock.LastRequestHeader = r.Header.Clone()
		mock.mu.Unlock()

		mock.mu.RLock()
		handler, exists := mock.handlers[r.URL.Path]
		mock.mu.RUnlock()

		if exists {
			handler(w, r)
			return
		}

		http.NotFound(w, r)
	}))

	return mock
}

// URL returns the mock server URL.
func (m *MockReddit) URL() string {
	return m.server.URL
}

// Close shuts down the mock server.
func (m *MockReddit) Close() {
	m.server.Close()
}

// Reset clears all tracking counters.
func (m *MockReddit) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.RequestCount = 0
	m.LastRequestHeader = nil
}

// GetRequestCount returns the number of requests made to the server.
func (m *MockReddit) GetRequestCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.RequestCount
}

// GetLastRequestHeader returns the headers of the most recent request.
func (m *MockReddit) GetLastRequestHeader() http.Header {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.LastRequestHeader
}

// SetHandler sets a custom handler for a specific path.
func (m *MockReddit) SetHandler(path string, handler func(w http.ResponseWriter, r *http.Request)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers[path] = handler
}

// SetResponse configures a static response for a path.
func (m *MockReddit) SetResponse(path string, resp MockResponse) {
	m.SetHandler(path, func(w http.ResponseWriter, r *http.Request) {
		if resp.Delay > 0 {
			time.Sleep(resp.Delay)
		}

		for key, value := range resp.Headers {
			w.Header().Set(key, value)
		}

		w.WriteHeader(resp.StatusCode)
		if resp.Body != "" {
			w.Write([]byte(resp.Body))
		}
	})
}

// SetFlakyResponse fails the first failures requests to a path with the given
// status, then serves resp. Used to exercise retry paths.
func (m *MockReddit) SetFlakyResponse(path string, failures, failStatus int, resp MockResponse) {
	var mu sync.Mutex
	served := 0
	m.SetHandler(path, func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		served++
		failing := served <= failures
		mu.Unlock()

		if failing {
			w.WriteHeader(failStatus)
			return
		}

		for key, value := range resp.Headers {
			w.Header().Set(key, value)
		}
		w.WriteHeader(resp.StatusCode)
		w.Write([]byte(resp.Body))
	})
}

// ListingStub is one post entry for a generated listing page.
type ListingStub struct {
	ID          string
	Permalink   string
	CreatedUTC  int64
	NumComments int
}

// ListingJSON renders a /new.json page for the given stubs and cursor.
func ListingJSON(stubs []ListingStub, after string) string {
	children := make([]string, 0, len(stubs))
	for _, s := range stubs {
		children = append(children, fmt.Sprintf(
			`{"kind":"t3","data":{"id":%q,"permalink":%q,"created_utc":%d.0,"num_comments":%d}}`,
			s.ID, s.Permalink, s.CreatedUTC, s.NumComments))
	}

	afterJSON := "null"
	if after != "" {
		afterJSON = fmt.Sprintf("%q", after)
	}

	return fmt.Sprintf(`{"kind":"Listing","data":{"children":[%s],"after":%s}}`,
		strings.Join(children, ","), afterJSON)
}

// DetailJSON renders a post detail document with a flat set of comments.
func DetailJSON(id, permalink, title, author string, createdUTC int64, comments []string) string {
	commentThings := make([]string, 0, len(comments))
	for i, body := range comments {
		commentThings = append(commentThings, fmt.Sprintf(
			`{"kind":"t1","data":{"id":"c%d","parent_id":"t3_%s","author":"commenter","body":%q,"created_utc":%d.0,"score":1,"replies":""}}`,
			i, id, body, createdUTC+int64(i)))
	}

	return fmt.Sprintf(`[
		{"kind":"Listing","data":{"children":[
			{"kind":"t3","data":{"id":%q,"permalink":%q,"title":%q,"selftext":"body text","author":%q,"created_utc":%d.0,"subreddit":"golang","score":42,"upvote_ratio":0.97,"num_comments":%d,"total_awards_received":1,"over_18":false}}
		],"after":null}},
		{"kind":"Listing","data":{"children":[%s],"after":null}}
	]`, id, permalink, title, author, createdUTC, len(comments), strings.Join(commentThings, ","))
}

// RateLimitHeaders returns typical Reddit rate limit headers.
func RateLimitHeaders(remaining float64, resetSeconds int) map[string]string {
	return map[string]string{
		"X-Ratelimit-Remaining": fmt.Sprintf("%.1f", remaining),
		"X-Ratelimit-Used":      "1",
		"X-Ratelimit-Reset":     fmt.Sprintf("%d", resetSeconds),
	}
}
