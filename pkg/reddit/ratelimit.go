package reddit

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Prometheus metrics for rate limit tracking.
var (
	redditRatelimitRemaining = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "reddit_ratelimit_remaining",
		Help: "Requests remaining in the current Reddit rate limit window",
	})
)

// remainingWarn is the request budget below which callers should slow down.
const remainingWarn = 5

// LimitTracker follows the X-Ratelimit-* headers Reddit attaches to .json
// responses. It is shared by all requests of one client; writes come from
// response handling, reads from pacing decisions, so a plain mutex is enough.
type LimitTracker struct {
	mu        sync.Mutex
	remaining float64
	resetAt   time.Time
	seen      bool
}

// NewLimitTracker creates an empty tracker. Until the first header is seen
// the tracker reports a healthy budget.
func NewLimitTracker() *LimitTracker {
	return &LimitTracker{}
}

// UpdateFromHeaders records the rate limit state from a response. Responses
// without the headers (e.g. error pages from a CDN) are ignored.
func (t *LimitTracker) UpdateFromHeaders(headers http.Header) {
	remainStr := headers.Get("X-Ratelimit-Remaining")
	if remainStr == "" {
		return
	}
	remaining, err := strconv.ParseFloat(remainStr, 64)
	if err != nil {
		return
	}

	resetSeconds, err := strconv.Atoi(headers.Get("X-Ratelimit-Reset"))
	if err != nil {
		resetSeconds = 60
	}

	t.mu.Lock()
	t.remaining = remaining
	t.resetAt = time.Now().Add(time.Duration(resetSeconds) * time.Second)
	t.seen = true
	t.mu.Unlock()

	redditRatelimitRemaining.Set(remaining)
}

// Remaining returns the last reported request budget, and whether any header
// has been seen yet.
func (t *LimitTracker) Remaining() (float64, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.remaining, t.seen
}

// SuggestedPause returns an extra pause to apply before the next request:
// zero while the budget is healthy, the time until the window resets once
// the budget runs low.
func (t *LimitTracker) SuggestedPause() time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.seen || t.remaining >= remainingWarn {
		return 0
	}

	pause := time.Until(t.resetAt)
	if pause < 0 {
		return 0
	}
	return pause
}
