// Package events defines the structured event stream the pipeline emits for
// UIs and log consumers: log lines, aggregate counters, and per-worker state
// snapshots, as a closed set of event types.
package events

// Level is the severity of a LogEvent.
type Level string

const (
	// LevelInfo marks routine progress messages.
	LevelInfo Level = "info"

	// LevelWarning marks recoverable problems (retries, restarts).
	LevelWarning Level = "warning"

	// LevelError marks failures that cost an item attempt.
	LevelError Level = "error"

	// LevelSuccess marks completion milestones.
	LevelSuccess Level = "success"
)

// Event is the closed union of pipeline events. Only the three event types
// in this package implement it.
type Event interface {
	eventType() string
}

// LogEvent is a human-readable progress message.
type LogEvent struct {
	Level   Level  `json:"level"`
	Message string `json:"message"`
}

func (LogEvent) eventType() string { return "log" }

// StatsEvent is an aggregate counter snapshot across the whole pipeline.
type StatsEvent struct {
	Collected    int64 `json:"collected"`
	Processed    int64 `json:"processed"`
	Failed       int64 `json:"failed"`
	DeadLettered int64 `json:"dead_lettered"`
	QueueDepth   int   `json:"queue_depth"`
}

func (StatsEvent) eventType() string { return "stats" }

// WorkerStats is one worker's slice of a WorkerStatsEvent.
type WorkerStats struct {
	Status    string `json:"status"`
	Processed int64  `json:"items_processed"`
	Failed    int64  `json:"items_failed"`
}

// WorkerStatsEvent is a per-worker state snapshot keyed by worker id.
type WorkerStatsEvent struct {
	Workers map[int]WorkerStats `json:"workers"`
}

func (WorkerStatsEvent) eventType() string { return "workers_stats" }

// Type returns the wire name of an event ("log", "stats", "workers_stats").
func Type(e Event) string {
	if e == nil {
		return ""
	}
	return e.eventType()
}

// Sink consumes pipeline events. Publish must not block the caller for long:
// the pipeline emits events from its hot paths.
type Sink interface {
	Publish(Event)
}

// Discard is a Sink that drops every event.
var Discard Sink = discardSink{}

type discardSink struct{}

func (discardSink) Publish(Event) {}
