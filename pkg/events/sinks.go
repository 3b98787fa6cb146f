package events

import (
	"encoding/json"
	"sync"

	"github.com/rs/zerolog"
)

// LoggerSink forwards events to a zerolog logger. Stats snapshots are logged
// at debug level so a quiet production log keeps only LogEvents.
type LoggerSink struct {
	logger zerolog.Logger
}

// NewLoggerSink creates a sink writing to the given logger.
func NewLoggerSink(logger zerolog.Logger) *LoggerSink {
	return &LoggerSink{logger: logger}
}

// Publish implements Sink.
func (s *LoggerSink) Publish(e Event) {
	switch ev := e.(type) {
	case LogEvent:
		var log *zerolog.Event
		switch ev.Level {
		case LevelWarning:
			log = s.logger.Warn()
		case LevelError:
			log = s.logger.Error()
		default:
			log = s.logger.Info()
		}
		log.Str("event", Type(e)).Msg(ev.Message)
	case StatsEvent:
		s.logger.Debug().
			Str("event", Type(e)).
			Int64("collected", ev.Collected).
			Int64("processed", ev.Processed).
			Int64("failed", ev.Failed).
			Int64("dead_lettered", ev.DeadLettered).
			Int("queue_depth", ev.QueueDepth).
			Msg("pipeline stats")
	case WorkerStatsEvent:
		s.logger.Debug().
			Str("event", Type(e)).
			Int("workers", len(ev.Workers)).
			Msg("worker stats")
	}
}

// StreamSink buffers encoded events for streaming consumers (the /events SSE
// endpoint). Subscribers get their own channel; slow subscribers lose events
// rather than stalling the pipeline.
type StreamSink struct {
	mu   sync.Mutex
	subs map[chan []byte]struct{}
	size int
}

// NewStreamSink creates a stream sink with the given per-subscriber buffer.
func NewStreamSink(buffer int) *StreamSink {
	if buffer <= 0 {
		buffer = 64
	}
	return &StreamSink{
		subs: make(map[chan []byte]struct{}),
		size: buffer,
	}
}

// envelope is the wire framing for streamed events.
type envelope struct {
	Type string `json:"type"`
	Data Event  `json:"data"`
}

// Publish implements Sink. Events are JSON encoded once and fanned out.
func (s *StreamSink) Publish(e Event) {
	payload, err := json.Marshal(envelope{Type: Type(e), Data: e})
	if err != nil {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for ch := range s.subs {
		select {
		case ch <- payload:
		default:
			// Subscriber is behind; drop rather than block.
		}
	}
}

// Subscribe registers a consumer. The returned cancel func must be called to
// release the subscription.
func (s *StreamSink) Subscribe() (<-chan []byte, func()) {
	ch := make(chan []byte, s.size)

	s.mu.Lock()
	s.subs[ch] = struct{}{}
	s.mu.Unlock()

	cancel := func() {
		s.mu.Lock()
		delete(s.subs, ch)
		s.mu.Unlock()
	}
	return ch, cancel
}

// MultiSink fans events out to several sinks.
type MultiSink []Sink

// Publish implements Sink.
func (m MultiSink) Publish(e Event) {
	for _, sink := range m {
		sink.Publish(e)
	}
}
