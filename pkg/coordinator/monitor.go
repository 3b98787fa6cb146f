package coordinator

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/subvault/subvault/pkg/events"
	"github.com/subvault/subvault/pkg/logging"
	"github.com/subvault/subvault/pkg/work"
)

// MonitorConfig bounds the health-check loop.
type MonitorConfig struct {
	// PollInterval is the cadence of health checks and stats events.
	PollInterval time.Duration

	// HeartbeatTimeout is the stall threshold: a Working worker whose
	// heartbeat is older than this is restarted.
	HeartbeatTimeout time.Duration
}

// Monitor is the watchdog task. Each poll it checks every Working worker's
// heartbeat age and asks the Coordinator, via the restart callback, to
// replace stalled ones. It also publishes periodic stats events. It observes
// worker state only through the shared registry and never blocks on a worker.
type Monitor struct {
	registry      *Registry
	queue         *work.Queue
	totals        *Totals
	collectorDone func() bool
	restart       func(id int)
	sink          events.Sink
	cfg           MonitorConfig
	logger        zerolog.Logger
}

// NewMonitor creates a monitor. The restart callback must not block: the
// Coordinator cancels the stalled task, requeues its item, resets the state,
// and spawns a replacement without waiting for the old goroutine to unwind.
func NewMonitor(registry *Registry, queue *work.Queue, totals *Totals,
	collectorDone func() bool, restart func(id int),
	sink events.Sink, cfg MonitorConfig) *Monitor {

	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 2 * time.Second
	}
	if cfg.HeartbeatTimeout <= 0 {
		cfg.HeartbeatTimeout = 30 * time.Second
	}
	if sink == nil {
		sink = events.Discard
	}
	return &Monitor{
		registry:      registry,
		queue:         queue,
		totals:        totals,
		collectorDone: collectorDone,
		restart:       restart,
		sink:          sink,
		cfg:           cfg,
		logger:        logging.NewLogger("monitor"),
	}
}

// Run polls until cancellation or until the pipeline is quiescent: collection
// finished, queue empty, and no worker Working.
func (m *Monitor) Run(ctx context.Context) error {
	ticker := time.NewTicker(m.cfg.PollInterval)
	defer ticker.Stop()

	m.logger.Info().Dur("heartbeat_timeout", m.cfg.HeartbeatTimeout).Msg("Monitor starting")

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}

		m.checkHeartbeats()
		m.publishStats()

		if m.collectorDone() && m.queue.Len() == 0 && !m.registry.AnyWorking() {
			m.logger.Info().Msg("Pipeline quiescent, monitor exiting")
			return nil
		}
	}
}

// checkHeartbeats restarts every Working worker whose heartbeat went stale.
func (m *Monitor) checkHeartbeats() {
	now := time.Now()
	for _, ws := range m.registry.States() {
		if ws.Status() != StatusWorking {
			// Idle and Failed workers are legitimately between heartbeats
			// (queue waits, pauses); only a Working worker can stall.
			continue
		}
		age := ws.HeartbeatAge(now)
		if age <= m.cfg.HeartbeatTimeout {
			continue
		}

		m.logger.Warn().
			Int("worker_id", ws.ID()).
			Dur("heartbeat_age", age).
			Msg("Worker heartbeat stale, restarting")
		m.sink.Publish(events.LogEvent{
			Level:   events.LevelWarning,
			Message: fmt.Sprintf("Worker %d stalled (heartbeat %s old), restarting", ws.ID(), age.Round(time.Second)),
		})

		workerRestartsTotal.Inc()
		m.restart(ws.ID())
	}
}

// publishStats emits the aggregate and per-worker stats events.
func (m *Monitor) publishStats() {
	depth := m.queue.Len()
	queueDepth.Set(float64(depth))

	m.sink.Publish(events.StatsEvent{
		Collected:    m.totals.Collected.Load(),
		Processed:    m.totals.Processed.Load(),
		Failed:       m.totals.Failed.Load(),
		DeadLettered: m.totals.DeadLettered.Load(),
		QueueDepth:   depth,
	})

	snaps := m.registry.Snapshot()
	workers := make(map[int]events.WorkerStats, len(snaps))
	for id, snap := range snaps {
		workers[id] = events.WorkerStats{
			Status:    string(snap.Status),
			Processed: snap.Processed,
			Failed:    snap.Failed,
		}
	}
	m.sink.Publish(events.WorkerStatsEvent{Workers: workers})
}
