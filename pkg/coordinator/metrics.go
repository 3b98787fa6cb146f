package coordinator

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Prometheus metrics for the pipeline.
var (
	itemsCollectedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "subvault_items_collected_total",
		Help: "Total work items discovered by the collector",
	})

	itemsProcessedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "subvault_items_processed_total",
		Help: "Total work items processed successfully",
	})

	itemsFailedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "subvault_items_failed_total",
		Help: "Total item-level processing failures (each requeues the item)",
	})

	itemsDeadLetteredTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "subvault_items_dead_lettered_total",
		Help: "Total items dropped after exhausting their attempt budget",
	})

	itemsRequeuedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "subvault_items_requeued_total",
		Help: "Total items put back on the queue by reason",
	}, []string{"reason"})

	queueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "subvault_queue_depth",
		Help: "Current bounded queue occupancy",
	})

	workerRestartsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "subvault_worker_restarts_total",
		Help: "Total forced worker restarts after heartbeat timeouts",
	})

	itemProcessDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "subvault_item_process_duration_seconds",
		Help:    "Duration of one item's processing call",
		Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
	})
)

// Requeue reasons for subvault_items_requeued_total.
const (
	requeueReasonFailure    = "failure"
	requeueReasonRecovery   = "checkpoint_recovery"
	requeueReasonStalled    = "stalled_worker"
	requeueReasonCheckpoint = "checkpoint_error"
)
