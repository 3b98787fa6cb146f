// Package coordinator implements the fault-tolerant work-distribution
// pipeline: a single Collector paginates the source and fans work items out
// over a bounded queue to a pool of Workers, a heartbeat Monitor detects
// stalled workers and restarts them, and the Coordinator owns the queue, the
// worker registry, and the run lifecycle.
//
// Delivery is at least once: an item that is dequeued is either recorded as a
// successful result, requeued after a failure or a worker restart, or
// dead-lettered once its attempt budget is spent. It is never silently
// dropped. Ordering is not preserved once retries re-enter the queue; a
// downstream merge reorders globally by timestamp.
package coordinator
