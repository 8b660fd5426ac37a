// Package queue provides bounded, priority-ordered pending-work queues, one
// per provider, each drained by a single consumer goroutine.
//
// Work that cannot run immediately (usually because the provider is rate
// limited) is enqueued; pushing beyond the per-provider capacity fails
// immediately with ErrFull instead of growing unbounded. High-priority tasks
// run before Normal, Normal before Low, FIFO within each class.
//
// The drain goroutine for a provider starts lazily on first enqueue and
// exits when the queue empties. Before each task it consults a Gate (the
// caller's rate-limit and circuit-breaker view of the provider); when the
// gate blocks, it sleeps until the gate's earliest re-check time rather than
// spinning.
package queue
