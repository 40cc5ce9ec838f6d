// Package machine drives the single manufacturing worker of a machine
// instance.
//
// Ingress handlers and startup recovery feed piece keys into an in-memory
// work queue. One goroutine drains it, revalidating every entry against the
// task store before acting: the queue is only a hint, since pieces may be
// cancelled or belong to another machine type by the time they are dequeued.
// A piece that passes revalidation is moved QUEUED -> WORKING, announced with
// piece.started, processed for a simulated duration, then moved to DONE and
// announced with piece.finished. Failures move it to FAILED and, when
// enabled, publish piece.failed. Every status write is a guarded
// compare-and-set, so a lost race is logged and skipped rather than treated
// as an error.
//
// Shutting down mid-piece leaves the task WORKING. Recover, which Start runs
// before the loop begins, resets such tasks to QUEUED and enqueues them ahead
// of the pieces that were still waiting.
package machine
