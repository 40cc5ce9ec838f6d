// Package workqueue provides the in-process FIFO that feeds the machine
// worker.
//
// The queue is unbounded so ingress handlers and startup recovery never block
// on enqueue. Entries are hints only: duplicates are allowed and the consumer
// is expected to revalidate each one against durable state before acting.
// Every dequeued entry must be acknowledged with Done so Wait can report when
// all enqueued work has been handled.
package workqueue
