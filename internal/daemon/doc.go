// Package daemon coordinates the long-running machine process.
//
// It wires the task store, the machine worker, the event bus subscriptions
// and the HTTP API into a single lifecycle, with flock-based locking so only
// one process drives a given machine type on a host. Start order matters:
// the worker recovers interrupted pieces before ingress subscriptions can
// enqueue new ones.
//
// Keep orchestration logic here: piece handling lives in internal/machine
// and request translation in internal/ingress.
package daemon
