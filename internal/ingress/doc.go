// Package ingress translates inbound requests into worker and store effects.
//
// Three request kinds arrive over the event bus (and, for produce and cancel,
// over the HTTP API): produce creates pieces and enqueues them, cancel asks
// the worker to cancel a queued piece, and a public key notice refreshes the
// auth service key. Malformed requests are rejected with ErrInvalidRequest
// before anything is written.
package ingress
