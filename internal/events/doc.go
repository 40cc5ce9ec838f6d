// Package events models the machine's message bus contract.
//
// Outbound, the worker publishes piece lifecycle events (piece.started,
// piece.finished, piece.failed) to a topic exchange using the topic as the
// routing key. Inbound, ingress handlers subscribe to the produce, cancel and
// public key channels. Two implementations share the Bus interface: an
// in-process MemoryBus used by tests and single-node runs, and AMQPBus which
// speaks to RabbitMQ.
//
// Delivery is at-least-once. Handlers that fail with an error wrapped by
// Retry are redelivered; any other handler error drops the message after it
// is logged.
package events
