// Package api serves the machine's HTTP surface: health, worker status,
// task listings, and an HTTP transport for the produce and cancel ingress
// handlers. Prometheus metrics are exposed at /metrics.
//
// # Key Types
//
// Server: chi router plus the http.Server lifecycle (Start/Stop).
//
// Task, StatusResponse, HealthResponse: transport-friendly DTOs. Internal
// models never leak into responses; FromTask and FromStatus convert.
//
// # Authentication
//
// When paths.api_token is set, every route except /machine/health and
// /metrics requires "Authorization: Bearer <token>".
//
// # Design Notes
//
// DTOs use snake_case JSON tags to match the event payloads published on the
// bus. Timestamps are RFC3339 with milliseconds in UTC.
package api
