// Package config loads, normalizes, and validates machine service configuration.
//
// It supplies repository defaults, expands user paths (including tilde
// shortcuts), reads TOML files, and honours environment fallbacks such as
// MACHINE_TYPE and MACHINE_AMQP_URL. The Config type centralizes every knob the
// daemon and CLI need: the machine class the worker accepts, the simulated work
// range, broker connection details, and the auth service used for public key
// rotation.
//
// Always obtain settings through this package so downstream code receives
// sanitized paths, an upper-cased machine type, and clear validation errors.
package config
