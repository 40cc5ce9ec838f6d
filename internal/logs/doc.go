// Package logs reads the daemon log file for "machine logs".
//
// Last returns the final N lines with bounded memory and the offset where
// reading stopped; Follow picks up from that offset and delivers new lines
// until the context ends, starting over when the file is truncated.
package logs
