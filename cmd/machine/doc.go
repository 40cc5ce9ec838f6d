// Command machine is the operator CLI for a machine worker.
//
// It runs the daemon in the foreground (run), launches and stops a detached
// daemon (start, stop), queries a running daemon over its HTTP API (status,
// produce, cancel), inspects the task database directly (tasks, clear) and
// prints the daemon log (logs). Configuration helpers live under
// "machine config" and environment checks under "machine preflight".
package main
