// Package preflight provides readiness checks for the filesystem paths,
// task database, broker and auth service a machine depends on.
//
// The CLI "machine preflight" command runs RunAll and prints each Result.
// Checks for optional integrations are skipped when the integration is not
// configured.
package preflight
