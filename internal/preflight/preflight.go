package preflight

import (
	"context"

	"machine/internal/config"
)

// Result reports the outcome of a single preflight check.
type Result struct {
	Name   string
	Passed bool
	Detail string
}

// RunAll executes all applicable preflight checks for the given config.
func RunAll(ctx context.Context, cfg *config.Config) []Result {
	if cfg == nil {
		return nil
	}

	results := []Result{
		CheckDirectoryAccess("Data directory", cfg.Paths.DataDir),
		CheckDirectoryAccess("Log directory", cfg.Paths.LogDir),
		CheckTaskDatabase(ctx, cfg.DatabasePath()),
		CheckBroker(ctx, cfg),
	}

	if cfg.Auth.BaseURL != "" {
		results = append(results, CheckAuthService(ctx, cfg.Auth.BaseURL, cfg.AuthTimeout()))
	}
	return results
}

// Failed reports whether any result did not pass.
func Failed(results []Result) bool {
	for _, r := range results {
		if !r.Passed {
			return true
		}
	}
	return false
}
