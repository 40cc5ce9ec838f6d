package preflight

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"strings"
	"time"

	"golang.org/x/sys/unix"

	"machine/internal/authkey"
	"machine/internal/config"
	"machine/internal/events"
	"machine/internal/logging"
	"machine/internal/tasks"
)

// CheckDirectoryAccess verifies that the directory exists and is readable/writable.
func CheckDirectoryAccess(name, path string) Result {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Result{Name: name, Detail: fmt.Sprintf("%s (error: does not exist)", path)}
		}
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: stat: %v)", path, err)}
	}
	if !info.IsDir() {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: is not a directory)", path)}
	}
	if err := unix.Access(path, unix.R_OK|unix.W_OK|unix.X_OK); err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: insufficient permissions: %v)", path, err)}
	}
	return Result{Name: name, Passed: true, Detail: fmt.Sprintf("%s (read/write ok)", path)}
}

// CheckTaskDatabase opens an existing task database and runs its health
// diagnostics. A database that does not exist yet passes; the daemon creates
// it on first start.
func CheckTaskDatabase(ctx context.Context, path string) Result {
	const name = "Task database"

	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return Result{Name: name, Passed: true, Detail: fmt.Sprintf("%s (not created yet)", path)}
		}
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: stat: %v)", path, err)}
	}

	store, err := tasks.OpenPath(path)
	if err != nil {
		if errors.Is(err, tasks.ErrSchemaMismatch) {
			return Result{Name: name, Detail: fmt.Sprintf("%s (schema mismatch; remove the file to recreate it)", path)}
		}
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: %v)", path, err)}
	}
	defer store.Close()

	health, err := store.CheckHealth(ctx)
	switch {
	case err != nil:
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: %v)", path, err)}
	case !health.IntegrityCheck:
		return Result{Name: name, Detail: fmt.Sprintf("%s (integrity check failed)", path)}
	case len(health.MissingColumns) > 0:
		return Result{Name: name, Detail: fmt.Sprintf("%s (missing columns: %s)", path, strings.Join(health.MissingColumns, ", "))}
	}
	return Result{Name: name, Passed: true, Detail: fmt.Sprintf("%s (%d tasks, integrity ok)", path, health.TotalTasks)}
}

// CheckBroker connects to the configured broker and disconnects again.
func CheckBroker(ctx context.Context, cfg *config.Config) Result {
	const name = "Broker"

	if cfg.Broker.Driver == config.BrokerMemory || cfg.Broker.Driver == "" {
		return Result{Name: name, Passed: true, Detail: "in-process memory bus"}
	}

	bus, err := events.Open(cfg, logging.NewNop())
	if err != nil {
		return Result{Name: name, Detail: summarizeNetError(err)}
	}
	defer bus.Close()

	checkCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := bus.Health(checkCtx); err != nil {
		return Result{Name: name, Detail: summarizeNetError(err)}
	}
	return Result{Name: name, Passed: true, Detail: "Reachable"}
}

// CheckAuthService verifies the public key can be fetched.
func CheckAuthService(ctx context.Context, baseURL string, timeout time.Duration) Result {
	const name = "Auth service"

	fetcher := authkey.NewFetcher(baseURL, timeout)
	if !fetcher.Configured() {
		return Result{Name: name, Detail: "missing url"}
	}
	if _, err := fetcher.Fetch(ctx); err != nil {
		return Result{Name: name, Detail: summarizeNetError(err)}
	}
	return Result{Name: name, Passed: true, Detail: fmt.Sprintf("%s (key available)", fetcher.URL())}
}

// summarizeNetError produces a human-readable summary for connectivity failures.
func summarizeNetError(err error) string {
	if errors.Is(err, context.DeadlineExceeded) {
		return "check timed out (service unresponsive)"
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return "check timed out (service unreachable)"
	}
	return err.Error()
}
