package daemonrun

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"machine/internal/authkey"
	"machine/internal/config"
	"machine/internal/daemon"
	"machine/internal/events"
	"machine/internal/ingress"
	"machine/internal/logging"
	"machine/internal/machine"
	"machine/internal/tasks"
)

// Options configures daemon process runtime behavior.
type Options struct {
	LogLevel    string
	Development bool
}

// Run starts the machine daemon and blocks until ctx is cancelled or the
// process receives SIGINT or SIGTERM.
func Run(cmdCtx context.Context, cfg *config.Config, opts Options) error {
	if cfg == nil {
		return fmt.Errorf("config is required")
	}

	signalCtx, cancel := signal.NotifyContext(cmdCtx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := cfg.EnsureDirectories(); err != nil {
		return fmt.Errorf("ensure directories: %w", err)
	}

	level := cfg.Logging.Level
	if opts.LogLevel != "" {
		level = opts.LogLevel
	}
	logger, err := logging.New(logging.Options{
		Level:            level,
		Format:           cfg.Logging.Format,
		OutputPaths:      []string{"stdout", cfg.LogPath()},
		ErrorOutputPaths: []string{"stderr", cfg.LogPath()},
		Development:      opts.Development,
	})
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	logConfigSnapshot(logger, cfg)

	d, err := build(cfg, logger)
	if err != nil {
		logging.ErrorWithContext(logger, "daemon setup failed", "daemon_setup_failed",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check the task database path and broker settings"),
		)
		return err
	}
	defer d.Close()

	if err := d.Start(signalCtx); err != nil {
		logging.ErrorWithContext(logger, "daemon start failed", "daemon_start_failed",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check for another instance of this machine type and the api bind address"),
		)
		return err
	}

	// The PID file belongs to whoever holds the instance lock, so it is only
	// written once Start has acquired it.
	pidPath := cfg.PIDPath()
	if err := writePIDFile(pidPath); err != nil {
		return fmt.Errorf("write pid file: %w", err)
	}
	defer os.Remove(pidPath)

	<-signalCtx.Done()
	logger.Info("machine daemon shutting down", logging.String(logging.FieldEventType, "daemon_shutdown"))
	return nil
}

// build opens the store and bus and wires the worker, ingress and daemon.
func build(cfg *config.Config, logger *slog.Logger) (*daemon.Daemon, error) {
	store, err := tasks.Open(cfg)
	if err != nil {
		return nil, fmt.Errorf("open task store: %w", err)
	}
	bus, err := events.Open(cfg, logger)
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("open event bus: %w", err)
	}

	var fetcher *authkey.Fetcher
	if cfg.Auth.BaseURL != "" {
		fetcher = authkey.NewFetcher(cfg.Auth.BaseURL, cfg.AuthTimeout())
	}
	worker := machine.New(cfg, store, bus, logger)
	handlers := ingress.New(store, worker, &authkey.Store{}, fetcher, logger)

	d, err := daemon.New(cfg, store, worker, bus, handlers, logger)
	if err != nil {
		return nil, errors.Join(fmt.Errorf("create daemon: %w", err), bus.Close(), store.Close())
	}
	return d, nil
}

func writePIDFile(path string) error {
	if path == "" {
		return nil
	}
	value := strconv.Itoa(os.Getpid()) + "\n"
	return os.WriteFile(path, []byte(value), 0o644)
}

func logConfigSnapshot(logger *slog.Logger, cfg *config.Config) {
	logger.Info("configuration snapshot",
		logging.String(logging.FieldEventType, "config_snapshot"),
		logging.String(logging.FieldPieceType, cfg.Machine.Type),
		logging.String("instance", cfg.InstanceName()),
		logging.String("database", cfg.DatabasePath()),
		logging.String("broker_driver", cfg.Broker.Driver),
		logging.String("api_bind", cfg.Paths.APIBind),
		logging.Bool("api_auth", cfg.Paths.APIToken != ""),
		logging.Bool("auth_configured", cfg.Auth.BaseURL != ""),
		logging.Duration("work_unit", cfg.WorkUnit()),
		logging.Int("min_work_units", cfg.Machine.MinWorkUnits),
		logging.Int("max_work_units", cfg.Machine.MaxWorkUnits),
	)
}
