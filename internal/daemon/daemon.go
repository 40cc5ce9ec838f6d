package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"

	"github.com/gofrs/flock"

	"machine/internal/api"
	"machine/internal/config"
	"machine/internal/events"
	"machine/internal/ingress"
	"machine/internal/logging"
	"machine/internal/machine"
	"machine/internal/tasks"
)

// Daemon coordinates the worker, ingress and API, and enforces single-instance
// execution per machine type.
type Daemon struct {
	cfg      *config.Config
	logger   *slog.Logger
	store    *tasks.Store
	worker   *machine.Worker
	bus      events.Bus
	handlers *ingress.Handlers
	api      *api.Server

	lockPath string
	lock     *flock.Flock

	mu      sync.Mutex
	running atomic.Bool
	cancel  context.CancelFunc
}

// Status represents daemon runtime information.
type Status struct {
	Running      bool
	PID          int
	MachineType  string
	LockFilePath string
	DatabasePath string
	APIAddress   string
	Worker       machine.StatusSummary
	Tasks        tasks.HealthSummary
}

// New constructs a daemon with initialized dependencies.
func New(cfg *config.Config, store *tasks.Store, worker *machine.Worker, bus events.Bus, handlers *ingress.Handlers, logger *slog.Logger) (*Daemon, error) {
	if cfg == nil || store == nil || worker == nil || bus == nil || handlers == nil {
		return nil, errors.New("daemon requires config, store, worker, bus, and ingress handlers")
	}
	logger = logging.NewComponentLogger(logger, "daemon")

	server := api.NewServer(cfg.Paths.APIBind, cfg.Paths.APIToken, api.Deps{
		Store:   store,
		Worker:  worker,
		Ingress: handlers,
		Bus:     bus,
	}, logger)

	lockPath := cfg.LockPath()
	return &Daemon{
		cfg:      cfg,
		logger:   logger,
		store:    store,
		worker:   worker,
		bus:      bus,
		handlers: handlers,
		api:      server,
		lockPath: lockPath,
		lock:     flock.New(lockPath),
	}, nil
}

// Start acquires the lock, starts the worker (recovery runs first), subscribes
// ingress to the bus and finally opens the API.
func (d *Daemon) Start(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.running.Load() {
		return errors.New("daemon already running")
	}

	if err := d.cfg.EnsureDirectories(); err != nil {
		return fmt.Errorf("ensure directories: %w", err)
	}
	ok, err := d.lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return fmt.Errorf("another %s daemon instance is already running", d.cfg.InstanceName())
	}

	runCtx, cancel := context.WithCancel(ctx)
	rollback := func() {
		cancel()
		d.worker.Stop()
		_ = d.lock.Unlock()
	}

	if err := d.worker.Start(runCtx); err != nil {
		rollback()
		return fmt.Errorf("start worker: %w", err)
	}
	if err := d.handlers.Subscribe(runCtx, d.bus); err != nil {
		rollback()
		return fmt.Errorf("subscribe ingress: %w", err)
	}
	if err := d.api.Start(runCtx); err != nil {
		rollback()
		return fmt.Errorf("start api: %w", err)
	}
	d.loadPublicKey(runCtx)

	d.cancel = cancel
	d.running.Store(true)
	d.logger.Info("machine daemon started",
		logging.String(logging.FieldEventType, "daemon_started"),
		logging.String(logging.FieldPieceType, d.worker.Type()),
		logging.String("lock", d.lockPath),
		logging.String("api", d.api.Addr()),
	)
	return nil
}

// loadPublicKey fetches the current key once at startup; later rotations
// arrive as bus notices.
func (d *Daemon) loadPublicKey(ctx context.Context) {
	if d.cfg.Auth.BaseURL == "" {
		return
	}
	if err := d.handlers.RefreshPublicKey(ctx, ingress.PublicKeyNotice{PublicKey: ingress.PublicKeyAvailable}); err != nil {
		logging.WarnWithContext(d.logger, "initial public key fetch failed", "public_key_initial_fetch_failed",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check auth.base_url; the key is fetched again on the next rotation notice"),
			logging.String(logging.FieldImpact, "no verification key is loaded"),
		)
	}
}

// Stop stops the API, ingress and the worker, then releases the lock. A
// piece in progress is left WORKING and recovered on the next start.
func (d *Daemon) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.running.Load() {
		return
	}

	if d.cancel != nil {
		d.cancel()
		d.cancel = nil
	}
	d.api.Stop()
	d.worker.Stop()
	if err := d.lock.Unlock(); err != nil {
		logging.WarnWithContext(d.logger, "failed to release daemon lock", "daemon_lock_release_failed",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "remove "+d.lockPath+" if the next start reports a running instance"),
		)
	}
	d.running.Store(false)
	d.logger.Info("machine daemon stopped", logging.String(logging.FieldEventType, "daemon_stopped"))
}

// Close stops the daemon and releases the bus and store.
func (d *Daemon) Close() error {
	d.Stop()
	var errs []error
	if d.bus != nil {
		if err := d.bus.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close bus: %w", err))
		}
	}
	if d.store != nil {
		if err := d.store.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close store: %w", err))
		}
	}
	return errors.Join(errs...)
}

// APIAddress returns the address the API is listening on, or "".
func (d *Daemon) APIAddress() string {
	return d.api.Addr()
}

// Status returns the current daemon status.
func (d *Daemon) Status(ctx context.Context) Status {
	status := Status{
		Running:      d.running.Load(),
		PID:          os.Getpid(),
		MachineType:  d.worker.Type(),
		LockFilePath: d.lockPath,
		DatabasePath: d.store.Path(),
		APIAddress:   d.api.Addr(),
		Worker:       d.worker.Status(),
	}
	health, err := d.store.Health(ctx)
	if err != nil {
		logging.WarnWithContext(d.logger, "task health unavailable", "task_health_failed",
			logging.Error(err),
			logging.String(logging.FieldImpact, "status omits task counts"),
		)
	}
	status.Tasks = health
	return status
}
