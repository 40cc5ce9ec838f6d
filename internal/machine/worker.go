package machine

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"machine/internal/config"
	"machine/internal/events"
	"machine/internal/logging"
	"machine/internal/metrics"
	"machine/internal/tasks"
	"machine/internal/workqueue"
)

// TaskStore is the subset of the task store the worker depends on.
type TaskStore interface {
	Get(ctx context.Context, key tasks.Key) (*tasks.Task, error)
	ListByStatus(ctx context.Context, status tasks.Status) ([]*tasks.Task, error)
	Transition(ctx context.Context, key tasks.Key, from, to tasks.Status, change tasks.Change) (*tasks.Task, bool, error)
}

// Worker is the single executor of a machine instance.
type Worker struct {
	pieceType       string
	removeCancelled bool
	publishFailures bool

	store     TaskStore
	publisher events.Publisher
	processor Processor
	queue     *workqueue.Queue[tasks.Key]
	logger    *slog.Logger

	mu        sync.RWMutex
	running   bool
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	current   *tasks.Key
	lastErr   error
	lastPiece *tasks.Task
	processed int
}

// Option customizes a Worker.
type Option func(*Worker)

// WithProcessor replaces the simulated processor.
func WithProcessor(p Processor) Option {
	return func(w *Worker) {
		if p != nil {
			w.processor = p
		}
	}
}

// New builds a worker for the machine type configured in cfg.
func New(cfg *config.Config, store TaskStore, publisher events.Publisher, logger *slog.Logger, opts ...Option) *Worker {
	w := &Worker{
		pieceType:       cfg.Machine.Type,
		removeCancelled: cfg.Machine.RemoveCancelledFromQueue,
		publishFailures: cfg.Machine.PublishFailures,
		store:           store,
		publisher:       publisher,
		processor:       NewSimulatedProcessor(cfg.WorkUnit(), cfg.Machine.MinWorkUnits, cfg.Machine.MaxWorkUnits),
		queue:           workqueue.New[tasks.Key](),
		logger:          logging.NewComponentLogger(logger, "machine-worker"),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Type returns the machine type this worker accepts.
func (w *Worker) Type() string {
	return w.pieceType
}

// Start runs recovery, then begins draining the queue in the background.
func (w *Worker) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return errors.New("worker already running")
	}
	runCtx, cancel := context.WithCancel(ctx)
	w.cancel = cancel
	w.running = true
	w.mu.Unlock()

	if _, err := w.Recover(runCtx); err != nil {
		w.setLastError(err)
	}

	w.wg.Add(1)
	go w.run(runCtx)
	w.logger.Info("machine worker started",
		logging.String(logging.FieldPieceType, w.pieceType),
		logging.Int("queued", w.queue.Len()),
	)
	return nil
}

// Stop cancels the loop and waits for it to exit. A piece being processed is
// left WORKING for the next start to recover.
func (w *Worker) Stop() {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return
	}
	cancel := w.cancel
	w.running = false
	w.cancel = nil
	w.mu.Unlock()

	cancel()
	w.wg.Wait()
	w.logger.Info("machine worker stopped")
}

// Enqueue adds a piece to the work queue. It never blocks.
func (w *Worker) Enqueue(key tasks.Key) {
	w.queue.Enqueue(key)
	metrics.QueueDepth.Set(float64(w.queue.Len()))
}

// Wait blocks until every enqueued piece has been handled or ctx is done.
func (w *Worker) Wait(ctx context.Context) error {
	return w.queue.Wait(ctx)
}

func (w *Worker) accepts(pieceType string) bool {
	return pieceType == w.pieceType
}
