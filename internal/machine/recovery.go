package machine

import (
	"context"
	"fmt"

	"machine/internal/logging"
	"machine/internal/metrics"
	"machine/internal/tasks"
)

// Recover repopulates the work queue from the task store. Pieces left
// WORKING by an unclean shutdown are reset to QUEUED and enqueued first,
// followed by the pieces that were already QUEUED, each in queue order.
// Pieces of other machine types are left alone.
//
// A store read failure is logged and returned with nothing enqueued; the
// caller is expected to continue with an empty queue.
func (w *Worker) Recover(ctx context.Context) (int, error) {
	working, err := w.store.ListByStatus(ctx, tasks.StatusWorking)
	if err != nil {
		w.warnRecovery(err)
		return 0, fmt.Errorf("list working tasks: %w", err)
	}
	queued, err := w.store.ListByStatus(ctx, tasks.StatusQueued)
	if err != nil {
		w.warnRecovery(err)
		return 0, fmt.Errorf("list queued tasks: %w", err)
	}

	keys := make([]tasks.Key, 0, len(working)+len(queued))
	reset := 0
	for _, task := range working {
		if !w.accepts(task.Type) {
			continue
		}
		key := task.Key()
		_, applied, err := w.store.Transition(ctx, key, tasks.StatusWorking, tasks.StatusQueued, tasks.Change{})
		if err != nil && !applied {
			logging.WarnWithContext(w.logger, "reset interrupted piece failed", "recovery_reset_failed",
				logging.String(logging.FieldPieceID, key.ID),
				logging.Error(err),
				logging.String(logging.FieldErrorHint, "check task database access"),
				logging.String(logging.FieldImpact, "piece stays WORKING until the next restart"),
			)
			continue
		}
		if !applied {
			continue
		}
		reset++
		keys = append(keys, key)
	}
	for _, task := range queued {
		if w.accepts(task.Type) {
			keys = append(keys, task.Key())
		}
	}

	for _, key := range keys {
		w.queue.Enqueue(key)
	}
	metrics.QueueDepth.Set(float64(w.queue.Len()))
	w.logger.Info("recovery complete",
		logging.String(logging.FieldEventType, "recovery_complete"),
		logging.Int("reset", reset),
		logging.Int("enqueued", len(keys)),
	)
	return len(keys), nil
}

func (w *Worker) warnRecovery(err error) {
	logging.WarnWithContext(w.logger, "recovery could not read task store; starting with an empty queue", "recovery_failed",
		logging.Error(err),
		logging.String(logging.FieldErrorHint, "check the task database; pending pieces resume after the next restart"),
		logging.String(logging.FieldImpact, "queued pieces are not processed until recovered"),
	)
}
