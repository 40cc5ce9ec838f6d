package machine

import (
	"context"
	"fmt"

	"machine/internal/logging"
	"machine/internal/metrics"
	"machine/internal/tasks"
)

// Reasons a cancellation did not apply.
const (
	ReasonWorking  = "working"
	ReasonTerminal = "terminal"
	ReasonNotFound = "not_found"
)

// CancelResult reports the outcome of Cancel.
type CancelResult struct {
	Cancelled bool
	// Reason explains a refusal: ReasonWorking, ReasonTerminal or ReasonNotFound.
	Reason string
	Task   *tasks.Task
}

// Cancel moves a QUEUED piece of this worker's type to CANCELLED. Pieces
// already WORKING run to completion and are reported as not cancelled.
func (w *Worker) Cancel(ctx context.Context, id string) (CancelResult, error) {
	key := tasks.Key{ID: id, Type: w.pieceType}
	logger := logging.WithContext(logging.WithPiece(ctx, key.ID, key.Type), w.logger)

	task, applied, err := w.store.Transition(ctx, key, tasks.StatusQueued, tasks.StatusCancelled, tasks.Change{})
	if applied {
		if err != nil {
			w.readBackFailed(logger, tasks.StatusCancelled, err)
		}
		if w.removeCancelled {
			if removed := w.queue.Remove(key); removed > 0 {
				metrics.QueueDepth.Set(float64(w.queue.Len()))
				logger.Debug("cancelled piece removed from queue", logging.Int("entries", removed))
			}
		}
		logger.Info("piece cancelled", logging.String(logging.FieldEventType, "piece_cancelled"))
		return CancelResult{Cancelled: true, Task: task}, nil
	}
	if err != nil {
		return CancelResult{}, fmt.Errorf("cancel %s: %w", key, err)
	}

	current, err := w.store.Get(ctx, key)
	if err != nil {
		return CancelResult{}, fmt.Errorf("cancel %s: %w", key, err)
	}
	result := CancelResult{Task: current}
	switch {
	case current == nil:
		result.Reason = ReasonNotFound
	case current.Status == tasks.StatusWorking:
		result.Reason = ReasonWorking
	default:
		result.Reason = ReasonTerminal
	}
	logger.Info("piece not cancelled",
		logging.String(logging.FieldEventType, "piece_cancel_refused"),
		logging.String("reason", result.Reason),
	)
	return result, nil
}
