package machine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"machine/internal/events"
	"machine/internal/logging"
	"machine/internal/metrics"
	"machine/internal/tasks"
)

// Reasons a dequeued entry is discarded without being processed.
const (
	discardNotFound     = "not_found"
	discardNotQueued    = "not_queued"
	discardTypeMismatch = "type_mismatch"
	discardGuardMiss    = "guard_miss"
	discardStoreError   = "store_error"

	// A piece this worker started left WORKING before it could be finished.
	discardFinishGuardMiss = "finish_guard_miss"
)

func (w *Worker) run(ctx context.Context) {
	defer w.wg.Done()
	for {
		if ctx.Err() != nil {
			return
		}
		key, err := w.queue.Dequeue(ctx)
		if err != nil {
			return
		}
		metrics.QueueDepth.Set(float64(w.queue.Len()))
		w.handle(ctx, key)
		w.queue.Done()
	}
}

// handle runs one dequeued entry through revalidate, start, execute and
// finish. It never returns an error: every outcome is recorded in the store,
// the logs, or both.
func (w *Worker) handle(ctx context.Context, key tasks.Key) {
	ctx = logging.WithPiece(ctx, key.ID, key.Type)
	ctx = logging.WithCorrelationID(ctx, uuid.NewString())
	logger := logging.WithContext(ctx, w.logger)

	task, err := w.store.Get(ctx, key)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		w.setLastError(err)
		w.discard(logger, discardStoreError, logging.Error(err))
		return
	}
	if reason := w.revalidate(key, task); reason != "" {
		attrs := []logging.Attr{}
		if task != nil {
			attrs = append(attrs, logging.String("status", string(task.Status)))
		}
		w.discard(logger, reason, attrs...)
		return
	}

	started, applied, err := w.store.Transition(ctx, key, tasks.StatusQueued, tasks.StatusWorking, tasks.Change{})
	if !applied {
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			w.setLastError(err)
			w.discard(logger, discardStoreError, logging.Error(err))
			return
		}
		w.discard(logger, discardGuardMiss)
		return
	}
	if err != nil {
		w.readBackFailed(logger, tasks.StatusWorking, err)
	}
	if started == nil {
		snapshot := *task
		snapshot.Status = tasks.StatusWorking
		started = &snapshot
	}

	w.setCurrent(&key)
	defer w.setCurrent(nil)
	metrics.PiecesStarted.WithLabelValues(key.Type).Inc()
	logger.Info("piece started", logging.String(logging.FieldEventType, "piece_started"))
	begin := time.Now()

	if err := w.publish(ctx, events.TopicPieceStarted, key, ""); err != nil {
		w.fail(ctx, logger, key, begin, fmt.Errorf("publish %s: %w", events.TopicPieceStarted, err))
		return
	}

	if err := w.processor.Process(ctx, started); err != nil {
		if ctx.Err() != nil {
			logger.Info("shutdown while manufacturing; piece left WORKING for recovery",
				logging.String(logging.FieldEventType, "piece_interrupted"),
			)
			return
		}
		w.fail(ctx, logger, key, begin, fmt.Errorf("manufacture: %w", err))
		return
	}

	done, applied, err := w.store.Transition(ctx, key, tasks.StatusWorking, tasks.StatusDone, tasks.Change{})
	if !applied {
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			w.fail(ctx, logger, key, begin, fmt.Errorf("mark done: %w", err))
			return
		}
		w.discard(logger, discardFinishGuardMiss, logging.String("expected", string(tasks.StatusWorking)))
		return
	}
	if err != nil {
		w.readBackFailed(logger, tasks.StatusDone, err)
	}
	metrics.PiecesFinished.WithLabelValues(key.Type).Inc()
	metrics.PieceDuration.Observe(time.Since(begin).Seconds())
	w.recordProcessed(done)
	logger.Info("piece finished",
		logging.String(logging.FieldEventType, "piece_finished"),
		logging.Duration("elapsed", time.Since(begin)),
	)

	// The piece is already DONE, so a publish failure here cannot be
	// reflected in its status.
	if err := w.publish(ctx, events.TopicPieceFinished, key, ""); err != nil {
		w.setLastError(err)
		logging.ErrorWithContext(logger, "publish finished event failed", "event_publish_failed",
			logging.String(logging.FieldTopic, string(events.TopicPieceFinished)),
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check broker connectivity"),
		)
	}
}

// revalidate returns a discard reason, or "" when the entry may proceed.
func (w *Worker) revalidate(key tasks.Key, task *tasks.Task) string {
	switch {
	case task == nil:
		return discardNotFound
	case !w.accepts(task.Type) || !w.accepts(key.Type):
		return discardTypeMismatch
	case task.Status != tasks.StatusQueued:
		return discardNotQueued
	default:
		return ""
	}
}

func (w *Worker) discard(logger *slog.Logger, reason string, attrs ...logging.Attr) {
	metrics.PiecesDiscarded.WithLabelValues(reason).Inc()
	attrs = append(attrs,
		logging.String(logging.FieldEventType, "piece_discarded"),
		logging.String("reason", reason),
	)
	logger.Info("queue entry discarded", logging.Args(attrs...)...)
}

// readBackFailed records a transition that applied but whose row could not be
// re-read. The status change stands; the piece continues from its key.
func (w *Worker) readBackFailed(logger *slog.Logger, to tasks.Status, err error) {
	w.setLastError(err)
	logging.WarnWithContext(logger, "read back after transition failed", "piece_read_back_failed",
		logging.String("status", string(to)),
		logging.Error(err),
		logging.String(logging.FieldErrorHint, "check task database access"),
		logging.String(logging.FieldImpact, "status change applied; continuing without the refreshed row"),
	)
}

func (w *Worker) fail(ctx context.Context, logger *slog.Logger, key tasks.Key, begin time.Time, cause error) {
	w.setLastError(cause)
	failed, applied, err := w.store.Transition(ctx, key, tasks.StatusWorking, tasks.StatusFailed, tasks.Change{ErrorMessage: cause.Error()})
	if !applied {
		if err != nil {
			logging.ErrorWithContext(logger, "mark failed failed; piece left WORKING", "piece_fail_transition_failed",
				logging.Error(errors.Join(cause, err)),
				logging.String(logging.FieldErrorHint, "check task database access; recovery will retry the piece on restart"),
			)
			return
		}
		w.discard(logger, discardFinishGuardMiss, logging.String("expected", string(tasks.StatusWorking)))
		return
	}
	if err != nil {
		w.readBackFailed(logger, tasks.StatusFailed, err)
	}
	metrics.PiecesFailed.WithLabelValues(key.Type).Inc()
	metrics.PieceDuration.Observe(time.Since(begin).Seconds())
	w.recordProcessed(failed)
	logging.ErrorWithContext(logger, "piece failed", "piece_failed",
		logging.Error(cause),
		logging.String(logging.FieldErrorHint, "inspect the processor error; the piece will not be retried"),
	)

	if !w.publishFailures {
		return
	}
	if err := w.publish(ctx, events.TopicPieceFailed, key, cause.Error()); err != nil {
		logging.ErrorWithContext(logger, "publish failed event failed", "event_publish_failed",
			logging.String(logging.FieldTopic, string(events.TopicPieceFailed)),
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check broker connectivity"),
		)
	}
}

func (w *Worker) publish(ctx context.Context, topic events.Topic, key tasks.Key, errMsg string) error {
	if w.publisher == nil {
		return nil
	}
	ev := events.NewEvent(topic, key.ID, key.Type)
	ev.CorrelationID, _ = logging.CorrelationIDFromContext(ctx)
	ev.Error = errMsg
	return w.publisher.Publish(ctx, ev)
}
