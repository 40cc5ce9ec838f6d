package machine

import "machine/internal/tasks"

// State is the coarse machine state shown to operators.
type State string

const (
	StateIdle    State = "IDLE"
	StateWorking State = "WORKING"
)

// StatusSummary is a read-only view of the worker.
type StatusSummary struct {
	Running   bool
	State     State
	Type      string
	Current   *tasks.Key
	Queue     []tasks.Key
	Processed int
	LastError string
	LastPiece *tasks.Task
}

// Status returns the latest worker information.
func (w *Worker) Status() StatusSummary {
	w.mu.RLock()
	defer w.mu.RUnlock()

	summary := StatusSummary{
		Running:   w.running,
		State:     StateIdle,
		Type:      w.pieceType,
		Queue:     w.queue.Snapshot(),
		Processed: w.processed,
	}
	if w.current != nil {
		current := *w.current
		summary.Current = &current
		summary.State = StateWorking
	}
	if w.lastErr != nil {
		summary.LastError = w.lastErr.Error()
	}
	if w.lastPiece != nil {
		last := *w.lastPiece
		summary.LastPiece = &last
	}
	return summary
}

func (w *Worker) setCurrent(key *tasks.Key) {
	w.mu.Lock()
	w.current = key
	w.mu.Unlock()
}

func (w *Worker) setLastError(err error) {
	w.mu.Lock()
	w.lastErr = err
	w.mu.Unlock()
}

func (w *Worker) recordProcessed(task *tasks.Task) {
	w.mu.Lock()
	w.processed++
	if task != nil {
		copy := *task
		w.lastPiece = &copy
	}
	w.mu.Unlock()
}
