package tasks

import (
	"context"
	"fmt"
)

// Transition moves a task from one status to another only if its persisted
// status still equals from. It returns the updated task and true when the
// write applied, or nil and false on a guard miss (the task is absent or
// already moved by someone else). Pairs outside the lifecycle graph return
// ErrInvalidTransition. When the write applied but the row cannot be read
// back, Transition returns nil, true and the read error: callers must check
// applied before err.
func (s *Store) Transition(ctx context.Context, key Key, from, to Status, change Change) (*Task, bool, error) {
	if !CanTransition(from, to) {
		return nil, false, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
	}
	at := change.At
	if at.IsZero() {
		at = s.now()
	}
	timestamp := formatTime(at)

	var (
		set  string
		args []any
	)
	switch to {
	case StatusWorking:
		set = `status = ?, started_at = ?, updated_at = ?`
		args = []any{to, timestamp, timestamp}
	case StatusQueued:
		set = `status = ?, started_at = NULL, updated_at = ?`
		args = []any{to, timestamp}
	case StatusFailed:
		set = `status = ?, finished_at = ?, error_message = ?, updated_at = ?`
		args = []any{to, timestamp, nullableString(change.ErrorMessage), timestamp}
	default:
		set = `status = ?, finished_at = ?, updated_at = ?`
		args = []any{to, timestamp, timestamp}
	}
	args = append(args, key.ID, key.Type, from)

	res, err := s.execWithRetry(ctx,
		`UPDATE tasks SET `+set+` WHERE piece_id = ? AND piece_type = ? AND status = ?`,
		args...,
	)
	if err != nil {
		return nil, false, fmt.Errorf("transition %s %s -> %s: %w", key, from, to, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, false, fmt.Errorf("transition rows affected: %w", err)
	}
	if affected != 1 {
		return nil, false, nil
	}

	task, err := s.Get(ctx, key)
	if err != nil {
		return nil, true, fmt.Errorf("read back %s: %w", key, err)
	}
	return task, true, nil
}
