package tasks

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
)

// CreateIfAbsent inserts a QUEUED task unless one with the same key already
// exists. It returns the persisted record and whether this call created it;
// an existing record is returned unchanged.
func (s *Store) CreateIfAbsent(ctx context.Context, key Key, requesterID string) (*Task, bool, error) {
	key.ID = strings.TrimSpace(key.ID)
	if key.ID == "" {
		return nil, false, ErrInvalidKey
	}
	timestamp := formatTime(s.now())

	res, err := s.execWithRetry(
		ctx,
		`INSERT INTO tasks (piece_id, piece_type, requester_id, status, queued_at, updated_at)
         VALUES (?, ?, ?, ?, ?, ?)
         ON CONFLICT (piece_id, piece_type) DO NOTHING`,
		key.ID,
		key.Type,
		nullableString(requesterID),
		StatusQueued,
		timestamp,
		timestamp,
	)
	if err != nil {
		return nil, false, fmt.Errorf("insert task: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, false, fmt.Errorf("insert task rows affected: %w", err)
	}

	task, err := s.Get(ctx, key)
	if err != nil {
		return nil, false, err
	}
	if task == nil {
		return nil, false, fmt.Errorf("task %s missing after insert", key)
	}
	return task, affected == 1, nil
}

// Get fetches a task by key. A missing task returns nil, nil.
func (s *Store) Get(ctx context.Context, key Key) (*Task, error) {
	row := s.db.QueryRowContext(ensureContext(ctx),
		`SELECT `+taskColumns+` FROM tasks WHERE piece_id = ? AND piece_type = ?`,
		key.ID, key.Type,
	)
	task, err := scanTask(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get task: %w", err)
	}
	return task, nil
}

// ListByStatus returns tasks in the given status in the order they were queued.
func (s *Store) ListByStatus(ctx context.Context, status Status) ([]*Task, error) {
	return s.List(ctx, status)
}

// List returns tasks filtered by optional statuses, oldest first.
func (s *Store) List(ctx context.Context, statuses ...Status) ([]*Task, error) {
	query := `SELECT ` + taskColumns + ` FROM tasks`
	args := make([]any, 0, len(statuses))
	if len(statuses) > 0 {
		query += ` WHERE status IN (` + makePlaceholders(len(statuses)) + `)`
		for _, status := range statuses {
			args = append(args, status)
		}
	}
	query += ` ORDER BY seq`

	rows, err := s.db.QueryContext(ensureContext(ctx), query, args...)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	defer rows.Close()

	var out []*Task
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("scan task: %w", err)
		}
		out = append(out, task)
	}
	return out, rows.Err()
}
