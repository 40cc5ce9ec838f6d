package api

import (
	"time"

	"machine/internal/machine"
	"machine/internal/tasks"
)

// dateTimeFormat is used for RFC3339 timestamps in API payloads.
const dateTimeFormat = "2006-01-02T15:04:05.000Z07:00"

// Task describes a persisted piece in a transport-friendly format.
type Task struct {
	PieceID      string `json:"piece_id"`
	PieceType    string `json:"piece_type,omitempty"`
	RequesterID  string `json:"requester_id,omitempty"`
	Status       string `json:"status"`
	ErrorMessage string `json:"error_message,omitempty"`
	QueuedAt     string `json:"queued_at,omitempty"`
	StartedAt    string `json:"started_at,omitempty"`
	FinishedAt   string `json:"finished_at,omitempty"`
	UpdatedAt    string `json:"updated_at,omitempty"`
}

// PieceRef identifies a piece without its persisted state.
type PieceRef struct {
	PieceID   string `json:"piece_id"`
	PieceType string `json:"piece_type,omitempty"`
}

// StatusResponse is the worker view returned by /machine/status.
type StatusResponse struct {
	Running      bool       `json:"running"`
	Status       string     `json:"status"`
	MachineType  string     `json:"machine_type,omitempty"`
	WorkingPiece *PieceRef  `json:"working_piece"`
	QueueSize    int        `json:"queue_size"`
	Queue        []PieceRef `json:"queue"`
	Processed    int        `json:"processed"`
	LastError    string     `json:"last_error,omitempty"`
	LastPiece    *Task      `json:"last_piece,omitempty"`
}

// HealthResponse reports dependency health for load balancers and operators.
type HealthResponse struct {
	Detail          string `json:"detail"`
	Database        string `json:"database"`
	Broker          string `json:"broker"`
	PublicKeyLoaded bool   `json:"public_key_loaded"`
}

// TaskListResponse wraps a collection of tasks.
type TaskListResponse struct {
	Tasks []Task `json:"tasks"`
}

// TaskResponse wraps a single task.
type TaskResponse struct {
	Task Task `json:"task"`
}

// CancelResponse reports the outcome of a cancel request.
type CancelResponse struct {
	Cancelled bool   `json:"cancelled"`
	Reason    string `json:"reason,omitempty"`
	Task      *Task  `json:"task,omitempty"`
}

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error string `json:"error"`
}

// FromTask converts a stored task.
func FromTask(task *tasks.Task) Task {
	if task == nil {
		return Task{}
	}
	return Task{
		PieceID:      task.ID,
		PieceType:    task.Type,
		RequesterID:  task.RequesterID,
		Status:       string(task.Status),
		ErrorMessage: task.ErrorMessage,
		QueuedAt:     formatTime(task.QueuedAt),
		StartedAt:    formatTimePtr(task.StartedAt),
		FinishedAt:   formatTimePtr(task.FinishedAt),
		UpdatedAt:    formatTime(task.UpdatedAt),
	}
}

// FromTasks converts a slice, never returning nil.
func FromTasks(items []*tasks.Task) []Task {
	out := make([]Task, 0, len(items))
	for _, item := range items {
		out = append(out, FromTask(item))
	}
	return out
}

// FromStatus converts a worker status summary.
func FromStatus(summary machine.StatusSummary) StatusResponse {
	resp := StatusResponse{
		Running:     summary.Running,
		Status:      string(summary.State),
		MachineType: summary.Type,
		QueueSize:   len(summary.Queue),
		Queue:       make([]PieceRef, 0, len(summary.Queue)),
		Processed:   summary.Processed,
		LastError:   summary.LastError,
	}
	if summary.Current != nil {
		ref := pieceRef(*summary.Current)
		resp.WorkingPiece = &ref
	}
	for _, key := range summary.Queue {
		resp.Queue = append(resp.Queue, pieceRef(key))
	}
	if summary.LastPiece != nil {
		last := FromTask(summary.LastPiece)
		resp.LastPiece = &last
	}
	return resp
}

// FromCancelResult converts a worker cancellation outcome.
func FromCancelResult(result machine.CancelResult) CancelResponse {
	resp := CancelResponse{Cancelled: result.Cancelled, Reason: result.Reason}
	if result.Task != nil {
		task := FromTask(result.Task)
		resp.Task = &task
	}
	return resp
}

func pieceRef(key tasks.Key) PieceRef {
	return PieceRef{PieceID: key.ID, PieceType: key.Type}
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(dateTimeFormat)
}

func formatTimePtr(t *time.Time) string {
	if t == nil {
		return ""
	}
	return formatTime(*t)
}
