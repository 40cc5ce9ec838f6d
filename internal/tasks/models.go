package tasks

import (
	"strings"
	"time"
)

// Status represents the lifecycle of a task.
type Status string

const (
	StatusQueued    Status = "QUEUED"
	StatusWorking   Status = "WORKING"
	StatusDone      Status = "DONE"
	StatusFailed    Status = "FAILED"
	StatusCancelled Status = "CANCELLED"
)

var allStatuses = []Status{
	StatusQueued,
	StatusWorking,
	StatusDone,
	StatusFailed,
	StatusCancelled,
}

// allowedTransitions is the lifecycle graph. WORKING -> QUEUED is reserved for
// startup recovery of pieces interrupted by an unclean shutdown.
var allowedTransitions = map[Status][]Status{
	StatusQueued:  {StatusWorking, StatusCancelled},
	StatusWorking: {StatusDone, StatusFailed, StatusQueued},
}

// AllStatuses returns every known status in lifecycle order.
func AllStatuses() []Status {
	out := make([]Status, len(allStatuses))
	copy(out, allStatuses)
	return out
}

// ParseStatus normalizes user input into a Status.
func ParseStatus(value string) (Status, bool) {
	normalized := Status(strings.ToUpper(strings.TrimSpace(value)))
	for _, status := range allStatuses {
		if status == normalized {
			return normalized, true
		}
	}
	return "", false
}

// IsTerminal reports whether no further transition can leave the status.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusDone, StatusFailed, StatusCancelled:
		return true
	default:
		return false
	}
}

// CanTransition reports whether from -> to is part of the lifecycle graph.
func CanTransition(from, to Status) bool {
	for _, next := range allowedTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Key identifies a task. IDs are unique within a piece type.
type Key struct {
	ID   string
	Type string
}

func (k Key) String() string {
	if k.Type == "" {
		return k.ID
	}
	return k.Type + "/" + k.ID
}

// Task is a piece persisted in SQLite.
type Task struct {
	ID           string
	Type         string
	RequesterID  string
	Status       Status
	ErrorMessage string
	QueuedAt     time.Time
	StartedAt    *time.Time
	FinishedAt   *time.Time
	UpdatedAt    time.Time
}

// Key returns the task's identity.
func (t Task) Key() Key {
	return Key{ID: t.ID, Type: t.Type}
}

// Change carries the optional data recorded alongside a transition.
type Change struct {
	// At overrides the transition timestamp; zero means now.
	At time.Time
	// ErrorMessage is stored when moving to FAILED.
	ErrorMessage string
}

// HealthSummary describes aggregated task counts per status.
type HealthSummary struct {
	Total     int `json:"total"`
	Queued    int `json:"queued"`
	Working   int `json:"working"`
	Done      int `json:"done"`
	Failed    int `json:"failed"`
	Cancelled int `json:"cancelled"`
}

// DatabaseHealth captures diagnostic information about the task database.
type DatabaseHealth struct {
	DBPath           string
	DatabaseExists   bool
	DatabaseReadable bool
	TableExists      bool
	ColumnsPresent   []string
	MissingColumns   []string
	IntegrityCheck   bool
	TotalTasks       int
	Error            string
}
