package testsupport

import (
	"context"
	"testing"

	"machine/internal/config"
	"machine/internal/tasks"
)

// MustOpenStore opens a tasks.Store for tests and registers cleanup.
func MustOpenStore(t testing.TB, cfg *config.Config) *tasks.Store {
	t.Helper()

	store, err := tasks.Open(cfg)
	if err != nil {
		t.Fatalf("tasks.Open: %v", err)
	}
	t.Cleanup(func() {
		store.Close()
	})
	return store
}

// NewTask creates a QUEUED task for tests using the provided store.
func NewTask(t testing.TB, store *tasks.Store, id, pieceType string) *tasks.Task {
	t.Helper()

	task, _, err := store.CreateIfAbsent(context.Background(), tasks.Key{ID: id, Type: pieceType}, "")
	if err != nil {
		t.Fatalf("store.CreateIfAbsent: %v", err)
	}
	return task
}

// MustTransition applies a guarded transition and fails the test if it does
// not take effect.
func MustTransition(t testing.TB, store *tasks.Store, key tasks.Key, from, to tasks.Status) *tasks.Task {
	t.Helper()

	task, applied, err := store.Transition(context.Background(), key, from, to, tasks.Change{})
	if err != nil {
		t.Fatalf("store.Transition %s: %v", key, err)
	}
	if !applied {
		t.Fatalf("store.Transition %s %s -> %s did not apply", key, from, to)
	}
	return task
}

// MustGet fetches a task that is expected to exist.
func MustGet(t testing.TB, store *tasks.Store, key tasks.Key) *tasks.Task {
	t.Helper()

	task, err := store.Get(context.Background(), key)
	if err != nil {
		t.Fatalf("store.Get %s: %v", key, err)
	}
	if task == nil {
		t.Fatalf("task %s not found", key)
	}
	return task
}
