package session

import (
	"context"
	"errors"

	"github.com/R3E-Network/patient_portal/internal/api"
)

// ErrSuperseded is the result of a fetch whose token was replaced, or whose
// session was closed, before it completed.
var ErrSuperseded = errors.New("session: fetch superseded")

// Task is the current-user fetch started by one token change.
type Task struct {
	generation uint64
	done       chan struct{}
	cancel     context.CancelFunc

	// written before done is closed
	user *api.User
	err  error
}

func newTask(generation uint64, cancel context.CancelFunc) *Task {
	return &Task{
		generation: generation,
		done:       make(chan struct{}),
		cancel:     cancel,
	}
}

// Generation is the session generation the task was started for.
func (t *Task) Generation() uint64 {
	return t.generation
}

// Done is closed when the task has finished, applied or not.
func (t *Task) Done() <-chan struct{} {
	return t.done
}

// Cancel aborts the fetch.
func (t *Task) Cancel() {
	t.cancel()
}

// Wait blocks until the task finishes or ctx ends.
func (t *Task) Wait(ctx context.Context) (*api.User, error) {
	select {
	case <-t.done:
		return t.user, t.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Err returns the task's error once Done is closed, nil before.
func (t *Task) Err() error {
	select {
	case <-t.done:
		return t.err
	default:
		return nil
	}
}

// User returns the fetched user once Done is closed, nil before or on failure.
func (t *Task) User() *api.User {
	select {
	case <-t.done:
		return t.user
	default:
		return nil
	}
}
