package lifecycle

import "context"

// Task is the pending outcome of an asynchronous lifecycle event.
// The host awaits it before moving on; it cannot be cancelled once started
// other than through the context handed to the event.
type Task struct {
	done chan struct{}
	err  error
}

// Go runs fn on its own goroutine and returns a Task resolving to its error
func Go(ctx context.Context, fn func(ctx context.Context) error) *Task {
	t := &Task{done: make(chan struct{})}
	go func() {
		defer close(t.done)
		t.err = fn(ctx)
	}()
	return t
}

// Done is closed once the task has finished
func (t *Task) Done() <-chan struct{} {
	return t.done
}

// Wait blocks until the task finishes or ctx is done
func (t *Task) Wait(ctx context.Context) error {
	select {
	case <-t.done:
		return t.err
	case <-ctx.Done():
		return ctx.Err()
	}
}
