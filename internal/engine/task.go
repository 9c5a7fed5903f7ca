package engine

import (
	"context"

	"github.com/matsen/citegraph/internal/reference"
)

// Job is one citing document's ingestion request.
type Job struct {
	Citing    reference.CitingPaper `json:"citing"`
	Fragments []reference.Fragment  `json:"fragments"`
}

// Task is the handle of a submitted job.
type Task struct {
	done     chan struct{}
	outcomes []Outcome
	err      error
}

func newTask() *Task {
	return &Task{done: make(chan struct{})}
}

func (t *Task) finish(outcomes []Outcome, err error) {
	t.outcomes, t.err = outcomes, err
	close(t.done)
}

// Done is closed when the task has finished.
func (t *Task) Done() <-chan struct{} { return t.done }

// Wait blocks until the task finishes and returns its result.
func (t *Task) Wait() ([]Outcome, error) {
	<-t.done
	return t.outcomes, t.err
}

// Submit runs a job asynchronously. At most Workers jobs run at once;
// the rest wait for a slot or for ctx to end.
func (e *Engine) Submit(ctx context.Context, job Job) *Task {
	t := newTask()

	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		t.finish(nil, ErrClosed)
		return t
	}
	e.pending.Add(1)
	e.mu.Unlock()

	go func() {
		defer e.pending.Done()
		select {
		case e.jobSlots <- struct{}{}:
		case <-ctx.Done():
			t.finish(nil, ctx.Err())
			return
		}
		defer func() { <-e.jobSlots }()

		t.finish(e.ResolveAndStore(ctx, job.Citing, job.Fragments))
	}()
	return t
}

// Close stops accepting jobs and waits for submitted ones to finish.
func (e *Engine) Close() {
	e.mu.Lock()
	e.closed = true
	e.mu.Unlock()
	e.pending.Wait()
}
