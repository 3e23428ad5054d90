package runs

// Task is a handle on a background tool episode.
type Task struct {
	RunID string

	done chan struct{}
	err  error
}

func newTask(runID string) *Task {
	return &Task{RunID: runID, done: make(chan struct{})}
}

// Done is closed when the episode has finished.
func (t *Task) Done() <-chan struct{} { return t.done }

// Err returns the episode error. It is only meaningful after Done is
// closed.
func (t *Task) Err() error {
	<-t.done
	return t.err
}

func (t *Task) finish(err error) {
	t.err = err
	close(t.done)
}
