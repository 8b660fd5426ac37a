package queue

import (
	"errors"
	"fmt"
	"time"
)

// Priority orders pending tasks within a provider's queue.
type Priority int

const (
	// Normal is the default.
	Normal Priority = iota
	// High runs before everything else; used for user-facing lookups.
	High
	// Low runs last; used for background refreshes.
	Low
)

// rank maps a priority to its drain order; smaller drains first. Unknown
// priorities sort with Normal.
func (p Priority) rank() int {
	switch p {
	case High:
		return 0
	case Low:
		return 2
	default:
		return 1
	}
}

// String returns the string representation of the priority.
func (p Priority) String() string {
	switch p {
	case High:
		return "high"
	case Normal:
		return "normal"
	case Low:
		return "low"
	default:
		return "unknown"
	}
}

// Sentinel errors for queue operations.
var (
	// ErrFull is returned when a provider's queue is at capacity.
	ErrFull = errors.New("egress: provider queue is full")

	// ErrCleared is the abort cause handed to tasks dropped by Clear.
	ErrCleared = errors.New("egress: provider queue cleared")

	// ErrClosed is the abort cause handed to tasks dropped by Close.
	ErrClosed = errors.New("egress: queue manager closed")
)

// FullError reports which provider's queue rejected the task.
type FullError struct {
	Provider string
	Capacity int
}

func (e *FullError) Error() string {
	return fmt.Sprintf("egress: queue for provider %q is full (capacity %d)", e.Provider, e.Capacity)
}

func (e *FullError) Unwrap() error { return ErrFull }

// Task is one pending unit of work. Exactly one of Run or Abort is invoked,
// exactly once; both must settle the waiting caller.
type Task struct {
	Priority   Priority
	EnqueuedAt time.Time

	// Run executes the request. Called from the provider's drain goroutine,
	// so tasks for one provider never run concurrently with each other.
	Run func()

	// Abort settles the caller without executing, e.g. when the circuit
	// opens or the queue is cleared.
	Abort func(err error)
}

// providerQueue holds one provider's pending tasks, ordered by priority
// class with FIFO inside each class.
type providerQueue struct {
	tasks    []*Task
	draining bool
	capacity int
}

// insert places t after every queued task of the same or higher priority.
func (q *providerQueue) insert(t *Task) {
	idx := len(q.tasks)
	for i, queued := range q.tasks {
		if queued.Priority.rank() > t.Priority.rank() {
			idx = i
			break
		}
	}

	q.tasks = append(q.tasks, nil)
	copy(q.tasks[idx+1:], q.tasks[idx:])
	q.tasks[idx] = t
}
