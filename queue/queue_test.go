package queue

import (
	"testing"
)

func taskWithPriority(p Priority, tag string, order *[]string) *Task {
	return &Task{
		Priority: p,
		Run:      func() { *order = append(*order, tag) },
		Abort:    func(error) {},
	}
}

func TestProviderQueue_InsertPriorityClasses(t *testing.T) {
	q := &providerQueue{capacity: 10}
	var order []string

	q.insert(taskWithPriority(Low, "low1", &order))
	q.insert(taskWithPriority(Normal, "norm1", &order))
	q.insert(taskWithPriority(High, "high1", &order))
	q.insert(taskWithPriority(Normal, "norm2", &order))
	q.insert(taskWithPriority(High, "high2", &order))
	q.insert(taskWithPriority(Low, "low2", &order))

	for _, task := range q.tasks {
		task.Run()
	}

	want := []string{"high1", "high2", "norm1", "norm2", "low1", "low2"}
	if len(order) != len(want) {
		t.Fatalf("order = %v, want %v", order, want)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Errorf("order[%d] = %q, want %q", i, order[i], want[i])
		}
	}
}

func TestProviderQueue_FIFOWithinClass(t *testing.T) {
	q := &providerQueue{capacity: 10}
	var order []string

	// A burst of same-priority tasks must preserve submission order.
	for _, tag := range []string{"a", "b", "c", "d"} {
		q.insert(taskWithPriority(High, tag, &order))
	}

	for _, task := range q.tasks {
		task.Run()
	}

	want := []string{"a", "b", "c", "d"}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("order = %v, want %v", order, want)
		}
	}
}

func TestPriority_String(t *testing.T) {
	tests := []struct {
		p    Priority
		want string
	}{
		{High, "high"},
		{Normal, "normal"},
		{Low, "low"},
		{Priority(99), "unknown"},
	}
	for _, tt := range tests {
		if got := tt.p.String(); got != tt.want {
			t.Errorf("Priority(%d).String() = %q, want %q", tt.p, got, tt.want)
		}
	}
}
