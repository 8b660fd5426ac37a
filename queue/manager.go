package queue

import (
	"sort"
	"sync"
	"time"
)

// Admission is the gate's verdict for a provider.
type Admission struct {
	// OK means the provider may execute one task now.
	OK bool

	// RetryAt is the earliest time to re-check when blocked. Ignored when
	// OK is true or Err is set.
	RetryAt time.Time

	// Err, when set, is terminal: pending work should fail fast with it
	// instead of waiting.
	Err error
}

// Gate decides whether a provider may execute more work. Implemented by the
// executor over its rate-limit and circuit-breaker state.
//
// Contract:
// - Concurrency: must be safe for concurrent use.
// - Admission with OK=true may consume capacity; the drain loop executes a
//   task immediately after each positive admission.
type Gate interface {
	Admit(provider string) Admission
}

// ManagerConfig configures the queue manager. The capacity is a default;
// per-provider overrides are applied with SetCapacity.
type ManagerConfig struct {
	// Capacity is the maximum pending tasks per provider.
	// Default: 50
	Capacity int

	// Gap is the pause between consecutive tasks for one provider.
	// Default: 100ms
	Gap time.Duration

	// MinWait is the floor for gate-blocked sleeps, so a RetryAt in the
	// past cannot spin the loop.
	// Default: 50ms
	MinWait time.Duration

	// OnDepthChange is called after a push, pop, or clear with the
	// provider's new depth.
	OnDepthChange func(provider string, depth int)
}

func (c *ManagerConfig) applyDefaults() {
	if c.Capacity <= 0 {
		c.Capacity = 50
	}
	if c.Gap <= 0 {
		c.Gap = 100 * time.Millisecond
	}
	if c.MinWait <= 0 {
		c.MinWait = 50 * time.Millisecond
	}
}

// Manager owns one bounded priority queue per provider and one drain
// goroutine per non-empty queue.
type Manager struct {
	config ManagerConfig
	gate   Gate

	mu       sync.Mutex
	queues   map[string]*providerQueue
	override map[string]int
	closed   bool
	done     chan struct{}
}

// NewManager creates a new queue manager draining through gate.
func NewManager(gate Gate, config ManagerConfig) *Manager {
	config.applyDefaults()

	return &Manager{
		config:   config,
		gate:     gate,
		queues:   make(map[string]*providerQueue),
		override: make(map[string]int),
		done:     make(chan struct{}),
	}
}

// SetCapacity sets a per-provider queue capacity, overriding the default.
// Must be called before the provider's first push to take effect reliably.
func (m *Manager) SetCapacity(provider string, capacity int) {
	if capacity <= 0 {
		return
	}

	m.mu.Lock()
	m.override[provider] = capacity
	if q, ok := m.queues[provider]; ok {
		q.capacity = capacity
	}
	m.mu.Unlock()
}

// Push enqueues t for the provider, starting the drain goroutine when the
// queue was idle. Returns a FullError immediately when at capacity.
func (m *Manager) Push(provider string, t *Task) error {
	if t.EnqueuedAt.IsZero() {
		t.EnqueuedAt = time.Now()
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrClosed
	}

	q, ok := m.queues[provider]
	if !ok {
		capacity := m.config.Capacity
		if o, ok := m.override[provider]; ok {
			capacity = o
		}
		q = &providerQueue{capacity: capacity}
		m.queues[provider] = q
	}

	if len(q.tasks) >= q.capacity {
		capacity := q.capacity
		m.mu.Unlock()
		return &FullError{Provider: provider, Capacity: capacity}
	}

	q.insert(t)
	depth := len(q.tasks)
	start := !q.draining
	if start {
		q.draining = true
	}
	m.mu.Unlock()

	m.notifyDepth(provider, depth)
	if start {
		go m.drain(provider)
	}
	return nil
}

// Capacity returns the effective capacity for a provider's queue.
func (m *Manager) Capacity(provider string) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	if q, ok := m.queues[provider]; ok {
		return q.capacity
	}
	if c, ok := m.override[provider]; ok {
		return c
	}
	return m.config.Capacity
}

// Len returns the provider's pending task count.
func (m *Manager) Len(provider string) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	if q, ok := m.queues[provider]; ok {
		return len(q.tasks)
	}
	return 0
}

// Providers returns the ids of all providers with queue state, sorted.
func (m *Manager) Providers() []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	names := make([]string, 0, len(m.queues))
	for name := range m.queues {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Clear aborts all pending tasks with ErrCleared for the given providers, or
// for all providers when none are given. In-flight tasks finish normally.
func (m *Manager) Clear(providers ...string) {
	m.mu.Lock()
	if len(providers) == 0 {
		for name := range m.queues {
			providers = append(providers, name)
		}
	}

	var dropped []*Task
	for _, provider := range providers {
		q, ok := m.queues[provider]
		if !ok || len(q.tasks) == 0 {
			continue
		}
		dropped = append(dropped, q.tasks...)
		q.tasks = nil
	}
	m.mu.Unlock()

	for _, provider := range providers {
		m.notifyDepth(provider, 0)
	}
	for _, t := range dropped {
		t.Abort(ErrCleared)
	}
}

// Close aborts all pending work with ErrClosed and rejects further pushes.
// Drain goroutines exit on their next iteration.
func (m *Manager) Close() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	close(m.done)

	var dropped []*Task
	for _, q := range m.queues {
		dropped = append(dropped, q.tasks...)
		q.tasks = nil
	}
	m.mu.Unlock()

	for _, t := range dropped {
		t.Abort(ErrClosed)
	}
}

// drain is the single consumer loop for one provider. It exits when the
// queue empties; Push restarts it.
func (m *Manager) drain(provider string) {
	for {
		if m.stopIfEmpty(provider) {
			return
		}

		adm := m.gate.Admit(provider)

		if adm.Err != nil {
			t, ok := m.pop(provider)
			if !ok {
				return
			}
			t.Abort(adm.Err)
			continue
		}

		if !adm.OK {
			wait := time.Until(adm.RetryAt)
			if wait < m.config.MinWait {
				wait = m.config.MinWait
			}
			if !m.sleep(wait) {
				return
			}
			continue
		}

		t, ok := m.pop(provider)
		if !ok {
			return
		}
		t.Run()

		if !m.sleep(m.config.Gap) {
			return
		}
	}
}

// stopIfEmpty atomically checks for pending work and, when there is none,
// marks the provider idle so the next Push restarts the drain.
func (m *Manager) stopIfEmpty(provider string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	q, ok := m.queues[provider]
	if !ok || len(q.tasks) == 0 || m.closed {
		if ok {
			q.draining = false
		}
		return true
	}
	return false
}

// pop removes the head task. Returns false and marks the provider idle when
// the queue is empty.
func (m *Manager) pop(provider string) (*Task, bool) {
	m.mu.Lock()
	q, ok := m.queues[provider]
	if !ok || len(q.tasks) == 0 {
		if ok {
			q.draining = false
		}
		m.mu.Unlock()
		return nil, false
	}

	t := q.tasks[0]
	q.tasks = q.tasks[1:]
	depth := len(q.tasks)
	m.mu.Unlock()

	m.notifyDepth(provider, depth)
	return t, true
}

// sleep waits for d or manager shutdown. Returns false on shutdown.
func (m *Manager) sleep(d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return true
	case <-m.done:
		return false
	}
}

func (m *Manager) notifyDepth(provider string, depth int) {
	if m.config.OnDepthChange != nil {
		m.config.OnDepthChange(provider, depth)
	}
}
