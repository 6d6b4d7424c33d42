package queue

import (
	"sync"
)

// Queue is the handoff channel between the per-step producer and an
// asynchronous consumer. Implementations may be swapped for a
// cross-process transport without touching callers.
type Queue[T any] interface {
	// Put appends an item. It never blocks.
	Put(item T)
	// TryGet removes the oldest item. ok is false when nothing is ready.
	TryGet() (item T, ok bool)
	// Empty reports whether no items are waiting
	Empty() bool
	// Len returns the number of waiting items
	Len() int
	// BehaviorID returns the behavior group the queue belongs to
	BehaviorID() string
}

// AgentManagerQueue is an unbounded FIFO queue safe for one producer
// and any number of consumers
type AgentManagerQueue[T any] struct {
	mu         sync.Mutex
	items      []T
	head       int
	behaviorID string

	totalPut uint64
	totalGot uint64
}

// New creates an empty queue tagged with behaviorID
func New[T any](behaviorID string) *AgentManagerQueue[T] {
	return &AgentManagerQueue[T]{
		behaviorID: behaviorID,
	}
}

// Put appends an item to the back of the queue
func (q *AgentManagerQueue[T]) Put(item T) {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.items = append(q.items, item)
	q.totalPut++
}

// TryGet removes and returns the oldest item
func (q *AgentManagerQueue[T]) TryGet() (T, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	var zero T
	if q.head >= len(q.items) {
		return zero, false
	}

	item := q.items[q.head]
	q.items[q.head] = zero
	q.head++
	q.totalGot++
	q.compact()

	return item, true
}

// Drain removes every waiting item and returns them in FIFO order
func (q *AgentManagerQueue[T]) Drain() []T {
	q.mu.Lock()
	defer q.mu.Unlock()

	n := len(q.items) - q.head
	result := make([]T, n)
	copy(result, q.items[q.head:])
	q.items = nil
	q.head = 0
	q.totalGot += uint64(n)

	return result
}

// compact reclaims the consumed prefix once it dominates the backing slice
func (q *AgentManagerQueue[T]) compact() {
	if q.head == len(q.items) {
		q.items = q.items[:0]
		q.head = 0
		return
	}
	if q.head > 64 && q.head*2 >= len(q.items) {
		remaining := make([]T, len(q.items)-q.head)
		copy(remaining, q.items[q.head:])
		q.items = remaining
		q.head = 0
	}
}

// Empty reports whether the queue holds no items
func (q *AgentManagerQueue[T]) Empty() bool {
	return q.Len() == 0
}

// Len returns the number of items waiting to be retrieved
func (q *AgentManagerQueue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items) - q.head
}

// BehaviorID returns the behavior group this queue carries items for
func (q *AgentManagerQueue[T]) BehaviorID() string {
	return q.behaviorID
}

// Stats returns queue statistics
func (q *AgentManagerQueue[T]) Stats() Stats {
	q.mu.Lock()
	defer q.mu.Unlock()

	return Stats{
		BehaviorID:  q.behaviorID,
		CurrentSize: len(q.items) - q.head,
		TotalPut:    q.totalPut,
		TotalGot:    q.totalGot,
	}
}

// Stats contains queue statistics
type Stats struct {
	BehaviorID  string
	CurrentSize int
	TotalPut    uint64
	TotalGot    uint64
}
