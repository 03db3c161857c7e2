package redo

import (
	"container/heap"
	"sync"
	"time"
)

// queueEntry freezes a task's ordering key at insertion time. Re-putting a
// task supersedes its previous entry; superseded entries are dropped lazily
// when they surface at the head of the heap.
type queueEntry struct {
	at   time.Time
	id   int64
	task *Task
}

type entryHeap []*queueEntry

func (h entryHeap) Len() int { return len(h) }

func (h entryHeap) Less(i, j int) bool {
	if h[i].at.Equal(h[j].at) {
		return h[i].id < h[j].id
	}
	return h[i].at.Before(h[j].at)
}

func (h entryHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *entryHeap) Push(x any) { *h = append(*h, x.(*queueEntry)) }

func (h *entryHeap) Pop() any {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return e
}

// MemoryStore is the reference Store implementation: a task table plus a
// min-heap ready view ordered by (NextRunTime, ID). Everything is guarded
// by a single mutex. Tasks are copied on the way in and on the way out so
// callers and the retry worker never share a mutable record with the store.
type MemoryStore struct {
	mu      sync.Mutex
	tasks   map[int64]*Task
	ready   entryHeap
	current map[int64]*queueEntry
	nextID  int64
	maxSize int
}

// NewMemoryStore returns an unbounded in-memory store.
func NewMemoryStore() *MemoryStore {
	return NewBoundedMemoryStore(0)
}

// NewBoundedMemoryStore returns an in-memory store whose ready view holds at
// most maxSize tasks; 0 means unbounded. Put returns ErrStoreFull once the
// bound is reached.
func NewBoundedMemoryStore(maxSize int) *MemoryStore {
	return &MemoryStore{
		tasks:   make(map[int64]*Task),
		current: make(map[int64]*queueEntry),
		nextID:  1,
		maxSize: maxSize,
	}
}

func (s *MemoryStore) Put(t *Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if t.State == StateFailed && s.maxSize > 0 && s.current[t.ID] == nil && len(s.current) >= s.maxSize {
		return ErrStoreFull
	}
	if t.ID == UnassignedID {
		t.ID = s.nextID
		s.nextID++
	}
	stored := *t
	s.tasks[t.ID] = &stored

	if t.State != StateFailed {
		delete(s.current, t.ID)
		return nil
	}
	e := &queueEntry{at: t.NextRunTime, id: t.ID, task: &stored}
	s.current[t.ID] = e
	heap.Push(&s.ready, e)
	return nil
}

func (s *MemoryStore) TakeReady() (*Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e := s.head()
	if e == nil {
		return nil, nil
	}
	if e.at.After(time.Now()) {
		return nil, nil
	}
	heap.Pop(&s.ready)
	delete(s.current, e.id)
	taken := *e.task
	return &taken, nil
}

func (s *MemoryStore) PeekNext() (*Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if e := s.head(); e != nil {
		next := *e.task
		return &next, nil
	}
	return nil, nil
}

// head discards superseded entries and returns the live head, or nil.
// Callers must hold the mutex.
func (s *MemoryStore) head() *queueEntry {
	for len(s.ready) > 0 {
		e := s.ready[0]
		if s.current[e.id] == e {
			return e
		}
		heap.Pop(&s.ready)
	}
	return nil
}

func (s *MemoryStore) Remove(id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.tasks, id)
	delete(s.current, id)
	return nil
}

func (s *MemoryStore) All() ([]*Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]*Task, 0, len(s.tasks))
	for _, t := range s.tasks {
		c := *t
		out = append(out, &c)
	}
	return out, nil
}
