package timing

import (
	"container/heap"
	"sync"

	"github.com/google/btree"
)

// EventQueue are a queue of event ordered by the time, the priority and the
// order of scheduling.
type EventQueue interface {
	Push(evt Event)
	Pop() Event
	Len() int
	Peek() Event

	// Remove deletes the pending event with the given ID. It returns false
	// if no such event is pending.
	Remove(eventID string) bool
}

type queueEntry struct {
	evt   Event
	seq   uint64
	index int
}

func entryLess(a, b *queueEntry) bool {
	if a.evt.Time() != b.evt.Time() {
		return a.evt.Time() < b.evt.Time()
	}

	if a.evt.Priority() != b.evt.Priority() {
		return a.evt.Priority() < b.evt.Priority()
	}

	return a.seq < b.seq
}

// EventQueueImpl provides a thread safe event queue backed by a binary heap.
type EventQueueImpl struct {
	lock    sync.Mutex
	events  entryHeap
	byID    map[string]*queueEntry
	nextSeq uint64
}

// NewEventQueue creates and returns a newly created EventQueue
func NewEventQueue() *EventQueueImpl {
	q := new(EventQueueImpl)
	q.byID = make(map[string]*queueEntry)
	heap.Init(&q.events)

	return q
}

// Push adds an event to the event queue
func (q *EventQueueImpl) Push(evt Event) {
	q.lock.Lock()
	defer q.lock.Unlock()

	entry := &queueEntry{evt: evt, seq: q.nextSeq}
	q.nextSeq++
	q.byID[evt.ID()] = entry
	heap.Push(&q.events, entry)
}

// Pop returns the next earliest event
func (q *EventQueueImpl) Pop() Event {
	q.lock.Lock()
	defer q.lock.Unlock()

	if q.events.Len() == 0 {
		return nil
	}

	entry := heap.Pop(&q.events).(*queueEntry)
	delete(q.byID, entry.evt.ID())

	return entry.evt
}

// Len returns the number of event in the queue
func (q *EventQueueImpl) Len() int {
	q.lock.Lock()
	defer q.lock.Unlock()

	return q.events.Len()
}

// Peek returns the event in front of the queue without removing it from the
// queue
func (q *EventQueueImpl) Peek() Event {
	q.lock.Lock()
	defer q.lock.Unlock()

	if q.events.Len() == 0 {
		return nil
	}

	return q.events[0].evt
}

// Remove deletes a pending event.
func (q *EventQueueImpl) Remove(eventID string) bool {
	q.lock.Lock()
	defer q.lock.Unlock()

	entry, found := q.byID[eventID]
	if !found {
		return false
	}

	heap.Remove(&q.events, entry.index)
	delete(q.byID, eventID)

	return true
}

type entryHeap []*queueEntry

func (h entryHeap) Len() int {
	return len(h)
}

func (h entryHeap) Less(i, j int) bool {
	return entryLess(h[i], h[j])
}

func (h entryHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *entryHeap) Push(x any) {
	entry := x.(*queueEntry)
	entry.index = len(*h)
	*h = append(*h, entry)
}

func (h *entryHeap) Pop() any {
	old := *h
	n := len(old)
	entry := old[n-1]
	old[n-1] = nil
	*h = old[0 : n-1]

	return entry
}

// OrderedEventQueue is an event queue backed by a B-tree. Removing an
// arbitrary pending event costs O(log n).
type OrderedEventQueue struct {
	lock    sync.Mutex
	tree    *btree.BTreeG[*queueEntry]
	byID    map[string]*queueEntry
	nextSeq uint64
}

// NewOrderedEventQueue creates an empty OrderedEventQueue.
func NewOrderedEventQueue() *OrderedEventQueue {
	return &OrderedEventQueue{
		tree: btree.NewG(32, entryLess),
		byID: make(map[string]*queueEntry),
	}
}

// Push adds an event to the queue.
func (q *OrderedEventQueue) Push(evt Event) {
	q.lock.Lock()
	defer q.lock.Unlock()

	entry := &queueEntry{evt: evt, seq: q.nextSeq}
	q.nextSeq++
	q.byID[evt.ID()] = entry
	q.tree.ReplaceOrInsert(entry)
}

// Pop removes and returns the earliest event.
func (q *OrderedEventQueue) Pop() Event {
	q.lock.Lock()
	defer q.lock.Unlock()

	entry, ok := q.tree.DeleteMin()
	if !ok {
		return nil
	}

	delete(q.byID, entry.evt.ID())

	return entry.evt
}

// Len returns the number of pending events.
func (q *OrderedEventQueue) Len() int {
	q.lock.Lock()
	defer q.lock.Unlock()

	return q.tree.Len()
}

// Peek returns the earliest event without removing it.
func (q *OrderedEventQueue) Peek() Event {
	q.lock.Lock()
	defer q.lock.Unlock()

	entry, ok := q.tree.Min()
	if !ok {
		return nil
	}

	return entry.evt
}

// Remove deletes a pending event.
func (q *OrderedEventQueue) Remove(eventID string) bool {
	q.lock.Lock()
	defer q.lock.Unlock()

	entry, found := q.byID[eventID]
	if !found {
		return false
	}

	q.tree.Delete(entry)
	delete(q.byID, eventID)

	return true
}
