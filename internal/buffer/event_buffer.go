package buffer

import (
	"sort"
	"sync"

	v1 "salesflow/pkg/api/v1"
)

// EventBuffer is a fixed-size ring of recent queue events ordered by Seq.
type EventBuffer struct {
	mu     sync.RWMutex
	events []v1.QueueEvent
	size   int
	head   int
	isFull bool
}

func NewEventBuffer(size int) *EventBuffer {
	if size <= 0 {
		size = 1000
	}
	return &EventBuffer{
		events: make([]v1.QueueEvent, size),
		size:   size,
	}
}

func (b *EventBuffer) Add(ev v1.QueueEvent) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.events[b.head] = ev
	b.head = (b.head + 1) % b.size
	if b.head == 0 {
		b.isFull = true
	}
}

// Since returns the events after lastSeq. ok is false when events after
// lastSeq were already overwritten and the caller missed some.
func (b *EventBuffer) Since(lastSeq int64) (events []v1.QueueEvent, ok bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	count := b.head
	start := 0
	if b.isFull {
		count = b.size
		start = b.head
	}
	if count == 0 {
		return nil, true
	}

	oldest := b.events[start].Seq
	if lastSeq < oldest-1 {
		return nil, false
	}

	// logical index i lives at (start + i) % size
	idx := sort.Search(count, func(i int) bool {
		return b.events[(start+i)%b.size].Seq > lastSeq
	})
	if idx == count {
		return nil, true
	}

	result := make([]v1.QueueEvent, 0, count-idx)
	for i := idx; i < count; i++ {
		result = append(result, b.events[(start+i)%b.size])
	}
	return result, true
}
