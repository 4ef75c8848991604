package buffer

import (
	"sync"
	"testing"
	"time"

	v1 "salesflow/pkg/api/v1"
	"salesflow/pkg/logger"
)

func init() {
	logger.InitLogger("test")
}

func TestEventBuffer_Lifecycle(t *testing.T) {
	buf := NewEventBuffer(3)

	events, ok := buf.Since(0)
	if !ok || len(events) != 0 {
		t.Error("empty buffer should return nothing with ok=true")
	}

	buf.Add(v1.QueueEvent{Seq: 1})
	buf.Add(v1.QueueEvent{Seq: 2})
	buf.Add(v1.QueueEvent{Seq: 3})

	// Nothing was missed before seq 1.
	events, ok = buf.Since(0)
	if !ok || len(events) != 3 {
		t.Errorf("Since(0) = %d events ok=%v, want 3 true", len(events), ok)
	}

	// Wrap: logical [2, 3, 4]
	buf.Add(v1.QueueEvent{Seq: 4})

	if _, ok = buf.Since(0); ok {
		t.Error("Since(0) should report a gap once seq 1 is overwritten")
	}

	events, ok = buf.Since(2)
	if !ok || len(events) != 2 || events[0].Seq != 3 || events[1].Seq != 4 {
		t.Errorf("Since(2) = %+v ok=%v, want [3 4]", events, ok)
	}

	events, ok = buf.Since(1)
	if !ok || len(events) != 3 {
		t.Errorf("Since(1) = %d events ok=%v, want 3", len(events), ok)
	}

	events, ok = buf.Since(4)
	if !ok || len(events) != 0 {
		t.Errorf("Since(4) = %+v, want empty", events)
	}
}

func TestEventBuffer_Concurrency(t *testing.T) {
	buf := NewEventBuffer(1000)
	done := make(chan struct{})

	go func() {
		for i := 1; i <= 5000; i++ {
			buf.Add(v1.QueueEvent{Seq: int64(i)})
		}
		close(done)
	}()

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			var lastSeq int64
			timeout := time.After(5 * time.Second)
			for {
				select {
				case <-done:
					return
				case <-timeout:
					t.Error("test timed out")
					return
				default:
					events, ok := buf.Since(lastSeq)
					if !ok {
						// fell behind the ring, a real client would resync
						continue
					}
					for j := 1; j < len(events); j++ {
						if events[j].Seq <= events[j-1].Seq {
							t.Errorf("events out of order: %d after %d", events[j].Seq, events[j-1].Seq)
							return
						}
					}
					if len(events) > 0 {
						lastSeq = events[len(events)-1].Seq
					}
				}
			}
		}()
	}
	wg.Wait()
}
