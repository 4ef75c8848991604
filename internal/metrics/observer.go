package metrics

import "time"

// HubObserver tracks admin stream subscribers.
type HubObserver interface {
	IncOnline()
	DecOnline()
	RecordPush()
}

// QueueObserver tracks the update queue lifecycle.
type QueueObserver interface {
	RecordEnqueue(isNew bool)
	RecordClaim()
	RecordOutcome(status string, elapsed time.Duration)
	RecordStaleRequeue(n int64)
	SetDepth(status string, n int64)
}

// Observer is the full set of observations the server records.
type Observer interface {
	HubObserver
	QueueObserver
}

// Nop discards every observation.
type Nop struct{}

func (Nop) IncOnline()                          {}
func (Nop) DecOnline()                          {}
func (Nop) RecordPush()                         {}
func (Nop) RecordEnqueue(bool)                  {}
func (Nop) RecordClaim()                        {}
func (Nop) RecordOutcome(string, time.Duration) {}
func (Nop) RecordStaleRequeue(int64)            {}
func (Nop) SetDepth(string, int64)              {}
