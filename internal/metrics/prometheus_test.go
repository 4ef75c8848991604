package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestPrometheusObserver(t *testing.T) {
	obs := NewPrometheusObserver()

	obs.IncOnline()
	obs.DecOnline()
	obs.RecordPush()
	obs.RecordClaim()
	obs.RecordStaleRequeue(2)

	before := testutil.ToFloat64(enqueueCounter.WithLabelValues("duplicate"))
	obs.RecordEnqueue(false)
	if got := testutil.ToFloat64(enqueueCounter.WithLabelValues("duplicate")); got != before+1 {
		t.Errorf("duplicate counter = %v, want %v", got, before+1)
	}

	obs.RecordOutcome("done", 50*time.Millisecond)
	if got := testutil.ToFloat64(outcomeCounter.WithLabelValues("done")); got < 1 {
		t.Errorf("done outcome counter = %v", got)
	}

	obs.SetDepth("pending", 7)
	if got := testutil.ToFloat64(depthGauge.WithLabelValues("pending")); got != 7 {
		t.Errorf("depth = %v, want 7", got)
	}
}

var (
	_ HubObserver   = Nop{}
	_ QueueObserver = Nop{}
	_ HubObserver   = (*prometheusObserver)(nil)
	_ QueueObserver = (*prometheusObserver)(nil)
)
